package mappers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/enrichment"
)

// TokenKind is the OIDC token being built
type TokenKind string

const (
	TokenAccess   TokenKind = "access_token"
	TokenID       TokenKind = "id_token"
	TokenUserInfo TokenKind = "userinfo"
)

// ParseTokenKind validates a token kind name
func ParseTokenKind(s string) (TokenKind, error) {
	switch kind := TokenKind(s); kind {
	case TokenAccess, TokenID, TokenUserInfo:
		return kind, nil
	default:
		return "", apperrors.ValidationError(fmt.Sprintf("unknown token kind %q", s))
	}
}

// ClaimMapper writes at most one claim into an OIDC token
type ClaimMapper interface {
	Definition() Definition
	Apply(ctx context.Context, claims jwt.MapClaims, target TokenKind, subj Subject) bool
}

// claimWriter holds what OIDC mappers share: where the claim goes and how it is typed
type claimWriter struct {
	def    Definition
	logger logging.Logger
}

func (w claimWriter) Definition() Definition {
	return w.def
}

func (w claimWriter) includes(target TokenKind) bool {
	if w.def.IncludeIn == nil {
		return true
	}
	switch target {
	case TokenAccess:
		return w.def.IncludeIn.AccessToken
	case TokenID:
		return w.def.IncludeIn.IDToken
	case TokenUserInfo:
		return w.def.IncludeIn.UserInfo
	default:
		return false
	}
}

func (w claimWriter) write(claims jwt.MapClaims, text string) bool {
	value, err := ConvertClaimValue(text, w.def.ClaimJSONType)
	if err != nil {
		w.logger.Warn("Claim value does not match its JSON type",
			logging.Field{Key: "claim", Value: w.def.ClaimName},
			logging.Field{Key: "claim_json_type", Value: string(w.def.ClaimJSONType)},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return false
	}

	if err := SetClaim(claims, w.def.ClaimName, value); err != nil {
		w.logger.Warn("Claim could not be set",
			logging.Field{Key: "claim", Value: w.def.ClaimName},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return false
	}
	return true
}

// OIDCClaimMapper embeds a value fetched from the backend as a token claim
type OIDCClaimMapper struct {
	claimWriter
	enricher enrichment.Enricher
}

// NewOIDCClaimMapper creates a mapper for an oidc/api definition
func NewOIDCClaimMapper(def Definition, enricher enrichment.Enricher, logger logging.Logger) (*OIDCClaimMapper, error) {
	if def.Protocol != ProtocolOIDC || def.Kind != KindAPI {
		return nil, apperrors.ValidationError(fmt.Sprintf("mapper %q is not an oidc api mapper", def.Name))
	}
	if enricher == nil {
		return nil, apperrors.ConfigError("enricher is required for api mappers")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &OIDCClaimMapper{
		claimWriter: claimWriter{def: def, logger: logger.WithFields(logging.Field{Key: "mapper", Value: def.Name})},
		enricher:    enricher,
	}, nil
}

// Apply fetches the value and writes it into claims. It reports whether a
// claim was written; nothing is fetched for tokens the mapper is excluded from.
func (m *OIDCClaimMapper) Apply(ctx context.Context, claims jwt.MapClaims, target TokenKind, subj Subject) bool {
	if !m.includes(target) {
		return false
	}

	value := m.enricher.Enrich(logging.ContextWithMapper(ctx, m.def.Name), m.def.Request(subj))
	if !value.Present {
		return false
	}
	return m.write(claims, value.Text)
}

// StaticClaimMapper writes a fixed value as a token claim
type StaticClaimMapper struct {
	claimWriter
}

// NewStaticClaimMapper creates a mapper for an oidc/static definition
func NewStaticClaimMapper(def Definition, logger logging.Logger) (*StaticClaimMapper, error) {
	if def.Protocol != ProtocolOIDC || def.Kind != KindStatic {
		return nil, apperrors.ValidationError(fmt.Sprintf("mapper %q is not an oidc static mapper", def.Name))
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &StaticClaimMapper{
		claimWriter: claimWriter{def: def, logger: logger.WithFields(logging.Field{Key: "mapper", Value: def.Name})},
	}, nil
}

// Apply writes the static value into claims
func (m *StaticClaimMapper) Apply(_ context.Context, claims jwt.MapClaims, target TokenKind, _ Subject) bool {
	if !m.includes(target) {
		return false
	}
	return m.write(claims, m.def.StaticValue)
}

// ConvertClaimValue types text according to claimType. An empty type means String.
func ConvertClaimValue(text string, claimType ClaimJSONType) (interface{}, error) {
	switch claimType {
	case "", ClaimTypeString:
		return text, nil
	case ClaimTypeLong:
		return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	case ClaimTypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		return int(n), err
	case ClaimTypeBoolean:
		return strconv.ParseBool(strings.TrimSpace(text))
	case ClaimTypeJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported claim json type %q", claimType)
	}
}

// SplitClaimPath splits a claim name on unescaped dots. "\." stands for a
// literal dot inside a path segment.
func SplitClaimPath(name string) []string {
	var parts []string
	var current strings.Builder

	for i := 0; i < len(name); i++ {
		switch {
		case name[i] == '\\' && i+1 < len(name) && name[i+1] == '.':
			current.WriteByte('.')
			i++
		case name[i] == '.':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(name[i])
		}
	}

	return append(parts, current.String())
}

// SetClaim stores value under the possibly nested claim name, creating
// intermediate objects as needed. An existing leaf is overwritten; an
// existing non-object on the way is an error.
func SetClaim(claims jwt.MapClaims, name string, value interface{}) error {
	path := SplitClaimPath(name)
	for _, part := range path {
		if part == "" {
			return apperrors.ValidationError(fmt.Sprintf("claim name %q has an empty segment", name))
		}
	}

	node := map[string]interface{}(claims)
	for _, part := range path[:len(path)-1] {
		switch next := node[part].(type) {
		case nil:
			child := map[string]interface{}{}
			node[part] = child
			node = child
		case map[string]interface{}:
			node = next
		case jwt.MapClaims:
			node = next
		default:
			return apperrors.ValidationError(fmt.Sprintf("claim %q is not an object", part))
		}
	}

	node[path[len(path)-1]] = value
	return nil
}
