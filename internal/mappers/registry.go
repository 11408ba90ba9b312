package mappers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/invopop/jsonschema"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/enrichment"
)

// ProviderDescriptor is the display metadata an identity provider shows for a mapper type
type ProviderDescriptor struct {
	ID              string   `json:"id"`
	Protocol        Protocol `json:"protocol"`
	Kind            Kind     `json:"kind"`
	DisplayType     string   `json:"display_type"`
	DisplayCategory string   `json:"display_category"`
	HelpText        string   `json:"help_text"`
	Properties      []string `json:"properties"`
}

var providers = []ProviderDescriptor{
	{
		ID:              "claim-enricher-oidc-api-mapper",
		Protocol:        ProtocolOIDC,
		Kind:            KindAPI,
		DisplayType:     "Backend API Claim Mapper",
		DisplayCategory: "Token Mapper",
		HelpText:        "Calls the fetch URL, extracts the JSON path from the response and maps the result, if not null, to the claim.",
		Properties:      []string{"fetch_url", "extract_json_path", "auth_mode", "claim_name", "claim_json_type", "include_in"},
	},
	{
		ID:              "claim-enricher-oidc-static-mapper",
		Protocol:        ProtocolOIDC,
		Kind:            KindStatic,
		DisplayType:     "Static Claim Mapper",
		DisplayCategory: "Token Mapper",
		HelpText:        "Adds a fixed value to the claim.",
		Properties:      []string{"static_value", "claim_name", "claim_json_type", "include_in"},
	},
	{
		ID:              "claim-enricher-saml-api-mapper",
		Protocol:        ProtocolSAML,
		Kind:            KindAPI,
		DisplayType:     "Backend API Attribute Mapper",
		DisplayCategory: "Attribute Mapper",
		HelpText:        "Calls the fetch URL, extracts the JSON path from the response and maps the result, if not null, to the SAML assertion.",
		Properties:      []string{"fetch_url", "extract_json_path", "auth_mode", "attribute_name", "attribute_name_format", "friendly_name"},
	},
	{
		ID:              "claim-enricher-saml-static-mapper",
		Protocol:        ProtocolSAML,
		Kind:            KindStatic,
		DisplayType:     "Static Attribute Mapper",
		DisplayCategory: "Attribute Mapper",
		HelpText:        "Adds a fixed value to the SAML assertion.",
		Properties:      []string{"static_value", "attribute_name", "attribute_name_format", "friendly_name"},
	},
}

// Providers lists the descriptors of every mapper type
func Providers() []ProviderDescriptor {
	out := make([]ProviderDescriptor, len(providers))
	copy(out, providers)
	return out
}

// ProviderFor returns the descriptor matching a definition
func ProviderFor(def Definition) (ProviderDescriptor, bool) {
	kind := def.Kind
	if kind == "" {
		kind = KindAPI
	}
	for _, p := range providers {
		if p.Protocol == def.Protocol && p.Kind == kind {
			return p, true
		}
	}
	return ProviderDescriptor{}, false
}

// DefinitionSchema returns the JSON Schema of the mapper definitions file
func DefinitionSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   "yaml",
	}
	schema := reflector.Reflect(&File{})
	schema.Title = "claim-enricher mappers"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// Registry holds the configured mappers in definition order
type Registry struct {
	definitions []Definition
	claims      map[string]ClaimMapper
	attributes  map[string]*SAMLAttributeMapper
	order       []string
}

// NewRegistry builds a mapper for every definition. enricher serves all api mappers.
func NewRegistry(defs []Definition, enricher enrichment.Enricher, logger logging.Logger) (*Registry, error) {
	r := &Registry{
		claims:     make(map[string]ClaimMapper),
		attributes: make(map[string]*SAMLAttributeMapper),
	}

	for _, def := range defs {
		def.ApplyDefaults()
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if r.has(def.Name) {
			return nil, apperrors.ValidationError(fmt.Sprintf("duplicate mapper name %q", def.Name))
		}

		switch def.Protocol {
		case ProtocolOIDC:
			var (
				m   ClaimMapper
				err error
			)
			if def.Kind == KindStatic {
				m, err = NewStaticClaimMapper(def, logger)
			} else {
				m, err = NewOIDCClaimMapper(def, enricher, logger)
			}
			if err != nil {
				return nil, err
			}
			r.claims[def.Name] = m
		case ProtocolSAML:
			m, err := NewSAMLAttributeMapper(def, enricher, logger)
			if err != nil {
				return nil, err
			}
			r.attributes[def.Name] = m
		}

		r.definitions = append(r.definitions, def)
		r.order = append(r.order, def.Name)
	}

	return r, nil
}

func (r *Registry) has(name string) bool {
	_, oidc := r.claims[name]
	_, saml := r.attributes[name]
	return oidc || saml
}

// Definitions returns the configured definitions with defaults applied
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

// ClaimMapper looks up an OIDC mapper by name
func (r *Registry) ClaimMapper(name string) (ClaimMapper, error) {
	m, ok := r.claims[name]
	if !ok {
		return nil, apperrors.NotFoundError(fmt.Sprintf("oidc mapper %q", name))
	}
	return m, nil
}

// AttributeMapper looks up a SAML mapper by name
func (r *Registry) AttributeMapper(name string) (*SAMLAttributeMapper, error) {
	m, ok := r.attributes[name]
	if !ok {
		return nil, apperrors.NotFoundError(fmt.Sprintf("saml mapper %q", name))
	}
	return m, nil
}

// ApplyOIDC runs every OIDC mapper against claims and returns the names of those that wrote a claim
func (r *Registry) ApplyOIDC(ctx context.Context, claims jwt.MapClaims, target TokenKind, subj Subject) []string {
	applied := []string{}
	for _, name := range r.order {
		if m, ok := r.claims[name]; ok && m.Apply(ctx, claims, target, subj) {
			applied = append(applied, name)
		}
	}
	return applied
}

// ApplySAML runs every SAML mapper against stmt and returns the names of those that added an attribute
func (r *Registry) ApplySAML(ctx context.Context, stmt *AttributeStatement, subj Subject) []string {
	applied := []string{}
	for _, name := range r.order {
		if m, ok := r.attributes[name]; ok && m.Apply(ctx, stmt, subj) {
			applied = append(applied, name)
		}
	}
	return applied
}
