// Package mappers adapts the enrichment pipeline to the token formats it
// feeds: OIDC claims and SAML attribute statements.
package mappers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/enrichment"
)

// Protocol is the token format a mapper writes into
type Protocol string

const (
	ProtocolOIDC Protocol = "oidc"
	ProtocolSAML Protocol = "saml"
)

// Kind says where a mapper's value comes from
type Kind string

const (
	// KindAPI fetches the value from the backend
	KindAPI Kind = "api"
	// KindStatic embeds a fixed value
	KindStatic Kind = "static"
)

// ClaimJSONType controls how an OIDC claim value is typed
type ClaimJSONType string

const (
	ClaimTypeString  ClaimJSONType = "String"
	ClaimTypeLong    ClaimJSONType = "long"
	ClaimTypeInt     ClaimJSONType = "int"
	ClaimTypeBoolean ClaimJSONType = "boolean"
	ClaimTypeJSON    ClaimJSONType = "JSON"
)

// IncludeIn selects which OIDC tokens a claim is written to
type IncludeIn struct {
	AccessToken bool `yaml:"access_token" json:"access_token"`
	IDToken     bool `yaml:"id_token" json:"id_token"`
	UserInfo    bool `yaml:"userinfo" json:"userinfo"`
}

// Definition is one configured mapper
type Definition struct {
	Name     string   `yaml:"name" json:"name" validate:"required" jsonschema:"description=Unique mapper name"`
	Protocol Protocol `yaml:"protocol" json:"protocol" validate:"required,oneof=oidc saml" jsonschema:"enum=oidc,enum=saml"`
	Kind     Kind     `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=api static" jsonschema:"enum=api,enum=static,default=api"`

	FetchURL        string `yaml:"fetch_url,omitempty" json:"fetch_url,omitempty" validate:"required_if=Kind api,omitempty,url" jsonschema:"description=Backend URL to fetch data from"`
	ExtractJSONPath string `yaml:"extract_json_path,omitempty" json:"extract_json_path,omitempty" validate:"required_if=Kind api" jsonschema:"description=JSON path to extract from the backend response"`
	AuthMode        string `yaml:"auth_mode,omitempty" json:"auth_mode,omitempty" validate:"omitempty,oneof=api_key bearer" jsonschema:"enum=api_key,enum=bearer,default=api_key"`
	StaticValue     string `yaml:"static_value,omitempty" json:"static_value,omitempty" validate:"required_if=Kind static" jsonschema:"description=Value embedded by static mappers"`

	ClaimName     string        `yaml:"claim_name,omitempty" json:"claim_name,omitempty" validate:"required_if=Protocol oidc" jsonschema:"description=Token claim name. Dots create nested claims"`
	ClaimJSONType ClaimJSONType `yaml:"claim_json_type,omitempty" json:"claim_json_type,omitempty" validate:"omitempty,oneof=String long int boolean JSON" jsonschema:"enum=String,enum=long,enum=int,enum=boolean,enum=JSON"`
	IncludeIn     *IncludeIn    `yaml:"include_in,omitempty" json:"include_in,omitempty"`

	AttributeName       string `yaml:"attribute_name,omitempty" json:"attribute_name,omitempty"`
	AttributeNameFormat string `yaml:"attribute_name_format,omitempty" json:"attribute_name_format,omitempty" validate:"omitempty,oneof=basic uri unspecified" jsonschema:"enum=basic,enum=uri,enum=unspecified"`
	FriendlyName        string `yaml:"friendly_name,omitempty" json:"friendly_name,omitempty"`
}

// File is the layout of the mapper definitions file
type File struct {
	Mappers []Definition `yaml:"mappers" json:"mappers" validate:"dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ApplyDefaults fills in the values an omitted field stands for
func (d *Definition) ApplyDefaults() {
	if d.Kind == "" {
		d.Kind = KindAPI
	}
	if d.Kind == KindAPI && d.AuthMode == "" {
		d.AuthMode = string(enrichment.AuthModeAPIKey)
	}
	if d.Protocol == ProtocolOIDC {
		if d.ClaimJSONType == "" {
			d.ClaimJSONType = ClaimTypeString
		}
		if d.IncludeIn == nil {
			d.IncludeIn = &IncludeIn{AccessToken: true, IDToken: true, UserInfo: true}
		}
	}
	if d.Protocol == ProtocolSAML {
		if d.AttributeName == "" {
			d.AttributeName = d.Name
		}
		if d.AttributeNameFormat == "" {
			d.AttributeNameFormat = "basic"
		}
	}
}

// Validate checks a definition after defaults have been applied
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return apperrors.ValidationError(fmt.Sprintf("mapper %q: %s", d.Name, describeValidation(err)))
	}
	return nil
}

// Request builds the enrichment request this definition describes
func (d *Definition) Request(subj Subject) enrichment.Request {
	return enrichment.Request{
		FetchURL:    d.FetchURL,
		JSONPath:    d.ExtractJSONPath,
		SubjectID:   subj.ID,
		AuthMode:    enrichment.AuthMode(d.AuthMode),
		AccessToken: subj.AccessToken,
	}
}

// Subject identifies the user a token is being issued for
type Subject struct {
	ID string `json:"subject_id"`
	// AccessToken is the user's own token, forwarded only in bearer mode
	AccessToken string `json:"-"`
}

// LoadFile reads and validates a YAML definitions file
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.ConfigError(fmt.Sprintf("failed to read mappers file %s: %v", path, err))
	}
	return Parse(data)
}

// Parse decodes and validates YAML mapper definitions. Unknown fields and
// duplicate names are rejected.
func Parse(data []byte) ([]Definition, error) {
	var file File

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.ConfigError(fmt.Sprintf("failed to parse mappers file: %v", err))
	}

	seen := make(map[string]bool, len(file.Mappers))
	for i := range file.Mappers {
		def := &file.Mappers[i]
		def.ApplyDefaults()
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if seen[def.Name] {
			return nil, apperrors.ValidationError(fmt.Sprintf("duplicate mapper name %q", def.Name))
		}
		seen[def.Name] = true
	}

	return file.Mappers, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
