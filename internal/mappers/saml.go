package mappers

import (
	"context"
	"encoding/xml"
	"fmt"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/enrichment"
)

// SAML 2.0 attribute name formats
const (
	NameFormatBasic       = "urn:oasis:names:tc:SAML:2.0:attrname-format:basic"
	NameFormatURI         = "urn:oasis:names:tc:SAML:2.0:attrname-format:uri"
	NameFormatUnspecified = "urn:oasis:names:tc:SAML:2.0:attrname-format:unspecified"

	assertionNS = "urn:oasis:names:tc:SAML:2.0:assertion"
)

var nameFormats = map[string]string{
	"basic":       NameFormatBasic,
	"uri":         NameFormatURI,
	"unspecified": NameFormatUnspecified,
}

// AttributeStatement is the saml:AttributeStatement of an assertion
type AttributeStatement struct {
	XMLName    xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement" json:"-"`
	Attributes []Attribute `xml:"Attribute" json:"attributes"`
}

// Attribute is a single saml:Attribute
type Attribute struct {
	Name         string   `xml:"Name,attr" json:"name"`
	NameFormat   string   `xml:"NameFormat,attr,omitempty" json:"name_format,omitempty"`
	FriendlyName string   `xml:"FriendlyName,attr,omitempty" json:"friendly_name,omitempty"`
	Values       []string `xml:"AttributeValue" json:"values"`
}

// Find returns the first attribute called name
func (s *AttributeStatement) Find(name string) (Attribute, bool) {
	for _, attr := range s.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// MarshalIndentXML encodes the statement as indented XML in the assertion namespace
func (s *AttributeStatement) MarshalIndentXML() ([]byte, error) {
	s.XMLName = xml.Name{Space: assertionNS, Local: "AttributeStatement"}
	return xml.MarshalIndent(s, "", "  ")
}

// SAMLAttributeMapper appends one attribute to an attribute statement
type SAMLAttributeMapper struct {
	def     Definition
	resolve func(ctx context.Context, subj Subject) enrichment.Value
	logger  logging.Logger
}

// NewSAMLAttributeMapper creates a mapper for a saml definition of either kind.
// enricher may be nil for static definitions.
func NewSAMLAttributeMapper(def Definition, enricher enrichment.Enricher, logger logging.Logger) (*SAMLAttributeMapper, error) {
	if def.Protocol != ProtocolSAML {
		return nil, apperrors.ValidationError(fmt.Sprintf("mapper %q is not a saml mapper", def.Name))
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	m := &SAMLAttributeMapper{
		def:    def,
		logger: logger.WithFields(logging.Field{Key: "mapper", Value: def.Name}),
	}

	switch def.Kind {
	case KindStatic:
		value := enrichment.Some(def.StaticValue)
		m.resolve = func(context.Context, Subject) enrichment.Value { return value }
	default:
		if enricher == nil {
			return nil, apperrors.ConfigError("enricher is required for api mappers")
		}
		m.resolve = func(ctx context.Context, subj Subject) enrichment.Value {
			return enricher.Enrich(logging.ContextWithMapper(ctx, def.Name), def.Request(subj))
		}
	}

	return m, nil
}

// Definition returns the mapper's configuration
func (m *SAMLAttributeMapper) Definition() Definition {
	return m.def
}

// Apply resolves the value and appends it to stmt. It reports whether an
// attribute was added.
func (m *SAMLAttributeMapper) Apply(ctx context.Context, stmt *AttributeStatement, subj Subject) bool {
	if stmt == nil {
		return false
	}

	value := m.resolve(ctx, subj)
	if !value.Present {
		return false
	}

	name := m.def.AttributeName
	if name == "" {
		name = m.def.Name
	}

	stmt.Attributes = append(stmt.Attributes, Attribute{
		Name:         name,
		NameFormat:   nameFormats[m.def.AttributeNameFormat],
		FriendlyName: m.def.FriendlyName,
		Values:       []string{value.Text},
	})

	m.logger.Debug("SAML attribute added", logging.Field{Key: "attribute", Value: name})
	return true
}
