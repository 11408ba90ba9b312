package handlers

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/mappers"
)

// MapperInfo is a configured mapper together with its provider id
type MapperInfo struct {
	mappers.Definition
	Provider string `json:"provider"`
}

// ClaimsRequest is the body of the OIDC endpoints
type ClaimsRequest struct {
	TokenKind   string                 `json:"token_kind"`
	SubjectID   string                 `json:"subject_id"`
	AccessToken string                 `json:"access_token,omitempty"`
	Claims      map[string]interface{} `json:"claims"`
}

// ClaimsResponse carries the augmented claims and the mappers that wrote to them
type ClaimsResponse struct {
	Claims  map[string]interface{} `json:"claims"`
	Applied []string               `json:"applied"`
}

// AttributesRequest is the body of the SAML endpoints
type AttributesRequest struct {
	SubjectID   string              `json:"subject_id"`
	AccessToken string              `json:"access_token,omitempty"`
	Attributes  []mappers.Attribute `json:"attributes"`
}

// AttributesResponse carries the attribute statement and the mappers that added to it
type AttributesResponse struct {
	Attributes []mappers.Attribute `json:"attributes"`
	Applied    []string            `json:"applied"`
}

// ListMappers returns the configured mappers and every provider type
func (h *Handlers) ListMappers(w http.ResponseWriter, r *http.Request) {
	list := []MapperInfo{}
	if h.registry != nil {
		for _, def := range h.registry.Definitions() {
			info := MapperInfo{Definition: def}
			if p, ok := mappers.ProviderFor(def); ok {
				info.Provider = p.ID
			}
			list = append(list, info)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mappers":   list,
		"providers": mappers.Providers(),
	})
}

// MapperSchema returns the JSON Schema of the mapper definitions file
func (h *Handlers) MapperSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := mappers.DefinitionSchema()
	if err != nil {
		http.Error(w, "Failed to build schema", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(schema)
}

// ApplyClaimMapper runs the mapper named in the path against the posted claims
func (h *Handlers) ApplyClaimMapper(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if h.registry == nil {
		http.Error(w, "Mapper not found", http.StatusNotFound)
		return
	}
	mapper, err := h.registry.ClaimMapper(name)
	if err != nil {
		http.Error(w, "Mapper not found", http.StatusNotFound)
		return
	}

	body, target, ok := decodeClaimsRequest(w, r)
	if !ok {
		return
	}

	ctx := logging.ContextWithMapper(r.Context(), name)
	claims := jwt.MapClaims(body.Claims)
	applied := []string{}
	if mapper.Apply(ctx, claims, target, subjectOf(body.SubjectID, body.AccessToken)) {
		applied = append(applied, name)
	}

	writeJSON(w, http.StatusOK, ClaimsResponse{Claims: claims, Applied: applied})
}

// ApplyClaimMappers runs every OIDC mapper against the posted claims
func (h *Handlers) ApplyClaimMappers(w http.ResponseWriter, r *http.Request) {
	body, target, ok := decodeClaimsRequest(w, r)
	if !ok {
		return
	}

	claims := jwt.MapClaims(body.Claims)
	applied := []string{}
	if h.registry != nil {
		applied = h.registry.ApplyOIDC(r.Context(), claims, target, subjectOf(body.SubjectID, body.AccessToken))
	}

	writeJSON(w, http.StatusOK, ClaimsResponse{Claims: claims, Applied: applied})
}

// ApplyAttributeMapper runs the SAML mapper named in the path. The statement is
// returned as XML when the client accepts application/xml.
func (h *Handlers) ApplyAttributeMapper(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if h.registry == nil {
		http.Error(w, "Mapper not found", http.StatusNotFound)
		return
	}
	mapper, err := h.registry.AttributeMapper(name)
	if err != nil {
		http.Error(w, "Mapper not found", http.StatusNotFound)
		return
	}

	var body AttributesRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	ctx := logging.ContextWithMapper(r.Context(), name)
	stmt := &mappers.AttributeStatement{Attributes: body.Attributes}
	applied := []string{}
	if mapper.Apply(ctx, stmt, subjectOf(body.SubjectID, body.AccessToken)) {
		applied = append(applied, name)
	}

	writeStatement(w, r, stmt, applied)
}

// ApplyAttributeMappers runs every SAML mapper against the posted attributes
func (h *Handlers) ApplyAttributeMappers(w http.ResponseWriter, r *http.Request) {
	var body AttributesRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	stmt := &mappers.AttributeStatement{Attributes: body.Attributes}
	applied := []string{}
	if h.registry != nil {
		applied = h.registry.ApplySAML(r.Context(), stmt, subjectOf(body.SubjectID, body.AccessToken))
	}

	writeStatement(w, r, stmt, applied)
}

func decodeClaimsRequest(w http.ResponseWriter, r *http.Request) (ClaimsRequest, mappers.TokenKind, bool) {
	var body ClaimsRequest
	if !decodeJSON(w, r, &body) {
		return body, "", false
	}

	target, err := mappers.ParseTokenKind(body.TokenKind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return body, "", false
	}

	if body.Claims == nil {
		body.Claims = map[string]interface{}{}
	}
	return body, target, true
}

func writeStatement(w http.ResponseWriter, r *http.Request, stmt *mappers.AttributeStatement, applied []string) {
	if strings.Contains(r.Header.Get("Accept"), "application/xml") {
		data, err := stmt.MarshalIndentXML()
		if err != nil {
			http.Error(w, "Failed to encode attribute statement", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("X-Applied-Mappers", strings.Join(applied, ","))
		_, _ = w.Write(data)
		return
	}

	attributes := stmt.Attributes
	if attributes == nil {
		attributes = []mappers.Attribute{}
	}
	writeJSON(w, http.StatusOK, AttributesResponse{Attributes: attributes, Applied: applied})
}

func subjectOf(id, accessToken string) mappers.Subject {
	return mappers.Subject{ID: id, AccessToken: accessToken}
}
