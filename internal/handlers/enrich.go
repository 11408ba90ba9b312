package handlers

import (
	"net/http"
	"strings"

	"claim-enricher/internal/enrichment"
)

// EnrichRequest is the body of POST /api/v1/enrich
type EnrichRequest struct {
	FetchURL    string `json:"fetch_url"`
	JSONPath    string `json:"json_path"`
	SubjectID   string `json:"subject_id"`
	AuthMode    string `json:"auth_mode,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// EnrichResponse reports the outcome of one enrichment. A failed enrichment
// is a normal response with found set to false.
type EnrichResponse struct {
	Value      *string `json:"value"`
	Found      bool    `json:"found"`
	Stage      string  `json:"stage"`
	ErrorType  string  `json:"error_type,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// Enrich runs the pipeline for the request body
func (h *Handlers) Enrich(w http.ResponseWriter, r *http.Request) {
	var body EnrichRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	outcome := h.pipeline.Run(r.Context(), enrichment.Request{
		FetchURL:    body.FetchURL,
		JSONPath:    body.JSONPath,
		SubjectID:   body.SubjectID,
		AuthMode:    enrichment.AuthMode(strings.ToLower(strings.TrimSpace(body.AuthMode))),
		AccessToken: body.AccessToken,
	})

	writeJSON(w, http.StatusOK, NewEnrichResponse(outcome))
}

// NewEnrichResponse reports outcome without any of the request's credentials
func NewEnrichResponse(outcome enrichment.Outcome) EnrichResponse {
	resp := EnrichResponse{
		Found:      outcome.Value.Present,
		Stage:      string(outcome.Stage),
		ErrorType:  string(outcome.ErrType()),
		DurationMS: outcome.Duration.Milliseconds(),
	}
	if outcome.Value.Present {
		text := outcome.Value.Text
		resp.Value = &text
	}
	return resp
}
