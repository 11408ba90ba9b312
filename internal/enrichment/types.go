package enrichment

import (
	"strings"
	"time"

	apperrors "claim-enricher/internal/common/errors"
)

// AuthMode selects how the Fetcher authenticates to the backend
type AuthMode string

const (
	// AuthModeAPIKey posts the subject id and sends the shared secret in the api-key header
	AuthModeAPIKey AuthMode = "api_key"
	// AuthModeBearer issues a GET that forwards the user's own access token
	AuthModeBearer AuthMode = "bearer"
)

// ParseAuthMode maps a configured mode to an AuthMode. Empty means AuthModeAPIKey.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", AuthModeAPIKey:
		return AuthModeAPIKey, nil
	case AuthModeBearer:
		return AuthModeBearer, nil
	default:
		return "", apperrors.ValidationError("unknown auth mode: " + s)
	}
}

// Request describes one enrichment: where to fetch, what to extract and for whom
type Request struct {
	FetchURL  string   `json:"fetch_url"`
	JSONPath  string   `json:"json_path"`
	SubjectID string   `json:"subject_id"`
	AuthMode  AuthMode `json:"auth_mode,omitempty"`
	// AccessToken is only used in bearer mode and must never be logged
	AccessToken string `json:"-"`
}

// Mode returns the request's auth mode, defaulting to AuthModeAPIKey
func (r Request) Mode() AuthMode {
	if r.AuthMode == "" {
		return AuthModeAPIKey
	}
	return r.AuthMode
}

// Validate checks that every input the selected auth mode needs is present
func (r Request) Validate() error {
	if strings.TrimSpace(r.FetchURL) == "" {
		return apperrors.ValidationError("fetch url is empty")
	}
	if strings.TrimSpace(r.JSONPath) == "" {
		return apperrors.ValidationError("json path is empty")
	}

	switch r.Mode() {
	case AuthModeAPIKey:
		if r.SubjectID == "" {
			return apperrors.ValidationError("subject id is empty")
		}
	case AuthModeBearer:
		if r.AccessToken == "" {
			return apperrors.ValidationError("access token is empty")
		}
	default:
		return apperrors.ValidationError("unknown auth mode: " + string(r.AuthMode))
	}

	return nil
}

// RawResponse is the undecoded body returned by the backend
type RawResponse []byte

// Value is an optional extracted string. The zero Value is absent.
type Value struct {
	Text    string
	Present bool
}

// Some returns a present Value holding text
func Some(text string) Value {
	return Value{Text: text, Present: true}
}

// None is the absent Value
var None = Value{}

// Stage names the pipeline step an Outcome stopped at
type Stage string

const (
	StageValidate Stage = "validate"
	StageFetch    Stage = "fetch"
	StageExtract  Stage = "extract"
	StageDone     Stage = "done"
)

// Outcome records how a single pipeline run went
type Outcome struct {
	Value    Value
	Stage    Stage
	Err      error
	Duration time.Duration
}

// ErrType classifies the failure, or returns "" for a successful run
func (o Outcome) ErrType() apperrors.ErrorType {
	return apperrors.GetType(o.Err)
}
