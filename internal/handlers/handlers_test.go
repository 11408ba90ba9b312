package handlers

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claim-enricher/internal/circuitbreaker"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/common/ratelimit"
	"claim-enricher/internal/enrichment"
	"claim-enricher/internal/mappers"
)

const userInfo = `{"role":"LEHR","school":{"id":"S-9"},"active":true}`

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(enrichment.APIKeyHeader) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userInfo))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandlers(t *testing.T, backendURL string) *Handlers {
	t.Helper()
	logger := logging.NopLogger()

	fetcher, err := enrichment.NewFetcher(enrichment.FetcherConfig{
		Credential: enrichment.StaticCredential("secret"),
	}, enrichment.WithFetcherLogger(logger))
	require.NoError(t, err)
	pipeline := enrichment.NewPipeline(fetcher, enrichment.NewExtractor(), logger)

	defs, err := mappers.Parse([]byte(fmt.Sprintf(`
mappers:
  - name: school-role
    protocol: oidc
    fetch_url: %[1]s/user-info
    extract_json_path: $.role
    claim_name: spsh.role
  - name: active
    protocol: oidc
    fetch_url: %[1]s/user-info
    extract_json_path: $.active
    claim_name: active
    claim_json_type: boolean
  - name: school-id
    protocol: saml
    fetch_url: %[1]s/user-info
    extract_json_path: $.school.id
    attribute_name: schoolId
`, backendURL)))
	require.NoError(t, err)

	registry, err := mappers.NewRegistry(defs, pipeline, logger)
	require.NoError(t, err)

	limiter, err := ratelimit.NewLocalLimiter(ratelimit.DefaultConfig())
	require.NoError(t, err)

	return New(pipeline, registry, limiter, circuitbreaker.NewManager(circuitbreaker.BackendConfig, logger), "test")
}

func post(t *testing.T, handler http.HandlerFunc, path string, body string, vars map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := newTestHandlers(t, "http://unused.example")

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])
	assert.Equal(t, "healthy", status["rate_limiter_status"])
	assert.Equal(t, float64(3), status["mappers"])
	assert.Equal(t, "test", status["version"])
}

func TestHealthCheck_NothingConfigured(t *testing.T) {
	h := New(nil, nil, nil, nil, "test")

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "not_configured", status["rate_limiter_status"])
	assert.Equal(t, float64(0), status["mappers"])
	assert.NotContains(t, status, "backends")
}

func TestEnrich(t *testing.T) {
	backend := newBackend(t)
	h := newTestHandlers(t, backend.URL)

	tests := []struct {
		name      string
		body      string
		wantFound bool
		wantValue string
		wantStage string
		wantType  string
	}{
		{
			name:      "value extracted",
			body:      fmt.Sprintf(`{"fetch_url":%q,"json_path":"$.school.id","subject_id":"u-1"}`, backend.URL),
			wantFound: true,
			wantValue: "S-9",
			wantStage: "done",
		},
		{
			name:      "object value",
			body:      fmt.Sprintf(`{"fetch_url":%q,"json_path":"$.school","subject_id":"u-1"}`, backend.URL),
			wantFound: true,
			wantValue: `{"id":"S-9"}`,
			wantStage: "done",
		},
		{
			name:      "path not found",
			body:      fmt.Sprintf(`{"fetch_url":%q,"json_path":"$.missing","subject_id":"u-1"}`, backend.URL),
			wantStage: "extract",
			wantType:  "path_not_found",
		},
		{
			name:      "missing subject",
			body:      fmt.Sprintf(`{"fetch_url":%q,"json_path":"$.role"}`, backend.URL),
			wantStage: "validate",
			wantType:  "validation",
		},
		{
			name:      "unknown auth mode",
			body:      fmt.Sprintf(`{"fetch_url":%q,"json_path":"$.role","subject_id":"u","auth_mode":"mtls"}`, backend.URL),
			wantStage: "validate",
			wantType:  "validation",
		},
		{
			name:      "bearer mode is rejected by an api key backend",
			body:      fmt.Sprintf(`{"fetch_url":%q,"json_path":"$.role","auth_mode":"BEARER","access_token":"tok"}`, backend.URL),
			wantStage: "fetch",
			wantType:  "unexpected_status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h.Enrich, "/api/v1/enrich", tt.body, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp EnrichResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantFound, resp.Found)
			assert.Equal(t, tt.wantStage, resp.Stage)
			assert.Equal(t, tt.wantType, resp.ErrorType)
			if tt.wantFound {
				require.NotNil(t, resp.Value)
				assert.Equal(t, tt.wantValue, *resp.Value)
			} else {
				assert.Nil(t, resp.Value)
			}
		})
	}
}

func TestEnrich_MalformedJSON(t *testing.T) {
	h := newTestHandlers(t, "http://unused.example")

	rec := post(t, h.Enrich, "/api/v1/enrich", `{"fetch_url":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrich_ResponseOmitsAccessToken(t *testing.T) {
	h := newTestHandlers(t, "http://unused.example")

	rec := post(t, h.Enrich, "/api/v1/enrich", `{"fetch_url":"http://127.0.0.1:1","json_path":"$.a","auth_mode":"bearer","access_token":"very-secret-token"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "very-secret-token")
}

func TestListMappers(t *testing.T) {
	h := newTestHandlers(t, "http://backend.example")

	rec := httptest.NewRecorder()
	h.ListMappers(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mappers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Mappers   []MapperInfo                 `json:"mappers"`
		Providers []mappers.ProviderDescriptor `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Mappers, 3)
	assert.Equal(t, "school-role", resp.Mappers[0].Name)
	assert.Equal(t, "claim-enricher-oidc-api-mapper", resp.Mappers[0].Provider)
	assert.Equal(t, "claim-enricher-saml-api-mapper", resp.Mappers[2].Provider)
	assert.Len(t, resp.Providers, 4)
}

func TestMapperSchema(t *testing.T) {
	h := New(nil, nil, nil, nil, "test")

	rec := httptest.NewRecorder()
	h.MapperSchema(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mappers/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/schema+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "claim-enricher mappers")
}

func TestApplyClaimMapper(t *testing.T) {
	backend := newBackend(t)
	h := newTestHandlers(t, backend.URL)

	rec := post(t, h.ApplyClaimMapper, "/api/v1/mappers/school-role/oidc",
		`{"token_kind":"access_token","subject_id":"u-1","claims":{"sub":"u-1"}}`,
		map[string]string{"name": "school-role"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClaimsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"school-role"}, resp.Applied)
	assert.Equal(t, "u-1", resp.Claims["sub"])
	assert.Equal(t, map[string]interface{}{"role": "LEHR"}, resp.Claims["spsh"])
}

func TestApplyClaimMapper_Errors(t *testing.T) {
	h := newTestHandlers(t, "http://backend.example")

	rec := post(t, h.ApplyClaimMapper, "/", `{"token_kind":"access_token"}`, map[string]string{"name": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(t, h.ApplyClaimMapper, "/", `{"token_kind":"access_token"}`, map[string]string{"name": "school-id"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(t, h.ApplyClaimMapper, "/", `{"token_kind":"refresh_token"}`, map[string]string{"name": "school-role"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, New(nil, nil, nil, nil, "").ApplyClaimMapper, "/", `{}`, map[string]string{"name": "school-role"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplyClaimMapper_BackendDownLeavesClaimsUntouched(t *testing.T) {
	backend := newBackend(t)
	backend.Close()
	h := newTestHandlers(t, backend.URL)

	rec := post(t, h.ApplyClaimMapper, "/", `{"token_kind":"id_token","subject_id":"u-1","claims":{"sub":"u-1"}}`,
		map[string]string{"name": "school-role"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClaimsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Applied)
	assert.Equal(t, map[string]interface{}{"sub": "u-1"}, resp.Claims)
}

func TestApplyClaimMappers(t *testing.T) {
	backend := newBackend(t)
	h := newTestHandlers(t, backend.URL)

	rec := post(t, h.ApplyClaimMappers, "/api/v1/oidc/claims", `{"token_kind":"userinfo","subject_id":"u-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClaimsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"school-role", "active"}, resp.Applied)
	assert.Equal(t, true, resp.Claims["active"])
}

func TestApplyAttributeMapper(t *testing.T) {
	backend := newBackend(t)
	h := newTestHandlers(t, backend.URL)
	vars := map[string]string{"name": "school-id"}
	body := `{"subject_id":"u-1","attributes":[{"name":"mail","values":["a@b.c"]}]}`

	t.Run("json", func(t *testing.T) {
		rec := post(t, h.ApplyAttributeMapper, "/", body, vars)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AttributesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"school-id"}, resp.Applied)
		require.Len(t, resp.Attributes, 2)
		assert.Equal(t, "schoolId", resp.Attributes[1].Name)
		assert.Equal(t, []string{"S-9"}, resp.Attributes[1].Values)
	})

	t.Run("xml", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Accept", "application/xml")
		req = mux.SetURLVars(req, vars)
		rec := httptest.NewRecorder()
		h.ApplyAttributeMapper(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
		assert.Equal(t, "school-id", rec.Header().Get("X-Applied-Mappers"))

		var stmt mappers.AttributeStatement
		require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &stmt))
		attr, ok := stmt.Find("schoolId")
		require.True(t, ok)
		assert.Equal(t, []string{"S-9"}, attr.Values)
	})

	t.Run("not found", func(t *testing.T) {
		rec := post(t, h.ApplyAttributeMapper, "/", body, map[string]string{"name": "school-role"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestApplyAttributeMappers_NoValue(t *testing.T) {
	backend := newBackend(t)
	backend.Close()
	h := newTestHandlers(t, backend.URL)

	rec := post(t, h.ApplyAttributeMappers, "/api/v1/saml/attributes", `{"subject_id":"u-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AttributesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Applied)
	assert.NotNil(t, resp.Attributes)
	assert.Empty(t, resp.Attributes)
}
