package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusync/ayusync/internal/config"
	"github.com/ayusync/ayusync/internal/platform/sqlite"
)

func newTestServer(t *testing.T, env string) (*echo.Echo, *store) {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	st := newSQLiteStore(sqlDB)
	t.Cleanup(st.close)

	applied, err := st.migrate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	res, seeded, err := st.seedIfEmpty(ctx, "")
	require.NoError(t, err)
	require.True(t, seeded)
	assert.Equal(t, 10, res.Concepts)

	cfg := &config.Config{
		Env:            env,
		DatabaseURL:    "sqlite://" + sqlite.MemoryPath,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}
	return newServer(cfg, st, nil, zerolog.Nop()), st
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestStore_SeedIfEmptyRunsOnce(t *testing.T) {
	_, st := newTestServer(t, "development")

	_, seeded, err := st.seedIfEmpty(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, seeded)

	applied, err := st.migrate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestServer_Health(t *testing.T) {
	e, _ := newTestServer(t, "development")

	rec := serve(e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["remote"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = serve(e, http.MethodGet, "/health/db", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sqlite", body["driver"])
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_ConceptMap(t *testing.T) {
	e, _ := newTestServer(t, "development")

	rec := serve(e, http.MethodGet, "/api/concept-map/NAM-001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var suggestions []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestions))
	require.Len(t, suggestions, 2)
	assert.Equal(t, "TM2.A01.1Z", suggestions[0]["code"])
	assert.Equal(t, float64(95), suggestions[0]["confidence"])
	assert.Equal(t, "K59.1", suggestions[1]["code"])

	rec = serve(e, http.MethodGet, "/api/concept-map/NAM-999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "OperationOutcome")
}

func TestServer_ICDSearchFallsBackToEmptyCache(t *testing.T) {
	e, _ := newTestServer(t, "development")

	rec := serve(e, http.MethodGet, "/api/icd/search?q=diabetes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_ProblemListRoundTrip(t *testing.T) {
	e, _ := newTestServer(t, "development")

	rec := serve(e, http.MethodPost, "/api/problem-list",
		`{"patientId":"P-1","namasteCode":"NAM-001","icdCodes":["TM2.A01.1Z","K59.1"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, true, created["success"])
	assert.NotEmpty(t, created["recordId"])

	rec = serve(e, http.MethodGet, "/api/debug/problems", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data  []map[string]interface{} `json:"data"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Data, 2)

	rec = serve(e, http.MethodPost, "/api/problem-list",
		`{"patientId":"P-1","namasteCode":"NAM-999","icdCodes":["5A10"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, http.MethodPost, "/api/problem-list",
		`{"patientId":"P-1","namasteCode":"NAM-001","icdCodes":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DebugRoutesOnlyInDevelopment(t *testing.T) {
	e, _ := newTestServer(t, "production")

	rec := serve(e, http.MethodGet, "/api/debug/concept-map", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = serve(e, http.MethodGet, "/api/namaste/search?q=vata", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NAM-001")
}

func TestServer_FHIRTranslate(t *testing.T) {
	e, _ := newTestServer(t, "production")

	rec := serve(e, http.MethodGet, "/fhir/ConceptMap/$translate?code=NAM-004&system=urn:namaste", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"valueBoolean":true`)
	assert.Contains(t, rec.Body.String(), "5A10")

	rec = serve(e, http.MethodGet, "/fhir/ConceptMap/namaste-to-icd11", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cm struct {
		Group []struct {
			Element []struct {
				Code   string        `json:"code"`
				Target []interface{} `json:"target"`
			} `json:"element"`
		} `json:"group"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cm))
	require.Len(t, cm.Group, 1)
	targets := 0
	for _, el := range cm.Group[0].Element {
		targets += len(el.Target)
	}
	assert.Equal(t, 18, targets)
}

func TestServer_Metrics(t *testing.T) {
	e, _ := newTestServer(t, "development")

	serve(e, http.MethodGet, "/api/icd/search?q=vata", "")
	serve(e, http.MethodGet, "/api/icd/search?q=", "")

	rec := serve(e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ayusync_icd_search_total{source="cache",remote_status="disabled"} 1`)
	assert.Contains(t, body, `ayusync_icd_search_total{source="recent",remote_status="none"} 1`)
	assert.Contains(t, body, `route="/api/icd/search",status_code="200"`)
}
