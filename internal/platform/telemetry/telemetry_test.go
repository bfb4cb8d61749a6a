package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

func TestHistogram_CumulativeBuckets(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 2, 3, 7, 20} {
		h.Observe(v)
	}

	cum := h.cumulativeBuckets()
	want := []int64{1, 3, 4}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], cum[i])
		}
	}
	if h.Count() != 5 {
		t.Errorf("expected count 5, got %d", h.Count())
	}
	if h.Sum() != 32.5 {
		t.Errorf("expected sum 32.5, got %g", h.Sum())
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := newHistogram(DurationBuckets)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Observe(0.01)
			}
		}()
	}
	wg.Wait()
	if h.Count() != 5000 {
		t.Fatalf("expected 5000 observations, got %d", h.Count())
	}
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestCounterVec_IncAndValue(t *testing.T) {
	reg := NewRegistry("ayusync")
	c := reg.Counter("icd_search_total", "ICD-11 searches.", "source", "remote_status")

	c.Inc("remote", "ok")
	c.Inc("remote", "ok")
	c.Inc("cache", "unavailable")

	if got := c.Value("remote", "ok"); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := c.Value("cache", "unavailable"); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := c.Value("cache", "ok"); got != 0 {
		t.Errorf("expected 0 for an unseen series, got %d", got)
	}
}

func TestRegistry_CounterIsShared(t *testing.T) {
	reg := NewRegistry("")
	a := reg.Counter("lookups_total", "Lookups.", "result")
	b := reg.Counter("lookups_total", "Lookups.", "result")
	if a != b {
		t.Fatal("expected the same counter for the same name")
	}
}

// ---------------------------------------------------------------------------
// Middleware and exposition
// ---------------------------------------------------------------------------

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	reg := NewRegistry("ayusync")
	e := echo.New()
	e.Use(reg.Middleware())
	e.GET("/api/concept-map/:code", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, code := range []string{"NAM-001", "NAM-004"} {
		req := httptest.NewRequest(http.MethodGet, "/api/concept-map/"+code, nil)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := reg.RequestCount(http.MethodGet, "/api/concept-map/:code", http.StatusOK); got != 2 {
		t.Fatalf("expected 2 requests on the route pattern, got %d", got)
	}
}

func TestMiddleware_RecordsHandlerErrorStatus(t *testing.T) {
	reg := NewRegistry("")
	e := echo.New()
	e.Use(reg.Middleware())
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 written, got %d", rec.Code)
	}
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	if got := reg.RequestCount(http.MethodGet, "/fail", http.StatusBadGateway); got != 1 {
		t.Errorf("expected 1 request recorded as 502, got %d", got)
	}
	if got := reg.RequestCount(http.MethodGet, "/boom", http.StatusInternalServerError); got != 1 {
		t.Errorf("expected 1 request recorded as 500, got %d", got)
	}
}

func TestHandler_PrometheusText(t *testing.T) {
	reg := NewRegistry("ayusync")
	reg.Counter("icd_search_total", "ICD-11 searches.", "source", "remote_status").Inc("cache", "disabled")
	reg.Counter("seed_runs_total", "Seed runs.").Inc()

	e := echo.New()
	e.Use(reg.Middleware())
	e.GET("/metrics", reg.Handler())
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE ayusync_http_server_request_duration_seconds histogram",
		`ayusync_http_server_request_duration_seconds_count{method="GET",route="/metrics",status_code="200"} 1`,
		`le="+Inf"`,
		"# TYPE ayusync_http_server_active_requests gauge",
		"ayusync_http_server_active_requests 1",
		"# TYPE ayusync_icd_search_total counter",
		`ayusync_icd_search_total{source="cache",remote_status="disabled"} 1`,
		"ayusync_seed_runs_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected exposition to contain %q\n%s", want, body)
		}
	}
}
