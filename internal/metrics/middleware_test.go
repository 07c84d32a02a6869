package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsByStatus(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	for _, path := range []string{"/healthz", "/v1/runs/0190c5a0-0000-7000-8000-000000000000"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")) - okBefore; got != 1 {
		t.Errorf("expected one 200 request, got %v", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")) - missBefore; got != 1 {
		t.Errorf("expected one 404 request, got %v", got)
	}
	if n := testutil.CollectAndCount(httpRequestDurationSeconds); n < 2 {
		t.Errorf("expected duration series for both routes, got %d", n)
	}
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/plain", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")) - before; got != 1 {
		t.Errorf("expected one 418 request, got %v", got)
	}
}
