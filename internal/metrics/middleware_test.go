package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewHTTP(reg)
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/api/jobs/abc", "/api/jobs/def", "/missing", "/nowhere"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}

	if val := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/api/jobs/{id}", "200")); val != 2 {
		t.Errorf("Expected 2 requests for /api/jobs/{id}, got %f", val)
	}
	if val := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/missing", "404")); val != 1 {
		t.Errorf("Expected 1 request for /missing, got %f", val)
	}
	if val := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "unmatched", "404")); val != 1 {
		t.Errorf("Expected 1 unmatched request, got %f", val)
	}
	if val := testutil.CollectAndCount(m.requestDuration); val <= 0 {
		t.Errorf("Expected request duration to be observed, got %d", val)
	}
	if val := testutil.ToFloat64(m.inFlight); val != 0 {
		t.Errorf("Expected no requests in flight, got %f", val)
	}
}

func TestNewHTTPRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	if _, err := NewHTTP(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHTTP(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if _, err := NewHTTP(nil); err == nil {
		t.Fatal("expected nil registerer to fail")
	}
}
