package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := New()
	r := chi.NewRouter()
	r.Use(reg.Middleware)
	r.Get("/api/v1/messages/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/metrics", reg.Handler().ServeHTTP)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	reg.ObserveAction("airdrop", false, 2*time.Second)
	reg.ObserveTask("failed", "TASK_ACTION_FAILED")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`openmcp_http_requests_total{code="404",handler="/api/v1/messages/{id}",method="GET"} 2`,
		`openmcp_action_executions_total{action="airdrop",result="failure"} 1`,
		`openmcp_message_tasks_total{code="TASK_ACTION_FAILED",status="failed"} 1`,
		`openmcp_action_duration_seconds_count{action="airdrop"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q\n%s", want, text)
		}
	}
}

func TestGathererExposesCollectors(t *testing.T) {
	reg := New()
	reg.ObserveHTTPRequest("/healthz", http.MethodGet, http.StatusOK, time.Millisecond)

	families, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "openmcp_http_request_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Fatalf("http duration histogram not registered")
	}
}
