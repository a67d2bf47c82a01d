package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service collectors on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	actionCalls    *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	taskOutcomes   *prometheus.CounterVec
}

// New creates a registry with the HTTP, action and task collectors plus the
// standard process and Go runtime collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openmcp_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openmcp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		actionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openmcp_action_executions_total",
			Help: "Total number of agent action executions by result.",
		}, []string{"action", "result"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "openmcp_action_duration_seconds",
			Help: "Agent action duration in seconds, including model extraction and transaction submission.",
			// Airdrops wait on an LLM call and an RPC round trip.
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"action"}),
		taskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openmcp_message_tasks_total",
			Help: "Message tasks leaving the processor, by resulting status and error code.",
		}, []string{"status", "code"}),
	}
	r.reg.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.actionCalls,
		r.actionDuration,
		r.taskOutcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one finished HTTP request.
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveAction matches agent.Observer.
func (r *Registry) ObserveAction(action string, success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	r.actionCalls.WithLabelValues(action, result).Inc()
	r.actionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveTask records a task leaving the processor.
func (r *Registry) ObserveTask(status, code string) {
	r.taskOutcomes.WithLabelValues(status, code).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled with the chi route pattern.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.ObserveHTTPRequest(routePattern(req), req.Method, rec.status, time.Since(started))
	})
}

func routePattern(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func (r *Registry) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
