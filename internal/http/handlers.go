package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"spendly/internal/identity"
)

// page is what every full page template reads.
type page struct {
	Title string
	User  *identity.User
	Year  int
}

func (s *Server) basePage(r *http.Request, title string) page {
	return page{Title: title, User: sessionFrom(r.Context()).User, Year: time.Now().Year()}
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, http.StatusOK, "landing", s.basePage(r, ""))
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.uptime).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	switch {
	case s.ready == nil:
		checks["store"] = "not_configured"
	default:
		if err := s.ready(ctx); err != nil {
			checks["store"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"status":         "ok",
	}
	checks["streams"] = map[string]any{
		"active": atomic.LoadInt64(&s.metrics.activeStreams),
		"status": "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.detector.GetMetrics()
	rateLimitMetrics := s.limiter.GetMetrics()
	traceMetrics := s.tracer.GetMetrics()

	w.WriteHeader(http.StatusOK)

	// Prometheus text format
	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_response_time_avg_us Average response time in microseconds\n")
	fmt.Fprintf(w, "# TYPE http_response_time_avg_us gauge\n")
	fmt.Fprintf(w, "http_response_time_avg_us %d\n\n", traceMetrics.AverageResponseTime)

	fmt.Fprintf(w, "# HELP expense_mutations_total Expense writes by outcome\n")
	fmt.Fprintf(w, "# TYPE expense_mutations_total counter\n")
	fmt.Fprintf(w, "expense_mutations_total{outcome=\"ok\"} %d\n", atomic.LoadInt64(&s.metrics.mutations))
	fmt.Fprintf(w, "expense_mutations_total{outcome=\"failed\"} %d\n\n", atomic.LoadInt64(&s.metrics.mutationFails))

	fmt.Fprintf(w, "# HELP dashboard_streams Open dashboard streams\n")
	fmt.Fprintf(w, "# TYPE dashboard_streams gauge\n")
	fmt.Fprintf(w, "dashboard_streams %d\n\n", atomic.LoadInt64(&s.metrics.activeStreams))

	fmt.Fprintf(w, "# HELP notice_boards Browser sessions holding a notice board\n")
	fmt.Fprintf(w, "# TYPE notice_boards gauge\n")
	fmt.Fprintf(w, "notice_boards %d\n\n", s.boards.Size())

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitMetrics.TotalHits)

	fmt.Fprintf(w, "# HELP rate_limit_clients Tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE rate_limit_clients gauge\n")
	fmt.Fprintf(w, "rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Requests matching attack patterns\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.metrics.uptime).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
