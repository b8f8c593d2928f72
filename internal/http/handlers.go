package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"finboard/internal/core"
	"finboard/internal/dashboard"
	applog "finboard/internal/log"
)

const readyPingTimeout = 2 * time.Second

// handleHealth reports liveness only.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleReady is 503 until a snapshot, remote or restored, is available.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status, code := "ready", http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
		err := s.store.Ping(ctx)
		cancel()
		if err != nil {
			checks["storage"] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
		} else {
			checks["storage"] = "ok"
		}
	}

	_, gen := s.dash.Snapshot()
	if s.dash.Ready() {
		checks["snapshot"] = map[string]any{"source": string(s.dash.Source()), "generation": gen}
	} else {
		checks["snapshot"] = "not loaded"
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	tm := s.trace.GetMetrics()
	rl := s.limiter.GetMetrics()
	hits, misses, entries := s.dash.ViewCacheStats()
	_, gen := s.dash.Snapshot()

	var b bytes.Buffer
	metric := func(name, typ, help string, value any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, typ, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", tm.TotalRequests)
	metric("http_requests_failed_total", "counter", "HTTP requests answered with 5xx", tm.FailedRequests)
	metric("http_response_time_avg_ms", "gauge", "Average response time", tm.AverageResponseTime.Milliseconds())
	metric("transactions_submitted_total", "counter", "Transactions created through the form", s.submitted.Load())
	metric("transactions_failed_total", "counter", "Form submissions the finance API rejected", s.failed.Load())
	metric("view_cache_hits_total", "counter", "Rendered month view cache hits", hits)
	metric("view_cache_misses_total", "counter", "Rendered month view cache misses", misses)
	metric("view_cache_entries", "gauge", "Current view cache entries", entries)
	metric("rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", rl.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rl.ClientCount)
	metric("snapshot_generation", "gauge", "Number of snapshots applied since start", gen)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.startedAt).Seconds()))

	_, _ = w.Write(b.Bytes())
}

// handleIndex renders the full page. ?month=N selects the month first.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.selectFromQuery(r)
	s.render(w, r, http.StatusOK, "index.html", s.dash.View())
}

// handleDashboard renders the dashboard partial targeted by htmx.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.selectFromQuery(r)
	s.render(w, r, http.StatusOK, "dashboard", s.dash.View())
}

// handleCharts returns the chart datasets for ?month=N, or the selected
// month, without changing the selection.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	month := s.dash.Month()
	if m, ok := parseMonth(r.URL.Query()); ok && m >= 0 && m <= 11 {
		month = m
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.dash.ViewMonth(month).Charts())
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	logger := applog.FromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		logger.WarnContext(r.Context(), "Parse form error", applog.FieldError, err)
		BadRequestError("Malformed request").Write(w)
		return
	}

	ctx, cancel := s.remote(r.Context())
	defer cancel()
	res, err := s.dash.SubmitDraft(ctx, formDraft(r.PostForm))
	if errors.Is(err, core.ErrInvalidType) || errors.Is(err, core.ErrUnknownField) {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	if m, ok := parseMonth(r.PostForm); ok {
		_ = s.dash.SelectMonth(m)
	}
	if res.Created {
		s.submitted.Add(1)
	} else {
		s.failed.Add(1)
	}
	if err != nil {
		logger.WarnContext(r.Context(), "Transaction submission incomplete",
			applog.FieldOperation, applog.OpSubmit,
			"created", res.Created,
			applog.FieldError, err)
	}

	month := s.dash.Month()
	if !isHTMX(r) {
		http.Redirect(w, r, dashboardURL(month), http.StatusSeeOther)
		return
	}

	resp := NewHTMXResponse()
	switch {
	case res.Created && res.Refreshed:
		resp.TriggerTransactionCreated(month).TriggerSuccessNotification("Transaction saved")
	case res.Created:
		resp.TriggerTransactionCreated(month).TriggerErrorNotification(s.dash.Notice())
	default:
		resp.TriggerErrorNotification(s.dash.Notice())
	}
	s.writePartial(w, r, resp)
}

// handleRefresh forces a refetch of the snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.remote(r.Context())
	defer cancel()
	err := s.dash.Load(ctx)

	if !isHTMX(r) {
		http.Redirect(w, r, dashboardURL(s.dash.Month()), http.StatusSeeOther)
		return
	}
	resp := NewHTMXResponse()
	if err != nil {
		resp.TriggerErrorNotification(s.dash.Notice())
	} else {
		_, gen := s.dash.Snapshot()
		resp.TriggerDashboardRefreshed(s.dash.Month(), gen)
	}
	s.writePartial(w, r, resp)
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	s.dash.DismissNotice()
	if !isHTMX(r) {
		http.Redirect(w, r, dashboardURL(s.dash.Month()), http.StatusSeeOther)
		return
	}
	s.writePartial(w, r, NewHTMXResponse())
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(http.StatusTooManyRequests, "Too many submissions. Please wait a minute and try again.").Write(w)
}

// selectFromQuery applies ?month=N; out of range values are ignored.
func (s *Server) selectFromQuery(r *http.Request) {
	m, ok := parseMonth(r.URL.Query())
	if !ok {
		return
	}
	if err := s.dash.SelectMonth(m); err != nil {
		applog.FromContext(r.Context()).DebugContext(r.Context(), "Ignoring month parameter",
			applog.FieldMonth, m, applog.FieldError, err)
	}
}

// writePartial renders the dashboard partial into resp and sends it.
func (s *Server) writePartial(w http.ResponseWriter, r *http.Request, resp *HTMXResponseBuilder) {
	body, err := s.execute("dashboard", s.dash.View())
	if err != nil {
		s.templateFailed(w, r, "dashboard", err)
		return
	}
	resp.Header("Cache-Control", "no-store").BodyHTML(body).Write(w)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, view dashboard.View) {
	body, err := s.execute(name, view)
	if err != nil {
		s.templateFailed(w, r, name, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// execute renders into a buffer so a failing template never leaves a half
// written page behind.
func (s *Server) execute(name string, view dashboard.View) ([]byte, error) {
	if s.templates == nil {
		return nil, errors.New("templates not loaded")
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) templateFailed(w http.ResponseWriter, r *http.Request, name string, err error) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentTemplate).ErrorContext(r.Context(), "Template execution failed",
		"template", name,
		applog.FieldError, err)
	http.Error(w, "template error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
