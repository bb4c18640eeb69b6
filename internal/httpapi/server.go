package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"saas-analytics/internal/metrics"
	"saas-analytics/internal/model"
	"saas-analytics/internal/report"
)

// Server answers read-only report queries over one indexed snapshot.
type Server struct {
	ds     *model.Dataset
	opts   metrics.Options
	logger *slog.Logger
}

type response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New returns the router serving ds.
func New(ds *model.Dataset, opts metrics.Options, logger *slog.Logger) http.Handler {
	s := &Server{ds: ds, opts: opts, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.health)
	router.Get("/metrics", s.names)
	router.Route("/reports", func(r chi.Router) {
		r.Get("/", s.fullReport)
		r.Get("/{metric}", s.metric)
	})
	return router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Error: &apiError{Code: code, Message: message}})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"users":         len(s.ds.Users),
		"subscriptions": len(s.ds.Subscriptions),
	})
}

func (s *Server) names(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Names)
}

var errBadParam = errors.New("bad parameter")

func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is neither RFC 3339 nor YYYY-MM-DD", errBadParam, v)
}

// query reads the shared filter and tuning parameters.
func query(r *http.Request) (metrics.Query, error) {
	values := r.URL.Query()
	var q metrics.Query

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &q.Filter.Start}, {"end", &q.Filter.End}} {
		if v := values.Get(p.name); v != "" {
			t, err := parseTime(v)
			if err != nil {
				return q, fmt.Errorf("%s: %w", p.name, err)
			}
			*p.dst = &t
		}
	}
	if v := values.Get("at"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return q, fmt.Errorf("at: %w", err)
		}
		q.At = t
	}
	if v := values.Get("plan"); v != "" {
		plan := model.PlanName(v)
		if !plan.Valid() {
			return q, fmt.Errorf("%w: unknown plan %q", errBadParam, v)
		}
		q.Filter.Plan = plan
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"k", &q.K}, {"days", &q.Days}, {"min_signups", &q.MinSignups}} {
		if v := values.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return q, fmt.Errorf("%w: %s must be a non-negative integer", errBadParam, p.name)
			}
			*p.dst = n
		}
	}
	return q, nil
}

func (s *Server) fullReport(w http.ResponseWriter, r *http.Request) {
	q, err := query(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	opts := s.opts
	opts.Filter = q.Filter
	if !q.At.IsZero() {
		opts.AsOf = q.At
	}
	rep := metrics.Compute(s.ds, opts)

	format := r.URL.Query().Get("format")
	switch format {
	case "", report.FormatJSON:
		writeJSON(w, http.StatusOK, rep)
	case report.FormatText, report.FormatYAML:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.Write(w, rep, format); err != nil {
			s.logger.Error("failed to render report", "format", format, "error", err)
		}
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("unknown format %q", format))
	}
}

func (s *Server) metric(w http.ResponseWriter, r *http.Request) {
	q, err := query(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	q.Name = chi.URLParam(r, "metric")
	if q.K == 0 {
		q.K = 1
	}
	if q.Days == 0 {
		q.Days = s.opts.RecentDays
	}
	if q.MinSignups == 0 {
		q.MinSignups = s.opts.MinChannelSignups
	}

	tables, ok := metrics.Run(s.ds, q)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_METRIC", fmt.Sprintf("unknown metric %q", q.Name))
		return
	}
	writeJSON(w, http.StatusOK, tables)
}
