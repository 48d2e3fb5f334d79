// Package api serves the read-only query interface and mounts the event
// channel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rescueops-hub/internal/audit"
	"rescueops-hub/internal/correlate"
	"rescueops-hub/internal/fleet"
	"rescueops-hub/internal/leaderboard"
	"rescueops-hub/internal/session"
	"rescueops-hub/internal/state"
)

// TrendTimeFormat renders trend timestamps.
const TrendTimeFormat = "15:04:05"

// EventSource is the read side of the audit trail.
type EventSource interface {
	Query(ctx context.Context, f audit.Filter) ([]fleet.AuditEvent, error)
	Len() int
}

// Deps wires the server to the stores.
type Deps struct {
	Agents      *state.Store
	Sessions    *session.Registry
	Audit       EventSource
	Leaderboard *leaderboard.Aggregator
	Keyer       correlate.Keyer
	PendingTTL  time.Duration
	TrendSize   int
	Docks       []fleet.Dock
	// Events serves the websocket channel at /ws when set.
	Events http.Handler
	// RatePerMinute limits /api requests per client IP; 0 disables it.
	RatePerMinute int
}

type Server struct {
	deps Deps
	log  *slog.Logger
}

// TrendPoint is one entry of the response-time trend.
type TrendPoint struct {
	Time            string  `json:"time"`
	DurationSeconds float64 `json:"durationSeconds"`
}

func NewServer(deps Deps, log *slog.Logger) *Server {
	if deps.Keyer == nil {
		deps.Keyer = correlate.AutoKeyer{}
	}
	if deps.TrendSize <= 0 {
		deps.TrendSize = correlate.DefaultTrendSize
	}
	if deps.Docks == nil {
		deps.Docks = []fleet.Dock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, log: log}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.Events != nil {
		r.Handle("/ws", s.deps.Events)
	}

	r.Route("/api", func(r chi.Router) {
		if s.deps.RatePerMinute > 0 {
			r.Use(httprate.Limit(
				s.deps.RatePerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", "60")
					writeEmpty(w, http.StatusTooManyRequests)
				}),
			))
		}
		r.Get("/benchmarks", s.handleBenchmarks)
		r.Get("/response-time-trend", s.handleTrend)
		r.Get("/agents", s.handleAgents)
		r.Get("/agents/nearest", s.handleNearest)
		r.Get("/sessions", s.handleSessions)
		r.Get("/audit", s.handleAudit)
		r.Get("/docks", s.handleDocks)
	})
	return r
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEmpty answers failed queries with an empty array so dashboards keep
// rendering.
func writeEmpty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("[]\n"))
}

func (s *Server) queryFailed(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, fleet.ErrValidation) {
		status = http.StatusBadRequest
	}
	s.log.Warn("query failed", "path", r.URL.Path, "kind", fleet.Kind(err), "err", err)
	writeEmpty(w, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"agents":       s.deps.Agents.Len(),
		"audit_events": s.deps.Audit.Len(),
	})
}

func (s *Server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Leaderboard.Benchmarks(r.Context())
	if err != nil {
		s.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Trend derives samples from the full history on every call.
func (s *Server) Trend(ctx context.Context) ([]TrendPoint, error) {
	events, err := s.deps.Audit.Query(ctx, audit.Filter{Types: []fleet.EventType{fleet.EventTaskAssigned, fleet.EventMissionComplete}})
	if err != nil {
		return nil, err
	}
	samples := correlate.Trend(correlate.Derive(events, s.deps.Keyer, s.deps.PendingTTL), s.deps.TrendSize)
	out := make([]TrendPoint, 0, len(samples))
	for _, smp := range samples {
		out = append(out, TrendPoint{Time: smp.Timestamp.UTC().Format(TrendTimeFormat), DurationSeconds: smp.DurationSeconds})
	}
	return out, nil
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	points, err := s.Trend(r.Context())
	if err != nil {
		s.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Agents.Snapshot())
}

func floatParam(r *http.Request, name string, required bool) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, false, &fleet.ValidationError{Field: name, Reason: "required"}
		}
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, &fleet.ValidationError{Field: name, Reason: "not a number"}
	}
	return v, true, nil
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	lat, _, err := floatParam(r, "lat", true)
	if err != nil {
		s.queryFailed(w, r, err)
		return
	}
	lng, _, err := floatParam(r, "lng", true)
	if err != nil {
		s.queryFailed(w, r, err)
		return
	}
	if !fleet.ValidLatLng(lat, lng) {
		s.queryFailed(w, r, &fleet.ValidationError{Field: "lat/lng", Reason: "out of range"})
		return
	}
	var f state.NearestFilter
	if minBattery, ok, err := floatParam(r, "min_battery", false); err != nil {
		s.queryFailed(w, r, err)
		return
	} else if ok {
		f.MinBattery = minBattery
	}
	if limit, ok, err := floatParam(r, "limit", false); err != nil {
		s.queryFailed(w, r, err)
		return
	} else if ok {
		f.Limit = int(limit)
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := fleet.Status(strings.ToUpper(raw))
		if !st.Valid() {
			s.queryFailed(w, r, &fleet.ValidationError{Field: "status", Reason: "unknown status " + raw})
			return
		}
		f.Status = st
	}
	writeJSON(w, http.StatusOK, s.deps.Agents.Nearest(lat, lng, f))
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.List())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{SessionID: q.Get("session"), AgentID: q.Get("agent")}
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, fleet.EventType(strings.ToUpper(t)))
		}
	}
	events, err := s.deps.Audit.Query(r.Context(), f)
	if err != nil {
		s.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleDocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Docks)
}
