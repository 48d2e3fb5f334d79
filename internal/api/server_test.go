package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescueops-hub/internal/audit"
	"rescueops-hub/internal/correlate"
	"rescueops-hub/internal/fleet"
	"rescueops-hub/internal/leaderboard"
	"rescueops-hub/internal/session"
	"rescueops-hub/internal/state"
)

type fixture struct {
	srv   *Server
	h     http.Handler
	store *state.Store
	reg   *session.Registry
	trail *audit.Trail
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{store: state.NewStore(), reg: session.NewRegistry(nil), trail: audit.NewTrail()}
	deps := Deps{
		Agents:      f.store,
		Sessions:    f.reg,
		Audit:       f.trail,
		Leaderboard: leaderboard.New(f.store, f.trail),
		Keyer:       correlate.BucketKeyer{},
		Docks:       []fleet.Dock{{ID: "dock-1", Lat: 29.85, Lng: 77.88}},
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.srv = NewServer(deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.h = f.srv.Handler()
	return f
}

func (f *fixture) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return w.Code, body
}

func (f *fixture) agent(t *testing.T, id string, lat, lng, battery float64, status fleet.Status) {
	t.Helper()
	require.NoError(t, f.store.Upsert(fleet.AgentState{
		AgentID:     id,
		Position:    fleet.Position{Lat: lat, Lng: lng},
		Battery:     battery,
		Status:      status,
		LastUpdated: time.Unix(1700000000, 0).UTC(),
	}))
}

func (f *fixture) event(t *testing.T, typ fleet.EventType, agent string, ts int64, details string) {
	t.Helper()
	_, err := f.trail.Append(fleet.AuditEvent{
		SessionID: "s1",
		EventType: typ,
		AgentID:   agent,
		Timestamp: time.Unix(ts, 0).UTC(),
		Details:   json.RawMessage(details),
	})
	require.NoError(t, err)
}

func TestBenchmarksEmpty(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.get(t, "/api/benchmarks")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestBenchmarksRanked(t *testing.T) {
	f := newFixture(t, nil)
	f.agent(t, "R1", 29.85, 77.88, 100, fleet.StatusIdle)
	f.agent(t, "R2", 29.86, 77.88, 50, fleet.StatusBusy)
	f.event(t, fleet.EventMissionComplete, "R2", 10, `{"lat":29.86}`)

	code, body := f.get(t, "/api/benchmarks")
	require.Equal(t, http.StatusOK, code)
	var entries []fleet.LeaderboardEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "R2", entries[0].AgentID)
	assert.Equal(t, 1, entries[0].MissionsCompleted)
	assert.Equal(t, 30.0, entries[0].Score)
	assert.Equal(t, "R1", entries[1].AgentID)
	assert.Equal(t, 20.0, entries[1].Score)
}

type failingEvents struct{}

func (failingEvents) Query(context.Context, audit.Filter) ([]fleet.AuditEvent, error) {
	return nil, &fleet.QueryError{Op: "audit", Err: errors.New("disk gone")}
}

func (failingEvents) CountByAgent(context.Context, fleet.EventType) (map[string]int, error) {
	return nil, &fleet.QueryError{Op: "audit", Err: errors.New("disk gone")}
}

func (failingEvents) Len() int { return 0 }

func TestQueryFailuresAnswerEmptyArray(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Audit = failingEvents{}
		d.Leaderboard = leaderboard.New(state.NewStore(), failingEvents{})
	})
	for _, path := range []string{"/api/benchmarks", "/api/response-time-trend", "/api/audit"} {
		code, body := f.get(t, path)
		assert.Equal(t, http.StatusInternalServerError, code, path)
		assert.JSONEq(t, `[]`, string(body), path)
	}
}

func TestResponseTimeTrend(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix()
	f.event(t, fleet.EventTaskAssigned, "R1", base, `{"lat":29.8600,"lng":77.88}`)
	f.event(t, fleet.EventMissionComplete, "R1", base+42, `{"lat":29.8601,"lng":77.88}`)
	f.event(t, fleet.EventMissionComplete, "R2", base+50, `{"lat":10}`)

	code, body := f.get(t, "/api/response-time-trend")
	require.Equal(t, http.StatusOK, code)
	var points []TrendPoint
	require.NoError(t, json.Unmarshal(body, &points))
	assert.Equal(t, []TrendPoint{{Time: "12:00:42", DurationSeconds: 42}}, points)
}

func TestResponseTimeTrendEmpty(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.get(t, "/api/response-time-trend")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestNearest(t *testing.T) {
	f := newFixture(t, nil)
	f.agent(t, "far", 30.50, 77.88, 90, fleet.StatusIdle)
	f.agent(t, "near", 29.851, 77.88, 90, fleet.StatusIdle)
	f.agent(t, "low", 29.850, 77.88, 5, fleet.StatusIdle)
	f.agent(t, "busy", 29.850, 77.88, 90, fleet.StatusBusy)

	code, body := f.get(t, "/api/agents/nearest?lat=29.85&lng=77.88&status=idle&min_battery=20")
	require.Equal(t, http.StatusOK, code)
	var got []state.Candidate
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].AgentID)
	assert.Equal(t, "far", got[1].AgentID)

	code, body = f.get(t, "/api/agents/nearest?lat=29.85&lng=77.88&limit=1")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
}

func TestNearestRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{
		"/api/agents/nearest",
		"/api/agents/nearest?lat=abc&lng=1",
		"/api/agents/nearest?lat=95&lng=1",
		"/api/agents/nearest?lat=1&lng=1&status=FLYING",
	} {
		code, body := f.get(t, path)
		assert.Equal(t, http.StatusBadRequest, code, path)
		assert.JSONEq(t, `[]`, string(body), path)
	}
}

func TestAuditFilters(t *testing.T) {
	f := newFixture(t, nil)
	f.event(t, fleet.EventTaskAssigned, "R1", 1, `{}`)
	f.event(t, fleet.EventBatteryLow, "R2", 2, `{}`)
	f.event(t, fleet.EventMissionComplete, "R1", 3, `{}`)

	code, body := f.get(t, "/api/audit?type=task_assigned,MISSION_COMPLETE&agent=R1")
	require.Equal(t, http.StatusOK, code)
	var events []fleet.AuditEvent
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 2)
	assert.Equal(t, fleet.EventTaskAssigned, events[0].EventType)
	assert.Equal(t, fleet.EventMissionComplete, events[1].EventType)

	_, body = f.get(t, "/api/audit?session=nope")
	assert.JSONEq(t, `[]`, string(body))
}

func TestSessionsAgentsAndDocks(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.reg.Register(context.Background(), "run-1", 2)
	require.NoError(t, err)
	f.agent(t, "R1", 29.85, 77.88, 80, fleet.StatusIdle)

	_, body := f.get(t, "/api/sessions")
	var sessions []fleet.Session
	require.NoError(t, json.Unmarshal(body, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "run-1", sessions[0].SessionID)

	_, body = f.get(t, "/api/agents")
	var agents []fleet.AgentState
	require.NoError(t, json.Unmarshal(body, &agents))
	require.Len(t, agents, 1)

	_, body = f.get(t, "/api/docks")
	assert.JSONEq(t, `[{"id":"dock-1","lat":29.85,"lng":77.88}]`, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","agents":0,"audit_events":0}`, string(body))

	code, _ = f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.RatePerMinute = 2 })
	for i := 0; i < 2; i++ {
		code, _ := f.get(t, "/api/docks")
		require.Equal(t, http.StatusOK, code)
	}
	code, body := f.get(t, "/api/docks")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.JSONEq(t, `[]`, string(body))

	code, _ = f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code, "health is not rate limited")
}

func TestEventsMounted(t *testing.T) {
	called := false
	f := newFixture(t, func(d *Deps) {
		d.Events = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		})
	})
	code, _ := f.get(t, "/ws")
	assert.Equal(t, http.StatusTeapot, code)
	assert.True(t, called)
}
