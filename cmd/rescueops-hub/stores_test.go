package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"rescueops-hub/internal/audit"
	"rescueops-hub/internal/config"
	"rescueops-hub/internal/correlate"
	"rescueops-hub/internal/fleet"
	"rescueops-hub/internal/logging"
	"rescueops-hub/internal/session"
	"rescueops-hub/internal/state"
)

func quietContext() context.Context {
	return logging.NewContext(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpenBackendsPrintOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "hub.db")
	b, err := openBackends(quietContext(), cfg, true)
	if err != nil {
		t.Fatalf("openBackends returned error: %v", err)
	}
	defer b.Close()
	if b.sqlite != nil {
		t.Fatalf("print-only must not open sqlite")
	}
	if n := b.writer.Len(); n != 1 {
		t.Fatalf("expected 1 writer, got %d", n)
	}
	if b.Claimer() != nil {
		t.Fatalf("expected no claimer")
	}
}

func TestOpenBackendsNothingConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.SQLitePath = ""
	b, err := openBackends(quietContext(), cfg, false)
	if err != nil {
		t.Fatalf("openBackends returned error: %v", err)
	}
	defer b.Close()
	if b.Writer() != nil {
		t.Fatalf("expected nil writer, got %T", b.Writer())
	}
}

func TestOpenBackendsSQLiteExportAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(dir, "hub.db")
	cfg.Storage.ExportDir = filepath.Join(dir, "export")
	cfg.Sessions.RedisAddr = mr.Addr()

	b, err := openBackends(quietContext(), cfg, false)
	if err != nil {
		t.Fatalf("openBackends returned error: %v", err)
	}
	defer b.Close()
	if b.sqlite == nil {
		t.Fatalf("expected sqlite store")
	}
	if n := b.writer.Len(); n != 2 {
		t.Fatalf("expected 2 writers, got %d", n)
	}
	if b.Claimer() == nil {
		t.Fatalf("expected redis claimer")
	}
	if _, err := os.Stat(filepath.Join(dir, "export", "audit.jsonl")); err != nil {
		t.Fatalf("export file missing: %v", err)
	}
}

func TestOpenBackendsRedisUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.SQLitePath = ""
	cfg.Sessions.RedisAddr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(quietContext(), 2*time.Second)
	defer cancel()
	if _, err := openBackends(ctx, cfg, false); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}

func TestRehydrate(t *testing.T) {
	ctx := quietContext()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "hub.db")
	b, err := openBackends(ctx, cfg, false)
	if err != nil {
		t.Fatalf("openBackends returned error: %v", err)
	}
	defer b.Close()

	w := b.Writer()
	at := time.Unix(1700000000, 0).UTC()
	if err := w.WriteAgent(ctx, fleet.AgentState{AgentID: "R1", Position: fleet.Position{Lat: 29.86, Lng: 77.88}, Battery: 80, Status: fleet.StatusBusy, LastUpdated: at}); err != nil {
		t.Fatalf("WriteAgent: %v", err)
	}
	if err := w.WriteSession(ctx, fleet.Session{SessionID: "run-1", StartTime: at, ParticipantCount: 3, Status: fleet.SessionActive}); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	for i, ev := range []fleet.AuditEvent{
		{SessionID: "run-1", EventType: fleet.EventTaskAssigned, AgentID: "R1", Timestamp: at, Details: json.RawMessage(`{"lat":29.86,"missionId":"m-1"}`)},
		{SessionID: "run-1", EventType: fleet.EventTaskAssigned, AgentID: "R2", Timestamp: at.Add(time.Second), Details: json.RawMessage(`{"lat":29.87,"missionId":"m-2"}`)},
		{SessionID: "run-1", EventType: fleet.EventMissionComplete, AgentID: "R1", Timestamp: at.Add(30 * time.Second), Details: json.RawMessage(`{"lat":29.86,"missionId":"m-1"}`)},
	} {
		ev.Seq = uint64(i + 1)
		if err := w.WriteAudit(ctx, ev); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}

	agents := state.NewStore()
	reg := session.NewRegistry(nil)
	trail := audit.NewTrail()
	corr := correlate.New(correlate.AutoKeyer{}, 0)
	if err := rehydrate(ctx, b.sqlite, agents, reg, trail, corr); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if a, ok := agents.Get("R1"); !ok || a.Battery != 80 {
		t.Fatalf("agent not restored: %+v", a)
	}
	if reg.Latest() != "run-1" {
		t.Fatalf("expected latest session run-1, got %q", reg.Latest())
	}
	if trail.Len() != 3 {
		t.Fatalf("expected 3 audit events, got %d", trail.Len())
	}
	if p := corr.Pending(); p != 1 {
		t.Fatalf("expected R2's assignment pending, got %d", p)
	}
	stored, err := trail.Append(fleet.AuditEvent{SessionID: "run-1", EventType: fleet.EventBatteryLow, AgentID: "R1", Details: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if stored.Seq != 4 {
		t.Fatalf("expected seq to continue at 4, got %d", stored.Seq)
	}
}
