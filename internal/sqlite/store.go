// Package sqlite is the durable store behind the in-memory fleet state. The
// hub writes to it asynchronously and reads it once at startup.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"rescueops-hub/internal/fleet"
)

// Config holds connection parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns WAL-friendly defaults.
func DefaultConfig() Config {
	return Config{BusyTimeout: 5 * time.Second, MaxOpenConns: 8}
}

// Store persists agents, sessions and audit events.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, cfg Config) (*Store, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultConfig().BusyTimeout
	}
	if cfg.MaxOpenConns < 1 {
		cfg.MaxOpenConns = DefaultConfig().MaxOpenConns
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		battery REAL NOT NULL,
		status TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_position ON agents(lat, lng);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		start_time TEXT NOT NULL,
		participant_count INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		event_type TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		details TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_type_ts ON audit_events(event_type, ts);
	CREATE INDEX IF NOT EXISTS idx_audit_session_ts ON audit_events(session_id, ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func persistErr(collection, key string, err error) error {
	if err == nil {
		return nil
	}
	return &fleet.PersistenceError{Collection: collection, Key: key, Err: err}
}

// WriteAgent upserts the full agent record.
func (s *Store) WriteAgent(ctx context.Context, st fleet.AgentState) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO agents (agent_id, lat, lng, battery, status, last_updated)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(agent_id) DO UPDATE SET
		lat = excluded.lat,
		lng = excluded.lng,
		battery = excluded.battery,
		status = excluded.status,
		last_updated = excluded.last_updated
	`, st.AgentID, st.Position.Lat, st.Position.Lng, st.Battery, string(st.Status), formatTime(st.LastUpdated))
	return persistErr("agents", st.AgentID, err)
}

// WriteSession inserts a session. An existing row is kept.
func (s *Store) WriteSession(ctx context.Context, sess fleet.Session) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sessions (session_id, start_time, participant_count, status)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING
	`, sess.SessionID, formatTime(sess.StartTime), sess.ParticipantCount, string(sess.Status))
	return persistErr("sessions", sess.SessionID, err)
}

// WriteAudit appends an event. Rewriting the same seq is a no-op.
func (s *Store) WriteAudit(ctx context.Context, ev fleet.AuditEvent) error {
	details := string(ev.Details)
	if details == "" {
		details = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audit_events (seq, session_id, ts, event_type, agent_id, details)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(seq) DO NOTHING
	`, int64(ev.Seq), ev.SessionID, formatTime(ev.Timestamp), string(ev.EventType), ev.AgentID, details)
	return persistErr("audit_events", fmt.Sprint(ev.Seq), err)
}

// LoadAgents returns every stored agent ordered by id.
func (s *Store) LoadAgents(ctx context.Context) ([]fleet.AgentState, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT agent_id, lat, lng, battery, status, last_updated
	FROM agents
	ORDER BY agent_id
	`)
	if err != nil {
		return nil, &fleet.QueryError{Op: "load agents", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []fleet.AgentState
	for rows.Next() {
		var st fleet.AgentState
		var status, updated string
		if err := rows.Scan(&st.AgentID, &st.Position.Lat, &st.Position.Lng, &st.Battery, &status, &updated); err != nil {
			return nil, &fleet.QueryError{Op: "load agents", Err: err}
		}
		st.Status = fleet.Status(status)
		if st.LastUpdated, err = parseTime(updated); err != nil {
			return nil, &fleet.QueryError{Op: "load agents", Err: err}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &fleet.QueryError{Op: "load agents", Err: err}
	}
	return out, nil
}

// LoadSessions returns every stored session ordered by start time.
func (s *Store) LoadSessions(ctx context.Context) ([]fleet.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT session_id, start_time, participant_count, status
	FROM sessions
	ORDER BY start_time, session_id
	`)
	if err != nil {
		return nil, &fleet.QueryError{Op: "load sessions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []fleet.Session
	for rows.Next() {
		var sess fleet.Session
		var start, status string
		if err := rows.Scan(&sess.SessionID, &start, &sess.ParticipantCount, &status); err != nil {
			return nil, &fleet.QueryError{Op: "load sessions", Err: err}
		}
		sess.Status = fleet.SessionStatus(status)
		if sess.StartTime, err = parseTime(start); err != nil {
			return nil, &fleet.QueryError{Op: "load sessions", Err: err}
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &fleet.QueryError{Op: "load sessions", Err: err}
	}
	return out, nil
}

// LoadAudit returns every stored event in sequence order.
func (s *Store) LoadAudit(ctx context.Context) ([]fleet.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT seq, session_id, ts, event_type, agent_id, details
	FROM audit_events
	ORDER BY seq
	`)
	if err != nil {
		return nil, &fleet.QueryError{Op: "load audit", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []fleet.AuditEvent
	for rows.Next() {
		var ev fleet.AuditEvent
		var seq int64
		var ts, typ, details string
		if err := rows.Scan(&seq, &ev.SessionID, &ts, &typ, &ev.AgentID, &details); err != nil {
			return nil, &fleet.QueryError{Op: "load audit", Err: err}
		}
		ev.Seq = uint64(seq)
		ev.EventType = fleet.EventType(typ)
		ev.Details = json.RawMessage(details)
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, &fleet.QueryError{Op: "load audit", Err: err}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &fleet.QueryError{Op: "load audit", Err: err}
	}
	return out, nil
}
