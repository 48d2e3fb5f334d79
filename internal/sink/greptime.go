package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"rescueops-hub/internal/fleet"
)

// Table names written by GreptimeDBWriter.
const (
	AgentTable   = "agent_state"
	SessionTable = "fleet_sessions"
	AuditTable   = "audit_events"
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter stores agent positions, sessions and audit events as time
// series in GreptimeDB. Tables are created on first write.
type GreptimeDBWriter struct {
	client greptimeClient
	log    *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port", default
// port 4001).
func NewGreptimeDBWriter(endpoint, database string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port := endpoint, 4001
	if i := strings.LastIndex(endpoint, ":"); i > 0 {
		p, err := strconv.Atoi(endpoint[i+1:])
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: %w", endpoint, err)
		}
		host, port = endpoint[:i], p
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{client: client, log: log}, nil
}

func (w *GreptimeDBWriter) write(ctx context.Context, tbl *table.Table) error {
	name, _ := tbl.GetName()
	resp, err := w.client.Write(ctx, tbl)
	if err != nil {
		return fmt.Errorf("greptime write %s: %w", name, err)
	}
	w.log.Debug("greptime write", "table", name, "rows", resp.GetAffectedRows().GetValue())
	return nil
}

// WriteAgent inserts one position sample.
func (w *GreptimeDBWriter) WriteAgent(ctx context.Context, st fleet.AgentState) error {
	tbl, err := table.New(AgentTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("agent_id", types.STRING)
	tbl.AddFieldColumn("lat", types.FLOAT64)
	tbl.AddFieldColumn("lng", types.FLOAT64)
	tbl.AddFieldColumn("battery", types.FLOAT64)
	tbl.AddFieldColumn("status", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	if err := tbl.AddRow(st.AgentID, st.Position.Lat, st.Position.Lng, st.Battery, string(st.Status), st.LastUpdated); err != nil {
		return err
	}
	return w.write(ctx, tbl)
}

// WriteSession inserts a session row keyed on its start time.
func (w *GreptimeDBWriter) WriteSession(ctx context.Context, s fleet.Session) error {
	tbl, err := table.New(SessionTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("session_id", types.STRING)
	tbl.AddFieldColumn("participant_count", types.INT64)
	tbl.AddFieldColumn("status", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	if err := tbl.AddRow(s.SessionID, int64(s.ParticipantCount), string(s.Status), s.StartTime); err != nil {
		return err
	}
	return w.write(ctx, tbl)
}

// WriteAudit inserts an audit event. Details are kept as their raw JSON
// text.
func (w *GreptimeDBWriter) WriteAudit(ctx context.Context, ev fleet.AuditEvent) error {
	tbl, err := table.New(AuditTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("session_id", types.STRING)
	tbl.AddTagColumn("event_type", types.STRING)
	tbl.AddTagColumn("agent_id", types.STRING)
	tbl.AddFieldColumn("seq", types.INT64)
	tbl.AddFieldColumn("details", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	if err := tbl.AddRow(ev.SessionID, string(ev.EventType), ev.AgentID, int64(ev.Seq), string(ev.Details), ev.Timestamp); err != nil {
		return err
	}
	return w.write(ctx, tbl)
}
