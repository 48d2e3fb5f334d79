// Package audit keeps the append-only event history of the fleet.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"rescueops-hub/internal/fleet"
)

// Filter selects events in Query. Empty fields match everything.
type Filter struct {
	Types     []fleet.EventType
	SessionID string
	AgentID   string
}

func (f Filter) match(e fleet.AuditEvent) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.EventType == t {
			return true
		}
	}
	return false
}

// Trail is the in-memory index of the audit log. Appended events are never
// modified or removed.
type Trail struct {
	mu     sync.RWMutex
	events []fleet.AuditEvent
	seq    uint64
	now    func() time.Time
}

// NewTrail returns an empty trail.
func NewTrail() *Trail {
	return &Trail{now: time.Now}
}

// Append validates ev, stamps its sequence number (and its timestamp when
// unset) and appends it. The stored copy is returned.
func (t *Trail) Append(ev fleet.AuditEvent) (fleet.AuditEvent, error) {
	if err := ev.Validate(); err != nil {
		return fleet.AuditEvent{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.now().UTC()
	}
	t.seq++
	ev.Seq = t.seq
	ev.Details = append([]byte(nil), ev.Details...)
	t.events = append(t.events, ev)
	return ev, nil
}

// Restore loads persisted events in their stored order. Sequence numbers
// continue after the highest restored one.
func (t *Trail) Restore(events []fleet.AuditEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ev := range events {
		if ev.Seq == 0 {
			t.seq++
			ev.Seq = t.seq
		} else if ev.Seq > t.seq {
			t.seq = ev.Seq
		}
		t.events = append(t.events, ev)
	}
}

// Query returns matching events ordered ascending by timestamp, ties broken
// by append order. This is the only read path of the trail.
func (t *Trail) Query(ctx context.Context, f Filter) ([]fleet.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fleet.QueryError{Op: "audit", Err: err}
	}
	t.mu.RLock()
	out := make([]fleet.AuditEvent, 0, len(t.events))
	for _, e := range t.events {
		if f.match(e) {
			out = append(out, e)
		}
	}
	t.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// CountByAgent counts events of typ per agent id.
func (t *Trail) CountByAgent(ctx context.Context, typ fleet.EventType) (map[string]int, error) {
	events, err := t.Query(ctx, Filter{Types: []fleet.EventType{typ}})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, e := range events {
		counts[e.AgentID]++
	}
	return counts, nil
}

// Len returns the number of stored events.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
