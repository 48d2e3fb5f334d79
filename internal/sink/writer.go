// Package sink fans durable writes of agents, sessions and audit events out
// to the configured backends.
package sink

import (
	"context"
	"errors"

	"rescueops-hub/internal/fleet"
)

// AgentWriter persists the latest state of an agent.
type AgentWriter interface {
	WriteAgent(ctx context.Context, st fleet.AgentState) error
}

// SessionWriter persists a session record.
type SessionWriter interface {
	WriteSession(ctx context.Context, s fleet.Session) error
}

// AuditWriter persists one audit event.
type AuditWriter interface {
	WriteAudit(ctx context.Context, ev fleet.AuditEvent) error
}

// Writer handles every collection.
type Writer interface {
	AgentWriter
	SessionWriter
	AuditWriter
}

// MultiWriter fans out to several writers. Each collection has its own list
// so a backend may handle only part of the data (Kafka only streams audit
// events, for example).
type MultiWriter struct {
	agents   []AgentWriter
	sessions []SessionWriter
	audits   []AuditWriter
	closers  []func() error
	n        int
}

// NewMultiWriter returns an empty MultiWriter.
func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

// Add registers w for every collection it implements. It returns false if w
// implements none of them.
func (m *MultiWriter) Add(w any) bool {
	used := false
	if aw, ok := w.(AgentWriter); ok {
		m.agents = append(m.agents, aw)
		used = true
	}
	if sw, ok := w.(SessionWriter); ok {
		m.sessions = append(m.sessions, sw)
		used = true
	}
	if ew, ok := w.(AuditWriter); ok {
		m.audits = append(m.audits, ew)
		used = true
	}
	if !used {
		return false
	}
	m.n++
	if c, ok := w.(interface{ Close() error }); ok {
		m.closers = append(m.closers, c.Close)
	}
	return true
}

// Len returns the number of writers registered.
func (m *MultiWriter) Len() int {
	return m.n
}

// WriteAgent sends st to every agent writer. A failing writer does not stop
// the others.
func (m *MultiWriter) WriteAgent(ctx context.Context, st fleet.AgentState) error {
	var errs []error
	for _, w := range m.agents {
		if err := w.WriteAgent(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteSession sends s to every session writer.
func (m *MultiWriter) WriteSession(ctx context.Context, s fleet.Session) error {
	var errs []error
	for _, w := range m.sessions {
		if err := w.WriteSession(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteAudit sends ev to every audit writer.
func (m *MultiWriter) WriteAudit(ctx context.Context, ev fleet.AuditEvent) error {
	var errs []error
	for _, w := range m.audits {
		if err := w.WriteAudit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer that supports it.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
