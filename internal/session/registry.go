// Package session tracks simulation run identities.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rescueops-hub/internal/fleet"
)

// Claimer reserves a session id. Claim returns false when the id was
// already taken.
type Claimer interface {
	Claim(ctx context.Context, sessionID string) (bool, error)
}

// Registry creates sessions and guarantees id uniqueness. There is no close
// or update path: a session stays ACTIVE once registered.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]fleet.Session
	latest   string
	claimer  Claimer
	now      func() time.Time
}

// NewRegistry returns a registry. A nil claimer keeps uniqueness in process.
func NewRegistry(claimer Claimer) *Registry {
	return &Registry{
		sessions: make(map[string]fleet.Session),
		claimer:  claimer,
		now:      time.Now,
	}
}

// Register creates a session record. It fails with a DuplicateKeyError when
// sessionID exists, leaving the first registration untouched.
func (r *Registry) Register(ctx context.Context, sessionID string, participants int) (fleet.Session, error) {
	if sessionID == "" {
		return fleet.Session{}, &fleet.ValidationError{Field: "sessionId", Reason: "required"}
	}
	if participants < 0 {
		return fleet.Session{}, &fleet.ValidationError{Field: "agentCount", Reason: "must not be negative"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return fleet.Session{}, &fleet.DuplicateKeyError{Collection: "sessions", Key: sessionID}
	}
	if r.claimer != nil {
		ok, err := r.claimer.Claim(ctx, sessionID)
		if err != nil {
			return fleet.Session{}, fmt.Errorf("claim session %s: %w", sessionID, err)
		}
		if !ok {
			return fleet.Session{}, &fleet.DuplicateKeyError{Collection: "sessions", Key: sessionID}
		}
	}
	s := fleet.Session{
		SessionID:        sessionID,
		StartTime:        r.now().UTC(),
		ParticipantCount: participants,
		Status:           fleet.SessionActive,
	}
	r.sessions[sessionID] = s
	r.latest = sessionID
	return s, nil
}

// Restore loads previously persisted sessions without claiming them again.
func (r *Registry) Restore(sessions []fleet.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest fleet.Session
	for _, s := range sessions {
		if s.SessionID == "" {
			continue
		}
		if s.Status == "" {
			s.Status = fleet.SessionActive
		}
		r.sessions[s.SessionID] = s
		if s.StartTime.After(newest.StartTime) || newest.SessionID == "" {
			newest = s
		}
	}
	if r.latest == "" {
		r.latest = newest.SessionID
	}
}

// Get returns the session with id.
func (r *Registry) Get(id string) (fleet.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Latest returns the most recently registered session id, or "".
func (r *Registry) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// List returns all sessions ordered by start time.
func (r *Registry) List() []fleet.Session {
	r.mu.Lock()
	out := make([]fleet.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}
