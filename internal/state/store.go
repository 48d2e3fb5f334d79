// Package state holds the live, keyed snapshot of agent state.
package state

import (
	"math"
	"sort"
	"sync"

	"rescueops-hub/internal/fleet"
	"rescueops-hub/internal/keylock"
)

const defaultShards = 32

type entry struct {
	mu    sync.Mutex
	state fleet.AgentState
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store keeps the latest state per agent. Writers for one agent are
// serialized on that agent's entry; writers for different agents only meet
// briefly on the shard map when an agent is first seen.
type Store struct {
	shards []shard
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{shards: make([]shard, defaultShards)}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	return s
}

func (s *Store) shardFor(agentID string) *shard {
	return &s.shards[keylock.Index(agentID, len(s.shards))]
}

func (s *Store) entryFor(agentID string, create bool) *entry {
	sh := s.shardFor(agentID)
	sh.mu.RLock()
	e, ok := sh.entries[agentID]
	sh.mu.RUnlock()
	if ok || !create {
		return e
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.entries[agentID]; ok {
		return e
	}
	e = &entry{}
	sh.entries[agentID] = e
	return e
}

// Upsert validates st and replaces the stored record for st.AgentID. No
// field of the previous record survives.
func (s *Store) Upsert(st fleet.AgentState) error {
	if err := st.Validate(); err != nil {
		return err
	}
	e := s.entryFor(st.AgentID, true)
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	return nil
}

// Get returns the record for agentID.
func (s *Store) Get(agentID string) (fleet.AgentState, bool) {
	e := s.entryFor(agentID, false)
	if e == nil {
		return fleet.AgentState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.state.AgentID != ""
}

// Snapshot returns a copy of every record, sorted by agent id.
func (s *Store) Snapshot() []fleet.AgentState {
	out := make([]fleet.AgentState, 0, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			if e.state.AgentID != "" {
				out = append(out, e.state)
			}
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Len returns the number of known agents.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].entries)
		s.shards[i].mu.RUnlock()
	}
	return n
}

// NearestFilter restricts Nearest candidates. Zero values disable a filter.
type NearestFilter struct {
	Status     fleet.Status
	MinBattery float64
	Limit      int
}

// Candidate is an agent with its distance to the query point.
type Candidate struct {
	fleet.AgentState
	DistanceMeters float64 `json:"distanceMeters"`
}

// Nearest returns agents ordered by distance to (lat,lng). Ties are broken
// by agent id.
func (s *Store) Nearest(lat, lng float64, f NearestFilter) []Candidate {
	snap := s.Snapshot()
	out := make([]Candidate, 0, len(snap))
	for _, a := range snap {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if a.Battery < f.MinBattery {
			continue
		}
		d := fleet.DistanceMeters(lat, lng, a.Position.Lat, a.Position.Lng)
		if math.IsNaN(d) {
			continue
		}
		out = append(out, Candidate{AgentState: a, DistanceMeters: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceMeters == out[j].DistanceMeters {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
