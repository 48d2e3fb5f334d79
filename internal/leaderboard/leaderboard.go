// Package leaderboard ranks agents at read time from the live state and the
// audit trail.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"rescueops-hub/internal/fleet"
)

// Scoring weights.
const (
	MissionWeight = 15.0
	BatteryWeight = 0.2
	ActiveBonus   = 5.0
)

// Snapshotter lists the current agents.
type Snapshotter interface {
	Snapshot() []fleet.AgentState
}

// Counter counts audit events per agent.
type Counter interface {
	CountByAgent(ctx context.Context, typ fleet.EventType) (map[string]int, error)
}

// Aggregator computes the leaderboard. Nothing is cached.
type Aggregator struct {
	agents Snapshotter
	events Counter
}

func New(agents Snapshotter, events Counter) *Aggregator {
	return &Aggregator{agents: agents, events: events}
}

// Score rates one agent. It never decreases when missions or battery grow.
func Score(missions int, battery float64, status fleet.Status) float64 {
	s := float64(missions)*MissionWeight + battery*BatteryWeight
	if status != fleet.StatusIdle && status != fleet.StatusCharging {
		s += ActiveBonus
	}
	return s
}

// Benchmarks returns every known agent ranked by descending score, ties by
// ascending agent id. The result is never nil.
func (a *Aggregator) Benchmarks(ctx context.Context) ([]fleet.LeaderboardEntry, error) {
	counts, err := a.events.CountByAgent(ctx, fleet.EventMissionComplete)
	if err != nil {
		return []fleet.LeaderboardEntry{}, &fleet.QueryError{Op: "benchmarks", Err: fmt.Errorf("count missions: %w", err)}
	}
	agents := a.agents.Snapshot()
	out := make([]fleet.LeaderboardEntry, 0, len(agents))
	for _, st := range agents {
		n := counts[st.AgentID]
		out = append(out, fleet.LeaderboardEntry{
			AgentID:           st.AgentID,
			MissionsCompleted: n,
			CurrentBattery:    st.Battery,
			Status:            st.Status,
			Score:             Score(n, st.Battery, st.Status),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}
