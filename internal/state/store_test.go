package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescueops-hub/internal/fleet"
)

func agent(id string, lat, lng, battery float64, status fleet.Status) fleet.AgentState {
	return fleet.AgentState{
		AgentID:     id,
		Position:    fleet.Position{Lat: lat, Lng: lng},
		Battery:     battery,
		Status:      status,
		LastUpdated: time.Unix(1700000000, 0).UTC(),
	}
}

func TestUpsertReplacesWholeRecord(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert(agent("R1", 29.85, 77.88, 55, fleet.StatusBusy)))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 55.0, snap[0].Battery)
	assert.Equal(t, fleet.StatusBusy, snap[0].Status)

	require.NoError(t, s.Upsert(agent("R1", 29.86, 77.89, 10, fleet.StatusReturning)))
	snap = s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 10.0, snap[0].Battery)
	assert.Equal(t, fleet.StatusReturning, snap[0].Status)
	assert.Equal(t, 29.86, snap[0].Position.Lat)
}

func TestLastEventWinsForSequence(t *testing.T) {
	s := NewStore()
	var last fleet.AgentState
	for i := 0; i < 50; i++ {
		last = agent("R1", 29.8+float64(i)*0.001, 77.8, float64(100-i), fleet.StatusBusy)
		require.NoError(t, s.Upsert(last))
	}
	got, ok := s.Get("R1")
	require.True(t, ok)
	assert.Equal(t, last, got)
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := NewStore()
	require.ErrorIs(t, s.Upsert(agent("R1", 0, 0, 101, fleet.StatusIdle)), fleet.ErrValidation)
	require.ErrorIs(t, s.Upsert(agent("R1", 0, 0, 50, "DANCING")), fleet.ErrValidation)
	require.ErrorIs(t, s.Upsert(agent("", 0, 0, 50, fleet.StatusIdle)), fleet.ErrValidation)
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("R1")
	assert.False(t, ok)
}

func TestConcurrentUpsertsDifferentAgents(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("R%02d", i)
			for j := 0; j < 20; j++ {
				_ = s.Upsert(agent(id, 29.8, 77.8, float64(j), fleet.StatusIdle))
			}
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, 64)
	assert.Equal(t, "R00", snap[0].AgentID)
	assert.Equal(t, "R63", snap[63].AgentID)
	for _, a := range snap {
		assert.Equal(t, 19.0, a.Battery)
	}
}

func TestNearest(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert(agent("Bot-Alpha", 29.8543, 77.8880, 100, fleet.StatusIdle)))
	require.NoError(t, s.Upsert(agent("Bot-Beta", 29.8520, 77.8900, 20, fleet.StatusIdle)))
	require.NoError(t, s.Upsert(agent("Bot-Gamma", 29.8560, 77.8850, 90, fleet.StatusBusy)))

	all := s.Nearest(29.8560, 77.8850, NearestFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "Bot-Gamma", all[0].AgentID)

	idle := s.Nearest(29.8520, 77.8900, NearestFilter{Status: fleet.StatusIdle, MinBattery: 25})
	require.Len(t, idle, 1)
	assert.Equal(t, "Bot-Alpha", idle[0].AgentID)

	one := s.Nearest(29.8520, 77.8900, NearestFilter{Limit: 1})
	require.Len(t, one, 1)
	assert.Equal(t, "Bot-Beta", one[0].AgentID)
}

func TestSnapshotEmpty(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}
