package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentStateValidate(t *testing.T) {
	base := AgentState{AgentID: "R1", Position: Position{Lat: 29.86, Lng: 77.88}, Battery: 55, Status: StatusBusy}
	require.NoError(t, base.Validate())

	cases := map[string]func(a *AgentState){
		"agentId":  func(a *AgentState) { a.AgentID = "" },
		"battery":  func(a *AgentState) { a.Battery = 100.5 },
		"status":   func(a *AgentState) { a.Status = "FLYING" },
		"position": func(a *AgentState) { a.Position.Lat = 91 },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			a := base
			mutate(&a)
			err := a.Validate()
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, field, ve.Field)
		})
	}
}

func TestAuditEventValidate(t *testing.T) {
	ev := AuditEvent{SessionID: "s1", EventType: EventTaskAssigned, AgentID: "R1", Details: json.RawMessage(`{"lat":1}`)}
	require.NoError(t, ev.Validate())

	ev.Details = nil
	require.ErrorIs(t, ev.Validate(), ErrValidation)
	ev.Details = json.RawMessage(`null`)
	require.ErrorIs(t, ev.Validate(), ErrValidation)
	ev.Details = json.RawMessage(`{`)
	require.ErrorIs(t, ev.Validate(), ErrValidation)
}

func TestAuditEventBeforeUsesSeqOnTies(t *testing.T) {
	ts := time.Unix(100, 0)
	a := AuditEvent{Seq: 1, Timestamp: ts}
	b := AuditEvent{Seq: 2, Timestamp: ts}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	c := AuditEvent{Seq: 0, Timestamp: ts.Add(time.Second)}
	assert.True(t, b.Before(c))
}

func TestSameDisaster(t *testing.T) {
	a := Disaster{Lat: 29.8600, Lng: 77.8800}
	assert.True(t, SameDisaster(a, Disaster{Lat: 29.8604, Lng: 77.8797}))
	assert.False(t, SameDisaster(a, Disaster{Lat: 29.8610, Lng: 77.8800}))
}

func TestDecodeMissionDetails(t *testing.T) {
	d := DecodeMissionDetails(json.RawMessage(`{"lat":29.86,"taskId":"t-1","extra":true}`))
	require.NotNil(t, d.Lat)
	assert.InDelta(t, 29.86, *d.Lat, 1e-9)
	assert.Equal(t, "t-1", d.Identifier())

	d = DecodeMissionDetails(json.RawMessage(`not json`))
	assert.Nil(t, d.Lat)
	assert.Empty(t, d.Identifier())
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, "validation", Kind(&ValidationError{Field: "x"}))
	assert.Equal(t, "duplicate_key", Kind(fmt.Errorf("register: %w", &DuplicateKeyError{Collection: "sessions", Key: "s"})))
	pe := &PersistenceError{Collection: "agents", Key: "R1", Err: errors.New("disk full")}
	assert.Equal(t, "persistence", Kind(pe))
	assert.ErrorContains(t, pe, "disk full")
	assert.Equal(t, "query", Kind(&QueryError{Op: "benchmarks", Err: errors.New("boom")}))
	assert.Equal(t, "internal", Kind(errors.New("other")))
}

func TestDistanceMeters(t *testing.T) {
	// one hundredth of a degree of latitude is roughly 1.1 km
	d := DistanceMeters(29.86, 77.88, 29.87, 77.88)
	assert.InDelta(t, 1112, d, 5)
}
