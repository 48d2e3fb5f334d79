package hub

import (
	"encoding/json"
	"fmt"

	"rescueops-hub/internal/fleet"
)

// Envelope is the wire frame of the event channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EventAgentMovement   = "agent-movement"
	EventDisasterCreated = "disaster-created"
	EventMissionComplete = "mission-complete"
	EventSessionInit     = "session-init"
	EventLogEvent        = "log-event"
)

// Direct reply event names. They go to the sending connection only.
const (
	EventMissionAssigned = "mission-assigned"
	EventError           = "error"
)

// Inbound is the closed set of messages a consumer may send. Only types in
// this package implement it.
type Inbound interface {
	Event() string
	Validate() error
	inbound()
}

// Movement reports an agent's position and status. Every field is required.
type Movement struct {
	AgentID string        `json:"agentId"`
	Lat     *float64      `json:"lat"`
	Lng     *float64      `json:"lng"`
	Status  *fleet.Status `json:"status"`
	Battery *float64      `json:"battery"`
}

// DisasterCreated reports a new hazard.
type DisasterCreated struct {
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
	Type string   `json:"type"`
}

// MissionComplete reports a resolved disaster.
type MissionComplete struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	AgentID   string   `json:"agentId"`
	MissionID string   `json:"missionId,omitempty"`
	TaskID    string   `json:"taskId,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
}

// SessionInit registers a simulation run.
type SessionInit struct {
	SessionID  string `json:"sessionId"`
	AgentCount *int   `json:"agentCount"`
}

// LogEvent appends to the audit trail.
type LogEvent struct {
	SessionID string          `json:"sessionId"`
	EventType fleet.EventType `json:"eventType"`
	AgentID   string          `json:"agentId"`
	Details   json.RawMessage `json:"details"`
}

func (*Movement) inbound()        {}
func (*DisasterCreated) inbound() {}
func (*MissionComplete) inbound() {}
func (*SessionInit) inbound()     {}
func (*LogEvent) inbound()        {}

func (*Movement) Event() string        { return EventAgentMovement }
func (*DisasterCreated) Event() string { return EventDisasterCreated }
func (*MissionComplete) Event() string { return EventMissionComplete }
func (*SessionInit) Event() string     { return EventSessionInit }
func (*LogEvent) Event() string        { return EventLogEvent }

func missing(field string) error {
	return &fleet.ValidationError{Field: field, Reason: "required"}
}

func validLatLng(lat, lng *float64) error {
	if lat == nil {
		return missing("lat")
	}
	if lng == nil {
		return missing("lng")
	}
	if !fleet.ValidLatLng(*lat, *lng) {
		return &fleet.ValidationError{Field: "lat/lng", Reason: "out of range"}
	}
	return nil
}

// Validate rejects missing fields and out-of-range values. Nothing is
// defaulted.
func (m *Movement) Validate() error {
	if m.AgentID == "" {
		return missing("agentId")
	}
	if err := validLatLng(m.Lat, m.Lng); err != nil {
		return err
	}
	if m.Status == nil {
		return missing("status")
	}
	if m.Battery == nil {
		return missing("battery")
	}
	return m.State().Validate()
}

// State converts a validated movement into an agent record.
func (m *Movement) State() fleet.AgentState {
	st := fleet.AgentState{AgentID: m.AgentID}
	if m.Lat != nil && m.Lng != nil {
		st.Position = fleet.Position{Lat: *m.Lat, Lng: *m.Lng}
	}
	if m.Status != nil {
		st.Status = *m.Status
	}
	if m.Battery != nil {
		st.Battery = *m.Battery
	}
	return st
}

func (d *DisasterCreated) Validate() error {
	return validLatLng(d.Lat, d.Lng)
}

func (m *MissionComplete) Validate() error {
	if m.AgentID == "" {
		return missing("agentId")
	}
	return validLatLng(m.Lat, m.Lng)
}

func (s *SessionInit) Validate() error {
	if s.SessionID == "" {
		return missing("sessionId")
	}
	if s.AgentCount == nil {
		return missing("agentCount")
	}
	if *s.AgentCount < 0 {
		return &fleet.ValidationError{Field: "agentCount", Reason: "negative"}
	}
	return nil
}

func (l *LogEvent) Validate() error {
	return l.audit().Validate()
}

func (l *LogEvent) audit() fleet.AuditEvent {
	return fleet.AuditEvent{SessionID: l.SessionID, EventType: l.EventType, AgentID: l.AgentID, Details: l.Details}
}

var decoders = map[string]func() Inbound{
	EventAgentMovement:   func() Inbound { return &Movement{} },
	EventDisasterCreated: func() Inbound { return &DisasterCreated{} },
	EventMissionComplete: func() Inbound { return &MissionComplete{} },
	EventSessionInit:     func() Inbound { return &SessionInit{} },
	EventLogEvent:        func() Inbound { return &LogEvent{} },
}

// Decode parses one frame into its message type and validates it. The
// returned event name is set whenever the envelope itself parsed.
func Decode(frame []byte) (string, Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, &fleet.ValidationError{Field: "envelope", Reason: err.Error()}
	}
	mk, ok := decoders[env.Event]
	if !ok {
		return env.Event, nil, &fleet.ValidationError{Field: "event", Reason: fmt.Sprintf("unknown event %q", env.Event)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env.Event, nil, missing("data")
	}
	msg := mk()
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return env.Event, nil, &fleet.ValidationError{Field: "data", Reason: err.Error()}
	}
	if err := msg.Validate(); err != nil {
		return env.Event, nil, err
	}
	return env.Event, msg, nil
}

// Outbound payloads.
type (
	DisasterSpawned struct {
		Lat    float64              `json:"lat"`
		Lng    float64              `json:"lng"`
		Type   string               `json:"type"`
		Status fleet.DisasterStatus `json:"status"`
	}
	NewTask struct {
		Lat    float64 `json:"lat"`
		Lng    float64 `json:"lng"`
		Type   string  `json:"type"`
		TaskID string  `json:"taskId"`
	}
	DisasterResolved struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	MissionAssigned struct {
		MissionID string `json:"missionId"`
		AgentID   string `json:"agentId"`
		SessionID string `json:"sessionId"`
	}
	ErrorReply struct {
		Event   string `json:"event"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
)

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
