// Fleet records shared by the hub, the stores and the query layer
package fleet

import (
	"encoding/json"
	"math"
	"time"
)

// Status is the operating state reported by an agent.
type Status string

// Agent status values. The set is closed; anything else is rejected.
const (
	StatusIdle      Status = "IDLE"
	StatusBusy      Status = "BUSY"
	StatusRescuing  Status = "RESCUING"
	StatusReturning Status = "RETURNING"
	StatusCharging  Status = "CHARGING"
)

// Valid reports whether s is one of the known agent statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusBusy, StatusRescuing, StatusReturning, StatusCharging:
		return true
	}
	return false
}

// Position holds latitude and longitude in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AgentState is the latest known state of one agent. Upserts replace the
// whole record.
type AgentState struct {
	AgentID     string    `json:"agentId"`
	Position    Position  `json:"position"`
	Battery     float64   `json:"battery"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Validate checks the record before it is stored.
func (a AgentState) Validate() error {
	if a.AgentID == "" {
		return &ValidationError{Field: "agentId", Reason: "required"}
	}
	if math.IsNaN(a.Battery) || a.Battery < 0 || a.Battery > 100 {
		return &ValidationError{Field: "battery", Reason: "must be within [0,100]"}
	}
	if !a.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(a.Status)}
	}
	if !ValidLatLng(a.Position.Lat, a.Position.Lng) {
		return &ValidationError{Field: "position", Reason: "coordinates out of range"}
	}
	return nil
}

// ValidLatLng reports whether lat/lng are finite and inside the WGS84 ranges.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// DisasterStatus marks whether a hazard still needs a response.
type DisasterStatus string

const (
	DisasterActive DisasterStatus = "ACTIVE"
	DisasterSafe   DisasterStatus = "SAFE"
)

// DisasterTolerance is the proximity in degrees under which consumers treat
// two disaster payloads as the same hazard.
const DisasterTolerance = 0.0005

// Disaster is a broadcast-only hazard payload. The hub never stores it.
type Disaster struct {
	Lat    float64        `json:"lat"`
	Lng    float64        `json:"lng"`
	Type   string         `json:"type,omitempty"`
	Status DisasterStatus `json:"status,omitempty"`
}

// SameDisaster applies the consumer reconciliation rule.
func SameDisaster(a, b Disaster) bool {
	return math.Abs(a.Lat-b.Lat) <= DisasterTolerance && math.Abs(a.Lng-b.Lng) <= DisasterTolerance
}

// SessionStatus is the lifecycle state of a simulation run. Only ACTIVE is
// ever assigned.
type SessionStatus string

const SessionActive SessionStatus = "ACTIVE"

// Session identifies one simulation run.
type Session struct {
	SessionID        string        `json:"sessionId"`
	StartTime        time.Time     `json:"startTime"`
	ParticipantCount int           `json:"participantCount"`
	Status           SessionStatus `json:"status"`
}

// EventType tags an audit event.
type EventType string

const (
	EventTaskAssigned    EventType = "TASK_ASSIGNED"
	EventMissionComplete EventType = "MISSION_COMPLETE"
	EventBatteryLow      EventType = "BATTERY_LOW"
	EventDocked          EventType = "DOCKED"
	EventTaskQueued      EventType = "TASK_QUEUED"
)

// AuditEvent is one immutable entry of the audit trail. Details is an
// opaque JSON object whose shape depends on EventType.
type AuditEvent struct {
	Seq       uint64          `json:"seq"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	EventType EventType       `json:"eventType"`
	AgentID   string          `json:"agentId"`
	Details   json.RawMessage `json:"details"`
}

// Validate checks the required fields of an event before append.
func (e AuditEvent) Validate() error {
	switch {
	case e.SessionID == "":
		return &ValidationError{Field: "sessionId", Reason: "required"}
	case e.EventType == "":
		return &ValidationError{Field: "eventType", Reason: "required"}
	case e.AgentID == "":
		return &ValidationError{Field: "agentId", Reason: "required"}
	case len(e.Details) == 0 || string(e.Details) == "null":
		return &ValidationError{Field: "details", Reason: "required"}
	}
	if !json.Valid(e.Details) {
		return &ValidationError{Field: "details", Reason: "not valid JSON"}
	}
	return nil
}

// Before orders events by timestamp, then by append sequence.
func (e AuditEvent) Before(o AuditEvent) bool {
	if e.Timestamp.Equal(o.Timestamp) {
		return e.Seq < o.Seq
	}
	return e.Timestamp.Before(o.Timestamp)
}

// MissionDetails is the subset of event details the correlation engine and
// the hub read. Unknown keys are ignored.
type MissionDetails struct {
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	MissionID string   `json:"missionId,omitempty"`
	TaskID    string   `json:"taskId,omitempty"`
}

// DecodeMissionDetails extracts MissionDetails from raw details. Malformed
// input yields the zero value.
func DecodeMissionDetails(raw json.RawMessage) MissionDetails {
	var d MissionDetails
	if len(raw) == 0 {
		return d
	}
	_ = json.Unmarshal(raw, &d)
	return d
}

// Identifier returns the mission id, falling back to the task id.
func (d MissionDetails) Identifier() string {
	if d.MissionID != "" {
		return d.MissionID
	}
	return d.TaskID
}

// ResponseTimeSample is one reconstructed mission duration.
type ResponseTimeSample struct {
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// LeaderboardEntry is one ranked agent.
type LeaderboardEntry struct {
	AgentID           string  `json:"agentId"`
	MissionsCompleted int     `json:"missionsCompleted"`
	CurrentBattery    float64 `json:"currentBattery"`
	Status            Status  `json:"status"`
	Score             float64 `json:"score"`
}

// Dock is a fixed charging location used as reference data by consumers.
type Dock struct {
	ID  string  `json:"id" yaml:"id"`
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// DistanceMeters returns the haversine distance between two points.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
