package correlate

import (
	"fmt"
	"math"
	"strings"

	"rescueops-hub/internal/fleet"
)

// Key pairs an assignment with its completion.
type Key string

// Keyer derives the correlation keys of an event, most specific first. An
// event without keys is ignored by the engine.
type Keyer interface {
	Keys(ev fleet.AuditEvent) []Key
}

// Bucket returns the legacy spatial bucket of a latitude, round(lat*100),
// about 1.1 km of latitude per bucket.
func Bucket(lat float64) int64 {
	return int64(math.Round(lat * 100))
}

// BucketKeyer reproduces the legacy pairing on (agentId, latitude bucket).
//
// Known gap: two concurrent missions of one agent at nearly the same latitude
// collide on one key, and a completion reported after the agent drifted into
// a neighbouring bucket never matches. Prefer MissionKeyer when producers
// carry mission ids.
type BucketKeyer struct{}

func (BucketKeyer) Keys(ev fleet.AuditEvent) []Key {
	d := fleet.DecodeMissionDetails(ev.Details)
	if d.Lat == nil || ev.AgentID == "" || math.IsNaN(*d.Lat) {
		return nil
	}
	return []Key{Key(fmt.Sprintf("bucket:%s:%d", ev.AgentID, Bucket(*d.Lat)))}
}

// MissionKeyer pairs events on the mission id (or task id) carried in the
// details.
type MissionKeyer struct{}

func (MissionKeyer) Keys(ev fleet.AuditEvent) []Key {
	id := fleet.DecodeMissionDetails(ev.Details).Identifier()
	if id == "" {
		return nil
	}
	return []Key{Key("mission:" + id)}
}

// AutoKeyer prefers the mission id and falls back to the legacy bucket.
// Assignments are stored under both keys. A completion that names its
// mission is matched on the mission key only, so a repeated completion can
// never consume another mission's assignment through a shared bucket; only
// completions without an id use the bucket.
type AutoKeyer struct{}

func (AutoKeyer) Keys(ev fleet.AuditEvent) []Key {
	ids := MissionKeyer{}.Keys(ev)
	if ev.EventType == fleet.EventMissionComplete && len(ids) > 0 {
		return ids
	}
	return append(ids, BucketKeyer{}.Keys(ev)...)
}

// Strategy names accepted by KeyerFor.
const (
	StrategyAuto    = "auto"
	StrategyMission = "mission"
	StrategyBucket  = "bucket"
)

// KeyerFor maps a configured strategy name to a Keyer.
func KeyerFor(strategy string) (Keyer, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyAuto:
		return AutoKeyer{}, nil
	case StrategyMission:
		return MissionKeyer{}, nil
	case StrategyBucket:
		return BucketKeyer{}, nil
	}
	return nil, fmt.Errorf("unknown correlation strategy %q", strategy)
}
