// Package correlate reconstructs mission durations from independently
// emitted TASK_ASSIGNED and MISSION_COMPLETE audit events.
package correlate

import (
	"context"
	"sort"
	"sync"
	"time"

	"rescueops-hub/internal/fleet"
	"rescueops-hub/internal/logging"
)

// DefaultTrendSize is the number of samples surfaced by Trend.
const DefaultTrendSize = 10

type pending struct {
	assignedAt time.Time
	keys       []Key
}

// Correlator pairs assignments with completions. An assignment is stored
// under each of its keys (a later assignment on the same key replaces it);
// a completion consumes the first stored assignment found under its keys.
//
// Events must be fed in non-decreasing timestamp order for durations to be
// meaningful. All methods are safe for concurrent use.
type Correlator struct {
	keyer Keyer
	ttl   time.Duration

	mu      sync.Mutex
	pending map[Key]*pending
	live    int

	// OnSample and OnExpire are called with the lock held; they must not
	// call back into the Correlator.
	OnSample func(fleet.ResponseTimeSample)
	OnExpire func(n int)
}

// New returns a Correlator. A ttl <= 0 disables expiry.
func New(keyer Keyer, ttl time.Duration) *Correlator {
	if keyer == nil {
		keyer = AutoKeyer{}
	}
	return &Correlator{keyer: keyer, ttl: ttl, pending: make(map[Key]*pending)}
}

// Observe feeds one event. It returns a sample when ev completes a stored
// assignment. Events of other types are ignored.
func (c *Correlator) Observe(ev fleet.AuditEvent) (fleet.ResponseTimeSample, bool) {
	switch ev.EventType {
	case fleet.EventTaskAssigned, fleet.EventMissionComplete:
	default:
		return fleet.ResponseTimeSample{}, false
	}
	keys := c.keyer.Keys(ev)
	if len(keys) == 0 {
		return fleet.ResponseTimeSample{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.EventType == fleet.EventTaskAssigned {
		c.assign(ev.Timestamp, keys)
		return fleet.ResponseTimeSample{}, false
	}
	return c.complete(ev.Timestamp, keys)
}

func (c *Correlator) assign(at time.Time, keys []Key) {
	p := &pending{assignedAt: at, keys: keys}
	for _, k := range keys {
		old, ok := c.pending[k]
		c.pending[k] = p
		if ok && old != p && !c.referenced(old) {
			c.live--
		}
	}
	c.live++
}

func (c *Correlator) complete(at time.Time, keys []Key) (fleet.ResponseTimeSample, bool) {
	expired := 0
	defer func() {
		if expired > 0 && c.OnExpire != nil {
			c.OnExpire(expired)
		}
	}()
	for _, k := range keys {
		p, ok := c.pending[k]
		if !ok {
			continue
		}
		c.remove(p)
		if c.ttl > 0 && at.Sub(p.assignedAt) > c.ttl {
			expired++
			continue
		}
		d := at.Sub(p.assignedAt)
		if d < 0 {
			return fleet.ResponseTimeSample{}, false
		}
		s := fleet.ResponseTimeSample{Timestamp: at, DurationSeconds: d.Seconds()}
		if c.OnSample != nil {
			c.OnSample(s)
		}
		return s, true
	}
	return fleet.ResponseTimeSample{}, false
}

func (c *Correlator) referenced(p *pending) bool {
	for _, k := range p.keys {
		if c.pending[k] == p {
			return true
		}
	}
	return false
}

func (c *Correlator) remove(p *pending) {
	for _, k := range p.keys {
		if c.pending[k] == p {
			delete(c.pending, k)
		}
	}
	c.live--
}

// Expire evicts assignments stored before now-ttl and returns how many were
// evicted.
func (c *Correlator) Expire(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-c.ttl)
	seen := make(map[*pending]struct{})
	for _, p := range c.pending {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
	}
	n := 0
	for p := range seen {
		if p.assignedAt.Before(cutoff) {
			c.remove(p)
			n++
		}
	}
	if n > 0 && c.OnExpire != nil {
		c.OnExpire(n)
	}
	return n
}

// Pending returns the number of assignments waiting for a completion.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// RunExpiry evicts stale assignments every interval until ctx is done. It
// logs through the logger stored in ctx.
func (c *Correlator) RunExpiry(ctx context.Context, interval time.Duration) {
	if c.ttl <= 0 || interval <= 0 {
		return
	}
	log := logging.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := c.Expire(now); n > 0 {
				log.Info("expired pending assignments", "count", n, "pending", c.Pending())
			}
		}
	}
}

// Derive recomputes every sample from a full event history. The input is
// not modified; events are processed ascending by timestamp.
func Derive(events []fleet.AuditEvent, keyer Keyer, ttl time.Duration) []fleet.ResponseTimeSample {
	sorted := make([]fleet.AuditEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	c := New(keyer, ttl)
	samples := make([]fleet.ResponseTimeSample, 0)
	for _, ev := range sorted {
		if s, ok := c.Observe(ev); ok {
			samples = append(samples, s)
		}
	}
	return samples
}

// Trend returns the most recent k samples of a Derive result, ascending by
// time.
func Trend(samples []fleet.ResponseTimeSample, k int) []fleet.ResponseTimeSample {
	if k <= 0 {
		k = DefaultTrendSize
	}
	if len(samples) > k {
		samples = samples[len(samples)-k:]
	}
	out := make([]fleet.ResponseTimeSample, len(samples))
	copy(out, samples)
	return out
}
