// Package keepalive tracks channel traffic to drive liveness probes.
package keepalive

import (
	"sync/atomic"
	"time"
)

// Tracker records the last moments data was sent and received on a
// channel and decides whether an interval tick should emit a probe.
// A probe is due only when no outbound traffic happened within the
// interval; application sends count as liveness and suppress pings.
//
// All methods are safe for concurrent use; timestamps are atomics in
// the same style as connection activity tracking elsewhere.
type Tracker struct {
	interval time.Duration

	running      atomic.Bool
	lastSent     atomic.Int64 // unix nanos
	lastReceived atomic.Int64 // unix nanos
}

// NewTracker creates a stopped tracker with the given probe interval.
func NewTracker(interval time.Duration) *Tracker {
	return &Tracker{interval: interval}
}

// Interval returns the probe interval.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Start begins tracking. Both timestamps are stamped so a probe is
// not due immediately after session establishment.
func (t *Tracker) Start() {
	t.stampBoth()
	t.running.Store(true)
}

// Stop halts tracking; ShouldSendKeepalive reports false until the
// next Start.
func (t *Tracker) Stop() {
	t.running.Store(false)
}

// Reset re-stamps both timestamps, deferring the next probe by a full
// interval. Called after a probe is emitted.
func (t *Tracker) Reset() {
	t.stampBoth()
}

// Running reports whether the tracker is started.
func (t *Tracker) Running() bool {
	return t.running.Load()
}

// OnDataSent records outbound traffic.
func (t *Tracker) OnDataSent() {
	t.lastSent.Store(time.Now().UnixNano())
}

// OnDataReceived records inbound traffic.
func (t *Tracker) OnDataReceived() {
	t.lastReceived.Store(time.Now().UnixNano())
}

// ShouldSendKeepalive reports whether the channel has been silent on
// the outbound side for at least one interval.
func (t *Tracker) ShouldSendKeepalive() bool {
	if !t.running.Load() {
		return false
	}
	return time.Since(t.LastSent()) >= t.interval
}

// LastSent returns the time of the last outbound traffic.
func (t *Tracker) LastSent() time.Time {
	return time.Unix(0, t.lastSent.Load())
}

// LastReceived returns the time of the last inbound traffic.
func (t *Tracker) LastReceived() time.Time {
	return time.Unix(0, t.lastReceived.Load())
}

func (t *Tracker) stampBoth() {
	now := time.Now().UnixNano()
	t.lastSent.Store(now)
	t.lastReceived.Store(now)
}
