// Package registry implements the Device Registry: the ordered set of
// known boards, their liveness state and per-board rolling inter-arrival
// statistics.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// DefaultTTL is the liveness window after which a board is considered
// disconnected absent further traffic.
const DefaultTTL = 350 * time.Millisecond

// DefaultHeartbeatThreshold is the heartbeat count at which the Main Loop
// performs late-joiner catchup for a board.
const DefaultHeartbeatThreshold = 20

// emaDecay is the exponential-moving-average weight applied to the
// existing inter-arrival period estimate on each new sample.
const emaDecay = 0.9

type entry struct {
	device     vehicle.Device
	lastDelta  time.Duration
	emaPeriod  time.Duration
	lastUpdate time.Time
}

// Registry holds the ordered list of Devices plus rolling statistics. It is
// safe for concurrent use; the Main Loop is its only writer in practice but
// reads may come from the metrics exporter.
type Registry struct {
	mu        sync.RWMutex
	order     []vehicle.BoardId
	entries   map[vehicle.BoardId]*entry
	ttl       time.Duration
	threshold uint32
}

// New returns an empty Registry with the given liveness TTL and heartbeat
// threshold. A zero ttl/threshold selects the defaults above.
func New(ttl time.Duration, threshold uint32) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if threshold == 0 {
		threshold = DefaultHeartbeatThreshold
	}
	return &Registry{
		entries:   make(map[vehicle.BoardId]*entry),
		ttl:       ttl,
		threshold: threshold,
	}
}

// Register inserts or overwrites a Device by id. Overwriting resets
// liveness and heartbeat count: a board reconnecting at a new address
// starts over.
func (r *Registry) Register(id vehicle.BoardId, addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		r.order = append(r.order, id)
		e = &entry{}
		r.entries[id] = e
	}
	e.device = vehicle.Device{
		Id:             id,
		Addr:           addr,
		LastRx:         time.Now(),
		HeartbeatsSent: 0,
	}
	e.lastDelta = 0
	e.emaPeriod = 0
	e.lastUpdate = time.Time{}
}

// Observe updates a board's liveness timestamp and rolling inter-arrival
// average. Observing an unregistered board is a no-op: the caller is
// expected to have registered it via an Identity handshake first.
func (r *Registry) Observe(id vehicle.BoardId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	now := time.Now()
	if !e.lastUpdate.IsZero() {
		delta := now.Sub(e.lastUpdate)
		e.lastDelta = delta
		e.emaPeriod = time.Duration(float64(e.emaPeriod)*emaDecay + float64(delta)*(1-emaDecay))
	}
	e.lastUpdate = now
	e.device.LastRx = now
}

// Disconnected reports whether a board has gone quiet past the TTL. An
// unknown board is reported as disconnected.
func (r *Registry) Disconnected(id vehicle.BoardId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return true
	}
	return time.Since(e.device.LastRx) > r.ttl
}

// IncrementHeartbeatCount bumps a board's sent-heartbeat counter, capped at
// the configured threshold, and reports whether this call is the one that
// first reached the threshold (the Main Loop uses that edge to trigger
// late-joiner catchup exactly once).
func (r *Registry) IncrementHeartbeatCount(id vehicle.BoardId) (reachedThreshold bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.device.HeartbeatsSent >= r.threshold {
		return false
	}
	e.device.HeartbeatsSent++
	return e.device.HeartbeatsSent == r.threshold
}

// Device returns a copy of a board's current Device record.
func (r *Registry) Device(id vehicle.BoardId) (vehicle.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return vehicle.Device{}, false
	}
	return e.device, true
}

// RollingStats returns the current rolling inter-arrival statistics for a
// board, refreshing TimeSinceUpdate against now.
func (r *Registry) RollingStats(id vehicle.BoardId) (vehicle.RollingStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return vehicle.RollingStats{}, false
	}
	stats := vehicle.RollingStats{
		EmaPeriod: e.emaPeriod,
		LastDelta: e.lastDelta,
	}
	if !e.lastUpdate.IsZero() {
		stats.TimeSinceUpdate = time.Since(e.lastUpdate)
	}
	return stats, true
}

// All returns the registered boards in registration order.
func (r *Registry) All() []vehicle.BoardId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]vehicle.BoardId, len(r.order))
	copy(out, r.order)
	return out
}

// Connected returns the subset of All() that is not currently disconnected.
func (r *Registry) Connected() []vehicle.BoardId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]vehicle.BoardId, 0, len(r.order))
	now := time.Now()
	for _, id := range r.order {
		e := r.entries[id]
		if now.Sub(e.device.LastRx) <= r.ttl {
			out = append(out, id)
		}
	}
	return out
}

// RefreshRolling snapshots TimeSinceUpdate for every board into the given
// VehicleState.Rolling map, called once per Main Loop tick.
func (r *Registry) RefreshRolling(rolling map[vehicle.BoardId]vehicle.RollingStats) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	for id, e := range r.entries {
		stats := vehicle.RollingStats{EmaPeriod: e.emaPeriod, LastDelta: e.lastDelta}
		if !e.lastUpdate.IsZero() {
			stats.TimeSinceUpdate = now.Sub(e.lastUpdate)
		}
		rolling[id] = stats
	}
}
