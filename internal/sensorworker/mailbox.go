package sensorworker

import (
	"sync"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// Mailbox is a single-slot sample handoff behind a try-lock: the writer
// (sensor worker thread) replaces the slot; the reader (Main Loop) takes
// it. The reader never blocks; the writer waits at most for a concurrent
// Take's short critical section. The slot never holds more than one sample.
type Mailbox struct {
	mu  sync.Mutex
	val *vehicle.Sample
}

// Put replaces the mailbox's contents. A held lock (the Main Loop mid-Take)
// means this write waits for that very short critical section, never for
// the Main Loop's tick.
func (m *Mailbox) Put(s vehicle.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.val = &s
}

// Take removes and returns the current sample, if any, without blocking —
// the Main Loop must never wait on the mailbox. A contended
// lock (the worker mid-Put) is treated the same as an empty mailbox: the
// next tick will pick up the sample.
func (m *Mailbox) Take() (vehicle.Sample, bool) {
	if !m.mu.TryLock() {
		return vehicle.Sample{}, false
	}
	defer m.mu.Unlock()
	if m.val == nil {
		return vehicle.Sample{}, false
	}
	s := *m.val
	m.val = nil
	return s, true
}
