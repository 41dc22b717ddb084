package sensorworker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

func TestMailboxTakeEmptyReturnsFalse(t *testing.T) {
	var m Mailbox
	_, ok := m.Take()
	assert.False(t, ok)
}

func TestMailboxPutThenTake(t *testing.T) {
	var m Mailbox
	m.Put(vehicle.Sample{Imu: vehicle.Imu{Accelerometer: vehicle.Vector{X: 1}}})

	s, ok := m.Take()
	assert.True(t, ok)
	assert.Equal(t, 1.0, s.Imu.Accelerometer.X)

	_, ok = m.Take()
	assert.False(t, ok, "mailbox holds at most one sample")
}

func TestMailboxWriterReplacesUnreadSample(t *testing.T) {
	var m Mailbox
	m.Put(vehicle.Sample{Imu: vehicle.Imu{Accelerometer: vehicle.Vector{X: 1}}})
	m.Put(vehicle.Sample{Imu: vehicle.Imu{Accelerometer: vehicle.Vector{X: 2}}})

	s, ok := m.Take()
	assert.True(t, ok)
	assert.Equal(t, 2.0, s.Imu.Accelerometer.X)
}

func TestMailboxConcurrentAccessDoesNotPanic(t *testing.T) {
	var m Mailbox
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); m.Put(vehicle.Sample{}) }()
		go func() { defer wg.Done(); m.Take() }()
	}
	wg.Wait()
}
