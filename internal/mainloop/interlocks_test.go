package mainloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoldfishNeverEngagesWithoutValidVoltage(t *testing.T) {
	var g goldfishInterlock
	now := time.Now()
	assert.False(t, g.Evaluate(0, now))
	assert.False(t, g.Evaluate(0, now.Add(30*time.Minute)))
}

func TestGoldfishFiresAfterTimeout(t *testing.T) {
	var g goldfishInterlock
	now := time.Now()
	assert.False(t, g.Evaluate(12, now)) // valid voltage observed
	assert.False(t, g.Evaluate(0, now))  // drop below threshold, timer arms

	assert.False(t, g.Evaluate(0, now.Add(goldfishTimeout-time.Second)))
	assert.True(t, g.Evaluate(0, now.Add(goldfishTimeout+time.Second)))
	// Does not fire again on a later tick while still low.
	assert.False(t, g.Evaluate(0, now.Add(goldfishTimeout+2*time.Second)))
}

func TestGoldfishClearsOnRecovery(t *testing.T) {
	var g goldfishInterlock
	now := time.Now()
	g.Evaluate(12, now)
	g.Evaluate(0, now)
	assert.False(t, g.Evaluate(12, now.Add(time.Minute))) // recovers, clears timer
	// Dropping again restarts a fresh timer rather than having carried
	// over elapsed time.
	assert.False(t, g.Evaluate(0, now.Add(goldfishTimeout+time.Minute)))
}

func TestServoInterlockFiresOnceThenSuppresses(t *testing.T) {
	var s servoInterlock
	s.SetMonitoring(true)

	assert.False(t, s.Evaluate(500*time.Millisecond))
	assert.True(t, s.Evaluate(1100*time.Millisecond))
	assert.False(t, s.Evaluate(1200*time.Millisecond), "no duplicate abort next tick")
}

func TestServoInterlockDisabledNeverFires(t *testing.T) {
	var s servoInterlock
	assert.False(t, s.Evaluate(5*time.Second))
}

func TestServoInterlockResetsAfterReconnect(t *testing.T) {
	var s servoInterlock
	s.SetMonitoring(true)
	s.Evaluate(1100 * time.Millisecond)
	assert.False(t, s.Evaluate(100*time.Millisecond)) // comms resumed
	assert.True(t, s.Evaluate(1100*time.Millisecond)) // fires again on new silence
}
