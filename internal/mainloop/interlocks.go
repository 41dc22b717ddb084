package mainloop

import "time"

// umbilicalThreshold is the Goldfish interlock's default voltage threshold.
const umbilicalThreshold = 10.0

// goldfishTimeout is how long the umbilical bus may stay below threshold
// before the interlock fires.
const goldfishTimeout = 25 * time.Minute

// servoSilenceTimeout is the servo loss-of-communication threshold.
const servoSilenceTimeout = 1 * time.Second

// goldfishInterlock tracks the Goldfish system-safe timer: once the
// umbilical bus has been observed at or above the threshold at least once,
// a subsequent drop below it arms the timer; if still low when it expires,
// the interlock fires exactly once. Voltage recovering above threshold
// clears the timer.
type goldfishInterlock struct {
	threshold float64
	timeout   time.Duration

	seenValidVoltage bool
	belowSince       time.Time
	fired            bool
}

// Configure overrides the default threshold/timeout; zero values keep the
// defaults.
func (g *goldfishInterlock) Configure(threshold float64, timeout time.Duration) {
	g.threshold = threshold
	g.timeout = timeout
}

func (g *goldfishInterlock) effectiveThreshold() float64 {
	if g.threshold > 0 {
		return g.threshold
	}
	return umbilicalThreshold
}

func (g *goldfishInterlock) effectiveTimeout() time.Duration {
	if g.timeout > 0 {
		return g.timeout
	}
	return goldfishTimeout
}

// Evaluate feeds one umbilical voltage sample and reports whether the
// interlock should fire this call. It only ever returns true once per
// below-threshold episode.
func (g *goldfishInterlock) Evaluate(umbilicalVoltage float64, now time.Time) bool {
	if umbilicalVoltage >= g.effectiveThreshold() {
		g.seenValidVoltage = true
		g.belowSince = time.Time{}
		g.fired = false
		return false
	}
	if !g.seenValidVoltage {
		// Never seen a valid umbilical voltage this run (ground-only
		// configuration) — the interlock never engages.
		return false
	}
	if g.belowSince.IsZero() {
		g.belowSince = now
		return false
	}
	if g.fired {
		return false
	}
	if now.Sub(g.belowSince) >= g.effectiveTimeout() {
		g.fired = true
		return true
	}
	return false
}

// servoInterlock tracks the servo loss-of-communication interlock: once
// armed, a silence longer than the limit from the operator triggers
// exactly one AbortViaStage.
type servoInterlock struct {
	silenceLimit time.Duration

	monitoring bool
	fired      bool
}

// Configure overrides the default silence limit; zero keeps the default.
func (s *servoInterlock) Configure(silenceLimit time.Duration) {
	s.silenceLimit = silenceLimit
}

func (s *servoInterlock) effectiveLimit() time.Duration {
	if s.silenceLimit > 0 {
		return s.silenceLimit
	}
	return servoSilenceTimeout
}

// SetMonitoring enables/disables the interlock (SetServoDisconnectMonitoring).
func (s *servoInterlock) SetMonitoring(enabled bool) {
	s.monitoring = enabled
	if !enabled {
		s.fired = false
	}
}

// Evaluate reports whether AbortViaStage should fire this tick, given the
// time since the last operator receipt. It fires at most once per silence
// episode; the latch clears once communication resumes.
func (s *servoInterlock) Evaluate(sinceLastRx time.Duration) bool {
	if !s.monitoring {
		return false
	}
	if sinceLastRx <= s.effectiveLimit() {
		s.fired = false
		return false
	}
	if s.fired {
		return false
	}
	s.fired = true
	return true
}
