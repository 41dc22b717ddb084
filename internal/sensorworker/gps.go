package sensorworker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nova-avionics/flightcore/internal/ratelimit"
	"github.com/nova-avionics/flightcore/internal/sensorworker/i2cbus"
	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// gpsMeasurementPeriod is the default u-blox measurement rate.
const gpsMeasurementPeriod = 50 * time.Millisecond

// hz20Period is the GPS reader thread's 20 Hz poll cadence.
const hz20Period = time.Second / 20

// sharedGpsState is the mutex-guarded latest GPS fix the GPS reader thread
// publishes and the RECO thread try-locks to snapshot.
type sharedGpsState struct {
	mu        sync.Mutex
	fix       vehicle.GpsState
	timestamp time.Time
}

func (s *sharedGpsState) tryUpdate(fix vehicle.GpsState) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	s.fix = fix
	s.timestamp = time.Now()
	return true
}

// trySnapshot returns the fix and whether the timestamp changed since
// lastSeen, without blocking.
func (s *sharedGpsState) trySnapshot(lastSeen time.Time) (vehicle.GpsState, time.Time, bool, bool) {
	if !s.mu.TryLock() {
		return vehicle.GpsState{}, lastSeen, false, false
	}
	defer s.mu.Unlock()
	changed := !s.timestamp.Equal(lastSeen)
	return s.fix, s.timestamp, changed, true
}

// GpsReader runs the 20 Hz I2C GPS reader thread: polls read_pvt()
// equivalent, writes a new fix into shared on change, never blocks the
// 200 Hz path.
type GpsReader struct {
	bus         *i2cbus.Bus
	shared      *sharedGpsState
	period      time.Duration
	printStatus bool
	log         *slog.Logger
	noFixLog    *ratelimit.Logger
}

func newGpsReader(bus *i2cbus.Bus, shared *sharedGpsState, opts Options, log *slog.Logger) *GpsReader {
	period := opts.GpsMeasurementPeriod
	if period <= 0 {
		period = gpsMeasurementPeriod
	}
	return &GpsReader{
		bus:         bus,
		shared:      shared,
		period:      period,
		printStatus: opts.PrintGpsStatus,
		log:         log,
		noFixLog:    ratelimit.New(1 * time.Second),
	}
}

// configure pushes the measurement period to the receiver. A failure is
// logged but not fatal: the receiver falls back to its stored rate.
func (r *GpsReader) configure() {
	if err := r.bus.WriteRegister(buildUbxCfgRate(r.period)); err != nil {
		r.log.Warn("gps: failed to set measurement rate", "error", err)
	}
}

// Run configures the receiver, then polls it at 20 Hz until stop is
// closed.
func (r *GpsReader) Run(stop <-chan struct{}) {
	r.configure()
	ticker := time.NewTicker(hz20Period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fix, ok := r.readPvt()
			if !ok {
				if r.printStatus {
					r.noFixLog.Log(r.log, "gps: no fix")
				}
				continue
			}
			if !r.shared.tryUpdate(fix) {
				// Contended; 200 Hz path is mid-read. Drop this update
				// rather than block.
				continue
			}
		}
	}
}

// readPvt reads one UBX-NAV-PVT message equivalent off the I2C stream
// register. Returns ok=false when no new fix is available.
func (r *GpsReader) readPvt() (vehicle.GpsState, bool) {
	buf := make([]byte, 92) // UBX-NAV-PVT payload length
	n, err := r.bus.ReadStreamBuffer(buf)
	if err != nil || n == 0 {
		return vehicle.GpsState{}, false
	}
	fix, ok := parseUbxNavPvt(buf[:n])
	return fix, ok
}
