// Package sensorworker implements the 200 Hz IMU+ADC+RECO loop and the
// 20 Hz GPS reader thread that feed the single-slot Mailbox the Main Loop
// drains each tick.
package sensorworker

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/nova-avionics/flightcore/internal/disklog"
	"github.com/nova-avionics/flightcore/internal/metrics"
	"github.com/nova-avionics/flightcore/internal/sensorworker/i2cbus"
	"github.com/nova-avionics/flightcore/internal/sensorworker/spibus"
	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// tickInterval is the RECO+logging thread's sleep between deadline checks.
const tickInterval = 1 * time.Millisecond

// tickDeadline is the monotonic deadline guarding each iteration: a new
// iteration starts at most once per tickDeadline (200 Hz), and an iteration
// whose own work overruns it is logged but does not stop the loop.
const tickDeadline = 5 * time.Millisecond

// publishThrottle bounds how often a Mailbox publish happens absent a new
// GPS fix, avoiding main-loop lock contention.
const publishThrottle = 50 * time.Millisecond

// recoTransactor is the subset of *spibus.Bus the worker needs, narrowed to
// an interface so tests can inject a bus that fails Transact without a real
// spidev device.
type recoTransactor interface {
	Transact(tx, rx []byte) error
}

// Options tunes the worker's GPS handling.
type Options struct {
	// GpsMeasurementPeriod is the measurement period configured on the
	// receiver at startup; zero selects the 50ms default.
	GpsMeasurementPeriod time.Duration

	// PrintGpsStatus opts in to the rate-limited "no fix" log line.
	PrintGpsStatus bool
}

// Worker owns the RECO SPI buses, the shared GPS state, the Mailbox, and
// forwards VehicleState snapshots from the Main Loop into the disk logger.
type Worker struct {
	reco      [3]recoTransactor
	mailbox   *Mailbox
	gpsShared *sharedGpsState
	gpsReader *GpsReader
	logger    *disklog.Logger
	log       *slog.Logger
	stateFeed <-chan *vehicle.VehicleState

	lastGpsSeen time.Time
	lastPublish time.Time
}

// New constructs a Worker. recoBuses must have exactly 3 entries, any of
// which may be nil if that MCU's SPI bus failed to initialize (failures
// are non-fatal). gpsBus may be nil to disable the GPS reader thread
// entirely.
func New(recoBuses [3]*spibus.Bus, gpsBus *i2cbus.Bus, mailbox *Mailbox, logger *disklog.Logger, stateFeed <-chan *vehicle.VehicleState, opts Options, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		mailbox:   mailbox,
		gpsShared: &sharedGpsState{},
		logger:    logger,
		log:       log,
		stateFeed: stateFeed,
	}
	for i, bus := range recoBuses {
		if bus != nil {
			w.reco[i] = bus
		}
	}
	if gpsBus != nil {
		w.gpsReader = newGpsReader(gpsBus, w.gpsShared, opts, log)
	}
	return w
}

// Run starts the GPS reader thread (if configured) and the 200 Hz
// RECO+logging loop, blocking until stop is closed.
func (w *Worker) Run(stop <-chan struct{}) {
	if w.gpsReader != nil {
		go w.gpsReader.Run(stop)
	}
	w.runRecoLoop(stop)
}

func (w *Worker) runRecoLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if time.Since(last) < tickDeadline {
				continue
			}
			start := time.Now()
			last = start
			w.tick()
			if elapsed := time.Since(start); elapsed > tickDeadline {
				w.log.Warn("sensor worker tick overran deadline", "elapsed", elapsed, "deadline", tickDeadline)
			}
		}
	}
}

// sendToAllReco transacts a fixed outbound frame against every live RECO
// bus, logging per-MCU failures without aborting the others (mirrors the
// 200 Hz loop's own per-MCU failure handling).
func (w *Worker) sendToAllReco(what string, encode func(out []byte)) {
	tx := make([]byte, spibus.FrameSize)
	rx := make([]byte, spibus.FrameSize)
	encode(tx)
	for i, bus := range w.reco {
		if bus == nil {
			continue
		}
		if err := bus.Transact(tx, rx); err != nil {
			w.log.Warn("reco one-shot command failed", "command", what, "mcu", i, "error", err)
		}
	}
}

// SendLaunch sends the Launched opcode to every RECO MCU, triggered by the
// RecoLaunch SequenceDomainCommand.
func (w *Worker) SendLaunch() {
	w.sendToAllReco("launch", func(out []byte) { encodeOpcodeOnlyFrame(OpcodeLaunched, out) })
}

// SendVotingLogic pushes which RECO MCUs participate in the deployment
// vote, triggered by SetRecoVotingLogic.
func (w *Worker) SendVotingLogic(v VotingLogic) {
	w.sendToAllReco("voting_logic", v.encode)
}

// SendInitEKF sends the InitEkf opcode to every RECO MCU, triggered by
// RecoInitEKF.
func (w *Worker) SendInitEKF() {
	w.sendToAllReco("init_ekf", func(out []byte) { encodeOpcodeOnlyFrame(OpcodeInitEkf, out) })
}

// tick performs one 200 Hz iteration: GPS snapshot, RECO transactions,
// logger forward, throttled mailbox publish.
func (w *Worker) tick() {
	// (i) try-lock GPS, snapshot if changed.
	var gpsBody FcGpsBody
	var freshGps *vehicle.GpsState
	if fix, ts, changed, ok := w.gpsShared.trySnapshot(w.lastGpsSeen); ok && changed {
		w.lastGpsSeen = ts
		fixCopy := fix
		freshGps = &fixCopy
		gpsBody = FcGpsBody{
			Valid:     true,
			Latitude:  float32(fix.Latitude),
			Longitude: float32(fix.Longitude),
			AltitudeM: float32(fix.AltitudeM),
			FixTimeMs: uint32(fix.FixTimeNs / int64(time.Millisecond)),
		}
	}
	// (ii) build fixed-layout FcGpsBody; zeros with valid=false handled by
	// the zero value of gpsBody when no fresh fix this tick.

	// (iii) one SPI transaction per RECO MCU.
	var recoStates [3]*vehicle.RecoState
	tx := make([]byte, spibus.FrameSize)
	rx := make([]byte, spibus.FrameSize)
	gpsBody.encode(tx)
	for i, bus := range w.reco {
		if bus == nil {
			continue
		}
		if err := bus.Transact(tx, rx); err != nil {
			metrics.RecoFaultsTotal.WithLabelValues(strconv.Itoa(i)).Inc()
			w.log.Warn("reco spi transaction failed", "mcu", i, "error", err)
			zero := vehicle.RecoState{}
			recoStates[i] = &zero
			continue
		}
		state := decodeRecoFrame(rx)
		recoStates[i] = &state
	}

	// (iv) forward the latest Main-Loop-provided VehicleState into the
	// disk logger via try_send (never blocks).
	select {
	case state := <-w.stateFeed:
		if w.logger != nil && state != nil {
			w.logger.TrySend(state)
		}
	default:
	}

	// (v) publish into the Mailbox only on GPS change or throttle elapsed.
	now := time.Now()
	shouldPublish := freshGps != nil || now.Sub(w.lastPublish) >= publishThrottle
	if shouldPublish {
		w.mailbox.Put(vehicle.Sample{
			Gps:  freshGps,
			Reco: recoStates,
		})
		// (vi) a fresh fix is forwarded exactly once; the next tick's body
		// reverts to valid=false until the receiver produces another.
		w.lastPublish = now
	}
}
