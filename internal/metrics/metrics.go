// Package metrics implements Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

var (
	// TickDurationSeconds measures how long one Main Loop tick takes
	//; the control loop must stay well under the 200 Hz
	// sensor-worker cadence.
	TickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flightcore_tick_duration_seconds",
			Help:    "Duration of one Main Loop tick",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~330ms
		},
	)

	// BoardConnected tracks per-board liveness as seen by the Device
	// Registry.
	BoardConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flightcore_board_connected",
			Help: "1 if the board has been observed within its TTL, else 0",
		},
		[]string{"board_id"},
	)

	// HeartbeatsSentTotal counts FlightHeartbeat messages sent to boards.
	HeartbeatsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightcore_heartbeats_sent_total",
			Help: "Total number of FlightHeartbeat messages sent to boards",
		},
	)

	// AbortsTotal counts AbortViaStage/Abort invocations.
	AbortsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightcore_aborts_total",
			Help: "Total number of abort sequences executed",
		},
	)

	// MailboxDropsTotal counts ticks where the Sensor Worker mailbox had
	// no new sample to drain.
	MailboxDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightcore_mailbox_empty_total",
			Help: "Total number of ticks where the sensor worker mailbox was empty",
		},
	)

	// PublisherOverlapTotal counts shared-state publish generations where
	// the previous generation was still being read.
	PublisherOverlapTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightcore_publisher_overlap_total",
			Help: "Total number of shared-state publishes that overlapped a prior generation's grace period",
		},
	)

	// SensorReadingsTotal counts fused Measurements by sensor type.
	SensorReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightcore_sensor_readings_total",
			Help: "Total number of measurements produced by mapping and fusion",
		},
		[]string{"sensor_type"},
	)

	// DiskLoggerDropsTotal counts samples dropped because the disk logger
	// channel was full.
	DiskLoggerDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightcore_disk_logger_drops_total",
			Help: "Total number of VehicleState snapshots dropped because the disk logger channel was full",
		},
	)

	// RecoFaultsTotal counts per-MCU SPI transaction failures.
	RecoFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightcore_reco_faults_total",
			Help: "Total number of RECO SPI transaction failures by MCU index",
		},
		[]string{"mcu"},
	)
)

// Recorder is a stateless mainloop.Metrics implementation backed by the
// package-level collectors above; there is exactly one Prometheus registry
// per process, so a zero-value Recorder is all any caller needs.
type Recorder struct{}

// ObserveTickDuration implements mainloop.Metrics.
func (Recorder) ObserveTickDuration(d time.Duration) { TickDurationSeconds.Observe(d.Seconds()) }

// SetBoardConnected implements mainloop.Metrics.
func (Recorder) SetBoardConnected(board vehicle.BoardId, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	BoardConnected.WithLabelValues(string(board)).Set(v)
}

// IncHeartbeatsSent implements mainloop.Metrics.
func (Recorder) IncHeartbeatsSent() { HeartbeatsSentTotal.Inc() }

// IncAborts implements mainloop.Metrics.
func (Recorder) IncAborts() { AbortsTotal.Inc() }

// IncMailboxDrops implements mainloop.Metrics.
func (Recorder) IncMailboxDrops() { MailboxDropsTotal.Inc() }

// IncPublisherOverlap implements mainloop.Metrics.
func (Recorder) IncPublisherOverlap() { PublisherOverlapTotal.Inc() }
