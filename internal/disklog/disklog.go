// Package disklog implements the Flight Core's disk logger: a bounded
// channel absorbing VehicleState snapshots from the sensor worker thread
// without ever blocking it, batched writes, and size-based rotation.
package disklog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nova-avionics/flightcore/internal/metrics"
	"github.com/nova-avionics/flightcore/internal/ratelimit"
	"github.com/nova-avionics/flightcore/internal/vehicle"
	"github.com/nova-avionics/flightcore/internal/wire"
)

// DefaultChannelSize is the bounded channel's default slot count.
const DefaultChannelSize = 500

// DefaultBatchTimeout is the longest the writer waits to fill a half-full
// batch before flushing anyway.
const DefaultBatchTimeout = 500 * time.Millisecond

// DefaultRotationSize is the default per-file size limit before rotation.
const DefaultRotationSize = 100 * 1024 * 1024

// Logger owns the bounded channel and the background writer goroutine. Its
// channel-full condition is a rate-limited warning; its channel being
// closed out from under a send is treated as fatal by the caller.
type Logger struct {
	ch        chan record
	done      chan struct{}
	wg        sync.WaitGroup
	log       *slog.Logger
	fullLog   *ratelimit.Logger
	writer    *lumberjack.Logger
	batchSize int
}

type record struct {
	ts    int64
	state *vehicle.VehicleState
}

// Options configures the Logger's backing rotation policy.
type Options struct {
	Directory    string
	MaxSizeBytes int64
	ChannelSize  int
	BatchSize    int
	BatchTimeout time.Duration
}

// Open starts the background writer goroutine. Directory is created if it
// does not exist; Open names the file `flight_YYYYMMDD_HHMMSS.postcard`
// (the lumberjack Filename), rotated at MaxSizeBytes.
func Open(opts Options, log *slog.Logger) (*Logger, error) {
	if opts.ChannelSize <= 0 {
		opts.ChannelSize = DefaultChannelSize
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultRotationSize
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("disklog: mkdir %s: %w", opts.Directory, err)
	}

	name := fmt.Sprintf("flight_%s.postcard", time.Now().Format("20060102_150405"))
	writer := &lumberjack.Logger{
		Filename: filepath.Join(opts.Directory, name),
		MaxSize:  int(opts.MaxSizeBytes / (1024 * 1024)),
		Compress: false,
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = opts.ChannelSize / 2
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	l := &Logger{
		ch:        make(chan record, opts.ChannelSize),
		done:      make(chan struct{}),
		log:       log,
		fullLog:   ratelimit.New(5 * time.Second),
		writer:    writer,
		batchSize: opts.BatchSize,
	}
	l.wg.Add(1)
	go l.run(opts.BatchTimeout)
	return l, nil
}

// TrySend forwards a VehicleState snapshot into the logger without
// blocking; a full channel logs a rate-limited warning and drops the
// sample.
func (l *Logger) TrySend(state *vehicle.VehicleState) {
	select {
	case l.ch <- record{ts: time.Now().UnixNano(), state: state}:
	default:
		metrics.DiskLoggerDropsTotal.Inc()
		l.fullLog.Log(l.log, "disk logger channel full, dropping sample")
	}
}

// Close stops the writer goroutine after flushing any pending batch and
// closes the rotating file.
func (l *Logger) Close() error {
	close(l.ch)
	l.wg.Wait()
	return l.writer.Close()
}

func (l *Logger) run(batchTimeout time.Duration) {
	defer l.wg.Done()
	bw := bufio.NewWriter(l.writer)
	defer bw.Flush()

	batch := make([]record, 0, l.batchSize)
	timer := time.NewTimer(batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, r := range batch {
			writeRecord(bw, r)
		}
		bw.Flush()
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= l.batchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(batchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(batchTimeout)
		}
	}
}

// writeRecord appends one length-prefixed record: u64 length (LE) ||
// encoded TimestampedVehicleState.
func writeRecord(w *bufio.Writer, r record) {
	payload := wire.EncodeTimestampedVehicleState(wire.TimestampedVehicleState{
		TimestampUnixNano: r.ts,
		State:             r.state,
	})
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	w.Write(lenBuf[:])
	w.Write(payload)
}
