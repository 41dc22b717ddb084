// Package publisher implements the Shared State Publisher: a
// single-writer/many-reader mmap-backed region carrying the latest
// serialized VehicleState for script subprocesses to read.
package publisher

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nova-avionics/flightcore/internal/vehicle"
	"github.com/nova-avionics/flightcore/internal/wire"
)

// DefaultGracePeriod is the window after a publish during which a reader
// that began before the publish may still be mid-read of the prior
// generation.
const DefaultGracePeriod = 20 * time.Millisecond

// headerSize is the fixed region prefix: an 8-byte generation counter
// followed by a 4-byte payload length, both little-endian.
const headerSize = 12

// Publisher owns the mmap region. The generation counter is incremented
// before and after each write (odd = write in progress) so a reader can
// detect a torn read by comparing the counter before and after copying the
// payload.
type Publisher struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	region      []byte
	gracePeriod time.Duration
	lastPublish time.Time
}

// Open creates (or truncates) the backing file at path, sized for
// maxRecordSize bytes of payload plus the header, and mmaps it.
func Open(path string, maxRecordSize int, gracePeriod time.Duration) (*Publisher, error) {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("publisher: open %s: %w", path, err)
	}
	size := headerSize + maxRecordSize
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("publisher: truncate %s: %w", path, err)
	}
	region, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("publisher: mmap %s: %w", path, err)
	}
	return &Publisher{path: path, file: f, region: region, gracePeriod: gracePeriod}, nil
}

// Close unmaps and closes the backing file.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := unix.Munmap(p.region); err != nil {
		return err
	}
	return p.file.Close()
}

// Publish serializes state into the shared region. It returns the number
// of payload bytes written and whether the previous generation's grace
// period had not yet elapsed — meaning a reader that started before this
// call may still be reading stale data. That condition is never fatal; the
// Main Loop counts it in flightcore_publisher_overlap_total and does not log
// it.
func (p *Publisher) Publish(state *vehicle.VehicleState) (bytesWritten int, overlapped bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload := wire.EncodeVehicleState(state)
	if len(payload) > len(p.region)-headerSize {
		return 0, false, fmt.Errorf("publisher: record of %d bytes exceeds region capacity %d", len(payload), len(p.region)-headerSize)
	}

	now := time.Now()
	overlapped = !p.lastPublish.IsZero() && now.Sub(p.lastPublish) < p.gracePeriod

	gen := binary.LittleEndian.Uint64(p.region[0:8])
	binary.LittleEndian.PutUint64(p.region[0:8], gen+1) // mark write in progress (odd)

	binary.LittleEndian.PutUint32(p.region[8:12], uint32(len(payload)))
	copy(p.region[headerSize:], payload)

	binary.LittleEndian.PutUint64(p.region[0:8], gen+2) // publish complete (even)

	p.lastPublish = now
	return len(payload), overlapped, nil
}

// ReadSnapshot reads the current generation's payload. It retries a small,
// bounded number of times if it observes an in-progress write (odd
// generation) or a torn read (generation changed mid-copy), matching the
// reader side of the single-writer contract.
func ReadSnapshot(region []byte) ([]byte, bool) {
	for attempt := 0; attempt < 8; attempt++ {
		genBefore := binary.LittleEndian.Uint64(region[0:8])
		if genBefore%2 != 0 {
			continue
		}
		length := binary.LittleEndian.Uint32(region[8:12])
		if int(length) > len(region)-headerSize {
			continue
		}
		payload := make([]byte, length)
		copy(payload, region[headerSize:headerSize+int(length)])
		genAfter := binary.LittleEndian.Uint64(region[0:8])
		if genAfter == genBefore {
			return payload, true
		}
	}
	return nil, false
}

// Region exposes the raw mmap region for a reader subprocess that has
// opened the same backing file independently (it must mmap with the same
// size and PROT_READ).
func (p *Publisher) Region() []byte { return p.region }
