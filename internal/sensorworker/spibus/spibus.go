// Package spibus implements full-duplex SPI transactions against a Linux
// spidev character device, used to talk to the three RECO recovery MCUs.
package spibus

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FrameSize is the fixed SPI transaction length: opcode(1) || body(21) ||
// checksum(4).
const FrameSize = 26

// spiIOCTransfer mirrors struct spi_ioc_transfer from linux/spi/spidev.h.
type spiIOCTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	pad         uint16
}

// spiIOCMessage1 is SPI_IOC_MESSAGE(1) for a single spi_ioc_transfer,
// computed the same way the kernel header's _IOW macro does.
func spiIOCMessage1() uintptr {
	const (
		iocWrite    = 1
		iocSizeBits = 14
		iocDirBits  = 2
		iocTypeBits = 8
		iocNrBits   = 8
		spiIOCMagic = 'k'
	)
	size := uintptr(unsafe.Sizeof(spiIOCTransfer{}))
	return (uintptr(iocWrite) << (iocTypeBits + iocNrBits + iocSizeBits)) |
		(uintptr(spiIOCMagic) << iocNrBits) |
		(0 << 0) |
		(size << (iocTypeBits + iocNrBits))
}

// Bus is one open spidev device. Transact is called both from the sensor
// worker's 200 Hz loop and from the Main Loop's one-shot command dispatch
// (RecoLaunch, SetRecoVotingLogic, RecoInitEKF), so access is serialized by
// mu rather than assuming a single caller goroutine.
type Bus struct {
	mu          sync.Mutex
	f           *os.File
	speedHz     uint32
	bitsPerWord uint8
}

// Open opens a spidev path (e.g. "/dev/spidev1.0") and configures it for
// the RECO protocol's mode and clock rate.
func Open(path string, speedHz uint32) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spibus: open %s: %w", path, err)
	}
	mode := uint8(0) // SPI mode 0
	if err := unix.IoctlSetInt(int(f.Fd()), spiIOCMode(), int(mode)); err != nil {
		f.Close()
		return nil, fmt.Errorf("spibus: set mode on %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), spiIOCMaxSpeedHz(), int(speedHz)); err != nil {
		f.Close()
		return nil, fmt.Errorf("spibus: set speed on %s: %w", path, err)
	}
	return &Bus{f: f, speedHz: speedHz, bitsPerWord: 8}, nil
}

// Close closes the underlying device file.
func (b *Bus) Close() error { return b.f.Close() }

// Transact performs one full-duplex SPI_IOC_MESSAGE(1) transaction. tx and
// rx must both be FrameSize bytes.
func (b *Bus) Transact(tx, rx []byte) error {
	if len(tx) != FrameSize || len(rx) != FrameSize {
		return fmt.Errorf("spibus: frame must be %d bytes, got tx=%d rx=%d", FrameSize, len(tx), len(rx))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	xfer := spiIOCTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		len:         FrameSize,
		speedHz:     b.speedHz,
		bitsPerWord: b.bitsPerWord,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), spiIOCMessage1(), uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return fmt.Errorf("spibus: ioctl transfer failed: %w", errno)
	}
	return nil
}

func spiIOCMode() uint       { return 0x40016B01 } // SPI_IOC_WR_MODE
func spiIOCMaxSpeedHz() uint { return 0x40046B04 } // SPI_IOC_WR_MAX_SPEED_HZ
