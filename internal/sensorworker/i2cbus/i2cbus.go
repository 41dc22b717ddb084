// Package i2cbus implements register-oriented I2C transactions against a
// Linux i2c-dev character device, used by the 20 Hz GPS reader thread to
// talk to the u-blox GPS module over UBX.
package i2cbus

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// i2cSlave is I2C_SLAVE from linux/i2c-dev.h: set the target 7-bit address
// for subsequent reads/writes on this file descriptor.
const i2cSlave = 0x0703

// Bus is one open i2c-dev device bound to a single slave address.
type Bus struct {
	f    *os.File
	addr uint16
}

// Open opens an i2c-dev path (e.g. "/dev/i2c-1") and binds it to addr.
func Open(path string, addr uint16) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2cbus: open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, int(addr)); err != nil {
		f.Close()
		return nil, fmt.Errorf("i2cbus: bind address 0x%02x on %s: %w", addr, path, err)
	}
	return &Bus{f: f, addr: addr}, nil
}

// Close closes the underlying device file.
func (b *Bus) Close() error { return b.f.Close() }

// WriteRegister writes a UBX configuration/poll payload.
func (b *Bus) WriteRegister(payload []byte) error {
	_, err := b.f.Write(payload)
	if err != nil {
		return fmt.Errorf("i2cbus: write to 0x%02x: %w", b.addr, err)
	}
	return nil
}

// ReadStreamBuffer reads up to len(buf) bytes from the device's streaming
// data register (u-blox I2C devices expose the UBX stream at register
// 0xFF with no explicit register-select write needed).
func (b *Bus) ReadStreamBuffer(buf []byte) (int, error) {
	n, err := b.f.Read(buf)
	if err != nil {
		return n, fmt.Errorf("i2cbus: read from 0x%02x: %w", b.addr, err)
	}
	return n, nil
}
