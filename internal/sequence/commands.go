package sequence

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/nova-avionics/flightcore/internal/wire"
)

// CommandSocket is the Unix datagram socket script subprocesses write
// SequenceDomainCommand frames to. The Main Loop drains it each tick.
type CommandSocket struct {
	path string
	conn *net.UnixConn
	log  *slog.Logger
}

// NewCommandSocket binds a Unix datagram socket at path, removing any
// stale socket file left by a prior process.
func NewCommandSocket(path string, log *slog.Logger) (*CommandSocket, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("sequence: remove stale socket %s: %w", path, err)
	}
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("sequence: listen unixgram %s: %w", path, err)
	}
	return &CommandSocket{path: path, conn: conn, log: log}, nil
}

// Close closes the socket and removes the socket file.
func (c *CommandSocket) Close() error {
	err := c.conn.Close()
	_ = os.RemoveAll(c.path)
	return err
}

// DrainNonBlocking reads every currently pending datagram and decodes each
// into a wire.Command, each read bounded by a 100µs deadline. Malformed
// frames are logged and skipped rather than stalling the drain.
func (c *CommandSocket) DrainNonBlocking() []wire.Command {
	var out []wire.Command
	buf := make([]byte, 4096)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(100 * time.Microsecond)); err != nil {
			return out
		}
		n, _, err := c.conn.ReadFromUnix(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return out
			}
			return out
		}
		cmd, err := wire.DecodeCommand(buf[:n])
		if err != nil {
			c.log.Warn("dropping malformed sequence command", "error", err)
			continue
		}
		out = append(out, cmd)
	}
}
