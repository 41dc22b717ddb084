package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nova-avionics/flightcore/internal/wire"
)

// OperatorLinkPort is the TCP port the operator console listens on.
const OperatorLinkPort = 5025

// FlightIdentity is the identity string sent in the first frame after
// connecting, telling the console which computer this is.
const FlightIdentity = "flight"

// LinkState is the OperatorLink's reconnect state, distinguishing "keep
// retrying" from "give up forever": monitoring disabled means a single
// failed attempt is terminal, monitoring enabled means retries continue
// with a hinted last-known address.
type LinkState int

const (
	LinkReconnecting LinkState = iota
	LinkConnected
	LinkDisabled
)

func (s LinkState) String() string {
	switch s {
	case LinkConnected:
		return "connected"
	case LinkDisabled:
		return "disabled"
	default:
		return "reconnecting"
	}
}

// OperatorLink is the TCP client connection to the operator console. It
// reconnects against a configured address list on loss; the last address
// that worked is tried first on the next reconnect. Connect runs on the
// reconnect goroutine while the Main Loop pulls frames, so mutable link
// state is mutex-guarded; the dial itself happens outside the lock so the
// Main Loop's non-blocking calls never wait on a slow connect.
type OperatorLink struct {
	addrs            []string
	monitorEnabled   bool
	reconnectTimeout time.Duration
	keepalivePeriod  time.Duration
	log              *slog.Logger

	mu           sync.Mutex
	lastGoodAddr string
	conn         net.Conn
	state        LinkState
	lastRx       time.Time
}

// NewOperatorLink returns a disconnected link over the given candidate
// addresses, tried in order on (re)connect. When monitorEnabled is false,
// a single failed Connect permanently disables further reconnect attempts
// (LinkDisabled); when true, Connect may be retried indefinitely, each
// attempt bounded by reconnectTimeout. A zero keepalive selects 1s.
func NewOperatorLink(addrs []string, monitorEnabled bool, reconnectTimeout, keepalive time.Duration, log *slog.Logger) *OperatorLink {
	if log == nil {
		log = slog.Default()
	}
	if reconnectTimeout <= 0 {
		reconnectTimeout = 2 * time.Second
	}
	if keepalive <= 0 {
		keepalive = 1 * time.Second
	}
	return &OperatorLink{addrs: addrs, monitorEnabled: monitorEnabled, reconnectTimeout: reconnectTimeout, keepalivePeriod: keepalive, log: log}
}

// orderedAddrs returns the candidate addresses with the last-known-good one
// hinted first, if any.
func (o *OperatorLink) orderedAddrs() []string {
	o.mu.Lock()
	lastGood := o.lastGoodAddr
	o.mu.Unlock()
	if lastGood == "" {
		return o.addrs
	}
	ordered := make([]string, 0, len(o.addrs))
	ordered = append(ordered, lastGood)
	for _, a := range o.addrs {
		if a != lastGood {
			ordered = append(ordered, a)
		}
	}
	return ordered
}

// Connect dials the first reachable configured address (the last-known-good
// one first), sends the identity message, and configures keepalive and
// nodelay. On failure, if monitoring is disabled the link transitions to
// LinkDisabled and will not be retried by the caller again.
func (o *OperatorLink) Connect() error {
	o.mu.Lock()
	if o.state == LinkDisabled {
		o.mu.Unlock()
		return fmt.Errorf("transport: operator link monitoring disabled, not reconnecting")
	}
	o.state = LinkReconnecting
	o.mu.Unlock()

	var lastErr error
	for _, addr := range o.orderedAddrs() {
		c, err := net.DialTimeout("tcp", addr, o.reconnectTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		tcpConn, ok := c.(*net.TCPConn)
		if ok {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(o.keepalivePeriod)
			_ = tcpConn.SetNoDelay(true)
		}
		identity := wire.EncodeDataMessage(wire.DataMessage{Tag: wire.TagIdentity, BoardId: FlightIdentity})
		if err := wire.FrameWriter(c, identity); err != nil {
			c.Close()
			lastErr = err
			continue
		}
		o.mu.Lock()
		o.conn = c
		o.lastGoodAddr = addr
		o.lastRx = time.Now()
		o.state = LinkConnected
		o.mu.Unlock()
		o.log.Info("operator link connected", "addr", addr)
		return nil
	}
	if !o.monitorEnabled {
		o.mu.Lock()
		o.state = LinkDisabled
		o.mu.Unlock()
		o.log.Warn("operator link connect failed, monitoring disabled: giving up", "error", lastErr)
	}
	return fmt.Errorf("transport: could not connect to any operator address: %w", lastErr)
}

// Alive reports whether the link currently has a live connection.
func (o *OperatorLink) Alive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn != nil
}

// State returns the link's current reconnect state.
func (o *OperatorLink) State() LinkState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Close tears down the connection, if any.
func (o *OperatorLink) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return nil
	}
	err := o.conn.Close()
	o.conn = nil
	if o.state != LinkDisabled {
		o.state = LinkReconnecting
	}
	return err
}

// PullNonBlocking attempts to read one framed FlightControlMessage (wire
// Command), the read bounded by a 100µs deadline. It returns ok=false if no
// frame is currently available. A read error (including EOF) tears the
// connection down so the reconnect goroutine redials.
func (o *OperatorLink) PullNonBlocking() (cmd wire.Command, ok bool) {
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return wire.Command{}, false
	}
	if err := conn.SetReadDeadline(time.Now().Add(100 * time.Microsecond)); err != nil {
		return wire.Command{}, false
	}
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		if ne, isNetErr := err.(net.Error); isNetErr && ne.Timeout() {
			return wire.Command{}, false
		}
		o.log.Warn("operator link read failed, dropping connection", "error", err)
		o.Close()
		return wire.Command{}, false
	}
	decoded, err := wire.DecodeCommand(payload)
	if err != nil {
		o.log.Warn("dropping malformed operator frame", "error", err)
		return wire.Command{}, false
	}
	o.mu.Lock()
	o.lastRx = time.Now()
	o.mu.Unlock()
	return decoded, true
}

// LastRx reports when the last frame was received from the operator (or
// when the current connection was established).
func (o *OperatorLink) LastRx() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRx
}
