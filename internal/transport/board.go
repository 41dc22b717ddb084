// Package transport implements the Flight Core's two external links: the
// UDP board transport (inbound telemetry, outbound heartbeats/commands)
// and the TCP operator link.
package transport

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nova-avionics/flightcore/internal/vehicle"
	"github.com/nova-avionics/flightcore/internal/wire"
)

// BoardCommandPort is the fixed-offset port every board listens on for
// heartbeats and commands.
const BoardCommandPort = 8378

// Inbound is one drained UDP datagram paired with its sender address.
type Inbound struct {
	Addr *net.UDPAddr
	Msg  wire.DataMessage
}

// BoardLink owns the inbound UDP socket boards send telemetry to, and
// sends heartbeats/commands back to registered boards.
type BoardLink struct {
	conn        *net.UDPConn
	commandPort int
	log         *slog.Logger
}

// NewBoardLink binds the inbound UDP listener at 0.0.0.0:<port>. A zero
// commandPort selects BoardCommandPort; test harnesses override it to reach
// boards bound to ephemeral ports.
func NewBoardLink(listenPort, commandPort int, log *slog.Logger) (*BoardLink, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: listenPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen board udp: %w", err)
	}
	if commandPort == 0 {
		commandPort = BoardCommandPort
	}
	if log == nil {
		log = slog.Default()
	}
	return &BoardLink{conn: conn, commandPort: commandPort, log: log}, nil
}

// Close releases the inbound socket.
func (b *BoardLink) Close() error { return b.conn.Close() }

// DrainNonBlocking reads every currently-pending datagram, each read
// bounded by a 100µs deadline: the Main Loop never waits on board input
// beyond that.
func (b *BoardLink) DrainNonBlocking() []Inbound {
	var out []Inbound
	buf := make([]byte, 2048)
	for {
		if err := b.conn.SetReadDeadline(time.Now().Add(100 * time.Microsecond)); err != nil {
			b.log.Error("set read deadline failed", "error", err)
			return out
		}
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return out
			}
			return out
		}
		msg, err := wire.DecodeDataMessage(buf[:n])
		if err != nil {
			b.log.Warn("dropping malformed board datagram", "from", addr, "error", err)
			continue
		}
		out = append(out, Inbound{Addr: addr, Msg: msg})
	}
}

// Handshake echoes an Identity back to a newly-seen board.
func (b *BoardLink) Handshake(addr *net.UDPAddr, flightId string) error {
	reply := wire.EncodeDataMessage(wire.DataMessage{Tag: wire.TagIdentity, BoardId: flightId})
	_, err := b.conn.WriteToUDP(reply, addr)
	return err
}

// SendHeartbeat transmits a FlightHeartbeat to a board's command port.
func (b *BoardLink) SendHeartbeat(ip net.IP) error {
	payload := wire.EncodeDataMessage(wire.DataMessage{Tag: wire.TagFlightHeartbeat})
	_, err := b.conn.WriteToUDP(payload, &net.UDPAddr{IP: ip, Port: b.commandPort})
	return err
}

// SendCommand transmits a board command to a board's command port.
func (b *BoardLink) SendCommand(ip net.IP, cmd wire.BoardCommand) error {
	payload := wire.EncodeBoardCommand(cmd)
	_, err := b.conn.WriteToUDP(payload, &net.UDPAddr{IP: ip, Port: b.commandPort})
	return err
}

// PushVehicleState sends the current vehicle state to the operator's UDP
// push port.
func (b *BoardLink) PushVehicleState(operatorIP net.IP, operatorPushPort int, state *vehicle.VehicleState) error {
	payload := wire.EncodeVehicleState(state)
	_, err := b.conn.WriteToUDP(payload, &net.UDPAddr{IP: operatorIP, Port: operatorPushPort})
	return err
}
