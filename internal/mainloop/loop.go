// Package mainloop orchestrates one tick of the Flight Core: the fixed
// 11-step tick order and the two safety interlocks.
package mainloop

import (
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"github.com/nova-avionics/flightcore/internal/abortstage"
	"github.com/nova-avionics/flightcore/internal/mapping"
	"github.com/nova-avionics/flightcore/internal/publisher"
	"github.com/nova-avionics/flightcore/internal/ratelimit"
	"github.com/nova-avionics/flightcore/internal/registry"
	"github.com/nova-avionics/flightcore/internal/sensorworker"
	"github.com/nova-avionics/flightcore/internal/sequence"
	"github.com/nova-avionics/flightcore/internal/transport"
	"github.com/nova-avionics/flightcore/internal/vehicle"
	"github.com/nova-avionics/flightcore/internal/wire"
)

// operatorPushInterval is the 200 Hz cadence at which VehicleState is
// pushed to the operator.
const operatorPushInterval = time.Second / 200

// heartbeatInterval is the 20 Hz cadence at which heartbeats go out to
// every connected board.
const heartbeatInterval = time.Second / 20

// slowTickThreshold flags a tick worth a debug log line even with the
// Prometheus histogram in place, since the histogram alone doesn't say
// *which* tick ran long.
const slowTickThreshold = 50 * time.Millisecond

// Metrics is the subset of the Prometheus exporter the Main Loop touches
// directly, narrowed to an interface so tests don't need a real registry.
type Metrics interface {
	ObserveTickDuration(d time.Duration)
	SetBoardConnected(board vehicle.BoardId, connected bool)
	IncHeartbeatsSent()
	IncAborts()
	IncMailboxDrops()
	IncPublisherOverlap()
}

// Loop holds every component the Main Loop coordinates each tick.
type Loop struct {
	Registry   *registry.Registry
	Mappings   *mapping.Table
	Board      *transport.BoardLink
	Operator   *transport.OperatorLink
	CmdSocket  *sequence.CommandSocket
	Supervisor *sequence.Supervisor
	AbortStage *abortstage.Machine
	Publisher  *publisher.Publisher
	Mailbox    *sensorworker.Mailbox
	Worker     *sensorworker.Worker
	Metrics    Metrics
	Log        *slog.Logger

	FlightId         string
	OperatorIP       net.IP
	OperatorPushPort int
	MonitorServo     bool

	// Interlock tuning; zero values select the built-in defaults.
	ServoSilenceLimit      time.Duration
	GoldfishThresholdVolts float64
	GoldfishGracePeriod    time.Duration

	// Sequence script resolution, threaded in from config.SequenceConfig.
	AbortScriptPath      string
	AbortStageScriptPath string
	CommandSocketPath    string
	SequenceScriptDir    string

	state *vehicle.VehicleState

	goldfish goldfishInterlock
	servo    servoInterlock
	missLog  *ratelimit.Logger

	lastOperatorPush time.Time
	lastHeartbeat    time.Time
	lastOperatorRx   time.Time
}

// New returns a Loop in its initial state, with a fresh VehicleState.
func New(l *Loop) *Loop {
	l.state = vehicle.NewVehicleState()
	l.servo.Configure(l.ServoSilenceLimit)
	l.servo.SetMonitoring(l.MonitorServo)
	l.goldfish.Configure(l.GoldfishThresholdVolts, l.GoldfishGracePeriod)
	l.missLog = ratelimit.New(5 * time.Second)
	l.lastOperatorRx = time.Now()
	return l
}

// State returns the Main Loop's VehicleState. Safe to call only from the
// same goroutine that drives Tick; concurrent readers must go through the
// Publisher.
func (l *Loop) State() *vehicle.VehicleState { return l.state }

// Tick runs exactly one iteration. The numbered step order below is
// contractual and must not be rearranged.
func (l *Loop) Tick() {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if l.Metrics != nil {
			l.Metrics.ObserveTickDuration(elapsed)
		}
		if elapsed > slowTickThreshold && l.Log != nil {
			l.Log.Debug("main loop tick exceeded threshold", "elapsed", elapsed, "threshold", slowTickThreshold)
		}
	}()

	// (1) non-blocking pull of one FlightControlMessage, dispatch.
	if l.Operator != nil && l.Operator.Alive() {
		if cmd, ok := l.Operator.PullNonBlocking(); ok {
			l.lastOperatorRx = time.Now()
			l.dispatchCommand(cmd)
		}
	}

	// (2) servo loss-of-communication interlock.
	if l.Operator != nil {
		silence := time.Since(l.lastOperatorRx)
		if l.servo.Evaluate(silence) {
			l.AbortStage.AbortViaStage(l.state, l.Registry.All())
			if l.Metrics != nil {
				l.Metrics.IncAborts()
			}
		}
	}

	// (3) refresh per-board rolling averages.
	l.Registry.RefreshRolling(l.state.Rolling)

	// (4) drain sensor-worker mailbox into VehicleState.
	if sample, ok := l.Mailbox.Take(); ok {
		l.mergeSample(sample)
	} else if l.Metrics != nil {
		l.Metrics.IncMailboxDrops()
	}

	// (5) at 200 Hz cadence, push VehicleState to operator.
	now := time.Now()
	if l.Board != nil && l.OperatorIP != nil && now.Sub(l.lastOperatorPush) >= operatorPushInterval {
		if err := l.Board.PushVehicleState(l.OperatorIP, l.OperatorPushPort, l.state); err != nil {
			l.Log.Warn("failed to push vehicle state to operator", "error", err)
		}
		l.lastOperatorPush = now
	}

	// (6) drain inbound UDP and run Mapping & Fusion.
	if l.Board != nil {
		for _, inbound := range l.Board.DrainNonBlocking() {
			l.handleInbound(inbound)
		}
	}

	// (7) Goldfish interlock.
	if l.goldfish.Evaluate(l.state.Bms.UmbilicalBus.Voltage, now) {
		l.Log.Warn("goldfish interlock engaged: umbilical sustained below threshold")
		// BmsCommand::SamLoadSwitch(false) is delivered as a board command
		// to every registered BMS board.
		for _, id := range l.Registry.All() {
			if id.Role() != vehicle.RoleBms {
				continue
			}
			dev, ok := l.Registry.Device(id)
			if !ok || dev.Addr == nil {
				continue
			}
			cmd := wire.BoardCommand{Tag: wire.TagOutBmsCommand, BmsSubTag: wire.BmsCmdSamLoadSwitch, BmsSwitchOn: false}
			if err := l.Board.SendCommand(dev.Addr.IP, cmd); err != nil {
				l.Log.Error("failed to send goldfish SamLoadSwitch", "board", id, "error", err)
			}
		}
	}

	// (8) publish shared state.
	if l.Publisher != nil {
		_, overlapped, err := l.Publisher.Publish(l.state)
		if err != nil {
			l.Log.Error("shared state publish failed", "error", err)
		} else if overlapped && l.Metrics != nil {
			l.Metrics.IncPublisherOverlap()
		}
	}

	// (9) at 20 Hz cadence, heartbeat every non-disconnected device.
	if l.Board != nil && now.Sub(l.lastHeartbeat) >= heartbeatInterval {
		for _, id := range l.Registry.Connected() {
			dev, ok := l.Registry.Device(id)
			if !ok || dev.Addr == nil {
				continue
			}
			if err := l.Board.SendHeartbeat(dev.Addr.IP); err != nil {
				l.Log.Warn("failed to send heartbeat", "board", id, "error", err)
				continue
			}
			if l.Metrics != nil {
				l.Metrics.IncHeartbeatsSent()
			}

			// (10) late-joiner catchup.
			if l.Registry.IncrementHeartbeatCount(id) {
				l.pushAbortStageTo(id, dev.Addr.IP)
			}
		}
		l.lastHeartbeat = now
	}

	// (11) drain script command socket.
	if l.CmdSocket != nil {
		for _, cmd := range l.CmdSocket.DrainNonBlocking() {
			l.dispatchCommand(cmd)
		}
	}
}

func (l *Loop) pushAbortStageTo(id vehicle.BoardId, ip net.IP) {
	actions := l.state.AbortStage.ValveSafeStates[id]
	if len(actions) == 0 {
		return
	}
	if err := l.Board.SendCommand(ip, wire.BoardCommand{Tag: wire.TagOutAbortStageValveStates, ValveStates: actions}); err != nil {
		l.Log.Error("late-joiner catchup push failed", "board", id, "error", err)
	}
}

func (l *Loop) mergeSample(s vehicle.Sample) {
	if s.Gps != nil {
		l.state.Gps = s.Gps
	}
	for i, r := range s.Reco {
		if r != nil {
			l.state.Reco[i] = r
		}
	}
}

func (l *Loop) handleInbound(in transport.Inbound) {
	msg := in.Msg
	switch msg.Tag {
	case wire.TagFlightHeartbeat:
		return
	case wire.TagIdentity:
		l.Registry.Register(vehicle.BoardId(msg.BoardId), in.Addr)
		if l.Metrics != nil {
			l.Metrics.SetBoardConnected(vehicle.BoardId(msg.BoardId), true)
		}
		if err := l.Board.Handshake(in.Addr, l.FlightId); err != nil {
			l.Log.Warn("handshake failed", "board", msg.BoardId, "error", err)
		}
	case wire.TagSam, wire.TagBms, wire.TagAhrs:
		board := vehicle.BoardId(msg.BoardId)
		l.Registry.Observe(board)
		l.applyFusion(board, msg)
	}
}

func (l *Loop) applyFusion(board vehicle.BoardId, msg wire.DataMessage) {
	points := msg.DataPoints
	if msg.Tag != wire.TagSam {
		points = []wire.DataPoint{msg.DataPoint}
	}
	for _, dp := range points {
		touched := l.Mappings.Fuse(board, mapping.ChannelSample{
			Channel:     dp.Channel,
			ChannelType: dp.ChannelType,
			Value:       dp.Value,
		}, l.state.SensorReadings, l.state.ValveStates)
		if len(touched) == 0 {
			l.missLog.Log(l.Log, "dropping datapoint with no mapping",
				"board", board, "channel", dp.Channel, "channel_type", dp.ChannelType)
		}
	}
	if board.Role() == vehicle.RoleBms {
		l.refreshBmsRails()
	}
}

// refreshBmsRails mirrors the BMS rail readings (written into
// SensorReadings by Fuse under RailVoltage/RailCurrent mappings) into the
// VehicleState.Bms convenience struct the Goldfish interlock reads.
func (l *Loop) refreshBmsRails() {
	if v, ok := l.state.SensorReadings["bms.umbilical_voltage"]; ok {
		l.state.Bms.UmbilicalBus.Voltage = v.Value
	}
	if v, ok := l.state.SensorReadings["bms.umbilical_current"]; ok {
		l.state.Bms.UmbilicalBus.Current = v.Value
	}
	if v, ok := l.state.SensorReadings["bms.battery_voltage"]; ok {
		l.state.Bms.BatteryBus.Voltage = v.Value
	}
	if v, ok := l.state.SensorReadings["bms.battery_current"]; ok {
		l.state.Bms.BatteryBus.Current = v.Value
	}
}

func (l *Loop) dispatchCommand(cmd wire.Command) {
	switch cmd.Tag {
	case wire.CmdActuateValve:
		l.actuateValve(cmd.ValveTextId, cmd.Desired)
	case wire.CmdCreateAbortStage:
		if err := l.AbortStage.CreateAbortStage(cmd.StageName, cmd.StageCondition, cmd.ValveSpecs, l.Mappings); err != nil {
			l.Log.Error("create abort stage failed", "name", cmd.StageName, "error", err)
		}
	case wire.CmdSetAbortStage:
		if err := l.AbortStage.SetAbortStage(cmd.SetStageName, l.state); err != nil {
			l.Log.Error("set abort stage failed", "name", cmd.SetStageName, "error", err)
		}
	case wire.CmdAbortViaStage:
		l.AbortStage.AbortViaStage(l.state, l.Registry.All())
		if l.Metrics != nil {
			l.Metrics.IncAborts()
		}
	case wire.CmdSetServoDisconnectMonitoring:
		l.servo.SetMonitoring(cmd.MonitoringEnabled)
	case wire.CmdAbort:
		if err := l.AbortStage.Abort(l.state, l.Registry.All(), l.Mappings, l.AbortScriptPath, l.CommandSocketPath); err != nil {
			l.Log.Error("abort failed", "error", err)
		}
		if l.Metrics != nil {
			l.Metrics.IncAborts()
		}
	case wire.CmdRecoLaunch:
		if l.Worker == nil {
			l.Log.Error("reco launch: sensor worker not initialized")
			return
		}
		l.Worker.SendLaunch()
	case wire.CmdSetRecoVotingLogic:
		if l.Worker == nil {
			l.Log.Error("set reco voting logic: sensor worker not initialized")
			return
		}
		l.Worker.SendVotingLogic(sensorworker.VotingLogic{
			Mcu1Enabled: cmd.Mcu1Enabled,
			Mcu2Enabled: cmd.Mcu2Enabled,
			Mcu3Enabled: cmd.Mcu3Enabled,
		})
	case wire.CmdRecoInitEKF:
		if l.Worker == nil {
			l.Log.Error("reco init ekf: sensor worker not initialized")
			return
		}
		l.Worker.SendInitEKF()
	case wire.CmdLaunchLugArm, wire.CmdLaunchLugDetonate:
		l.dispatchLaunchLug(cmd)
	case wire.CmdRunSequence:
		if cmd.SequenceName == sequence.AbortName {
			l.Log.Warn("run sequence: reserved name, not running", "name", cmd.SequenceName)
			return
		}
		scriptPath := filepath.Join(l.SequenceScriptDir, cmd.SequenceName+".script")
		if err := l.Supervisor.Execute(cmd.SequenceName, scriptPath, l.Mappings, l.CommandSocketPath); err != nil {
			l.Log.Error("run sequence failed", "name", cmd.SequenceName, "error", err)
		}
	case wire.CmdStopSequence:
		if err := l.Supervisor.Stop(cmd.SequenceName); err != nil {
			l.Log.Error("stop sequence failed", "name", cmd.SequenceName, "error", err)
		}
	case wire.CmdReplaceMappings:
		l.replaceMappings(cmd.MappingYaml)
	}
}

func (l *Loop) dispatchLaunchLug(cmd wire.Command) {
	dev, ok := l.Registry.Device(vehicle.BoardId(cmd.SamHostname))
	if !ok || dev.Addr == nil {
		l.Log.Warn("launch lug command: board not registered", "board", cmd.SamHostname)
		return
	}
	tag := wire.TagOutLaunchLugArm
	if cmd.Tag == wire.CmdLaunchLugDetonate {
		tag = wire.TagOutLaunchLugDetonate
	}
	if err := l.Board.SendCommand(dev.Addr.IP, wire.BoardCommand{Tag: tag, LaunchLugEnable: cmd.Enable}); err != nil {
		l.Log.Error("launch lug command send failed", "board", cmd.SamHostname, "error", err)
	}
}

// replaceMappings implements the operator-pushed Mappings replace: parse
// the new table, swap it into place, then run the Abort Stage Machine's
// reset sequence.
func (l *Loop) replaceMappings(raw []byte) {
	next, err := mapping.ParseYAML(raw)
	if err != nil {
		l.Log.Error("replace mappings: parse failed", "error", err)
		return
	}
	if err := l.Mappings.Replace(next.All()); err != nil {
		l.Log.Error("replace mappings: apply failed", "error", err)
		return
	}
	if err := l.AbortStage.OnMappingUpload(l.Registry.All(), l.Mappings, l.AbortStageScriptPath, l.CommandSocketPath); err != nil {
		l.Log.Error("replace mappings: abort stage reset failed", "error", err)
	}
}

func (l *Loop) actuateValve(textId string, desired wire.ValveDesiredState) {
	mp, ok := l.Mappings.ByTextId(textId)
	if !ok {
		l.Log.Warn("actuate valve: unknown text_id", "text_id", textId)
		return
	}
	dev, ok := l.Registry.Device(mp.BoardId)
	if !ok || dev.Addr == nil {
		l.Log.Warn("actuate valve: board not registered", "board", mp.BoardId)
		return
	}
	desiredClosed := desired == wire.DesiredClosed
	powered := desiredClosed != mp.IsNormallyClosed()
	if err := l.Board.SendCommand(dev.Addr.IP, wire.BoardCommand{
		Tag:            wire.TagOutActuateValve,
		ActuateChannel: mp.Channel,
		ActuatePowered: powered,
	}); err != nil {
		l.Log.Error("actuate valve send failed", "text_id", textId, "error", err)
	}
	cs := l.state.ValveStates[textId]
	if desiredClosed {
		cs.Commanded = vehicle.ValveClosed
	} else {
		cs.Commanded = vehicle.ValveOpen
	}
	l.state.ValveStates[textId] = cs
}
