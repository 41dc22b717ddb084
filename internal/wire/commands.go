package wire

import "time"

// SequenceDomainCommand variant tags. These are shared by the Unix
// datagram script command socket and the TCP operator link: both channels
// carry the same command vocabulary, dispatched the same way by the Abort
// Stage Machine / Sequence Supervisor / Transport.
const (
	CmdActuateValve uint8 = iota
	CmdRecoLaunch
	CmdSetRecoVotingLogic
	CmdCreateAbortStage
	CmdSetAbortStage
	CmdAbortViaStage
	CmdAbort
	CmdLaunchLugArm
	CmdLaunchLugDetonate
	CmdSetServoDisconnectMonitoring
	CmdRecoInitEKF

	// CmdRunSequence, CmdStopSequence and CmdReplaceMappings are only ever
	// sent over the operator TCP link, never the script command socket:
	// they are the operator's own `FlightControlMessage::Sequence`,
	// `::StopSequence` and `::Mappings` variants, not SequenceDomainCommand.
	CmdRunSequence
	CmdStopSequence
	CmdReplaceMappings
)

// ValveDesiredState is the commanded side of a valve action, distinct from
// vehicle.ValveState because a command only ever requests Open or Closed.
type ValveDesiredState uint8

const (
	DesiredOpen ValveDesiredState = iota
	DesiredClosed
)

// AbortStageValveSpec is one row of a CreateAbortStage command's
// valve_safe_states, addressed by the valve's mapping text_id rather than
// by (board, channel) — resolution against the Mapping table happens in
// the Abort Stage Machine.
type AbortStageValveSpec struct {
	ValveTextId string
	Desired     ValveDesiredState
	SafingTimer time.Duration
}

// Command is the decoded form of a SequenceDomainCommand.
type Command struct {
	Tag uint8

	// CmdActuateValve
	ValveTextId string
	Desired     ValveDesiredState

	// CmdSetRecoVotingLogic
	Mcu1Enabled bool
	Mcu2Enabled bool
	Mcu3Enabled bool

	// CmdCreateAbortStage
	StageName      string
	StageCondition string
	ValveSpecs     []AbortStageValveSpec

	// CmdSetAbortStage
	SetStageName string

	// CmdLaunchLugArm / CmdLaunchLugDetonate
	SamHostname string
	Enable      bool

	// CmdSetServoDisconnectMonitoring
	MonitoringEnabled bool

	// CmdRunSequence / CmdStopSequence
	SequenceName string

	// CmdReplaceMappings
	MappingYaml []byte
}

// EncodeCommand serializes a Command, used by sequence scripts and tests
// that exercise the command socket without a real interpreter subprocess.
func EncodeCommand(c Command) []byte {
	e := NewEncoder()
	e.Tag(c.Tag)
	switch c.Tag {
	case CmdActuateValve:
		e.String(c.ValveTextId)
		e.U8(uint8(c.Desired))
	case CmdRecoLaunch, CmdAbortViaStage, CmdAbort, CmdRecoInitEKF:
	case CmdSetRecoVotingLogic:
		e.Bool(c.Mcu1Enabled)
		e.Bool(c.Mcu2Enabled)
		e.Bool(c.Mcu3Enabled)
	case CmdCreateAbortStage:
		e.String(c.StageName)
		e.String(c.StageCondition)
		e.U32(uint32(len(c.ValveSpecs)))
		for _, v := range c.ValveSpecs {
			e.String(v.ValveTextId)
			e.U8(uint8(v.Desired))
			e.F64(v.SafingTimer.Seconds())
		}
	case CmdSetAbortStage:
		e.String(c.SetStageName)
	case CmdLaunchLugArm, CmdLaunchLugDetonate:
		e.String(c.SamHostname)
		e.Bool(c.Enable)
	case CmdSetServoDisconnectMonitoring:
		e.Bool(c.MonitoringEnabled)
	case CmdRunSequence, CmdStopSequence:
		e.String(c.SequenceName)
	case CmdReplaceMappings:
		e.ByteSlice(c.MappingYaml)
	}
	return e.Bytes()
}

// DecodeCommand parses a Command frame.
func DecodeCommand(payload []byte) (Command, error) {
	d := NewDecoder(payload)
	c := Command{Tag: d.Tag()}
	switch c.Tag {
	case CmdActuateValve:
		c.ValveTextId = d.String()
		c.Desired = ValveDesiredState(d.U8())
	case CmdRecoLaunch, CmdAbortViaStage, CmdAbort, CmdRecoInitEKF:
	case CmdSetRecoVotingLogic:
		c.Mcu1Enabled = d.Bool()
		c.Mcu2Enabled = d.Bool()
		c.Mcu3Enabled = d.Bool()
	case CmdCreateAbortStage:
		c.StageName = d.String()
		c.StageCondition = d.String()
		n := d.U32()
		c.ValveSpecs = make([]AbortStageValveSpec, 0, n)
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			vid := d.String()
			desired := ValveDesiredState(d.U8())
			secs := d.F64()
			c.ValveSpecs = append(c.ValveSpecs, AbortStageValveSpec{
				ValveTextId: vid,
				Desired:     desired,
				SafingTimer: time.Duration(secs * float64(time.Second)),
			})
		}
	case CmdSetAbortStage:
		c.SetStageName = d.String()
	case CmdLaunchLugArm, CmdLaunchLugDetonate:
		c.SamHostname = d.String()
		c.Enable = d.Bool()
	case CmdSetServoDisconnectMonitoring:
		c.MonitoringEnabled = d.Bool()
	case CmdRunSequence, CmdStopSequence:
		c.SequenceName = d.String()
	case CmdReplaceMappings:
		c.MappingYaml = d.Bytes()
	}
	return c, d.Err()
}
