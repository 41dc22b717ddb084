package wire

import (
	"fmt"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// DataMessage variant tags (inbound UDP).
const (
	TagFlightHeartbeat uint8 = iota
	TagIdentity
	TagSam
	TagBms
	TagAhrs
)

// ChannelType wire values, matching vehicle.ChannelType's ordering.
const (
	wireChannelCurrentLoop uint8 = iota
	wireChannelValveVoltage
	wireChannelValveCurrent
	wireChannelRailVoltage
	wireChannelRailCurrent
	wireChannelDifferentialSignal
	wireChannelRtd
	wireChannelTc
)

// DataPoint is one raw board channel sample.
type DataPoint struct {
	Value       float64
	Timestamp   float64
	Channel     uint32
	ChannelType vehicle.ChannelType
}

// DataMessage is the inbound UDP tagged union.
type DataMessage struct {
	Tag        uint8
	BoardId    string
	DataPoints []DataPoint // Sam
	DataPoint  DataPoint   // Bms, Ahrs
}

func encodeChannelType(c vehicle.ChannelType) uint8 { return uint8(c) }

func decodeChannelType(b uint8) (vehicle.ChannelType, error) {
	if b > uint8(vehicle.ChannelTc) {
		return 0, fmt.Errorf("wire: unknown channel_type tag %d", b)
	}
	return vehicle.ChannelType(b), nil
}

func encodeDataPoint(e *Encoder, dp DataPoint) {
	e.F64(dp.Value)
	e.F64(dp.Timestamp)
	e.U32(dp.Channel)
	e.Tag(encodeChannelType(dp.ChannelType))
}

func decodeDataPoint(d *Decoder) DataPoint {
	dp := DataPoint{
		Value:     d.F64(),
		Timestamp: d.F64(),
		Channel:   d.U32(),
	}
	ct, err := decodeChannelType(d.Tag())
	if err != nil {
		d.fail(err)
		return dp
	}
	dp.ChannelType = ct
	return dp
}

// EncodeDataMessage serializes a DataMessage.
func EncodeDataMessage(m DataMessage) []byte {
	e := NewEncoder()
	e.Tag(m.Tag)
	switch m.Tag {
	case TagFlightHeartbeat:
	case TagIdentity:
		e.String(m.BoardId)
	case TagSam:
		e.String(m.BoardId)
		e.U32(uint32(len(m.DataPoints)))
		for _, dp := range m.DataPoints {
			encodeDataPoint(e, dp)
		}
	case TagBms, TagAhrs:
		e.String(m.BoardId)
		encodeDataPoint(e, m.DataPoint)
	}
	return e.Bytes()
}

// DecodeDataMessage parses an inbound DataMessage.
func DecodeDataMessage(payload []byte) (DataMessage, error) {
	d := NewDecoder(payload)
	m := DataMessage{Tag: d.Tag()}
	switch m.Tag {
	case TagFlightHeartbeat:
	case TagIdentity:
		m.BoardId = d.String()
	case TagSam:
		m.BoardId = d.String()
		n := d.U32()
		m.DataPoints = make([]DataPoint, 0, n)
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			m.DataPoints = append(m.DataPoints, decodeDataPoint(d))
		}
	case TagBms, TagAhrs:
		m.BoardId = d.String()
		m.DataPoint = decodeDataPoint(d)
	default:
		return m, fmt.Errorf("wire: unknown DataMessage tag %d", m.Tag)
	}
	return m, d.Err()
}

// Outbound-to-board message tags.
const (
	TagOutFlightHeartbeat uint8 = iota
	TagOutActuateValve
	TagOutAbortStageValveStates
	TagOutAbort
	TagOutClearStoredAbortStage
	TagOutToggleCamera
	TagOutLaunchLugArm
	TagOutLaunchLugDetonate
	TagOutBmsCommand
)

// BMS sub-command tags, matching the BMS board's own Command enum
// (Charge/BatteryLoadSwitch/SamLoadSwitch/ResetEstop).
const (
	BmsCmdCharge uint8 = iota
	BmsCmdBatteryLoadSwitch
	BmsCmdSamLoadSwitch
	BmsCmdResetEstop
)

// BoardCommand is the outbound tagged union sent to SAM/other boards.
type BoardCommand struct {
	Tag                 uint8
	ActuateChannel      uint32
	ActuatePowered      bool
	ValveStates         []vehicle.ValveAction
	AbortUseStageTimers bool
	ToggleCameraOn      bool
	LaunchLugEnable     bool

	// TagOutBmsCommand
	BmsSubTag   uint8
	BmsSwitchOn bool
}

// EncodeBoardCommand serializes a BoardCommand.
func EncodeBoardCommand(c BoardCommand) []byte {
	e := NewEncoder()
	e.Tag(c.Tag)
	switch c.Tag {
	case TagOutFlightHeartbeat, TagOutClearStoredAbortStage:
	case TagOutActuateValve:
		e.U32(c.ActuateChannel)
		e.Bool(c.ActuatePowered)
	case TagOutAbortStageValveStates:
		e.U32(uint32(len(c.ValveStates)))
		for _, va := range c.ValveStates {
			e.U32(va.Channel)
			e.Bool(va.Powered)
			e.F64(va.SafingTimer.Seconds())
		}
	case TagOutAbort:
		e.Bool(c.AbortUseStageTimers)
	case TagOutToggleCamera:
		e.Bool(c.ToggleCameraOn)
	case TagOutLaunchLugArm, TagOutLaunchLugDetonate:
		e.Bool(c.LaunchLugEnable)
	case TagOutBmsCommand:
		e.Tag(c.BmsSubTag)
		switch c.BmsSubTag {
		case BmsCmdCharge, BmsCmdBatteryLoadSwitch, BmsCmdSamLoadSwitch:
			e.Bool(c.BmsSwitchOn)
		case BmsCmdResetEstop:
		}
	}
	return e.Bytes()
}
