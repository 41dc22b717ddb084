package mapping

import "github.com/nova-avionics/flightcore/internal/vehicle"

// Compatible reports whether a raw channel sample of the given ChannelType
// may be folded into a Mapping of the given SensorType. The fusion rules
// only ever pair a sensor type with one (or, for Valve, two) channel types,
// so the table below is exhaustive.
func Compatible(sensorType vehicle.SensorType, channelType vehicle.ChannelType) bool {
	switch sensorType {
	case vehicle.SensorRailVoltage:
		return channelType == vehicle.ChannelRailVoltage
	case vehicle.SensorRailCurrent:
		return channelType == vehicle.ChannelRailCurrent
	case vehicle.SensorRtd:
		return channelType == vehicle.ChannelRtd
	case vehicle.SensorTc:
		return channelType == vehicle.ChannelTc
	case vehicle.SensorPt:
		return channelType == vehicle.ChannelCurrentLoop
	case vehicle.SensorLoadCell:
		return channelType == vehicle.ChannelDifferentialSignal
	case vehicle.SensorValve:
		return channelType == vehicle.ChannelValveVoltage || channelType == vehicle.ChannelValveCurrent
	default:
		return false
	}
}
