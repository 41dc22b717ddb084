package mapping

import (
	"github.com/nova-avionics/flightcore/internal/metrics"
	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// ChannelSample is one raw datapoint reported by a board in a Sam message.
type ChannelSample struct {
	Channel     uint32
	ChannelType vehicle.ChannelType
	Value       float64
}

// Fuse folds one ChannelSample through the Table for the given board,
// writing any derived Measurement(s) into readings and any derived valve
// state into valves (recomputing a valve's `actual` itself). It returns the
// text_id(s) it touched; an empty result means no mapping matched.
func (t *Table) Fuse(board vehicle.BoardId, sample ChannelSample, readings map[string]vehicle.Measurement, valves map[string]vehicle.CompositeValveState) []string {
	var touched []string
	for _, m := range t.Lookup(board, sample.Channel, sample.ChannelType) {
		metrics.SensorReadingsTotal.WithLabelValues(m.SensorType.String()).Inc()
		switch m.SensorType {
		case vehicle.SensorRailVoltage:
			readings[m.TextId] = vehicle.Measurement{Value: sample.Value, Unit: vehicle.UnitVolts}
			touched = append(touched, m.TextId)
		case vehicle.SensorRailCurrent:
			readings[m.TextId] = vehicle.Measurement{Value: sample.Value, Unit: vehicle.UnitAmps}
			touched = append(touched, m.TextId)
		case vehicle.SensorRtd, vehicle.SensorTc:
			readings[m.TextId] = vehicle.Measurement{Value: sample.Value, Unit: vehicle.UnitKelvin}
			touched = append(touched, m.TextId)
		case vehicle.SensorPt:
			if m.HasRange() {
				v := (sample.Value-0.8)/3.2*(*m.Max-*m.Min) + *m.Min - m.CalibratedOffset
				readings[m.TextId] = vehicle.Measurement{Value: v, Unit: vehicle.UnitPsi}
			} else {
				readings[m.TextId] = vehicle.Measurement{Value: sample.Value, Unit: vehicle.UnitVolts}
			}
			touched = append(touched, m.TextId)
		case vehicle.SensorLoadCell:
			if m.HasRange() {
				v := (*m.Max-*m.Min)/0.03*(sample.Value+0.015) + *m.Min - m.CalibratedOffset
				readings[m.TextId] = vehicle.Measurement{Value: v, Unit: vehicle.UnitPounds}
			} else {
				readings[m.TextId] = vehicle.Measurement{Value: sample.Value, Unit: vehicle.UnitVolts}
			}
			touched = append(touched, m.TextId)
		case vehicle.SensorValve:
			suffix := "_V"
			unit := vehicle.UnitVolts
			if sample.ChannelType == vehicle.ChannelValveCurrent {
				suffix = "_I"
				unit = vehicle.UnitAmps
			}
			readingId := m.TextId + suffix
			readings[readingId] = vehicle.Measurement{Value: sample.Value, Unit: unit}
			recomputeValveActual(m, readings, valves)
			touched = append(touched, m.TextId, readingId)
		}
	}
	return touched
}

// recomputeValveActual derives and stores CompositeValveState.Actual for
// the valve named by m.TextId from its (possibly partial) voltage/current
// readings. Missing readings default to 0.0.
func recomputeValveActual(m vehicle.Mapping, readings map[string]vehicle.Measurement, valves map[string]vehicle.CompositeValveState) {
	voltage := readings[m.TextId+"_V"].Value
	current := readings[m.TextId+"_I"].Value

	var actual vehicle.ValveState
	switch {
	case m.PoweredThreshold == nil:
		actual = vehicle.ValveFault
	case current < *m.PoweredThreshold:
		if voltage < 4 {
			actual = vehicle.ValveClosed
		} else {
			actual = vehicle.ValveDisconnected
		}
	default:
		if voltage >= 20 {
			actual = vehicle.ValveOpen
		} else {
			actual = vehicle.ValveFault
		}
	}
	if !m.IsNormallyClosed() {
		switch actual {
		case vehicle.ValveOpen:
			actual = vehicle.ValveClosed
		case vehicle.ValveClosed:
			actual = vehicle.ValveOpen
		}
	}

	cs := valves[m.TextId]
	cs.Actual = actual
	valves[m.TextId] = cs
}
