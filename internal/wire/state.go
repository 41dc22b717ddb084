package wire

import (
	"time"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// valveStateTag/measurementUnitTag below map vehicle enum values to wire
// tags. The tag is the enum's numeric (iota) value, so reordering those
// enums changes the payload that crosses the operator link.
func valveStateTag(s vehicle.ValveState) uint8 { return uint8(s) }

func measurementUnitTag(u vehicle.Unit) uint8 { return uint8(u) }

// EncodeVehicleState serializes a VehicleState for the operator push path
// and for disk-log records.
func EncodeVehicleState(v *vehicle.VehicleState) []byte {
	e := NewEncoder()

	e.U32(uint32(len(v.SensorReadings)))
	for id, m := range v.SensorReadings {
		e.String(id)
		e.F64(m.Value)
		e.U8(measurementUnitTag(m.Unit))
	}

	e.U32(uint32(len(v.ValveStates)))
	for id, cs := range v.ValveStates {
		e.String(id)
		e.U8(valveStateTag(cs.Commanded))
		e.U8(valveStateTag(cs.Actual))
	}

	e.F64(v.Bms.UmbilicalBus.Voltage)
	e.F64(v.Bms.UmbilicalBus.Current)
	e.F64(v.Bms.BatteryBus.Voltage)
	e.F64(v.Bms.BatteryBus.Current)

	e.F64(v.Ahrs.Imu.Accelerometer.X)
	e.F64(v.Ahrs.Imu.Accelerometer.Y)
	e.F64(v.Ahrs.Imu.Accelerometer.Z)
	e.F64(v.Ahrs.Imu.Gyroscope.X)
	e.F64(v.Ahrs.Imu.Gyroscope.Y)
	e.F64(v.Ahrs.Imu.Gyroscope.Z)

	e.Bool(v.Gps != nil)
	if v.Gps != nil {
		e.F64(v.Gps.Latitude)
		e.F64(v.Gps.Longitude)
		e.F64(v.Gps.AltitudeM)
		e.U32(uint32(v.Gps.FixTimeNs >> 32))
		e.U32(uint32(v.Gps.FixTimeNs))
		e.Bool(v.Gps.Valid)
	}

	for _, r := range v.Reco {
		e.Bool(r != nil)
		if r != nil {
			e.Bool(r.Armed)
			e.Bool(r.Voting)
			e.Bool(r.Connected)
		}
	}

	e.String(v.AbortStage.Name)
	e.Bool(v.AbortStage.Aborted)

	return e.Bytes()
}

// TimestampedVehicleState pairs a VehicleState with the disk logger's
// record timestamp.
type TimestampedVehicleState struct {
	TimestampUnixNano int64
	State             *vehicle.VehicleState
}

// EncodeTimestampedVehicleState serializes a disk log record body (the
// caller adds the `u64 length (LE)` frame prefix).
func EncodeTimestampedVehicleState(t TimestampedVehicleState) []byte {
	e := NewEncoder()
	e.U32(uint32(t.TimestampUnixNano >> 32))
	e.U32(uint32(t.TimestampUnixNano))
	e.ByteSlice(EncodeVehicleState(t.State))
	return e.Bytes()
}

// Now64 is a small seam so callers can stamp records without importing
// time directly into every call site; kept here since it is only ever used
// alongside EncodeTimestampedVehicleState.
func Now64() int64 { return time.Now().UnixNano() }
