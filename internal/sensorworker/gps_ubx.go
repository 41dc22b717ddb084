package sensorworker

import (
	"encoding/binary"
	"time"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// ubxNavPvtMinLen is the minimum UBX-NAV-PVT payload length this parser
// reads fields from (header fields through lon/lat/height).
const ubxNavPvtMinLen = 44

// parseUbxNavPvt extracts latitude/longitude/altitude/fix-time from a
// UBX-NAV-PVT payload. Byte offsets follow the u-blox protocol
// specification's NAV-PVT message layout (iTOW, year..nano, validity
// flags, fixType, numSV, lon, lat, height,...).
func parseUbxNavPvt(payload []byte) (vehicle.GpsState, bool) {
	if len(payload) < ubxNavPvtMinLen {
		return vehicle.GpsState{}, false
	}
	fixType := payload[20]
	if fixType == 0 {
		return vehicle.GpsState{}, false
	}
	iTOW := binary.LittleEndian.Uint32(payload[0:4])
	lon := int32(binary.LittleEndian.Uint32(payload[24:28]))
	lat := int32(binary.LittleEndian.Uint32(payload[28:32]))
	heightMM := int32(binary.LittleEndian.Uint32(payload[36:40]))

	return vehicle.GpsState{
		Latitude:  float64(lat) * 1e-7,
		Longitude: float64(lon) * 1e-7,
		AltitudeM: float64(heightMM) / 1000.0,
		FixTimeNs: int64(iTOW) * int64(1e6),
		Valid:     true,
	}, true
}

// buildUbxCfgRate frames a UBX-CFG-RATE message setting the receiver's
// measurement period: sync(2) || class/id(2) || len(2) || measRate(u16 ms)
// || navRate(1 cycle) || timeRef(1 GPS) || Fletcher-8 checksum(2).
func buildUbxCfgRate(period time.Duration) []byte {
	frame := make([]byte, 14)
	frame[0], frame[1] = 0xB5, 0x62 // sync chars
	frame[2], frame[3] = 0x06, 0x08 // CFG-RATE
	binary.LittleEndian.PutUint16(frame[4:6], 6)
	binary.LittleEndian.PutUint16(frame[6:8], uint16(period.Milliseconds()))
	binary.LittleEndian.PutUint16(frame[8:10], 1)
	binary.LittleEndian.PutUint16(frame[10:12], 1)

	var ckA, ckB uint8
	for _, b := range frame[2:12] {
		ckA += b
		ckB += ckA
	}
	frame[12], frame[13] = ckA, ckB
	return frame
}
