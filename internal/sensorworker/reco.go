package sensorworker

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/nova-avionics/flightcore/internal/sensorworker/spibus"
	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// RECO opcodes.
const (
	OpcodeLaunched         uint8 = 1
	OpcodeGpsData          uint8 = 2
	OpcodeVotingLogic      uint8 = 3
	OpcodeReceiveTelemetry uint8 = 4
	OpcodeInitEkf          uint8 = 5
)

const (
	bodySize     = 21
	checksumSize = 4
)

// FcGpsBody is the 21-byte body the flight computer sends to a RECO MCU
// each SPI transaction: the latest GPS fix, zeroed with valid=false when
// no fix has arrived yet.
type FcGpsBody struct {
	Valid     bool
	Latitude  float32
	Longitude float32
	AltitudeM float32
	FixTimeMs uint32
}

// encode writes the GpsData frame (opcode || body || checksum) into out,
// which must be spibus.FrameSize bytes.
func (g FcGpsBody) encode(out []byte) {
	out[0] = OpcodeGpsData
	body := out[1 : 1+bodySize]
	for i := range body {
		body[i] = 0
	}
	if g.Valid {
		body[0] = 1
	}
	binary.LittleEndian.PutUint32(body[1:5], math.Float32bits(g.Latitude))
	binary.LittleEndian.PutUint32(body[5:9], math.Float32bits(g.Longitude))
	binary.LittleEndian.PutUint32(body[9:13], math.Float32bits(g.AltitudeM))
	binary.LittleEndian.PutUint32(body[13:17], g.FixTimeMs)

	sum := crc32.ChecksumIEEE(out[0 : 1+bodySize])
	binary.LittleEndian.PutUint32(out[1+bodySize:1+bodySize+checksumSize], sum)
}

// VotingLogic carries which RECO MCUs participate in the 2-of-3 deployment
// vote.
type VotingLogic struct {
	Mcu1Enabled bool
	Mcu2Enabled bool
	Mcu3Enabled bool
}

// encodeOpcodeOnlyFrame writes a frame carrying only an opcode and a
// zeroed body, used by the Launched and InitEkf one-shot commands.
func encodeOpcodeOnlyFrame(opcode uint8, out []byte) {
	out[0] = opcode
	body := out[1 : 1+bodySize]
	for i := range body {
		body[i] = 0
	}
	sum := crc32.ChecksumIEEE(out[0 : 1+bodySize])
	binary.LittleEndian.PutUint32(out[1+bodySize:1+bodySize+checksumSize], sum)
}

// encode writes the VotingLogic frame (opcode || body || checksum) into
// out, which must be spibus.FrameSize bytes.
func (v VotingLogic) encode(out []byte) {
	out[0] = OpcodeVotingLogic
	body := out[1 : 1+bodySize]
	for i := range body {
		body[i] = 0
	}
	if v.Mcu1Enabled {
		body[0] = 1
	}
	if v.Mcu2Enabled {
		body[1] = 1
	}
	if v.Mcu3Enabled {
		body[2] = 1
	}
	sum := crc32.ChecksumIEEE(out[0 : 1+bodySize])
	binary.LittleEndian.PutUint32(out[1+bodySize:1+bodySize+checksumSize], sum)
}

// RecoBody is the 21-byte body a RECO MCU returns each transaction.
type RecoBody struct {
	Armed     bool
	Voting    bool
	Connected bool
}

// decodeRecoFrame parses an RX frame into a RecoBody, validating the
// checksum. A checksum mismatch yields a zeroed, disconnected RecoState; a
// bad MCU never stops the sampling loop.
func decodeRecoFrame(frame []byte) vehicle.RecoState {
	if len(frame) != spibus.FrameSize {
		return vehicle.RecoState{}
	}
	want := binary.LittleEndian.Uint32(frame[1+bodySize : 1+bodySize+checksumSize])
	got := crc32.ChecksumIEEE(frame[0 : 1+bodySize])
	if want != got {
		return vehicle.RecoState{}
	}
	body := frame[1 : 1+bodySize]
	return vehicle.RecoState{
		Armed:     body[0] != 0,
		Voting:    body[1] != 0,
		Connected: true,
	}
}
