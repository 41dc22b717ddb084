package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FrameWriter(&buf, []byte("hello")))
	require.NoError(t, FrameWriter(&buf, []byte("world")))

	got1, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got1))

	got2, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got2))
}

func TestFrameWriterRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := FrameWriter(&buf, make([]byte, MaxFrameLen+1))
	assert.Error(t, err)
}

func TestDataMessageRoundTripSam(t *testing.T) {
	msg := DataMessage{
		Tag:     TagSam,
		BoardId: "sam-01",
		DataPoints: []DataPoint{
			{Value: 2.4, Timestamp: 100.5, Channel: 3, ChannelType: vehicle.ChannelCurrentLoop},
			{Value: 24.0, Timestamp: 100.5, Channel: 7, ChannelType: vehicle.ChannelValveVoltage},
		},
	}
	encoded := EncodeDataMessage(msg)
	got, err := DecodeDataMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDataMessageRoundTripIdentity(t *testing.T) {
	msg := DataMessage{Tag: TagIdentity, BoardId: "ahrs-01"}
	got, err := DecodeDataMessage(EncodeDataMessage(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDataMessageRoundTripHeartbeat(t *testing.T) {
	msg := DataMessage{Tag: TagFlightHeartbeat}
	got, err := DecodeDataMessage(EncodeDataMessage(msg))
	require.NoError(t, err)
	assert.Equal(t, uint8(TagFlightHeartbeat), got.Tag)
}

func TestDecodeDataMessageUnknownTag(t *testing.T) {
	_, err := DecodeDataMessage([]byte{255})
	assert.Error(t, err)
}

func TestCommandRoundTripCreateAbortStage(t *testing.T) {
	cmd := Command{
		Tag:            CmdCreateAbortStage,
		StageName:      "FLIGHT",
		StageCondition: "pressure > 500",
		ValveSpecs: []AbortStageValveSpec{
			{ValveTextId: "valve.mov", Desired: DesiredClosed, SafingTimer: 250 * time.Millisecond},
		},
	}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd.StageName, got.StageName)
	assert.Equal(t, cmd.StageCondition, got.StageCondition)
	require.Len(t, got.ValveSpecs, 1)
	assert.Equal(t, "valve.mov", got.ValveSpecs[0].ValveTextId)
	assert.Equal(t, DesiredClosed, got.ValveSpecs[0].Desired)
	assert.InDelta(t, float64(250*time.Millisecond), float64(got.ValveSpecs[0].SafingTimer), float64(time.Millisecond))
}

func TestCommandRoundTripActuateValve(t *testing.T) {
	cmd := Command{Tag: CmdActuateValve, ValveTextId: "valve.mov", Desired: DesiredOpen}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestCommandRoundTripNoPayloadVariants(t *testing.T) {
	for _, tag := range []uint8{CmdAbortViaStage, CmdAbort, CmdRecoLaunch, CmdRecoInitEKF} {
		got, err := DecodeCommand(EncodeCommand(Command{Tag: tag}))
		require.NoError(t, err)
		assert.Equal(t, tag, got.Tag)
	}
}

func TestCommandRoundTripRunSequence(t *testing.T) {
	cmd := Command{Tag: CmdRunSequence, SequenceName: "fill-ox"}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestCommandRoundTripStopSequence(t *testing.T) {
	cmd := Command{Tag: CmdStopSequence, SequenceName: "fill-ox"}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestCommandRoundTripReplaceMappings(t *testing.T) {
	cmd := Command{Tag: CmdReplaceMappings, MappingYaml: []byte("- text_id: valve.mov\n")}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestEncodeBoardCommandBmsSamLoadSwitch(t *testing.T) {
	e := EncodeBoardCommand(BoardCommand{Tag: TagOutBmsCommand, BmsSubTag: BmsCmdSamLoadSwitch, BmsSwitchOn: false})
	require.NotEmpty(t, e)
	assert.Equal(t, TagOutBmsCommand, e[0])
}

func TestEncodeBoardCommandBmsResetEstop(t *testing.T) {
	e := EncodeBoardCommand(BoardCommand{Tag: TagOutBmsCommand, BmsSubTag: BmsCmdResetEstop})
	require.Len(t, e, 2)
	assert.Equal(t, BmsCmdResetEstop, e[1])
}
