package sensorworker

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingRecoBus always fails Transact, simulating a dead SPI link.
type failingRecoBus struct{}

func (failingRecoBus) Transact(tx, rx []byte) error {
	return errors.New("simulated spi failure")
}

// recordingRecoBus captures every frame it is asked to transact.
type recordingRecoBus struct {
	sent [][]byte
}

func (r *recordingRecoBus) Transact(tx, rx []byte) error {
	frame := make([]byte, len(tx))
	copy(frame, tx)
	r.sent = append(r.sent, frame)
	return nil
}

func TestTickZeroesRecoStateOnTransactFailure(t *testing.T) {
	mailbox := &Mailbox{}
	w := &Worker{
		reco:      [3]recoTransactor{failingRecoBus{}, nil, nil},
		mailbox:   mailbox,
		gpsShared: &sharedGpsState{},
		log:       slog.Default(),
	}

	w.tick()

	sample, ok := mailbox.Take()
	require.True(t, ok)
	require.NotNil(t, sample.Reco[0])
	assert.Equal(t, false, sample.Reco[0].Connected)
	assert.Nil(t, sample.Reco[1])
	assert.Nil(t, sample.Reco[2])
}

func TestSendLaunchTransactsLaunchedOpcodeOnEveryBus(t *testing.T) {
	bus1 := &recordingRecoBus{}
	bus2 := &recordingRecoBus{}
	w := &Worker{reco: [3]recoTransactor{bus1, bus2, nil}}

	w.SendLaunch()

	require.Len(t, bus1.sent, 1)
	require.Len(t, bus2.sent, 1)
	assert.Equal(t, OpcodeLaunched, bus1.sent[0][0])
	assert.Equal(t, OpcodeLaunched, bus2.sent[0][0])
}

func TestSendVotingLogicTransactsEnabledFlags(t *testing.T) {
	bus := &recordingRecoBus{}
	w := &Worker{reco: [3]recoTransactor{bus, nil, nil}}

	w.SendVotingLogic(VotingLogic{Mcu1Enabled: true, Mcu2Enabled: false, Mcu3Enabled: true})

	require.Len(t, bus.sent, 1)
	assert.Equal(t, OpcodeVotingLogic, bus.sent[0][0])
	body := bus.sent[0][1 : 1+bodySize]
	assert.Equal(t, byte(1), body[0])
	assert.Equal(t, byte(0), body[1])
	assert.Equal(t, byte(1), body[2])
}

func TestSendInitEKFTransactsInitEkfOpcode(t *testing.T) {
	bus := &recordingRecoBus{}
	w := &Worker{reco: [3]recoTransactor{bus, nil, nil}}

	w.SendInitEKF()

	require.Len(t, bus.sent, 1)
	assert.Equal(t, OpcodeInitEkf, bus.sent[0][0])
}
