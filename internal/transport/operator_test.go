package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-avionics/flightcore/internal/wire"
)

func TestOperatorLinkConnectAndPull(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Read the identity frame sent on connect.
		if _, err := wire.ReadFrame(conn); err != nil {
			return
		}
		// Send one command frame.
		_ = wire.FrameWriter(conn, wire.EncodeCommand(wire.Command{Tag: wire.CmdAbortViaStage}))
		time.Sleep(100 * time.Millisecond)
	}()

	link := NewOperatorLink([]string{ln.Addr().String()}, true, 0, 0, nil)
	require.NoError(t, link.Connect())
	defer link.Close()
	assert.True(t, link.Alive())
	assert.Equal(t, LinkConnected, link.State())

	require.Eventually(t, func() bool {
		cmd, ok := link.PullNonBlocking()
		return ok && cmd.Tag == wire.CmdAbortViaStage
	}, time.Second, 5*time.Millisecond)

	<-serverDone
}

func TestOperatorLinkConnectFailsWithUnreachableAddr(t *testing.T) {
	link := NewOperatorLink([]string{"127.0.0.1:1"}, true, 10*time.Millisecond, 0, nil)
	err := link.Connect()
	assert.Error(t, err)
	assert.False(t, link.Alive())
	assert.Equal(t, LinkReconnecting, link.State())
}

func TestOperatorLinkMonitoringDisabledGivesUpAfterOneFailure(t *testing.T) {
	link := NewOperatorLink([]string{"127.0.0.1:1"}, false, 10*time.Millisecond, 0, nil)
	err := link.Connect()
	assert.Error(t, err)
	assert.Equal(t, LinkDisabled, link.State())

	// A second Connect must not even try dialing again.
	err = link.Connect()
	assert.Error(t, err)
	assert.Equal(t, LinkDisabled, link.State())
}
