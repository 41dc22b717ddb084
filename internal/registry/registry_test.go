package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

func addr(t *testing.T) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", "10.0.0.5:8378")
	require.NoError(t, err)
	return a
}

func TestRegisterThenDevicePresent(t *testing.T) {
	r := New(0, 0)
	r.Register("sam-01", addr(t))

	d, ok := r.Device("sam-01")
	require.True(t, ok)
	assert.Equal(t, vehicle.BoardId("sam-01"), d.Id)
	assert.Equal(t, uint32(0), d.HeartbeatsSent)
	assert.Contains(t, r.All(), vehicle.BoardId("sam-01"))
}

func TestReregisterResetsHeartbeatCount(t *testing.T) {
	r := New(0, 0)
	r.Register("sam-01", addr(t))
	for i := 0; i < 5; i++ {
		r.IncrementHeartbeatCount("sam-01")
	}
	d, _ := r.Device("sam-01")
	assert.Equal(t, uint32(5), d.HeartbeatsSent)

	r.Register("sam-01", addr(t))
	d, _ = r.Device("sam-01")
	assert.Equal(t, uint32(0), d.HeartbeatsSent)
}

func TestDisconnectedAfterTTL(t *testing.T) {
	r := New(10*time.Millisecond, 0)
	r.Register("sam-01", addr(t))
	assert.False(t, r.Disconnected("sam-01"))

	time.Sleep(25 * time.Millisecond)
	assert.True(t, r.Disconnected("sam-01"))
	assert.NotContains(t, r.Connected(), vehicle.BoardId("sam-01"))
}

func TestUnknownBoardIsDisconnected(t *testing.T) {
	r := New(0, 0)
	assert.True(t, r.Disconnected("ghost"))
}

func TestHeartbeatCountCapsAndEdgeFiresOnce(t *testing.T) {
	r := New(0, 3)
	r.Register("sam-01", addr(t))

	assert.False(t, r.IncrementHeartbeatCount("sam-01"))
	assert.False(t, r.IncrementHeartbeatCount("sam-01"))
	assert.True(t, r.IncrementHeartbeatCount("sam-01")) // reaches threshold of 3
	assert.False(t, r.IncrementHeartbeatCount("sam-01"))

	d, _ := r.Device("sam-01")
	assert.Equal(t, uint32(3), d.HeartbeatsSent)
}

func TestObserveUpdatesRollingStats(t *testing.T) {
	r := New(0, 0)
	r.Register("sam-01", addr(t))
	r.Observe("sam-01")
	time.Sleep(5 * time.Millisecond)
	r.Observe("sam-01")

	stats, ok := r.RollingStats("sam-01")
	require.True(t, ok)
	assert.Greater(t, stats.LastDelta, time.Duration(0))
	assert.Greater(t, stats.EmaPeriod, time.Duration(0))
}

func TestObserveUnregisteredIsNoop(t *testing.T) {
	r := New(0, 0)
	r.Observe("ghost")
	_, ok := r.Device("ghost")
	assert.False(t, ok)
}

func TestRefreshRollingPopulatesVehicleState(t *testing.T) {
	r := New(0, 0)
	r.Register("sam-01", addr(t))
	r.Observe("sam-01")

	rolling := make(map[vehicle.BoardId]vehicle.RollingStats)
	r.RefreshRolling(rolling)
	_, ok := rolling["sam-01"]
	assert.True(t, ok)
}
