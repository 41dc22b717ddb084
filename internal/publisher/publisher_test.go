package publisher

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-avionics/flightcore/internal/vehicle"
	"github.com/nova-avionics/flightcore/internal/wire"
)

func TestPublishAndReadSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_state.shm")
	pub, err := Open(path, 4096, 5*time.Millisecond)
	require.NoError(t, err)
	defer pub.Close()

	state := vehicle.NewVehicleState()
	state.SensorReadings["pt.ox_tank"] = vehicle.Measurement{Value: 412.5, Unit: vehicle.UnitPsi}

	n, overlapped, err := pub.Publish(state)
	require.NoError(t, err)
	assert.False(t, overlapped)
	assert.Greater(t, n, 0)

	payload, ok := ReadSnapshot(pub.Region())
	require.True(t, ok)

	decoded := wire.EncodeVehicleState(state)
	assert.Equal(t, decoded, payload)
}

func TestPublishReportsOverlapWithinGracePeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_state.shm")
	pub, err := Open(path, 4096, 50*time.Millisecond)
	require.NoError(t, err)
	defer pub.Close()

	state := vehicle.NewVehicleState()
	_, overlapped, err := pub.Publish(state)
	require.NoError(t, err)
	assert.False(t, overlapped, "first publish has no prior generation")

	_, overlapped, err = pub.Publish(state)
	require.NoError(t, err)
	assert.True(t, overlapped, "second publish within grace period should report overlap")
}

func TestPublishRejectsOversizedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_state.shm")
	pub, err := Open(path, 8, 0)
	require.NoError(t, err)
	defer pub.Close()

	state := vehicle.NewVehicleState()
	state.SensorReadings["pt.ox_tank"] = vehicle.Measurement{Value: 1, Unit: vehicle.UnitPsi}
	_, _, err = pub.Publish(state)
	assert.Error(t, err)
}
