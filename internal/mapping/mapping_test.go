package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

func TestTableRejectsDuplicateTextId(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Add(vehicle.Mapping{TextId: "pt.a", BoardId: "sam-01", SensorType: vehicle.SensorPt, Channel: 1}))
	err := tbl.Add(vehicle.Mapping{TextId: "pt.a", BoardId: "sam-01", SensorType: vehicle.SensorPt, Channel: 2})
	assert.Error(t, err)
}

func TestTableReplaceIsAtomicOnFailure(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Add(vehicle.Mapping{TextId: "pt.a", BoardId: "sam-01", SensorType: vehicle.SensorPt, Channel: 1}))

	err := tbl.Replace([]vehicle.Mapping{
		{TextId: "pt.b", BoardId: "sam-01", SensorType: vehicle.SensorPt, Channel: 1},
		{TextId: "pt.b", BoardId: "sam-01", SensorType: vehicle.SensorPt, Channel: 2},
	})
	require.Error(t, err)

	// Original table is untouched since the replacement failed validation
	// on its own scratch table before being swapped in.
	_, ok := tbl.ByTextId("pt.a")
	assert.True(t, ok)
	_, ok = tbl.ByTextId("pt.b")
	assert.False(t, ok)
}

func TestLoadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.yaml")
	doc := `
- text_id: pt.ox_tank
  board_id: sam-01
  sensor_type: Pt
  channel: 3
  max: 500
  min: 0
  calibrated_offset: 1.2
- text_id: valve.mov
  board_id: sam-01
  sensor_type: Valve
  channel: 7
  powered_threshold: 2.0
  normally_closed: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	tbl, err := LoadFile(path)
	require.NoError(t, err)

	pt, ok := tbl.ByTextId("pt.ox_tank")
	require.True(t, ok)
	assert.Equal(t, vehicle.SensorPt, pt.SensorType)
	require.NotNil(t, pt.Max)
	assert.Equal(t, 500.0, *pt.Max)

	valve, ok := tbl.ByTextId("valve.mov")
	require.True(t, ok)
	assert.True(t, valve.IsNormallyClosed())
	assert.Len(t, tbl.All(), 2)
}

func TestLoadFileRejectsUnknownSensorType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- text_id: x\n  board_id: sam-01\n  sensor_type: Bogus\n  channel: 1\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
