// Package mapping loads the bootstrap mapping table and implements the
// Mapping & Fusion pipeline: folding raw board channel samples through the
// table into typed Measurements and derived valve states.
package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// key identifies the row a raw sample is folded through.
type key struct {
	board      vehicle.BoardId
	channel    uint32
	sensorType vehicle.SensorType
}

// Table is the flat, ordered collection of Mappings current for one
// configuration. It is not safe for concurrent mutation; callers (the Main
// Loop) serialize uploads against fusion ticks.
type Table struct {
	order  []vehicle.Mapping
	byKey  map[key]*vehicle.Mapping
	byText map[string]*vehicle.Mapping
}

// fileMapping is the on-disk YAML row shape. Field names match the
// bootstrap mapping file's schema.
type fileMapping struct {
	TextId           string   `yaml:"text_id"`
	BoardId          string   `yaml:"board_id"`
	SensorType       string   `yaml:"sensor_type"`
	Channel          uint32   `yaml:"channel"`
	Max              *float64 `yaml:"max,omitempty"`
	Min              *float64 `yaml:"min,omitempty"`
	CalibratedOffset float64  `yaml:"calibrated_offset"`
	PoweredThreshold *float64 `yaml:"powered_threshold,omitempty"`
	NormallyClosed   *bool    `yaml:"normally_closed,omitempty"`
}

func parseSensorType(s string) (vehicle.SensorType, error) {
	switch s {
	case "Pt":
		return vehicle.SensorPt, nil
	case "Rtd":
		return vehicle.SensorRtd, nil
	case "Tc":
		return vehicle.SensorTc, nil
	case "LoadCell":
		return vehicle.SensorLoadCell, nil
	case "Valve":
		return vehicle.SensorValve, nil
	case "RailVoltage":
		return vehicle.SensorRailVoltage, nil
	case "RailCurrent":
		return vehicle.SensorRailCurrent, nil
	default:
		return 0, fmt.Errorf("mapping: unknown sensor_type %q", s)
	}
}

// LoadFile reads a bootstrap mapping file (YAML list of rows) and builds a
// Table, rejecting duplicate text_id values: text_id is unique within one
// active configuration.
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}
	t, err := ParseYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("mapping: parse %s: %w", path, err)
	}
	return t, nil
}

// ParseYAML builds a Table from an in-memory YAML mapping document, shared
// by LoadFile and the operator's pushed Mappings replace (the same row
// schema and uniqueness rules apply to both).
func ParseYAML(raw []byte) (*Table, error) {
	var rows []fileMapping
	if err := yaml.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	t := New()
	for _, r := range rows {
		st, err := parseSensorType(r.SensorType)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", r.TextId, err)
		}
		m := vehicle.Mapping{
			TextId:           r.TextId,
			BoardId:          vehicle.BoardId(r.BoardId),
			SensorType:       st,
			Channel:          r.Channel,
			Max:              r.Max,
			Min:              r.Min,
			CalibratedOffset: r.CalibratedOffset,
			PoweredThreshold: r.PoweredThreshold,
			NormallyClosed:   r.NormallyClosed,
		}
		if err := t.Add(m); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		byKey:  make(map[key]*vehicle.Mapping),
		byText: make(map[string]*vehicle.Mapping),
	}
}

// Add appends a Mapping, rejecting a duplicate text_id.
func (t *Table) Add(m vehicle.Mapping) error {
	if _, exists := t.byText[m.TextId]; exists {
		return fmt.Errorf("mapping: duplicate text_id %q", m.TextId)
	}
	t.order = append(t.order, m)
	stored := &t.order[len(t.order)-1]
	t.byKey[key{m.BoardId, m.Channel, m.SensorType}] = stored
	t.byText[m.TextId] = stored
	return nil
}

// Replace swaps the table's contents wholesale, used on a mapping upload.
func (t *Table) Replace(rows []vehicle.Mapping) error {
	next := New()
	for _, m := range rows {
		if err := next.Add(m); err != nil {
			return err
		}
	}
	*t = *next
	return nil
}

// ByTextId looks up a Mapping by its unique text_id.
func (t *Table) ByTextId(textId string) (vehicle.Mapping, bool) {
	m, ok := t.byText[textId]
	if !ok {
		return vehicle.Mapping{}, false
	}
	return *m, true
}

// All returns the mappings in table order.
func (t *Table) All() []vehicle.Mapping {
	out := make([]vehicle.Mapping, len(t.order))
	copy(out, t.order)
	return out
}

// Lookup finds mappings matching (board, channel, sensor_type) such that
// Compatible(sensor_type, channelType) holds for the sample's channel type.
// The fold key includes sensor_type, so in practice at most one mapping
// row matches a given (board, channel) pair for a given incoming sample's
// compatible sensor types; Lookup still returns a slice to make that "at
// most one, but check all compatible types" contract explicit rather than
// silently assuming it.
func (t *Table) Lookup(board vehicle.BoardId, channel uint32, channelType vehicle.ChannelType) []vehicle.Mapping {
	var out []vehicle.Mapping
	for st := vehicle.SensorPt; st <= vehicle.SensorRailCurrent; st++ {
		if !Compatible(st, channelType) {
			continue
		}
		if m, ok := t.byKey[key{board, channel, st}]; ok {
			out = append(out, *m)
		}
	}
	return out
}
