package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MarkerTable describes which blocks near a track piece count as markers.
type MarkerTable struct {
	ScanDepth int      `yaml:"scan_depth"` // cells below the track piece to look at
	Kinds     []string `yaml:"kinds"`      // block kinds that can carry a marker
	Headers   []string `yaml:"headers"`    // accepted first lines; empty accepts any
}

// LoadMarkerTable loads marker_blocks.yaml.
func LoadMarkerTable(path string) (*MarkerTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read marker blocks %s: %w", path, err)
	}
	t := &MarkerTable{ScanDepth: 2}
	if err := yaml.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("parse marker blocks: %w", err)
	}
	if len(t.Kinds) == 0 {
		return nil, fmt.Errorf("marker blocks %s: no kinds", path)
	}
	if t.ScanDepth < 0 {
		t.ScanDepth = 0
	}
	return t, nil
}

func (t *MarkerTable) Count() int {
	return len(t.Kinds)
}
