package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Offset is a relative cell offset in YAML form.
type Offset struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

// TrackTypeEntry defines one block-kind track type, loaded from track_types.yaml.
type TrackTypeEntry struct {
	Name       string   `yaml:"name"`
	Blocks     []string `yaml:"blocks"`
	SearchDown int      `yaml:"search_down"`
	Include    []Offset `yaml:"include"`
	Disabled   bool     `yaml:"disabled"`
}

type trackTypeFile struct {
	TrackTypes []TrackTypeEntry `yaml:"track_types"`
}

// TrackTypeTable keeps entries in file order, which is also search priority.
type TrackTypeTable struct {
	entries []TrackTypeEntry
}

// LoadTrackTypeTable loads track_types.yaml. Disabled entries are skipped.
func LoadTrackTypeTable(path string) (*TrackTypeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track types %s: %w", path, err)
	}
	var file trackTypeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse track types: %w", err)
	}
	t := &TrackTypeTable{entries: make([]TrackTypeEntry, 0, len(file.TrackTypes))}
	seen := make(map[string]struct{}, len(file.TrackTypes))
	for _, e := range file.TrackTypes {
		if e.Disabled {
			continue
		}
		if e.Name == "" || len(e.Blocks) == 0 {
			return nil, fmt.Errorf("track type %q: name and blocks are required", e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("track type %q: duplicate name", e.Name)
		}
		seen[e.Name] = struct{}{}
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Entries returns the loaded entries in priority order.
func (t *TrackTypeTable) Entries() []TrackTypeEntry {
	return t.entries
}

func (t *TrackTypeTable) Count() int {
	return len(t.entries)
}
