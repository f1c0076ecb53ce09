package track

import (
	"github.com/railgo/server/internal/data"
	"github.com/railgo/server/internal/world"
)

// BlockType recognizes track purely by block kind. The search looks at the
// queried cell and then up to SearchDown cells beneath it, so a vehicle
// resting on top of a rail still finds it.
type BlockType struct {
	Registration

	name       string
	kinds      map[string]struct{}
	searchDown int
	include    []world.BlockPos
}

// NewBlockType builds a strategy. include lists extra offsets, relative to the
// found cell, that belong to the same piece when they are track too.
func NewBlockType(name string, kinds []string, searchDown int, include []world.BlockPos) *BlockType {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	if searchDown < 0 {
		searchDown = 0
	}
	return &BlockType{
		name:       name,
		kinds:      set,
		searchDown: searchDown,
		include:    include,
	}
}

func (t *BlockType) Name() string { return t.name }

func (t *BlockType) IsTrackCell(blocks world.BlockAccess, pos world.BlockPos) bool {
	_, ok := t.kinds[blocks.Block(pos).Kind]
	return ok
}

func (t *BlockType) FindReachableTrack(blocks world.BlockAccess, pos world.BlockPos) ([]world.BlockPos, error) {
	for d := 0; d <= t.searchDown; d++ {
		p := pos.Add(0, -d, 0)
		if !t.IsTrackCell(blocks, p) {
			continue
		}
		out := make([]world.BlockPos, 0, 1+len(t.include))
		out = append(out, p)
		for _, off := range t.include {
			q := p.Add(off.X, off.Y, off.Z)
			if t.IsTrackCell(blocks, q) {
				out = append(out, q)
			}
		}
		return out, nil
	}
	return nil, nil
}

// BlockTypesFromTable builds one strategy per table entry, in table order.
func BlockTypesFromTable(table *data.TrackTypeTable) []*BlockType {
	out := make([]*BlockType, 0, table.Count())
	for _, e := range table.Entries() {
		include := make([]world.BlockPos, 0, len(e.Include))
		for _, off := range e.Include {
			include = append(include, world.BlockPos{X: off.X, Y: off.Y, Z: off.Z})
		}
		out = append(out, NewBlockType(e.Name, e.Blocks, e.SearchDown, include))
	}
	return out
}
