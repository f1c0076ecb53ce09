// Package marker discovers the sign blocks attached to a track piece.
// Markers carry instructions for vehicles; executing them is not done here.
package marker

import (
	"strings"

	"github.com/railgo/server/internal/core/arena"
	"github.com/railgo/server/internal/data"
	"github.com/railgo/server/internal/world"
	"golang.org/x/text/cases"
)

// Marker is one discovered sign. Owner is the handle of the rail cache record
// it was found for; a handle never keeps that record alive.
type Marker struct {
	Pos    world.BlockPos
	Owner  arena.Handle
	Header string // case-folded first line
	block  world.Block
}

// Lines returns the sign text as discovered.
func (m Marker) Lines() []string { return m.block.Text }

// Present reports whether the sign is still there, unchanged.
func (m Marker) Present(blocks world.BlockAccess) bool {
	return blocks.Block(m.Pos).Equal(m.block)
}

// Finder scans the column beneath a track piece, and the sides of that
// column, for marker blocks.
type Finder struct {
	kinds   map[string]struct{}
	headers map[string]struct{}
	depth   int
	fold    cases.Caser
}

func NewFinder(table *data.MarkerTable) *Finder {
	f := &Finder{
		kinds:   make(map[string]struct{}, len(table.Kinds)),
		headers: make(map[string]struct{}, len(table.Headers)),
		depth:   table.ScanDepth,
		fold:    cases.Fold(),
	}
	for _, k := range table.Kinds {
		f.kinds[k] = struct{}{}
	}
	for _, h := range table.Headers {
		f.headers[f.fold.String(strings.TrimSpace(h))] = struct{}{}
	}
	return f
}

// Discover returns the markers of the track piece at pos, top to bottom.
// Wall-mounted signs count only when they face away from the column cell
// they are attached to.
func (f *Finder) Discover(blocks world.BlockAccess, pos world.BlockPos, owner arena.Handle) []Marker {
	var out []Marker
	for d := 0; d <= f.depth; d++ {
		c := pos.Add(0, -d, 0)
		if d > 0 {
			if m, ok := f.markerAt(blocks, c, owner); ok {
				out = append(out, m)
			}
		}
		for _, face := range world.HorizontalFaces {
			side := c.Offset(face)
			b := blocks.Block(side)
			if b.Facing != face {
				continue
			}
			if m, ok := f.markerAt(blocks, side, owner); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func (f *Finder) markerAt(blocks world.BlockAccess, p world.BlockPos, owner arena.Handle) (Marker, bool) {
	b := blocks.Block(p)
	if _, ok := f.kinds[b.Kind]; !ok {
		return Marker{}, false
	}
	header := ""
	if len(b.Text) > 0 {
		header = f.fold.String(strings.TrimSpace(b.Text[0]))
	}
	if len(f.headers) > 0 {
		if _, ok := f.headers[header]; !ok {
			return Marker{}, false
		}
	}
	return Marker{Pos: p, Owner: owner, Header: header, block: b}, true
}

// AllPresent reports whether every marker in list is still in place.
func AllPresent(blocks world.BlockAccess, list []Marker) bool {
	for _, m := range list {
		if !m.Present(blocks) {
			return false
		}
	}
	return true
}
