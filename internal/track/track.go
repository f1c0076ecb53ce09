// Package track defines track type strategies: what counts as track of a kind
// and how to search outward from a position for reachable track cells.
package track

import (
	"github.com/railgo/server/internal/world"
)

// Type is one track type strategy. Implementations are compared by identity,
// so they must be pointer types, and embed Registration.
type Type interface {
	Name() string
	// IsTrackCell reports whether pos is currently track of this kind.
	IsTrackCell(blocks world.BlockAccess, pos world.BlockPos) bool
	// FindReachableTrack does a bounded search from pos and returns every
	// track cell of this kind that controls movement starting at pos.
	FindReachableTrack(blocks world.BlockAccess, pos world.BlockPos) ([]world.BlockPos, error)
	IsRegistered() bool

	registration() *Registration
}

// Registration tracks whether a Type is currently part of a Registry.
type Registration struct {
	registered bool
}

func (r *Registration) IsRegistered() bool          { return r.registered }
func (r *Registration) registration() *Registration { return r }

type noneType struct {
	Registration
}

func (*noneType) Name() string { return "none" }

func (*noneType) IsTrackCell(world.BlockAccess, world.BlockPos) bool { return false }

func (*noneType) FindReachableTrack(world.BlockAccess, world.BlockPos) ([]world.BlockPos, error) {
	return nil, nil
}

// None marks cells where no strategy found track. It is always registered
// and never part of a Registry's search order.
var None Type = &noneType{Registration: Registration{registered: true}}

func IsNone(t Type) bool { return t == None }
