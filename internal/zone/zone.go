// Package zone holds trigger-zone registrations. Zones are defined elsewhere;
// the rail cache stores them per grid cell and hands them back verbatim.
package zone

import (
	"slices"

	"github.com/google/uuid"
	"github.com/railgo/server/internal/world"
)

// Zone is an axis-aligned region registered against one or more cells.
type Zone struct {
	ID   uuid.UUID
	Name string
	Min  world.BlockPos
	Max  world.BlockPos
}

func (z Zone) Contains(p world.BlockPos) bool {
	return p.X >= z.Min.X && p.X <= z.Max.X &&
		p.Y >= z.Min.Y && p.Y <= z.Max.Y &&
		p.Z >= z.Min.Z && p.Z <= z.Max.Z
}

// Equal compares two zone lists element by element.
func Equal(a, b []Zone) bool {
	return slices.Equal(a, b)
}
