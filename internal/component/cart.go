package component

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/railgo/server/internal/railcache"
	"github.com/railgo/server/internal/world"
)

// Cart is a simulated vehicle. Position and Velocity are in blocks and
// blocks per tick.
type Cart struct {
	ID       uuid.UUID
	World    uuid.UUID
	Position mgl64.Vec3
	Velocity mgl64.Vec3

	Cell     world.BlockPos    // last cell looked up
	Track    *railcache.Record // record holding this cart as occupant, nil off track
	Stopped  bool
	Derailed bool
	Traveled int // cells entered since spawn
}
