package event

import (
	"github.com/google/uuid"
	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
)

// WorldUnloaded is emitted when the host drops a world. Rail caches for it close.
type WorldUnloaded struct {
	World uuid.UUID
}

// TrackTypeUnregistered is emitted after a track type strategy is removed
// from the registry.
type TrackTypeUnregistered struct {
	Type track.Type
}

// TrackTypesReloaded is emitted when the whole strategy set was rebuilt.
type TrackTypesReloaded struct{}

// VehicleUnloaded is emitted once per vehicle leaving the simulation.
type VehicleUnloaded struct {
	Vehicle uuid.UUID
}

// BlockChanged is emitted by the block store whenever a cell is edited.
type BlockChanged struct {
	Pos world.Pos
}
