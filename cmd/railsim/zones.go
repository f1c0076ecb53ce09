package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/railgo/server/internal/persist"
	"github.com/railgo/server/internal/railcache"
	"github.com/railgo/server/internal/world"
	"github.com/railgo/server/internal/zone"
	"go.uber.org/zap"
)

// loadZones copies the stored zones of a world into its rail cache.
// Returns the number of cells that received zones.
func loadZones(ctx context.Context, repo *persist.ZoneRepo, idx *railcache.Index, worldID uuid.UUID) (int, error) {
	stored, err := repo.LoadWorld(ctx, worldID)
	if err != nil {
		return 0, err
	}
	for p, zones := range stored {
		if err := idx.SetZones(world.Pos{World: worldID, BlockPos: p}, zones); err != nil {
			return 0, fmt.Errorf("zones at %s: %w", p, err)
		}
	}
	return len(stored), nil
}

// saveZones writes back the zones of every open world cache.
func saveZones(ctx context.Context, repo *persist.ZoneRepo, idx *railcache.Index, log *zap.Logger) error {
	saved := 0
	var firstErr error
	idx.EachZone(func(p world.Pos, zones []zone.Zone) {
		if firstErr != nil {
			return
		}
		if err := repo.Save(ctx, p, zones); err != nil {
			firstErr = err
			return
		}
		saved++
	})
	log.Info("trigger zones saved", zap.Int("cells", saved))
	return firstErr
}
