package persist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railgo/server/internal/world"
	"github.com/railgo/server/internal/zone"
)

// ZoneRepo stores the trigger zones registered against grid cells, so they
// survive a restart. The rail cache keeps the live copy.
// Obtain one through Store.Zones.
type ZoneRepo struct {
	pool *pgxpool.Pool
}

// Save replaces the zones stored for pos. An empty list deletes them.
func (r *ZoneRepo) Save(ctx context.Context, pos world.Pos, zones []zone.Zone) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("zones begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM trigger_zones WHERE world_id = $1 AND x = $2 AND y = $3 AND z = $4`,
		pos.World.String(), pos.X, pos.Y, pos.Z,
	); err != nil {
		return fmt.Errorf("zones delete %s: %w", pos, err)
	}

	for i, z := range zones {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trigger_zones (world_id, x, y, z, seq, zone_id, name,
			                            min_x, min_y, min_z, max_x, max_y, max_z)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			pos.World.String(), pos.X, pos.Y, pos.Z, i, z.ID.String(), z.Name,
			z.Min.X, z.Min.Y, z.Min.Z, z.Max.X, z.Max.Y, z.Max.Z,
		); err != nil {
			return fmt.Errorf("zones insert %s: %w", pos, err)
		}
	}

	return tx.Commit(ctx)
}

// LoadWorld returns every stored zone list of a world keyed by cell, each in
// registration order. Called when a world loads.
func (r *ZoneRepo) LoadWorld(ctx context.Context, worldID uuid.UUID) (map[world.BlockPos][]zone.Zone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT x, y, z, zone_id::text, name, min_x, min_y, min_z, max_x, max_y, max_z
		 FROM trigger_zones WHERE world_id = $1 ORDER BY x, y, z, seq`,
		worldID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[world.BlockPos][]zone.Zone)
	for rows.Next() {
		var (
			p  world.BlockPos
			id string
			z  zone.Zone
		)
		if err := rows.Scan(
			&p.X, &p.Y, &p.Z, &id, &z.Name,
			&z.Min.X, &z.Min.Y, &z.Min.Z, &z.Max.X, &z.Max.Y, &z.Max.Z,
		); err != nil {
			return nil, err
		}
		if z.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("zone id %q at %s: %w", id, p, err)
		}
		out[p] = append(out[p], z)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Clear deletes every zone of a world.
func (r *ZoneRepo) Clear(ctx context.Context, worldID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM trigger_zones WHERE world_id = $1`,
		worldID.String(),
	)
	return err
}
