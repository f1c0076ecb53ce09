// Package railcache answers, for a grid position, which track controls
// movement there, which markers are attached to it and which vehicles occupy
// it, without rescanning the world on every call.
//
// The cache is tick-synchronous: every method must be called from the
// simulation goroutine.
package railcache

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/railgo/server/internal/config"
	"github.com/railgo/server/internal/core/event"
	"github.com/railgo/server/internal/marker"
	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
	"github.com/railgo/server/internal/zone"
	"go.uber.org/zap"
)

// WorldSource resolves loaded worlds to their block store.
type WorldSource interface {
	World(id uuid.UUID) (world.BlockAccess, bool)
}

// Index routes every operation to the cache of the right world, creating
// caches on first use and dropping them when their world unloads or stays
// empty for too long.
type Index struct {
	cfg     config.CacheConfig
	clock   *Clock
	worlds  WorldSource
	types   Strategies
	finder  MarkerDiscovery
	log     *zap.Logger
	metrics *Metrics

	caches map[uuid.UUID]*WorldCache
}

// Stats is a point-in-time summary of an Index.
type Stats struct {
	Worlds  int
	Heads   int
	Records int
}

func NewIndex(cfg config.CacheConfig, worlds WorldSource, types Strategies, finder MarkerDiscovery, metrics *Metrics, log *zap.Logger) *Index {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Index{
		cfg:     cfg,
		clock:   NewClock(),
		worlds:  worlds,
		types:   types,
		finder:  finder,
		log:     log,
		metrics: metrics,
		caches:  make(map[uuid.UUID]*WorldCache),
	}
}

func (x *Index) Now() Tick { return x.clock.Now() }

// ForWorld returns the cache of a loaded world, creating it on first use.
func (x *Index) ForWorld(id uuid.UUID) (*WorldCache, error) {
	if c, ok := x.caches[id]; ok {
		return c, nil
	}
	blocks, ok := x.worlds.World(id)
	if !ok {
		return nil, fmt.Errorf("rail cache for %s: %w", id, ErrWorldNotLoaded)
	}
	c := newWorldCache(id, blocks, x)
	x.caches[id] = c
	x.metrics.worlds.Set(float64(len(x.caches)))
	x.log.Debug("rail cache opened", zap.Stringer("world", id))
	return c, nil
}

// Open is ForWorld for callers that react to a world load event.
func (x *Index) Open(id uuid.UUID) error {
	_, err := x.ForWorld(id)
	return err
}

// Close marks every record of the world dead and drops its cache. Records
// handed out earlier report ErrCacheClosed from then on.
func (x *Index) Close(id uuid.UUID) {
	c, ok := x.caches[id]
	if !ok {
		return
	}
	x.drop(c, "closed")
}

func (x *Index) drop(c *WorldCache, reason string) {
	records := c.Len()
	c.close()
	delete(x.caches, c.id)
	x.metrics.worlds.Set(float64(len(x.caches)))
	x.log.Debug("rail cache released",
		zap.Stringer("world", c.id),
		zap.String("reason", reason),
		zap.Int("records", records))
}

// Tick advances the logical clock and runs maintenance: every cache is swept,
// then caches whose world unloaded, or that stayed empty for IdleWorldTicks
// consecutive ticks, are released.
func (x *Index) Tick() {
	now := x.clock.Advance()
	sweep := x.cfg.SweepIntervalTicks <= 1 || uint64(now)%uint64(x.cfg.SweepIntervalTicks) == 0
	deadline := now.sub(x.cfg.RecordTimeoutTicks)

	for _, c := range x.sortedCaches() {
		if sweep {
			if n := c.Sweep(deadline); n > 0 {
				x.log.Debug("rail cache swept", zap.Stringer("world", c.id), zap.Int("removed", n))
			}
		}
		if _, loaded := x.worlds.World(c.id); !loaded {
			x.drop(c, "world unloaded")
			continue
		}
		if c.Len() > 0 {
			c.idleTicks = 0
			continue
		}
		c.idleTicks++
		if c.idleTicks >= x.cfg.IdleWorldTicks {
			x.drop(c, "idle")
		}
	}
}

// sortedCaches gives maintenance a stable order across runs.
func (x *Index) sortedCaches() []*WorldCache {
	out := make([]*WorldCache, 0, len(x.caches))
	for _, c := range x.caches {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].id[:], out[j].id[:]) < 0
	})
	return out
}

// ── position operations ───────────────────────────────────────────

// FindTrackAt returns the records controlling movement starting at pos.
func (x *Index) FindTrackAt(pos world.Pos) ([]*Record, error) {
	c, err := x.ForWorld(pos.World)
	if err != nil {
		return nil, err
	}
	return c.FindTrackAt(pos.BlockPos)
}

// FindTrackAtVec quantizes a moving entity's position to its grid cell and
// looks that up.
func (x *Index) FindTrackAtVec(worldID uuid.UUID, v mgl64.Vec3) ([]*Record, error) {
	return x.FindTrackAt(world.Pos{World: worldID, BlockPos: world.BlockPosFromVec(v)})
}

func (x *Index) LookupOrCreate(pos world.Pos, t track.Type) (*Record, error) {
	c, err := x.ForWorld(pos.World)
	if err != nil {
		return nil, err
	}
	return c.LookupOrCreate(pos.BlockPos, t)
}

// LookupIfPresent returns nil when no record exists for (pos, t).
func (x *Index) LookupIfPresent(pos world.Pos, t track.Type) (*Record, error) {
	c, ok := x.caches[pos.World]
	if !ok {
		return nil, nil
	}
	return c.LookupIfPresent(pos.BlockPos, t)
}

func (x *Index) FindOccupantsAt(pos world.Pos) ([]uuid.UUID, error) {
	c, ok := x.caches[pos.World]
	if !ok {
		return nil, nil
	}
	return c.FindOccupantsAt(pos.BlockPos)
}

// DiscoverMarkersFor rescans the world for r's markers, bypassing the memo.
func (x *Index) DiscoverMarkersFor(r *Record) ([]marker.Marker, error) {
	return r.cache.DiscoverMarkersFor(r)
}

func (x *Index) AddOccupant(r *Record, vehicle uuid.UUID) (*Record, error) {
	return r.cache.AddOccupant(r, vehicle)
}

func (x *Index) RemoveOccupant(r *Record, vehicle uuid.UUID) bool {
	return r.cache.RemoveOccupant(r, vehicle)
}

// RemoveVehicleFromAllRecords drops vehicle from every chain of every world.
// Called once when the vehicle unloads.
func (x *Index) RemoveVehicleFromAllRecords(vehicle uuid.UUID) int {
	n := 0
	for _, c := range x.caches {
		n += c.removeVehicle(vehicle)
	}
	return n
}

func (x *Index) SetZones(pos world.Pos, zones []zone.Zone) error {
	c, err := x.ForWorld(pos.World)
	if err != nil {
		return err
	}
	return c.SetZones(pos.BlockPos, zones)
}

func (x *Index) Zones(pos world.Pos) ([]zone.Zone, error) {
	c, ok := x.caches[pos.World]
	if !ok {
		return nil, nil
	}
	return c.Zones(pos.BlockPos)
}

// EachZone visits every cell holding zones, world by world.
func (x *Index) EachZone(fn func(world.Pos, []zone.Zone)) {
	for _, c := range x.sortedCaches() {
		c.EachZone(func(p world.BlockPos, zones []zone.Zone) {
			fn(world.Pos{World: c.id, BlockPos: p}, zones)
		})
	}
}

// BlockChanged forwards an edit to the cache of its world, if open.
func (x *Index) BlockChanged(pos world.Pos) {
	if c, ok := x.caches[pos.World]; ok {
		c.BlockChanged(pos.BlockPos)
	}
}

// ForceInvalidateAll forgets every discovery result in every world. Used when
// the strategy set reloads.
func (x *Index) ForceInvalidateAll() {
	for _, c := range x.caches {
		c.ForceInvalidateAll()
	}
	x.log.Info("rail caches invalidated", zap.Int("worlds", len(x.caches)))
}

// ForceInvalidateType removes every record of t in every world. Used when
// the strategy unregisters.
func (x *Index) ForceInvalidateType(t track.Type) {
	removed := 0
	for _, c := range x.caches {
		removed += c.ForceInvalidateType(t)
	}
	x.log.Info("rail caches invalidated for track type",
		zap.String("type", t.Name()),
		zap.Int("removed", removed))
}

func (x *Index) Stats() Stats {
	s := Stats{Worlds: len(x.caches)}
	for _, c := range x.caches {
		s.Heads += c.HeadCount()
		s.Records += c.Len()
	}
	return s
}

// Subscribe wires the index to lifecycle events on bus.
func (x *Index) Subscribe(bus *event.Bus) {
	event.Subscribe(bus, func(ev event.WorldUnloaded) { x.Close(ev.World) })
	event.Subscribe(bus, func(ev event.TrackTypeUnregistered) { x.ForceInvalidateType(ev.Type) })
	event.Subscribe(bus, func(event.TrackTypesReloaded) { x.ForceInvalidateAll() })
	event.Subscribe(bus, func(ev event.VehicleUnloaded) { x.RemoveVehicleFromAllRecords(ev.Vehicle) })
	event.Subscribe(bus, func(ev event.BlockChanged) { x.BlockChanged(ev.Pos) })
}
