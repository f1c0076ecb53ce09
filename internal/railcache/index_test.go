package railcache

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/railgo/server/internal/config"
	"github.com/railgo/server/internal/core/event"
	"github.com/railgo/server/internal/world"
	"github.com/railgo/server/internal/zone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownWorld(t *testing.T) {
	f := newFixture(t)
	_, err := f.idx.FindTrackAt(world.Pos{World: uuid.New(), BlockPos: origin})
	assert.ErrorIs(t, err, ErrWorldNotLoaded)

	rec, err := f.idx.LookupIfPresent(world.Pos{World: uuid.New(), BlockPos: origin}, nil)
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUnloadedWorldClosesCache(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")
	rec := f.find(origin)[0]

	require.True(t, f.u.Unload(f.grid.ID()))
	f.advance(1)

	assert.True(t, f.cache.Closed())
	assert.False(t, rec.Alive())
	_, err := rec.RailsAtPosition()
	assert.ErrorIs(t, err, ErrCacheClosed)
	_, err = rec.Verify()
	assert.ErrorIs(t, err, ErrCacheClosed)
	_, err = f.cache.FindTrackAt(origin)
	assert.ErrorIs(t, err, ErrCacheClosed)

	_, err = f.idx.FindTrackAt(f.pos(origin))
	assert.ErrorIs(t, err, ErrWorldNotLoaded)
	assert.Equal(t, Stats{}, f.idx.Stats())
}

func TestIdleWorldCacheIsReleased(t *testing.T) {
	cfg := config.DefaultCache()
	cfg.IdleWorldTicks = 3
	f := newFixtureWithConfig(t, cfg)

	f.advance(2)
	assert.Equal(t, 1, f.idx.Stats().Worlds)
	f.advance(1)
	assert.Equal(t, 0, f.idx.Stats().Worlds)
	assert.True(t, f.cache.Closed())

	reopened, err := f.idx.ForWorld(f.grid.ID())
	require.NoError(t, err)
	assert.NotSame(t, f.cache, reopened)
	assert.False(t, reopened.Closed())
}

func TestWorldWithRecordsIsNotIdle(t *testing.T) {
	cfg := config.DefaultCache()
	cfg.IdleWorldTicks = 3
	rail := newCountingType("rail", "rail")
	f := newFixtureWithConfig(t, cfg, rail)
	f.place(origin, "rail")
	f.find(origin)

	f.advance(10)
	assert.False(t, f.cache.Closed())
	assert.Equal(t, Stats{Worlds: 1, Heads: 1, Records: 1}, f.idx.Stats())
}

func TestFindTrackAtVec(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rails, err := f.idx.FindTrackAtVec(f.grid.ID(), mgl64.Vec3{0.4, 64.9, 0.7})
	require.NoError(t, err)
	require.Len(t, rails, 1)
	assert.Equal(t, origin, rails[0].Pos())
	assert.Equal(t, f.pos(origin), rails[0].GridPos())
}

func TestEventsReachIndex(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	bus := event.NewBus()
	f.idx.Subscribe(bus)
	f.grid.OnChange(func(p world.Pos) { event.Emit(bus, event.BlockChanged{Pos: p}) })
	dispatch := func() {
		bus.SwapBuffers()
		bus.DispatchAll()
	}

	f.place(origin, "rail")
	rails := f.find(above)
	require.Len(t, rails, 1)
	dispatch()

	// Removing the rail marks nearby records stale right away.
	f.grid.SetBlock(origin, world.Air)
	dispatch()
	assert.Empty(t, f.find(above))
	assert.Equal(t, 2, rail.calls)

	v := uuid.New()
	f.place(origin, "rail")
	dispatch()
	rails = f.find(origin)
	require.Len(t, rails, 1)
	_, err := f.cache.AddOccupant(rails[0], v)
	require.NoError(t, err)

	event.Emit(bus, event.VehicleUnloaded{Vehicle: v})
	dispatch()
	assert.Empty(t, rails[0].Occupants())

	event.Emit(bus, event.TrackTypesReloaded{})
	dispatch()
	assert.Equal(t, railsUncomputed, rails[0].rails.state)

	event.Emit(bus, event.TrackTypeUnregistered{Type: rail})
	dispatch()
	assert.False(t, rails[0].Alive())

	event.Emit(bus, event.WorldUnloaded{World: f.grid.ID()})
	dispatch()
	assert.True(t, f.cache.Closed())
}

func TestIndexZonesRoundTrip(t *testing.T) {
	f := newFixture(t)
	p := f.pos(world.BlockPos{X: 3, Y: 70, Z: -2})
	z := zone.Zone{ID: uuid.New(), Name: "yard", Min: p.BlockPos, Max: p.Add(4, 2, 4)}

	require.NoError(t, f.idx.SetZones(p, []zone.Zone{z}))
	got, err := f.idx.Zones(p)
	require.NoError(t, err)
	assert.Equal(t, []zone.Zone{z}, got)

	var visited []world.BlockPos
	f.cache.EachZone(func(bp world.BlockPos, _ []zone.Zone) { visited = append(visited, bp) })
	assert.Equal(t, []world.BlockPos{p.BlockPos}, visited)
}
