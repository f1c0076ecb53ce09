package railcache

import (
	"testing"

	"github.com/railgo/server/internal/config"
	"github.com/railgo/server/internal/data"
	"github.com/railgo/server/internal/marker"
	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// countingType recognizes cells of one block kind, at the queried cell or
// one below, and counts how often it was searched.
type countingType struct {
	track.Registration
	name  string
	kind  string
	calls int
	err   error
	panic bool
}

func newCountingType(name, kind string) *countingType {
	return &countingType{name: name, kind: kind}
}

func (t *countingType) Name() string { return t.name }

func (t *countingType) IsTrackCell(blocks world.BlockAccess, pos world.BlockPos) bool {
	return blocks.Block(pos).Kind == t.kind
}

func (t *countingType) FindReachableTrack(blocks world.BlockAccess, pos world.BlockPos) ([]world.BlockPos, error) {
	t.calls++
	if t.panic {
		panic("strategy exploded")
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.IsTrackCell(blocks, pos) {
		return []world.BlockPos{pos}, nil
	}
	if below := pos.Down(); t.IsTrackCell(blocks, below) {
		return []world.BlockPos{below}, nil
	}
	return nil, nil
}

type fixture struct {
	t       *testing.T
	u       *world.Universe
	grid    *world.Grid
	reg     *track.Registry
	metrics *Metrics
	logs    *observer.ObservedLogs
	idx     *Index
	cache   *WorldCache
}

func newFixture(t *testing.T, types ...track.Type) *fixture {
	return newFixtureWithConfig(t, config.DefaultCache(), types...)
}

func newFixtureWithConfig(t *testing.T, cfg config.CacheConfig, types ...track.Type) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	u := world.NewUniverse()
	grid := u.Load("test")
	reg := track.NewRegistry(log)
	for _, tt := range types {
		require.NoError(t, reg.Register(tt))
	}
	finder := marker.NewFinder(&data.MarkerTable{ScanDepth: 2, Kinds: []string{"sign"}})
	metrics := NewMetrics(nil)
	idx := NewIndex(cfg, u, reg, finder, metrics, log)
	cache, err := idx.ForWorld(grid.ID())
	require.NoError(t, err)

	return &fixture{t: t, u: u, grid: grid, reg: reg, metrics: metrics, logs: logs, idx: idx, cache: cache}
}

func (f *fixture) advance(n int) {
	for i := 0; i < n; i++ {
		f.idx.Tick()
	}
}

func (f *fixture) place(p world.BlockPos, kind string) {
	f.grid.SetBlock(p, world.Block{Kind: kind})
}

func (f *fixture) find(p world.BlockPos) []*Record {
	f.t.Helper()
	rails, err := f.cache.FindTrackAt(p)
	require.NoError(f.t, err)
	return rails
}

func (f *fixture) pos(p world.BlockPos) world.Pos {
	return world.Pos{World: f.grid.ID(), BlockPos: p}
}

var (
	origin = world.BlockPos{X: 0, Y: 64, Z: 0}
	above  = world.BlockPos{X: 0, Y: 65, Z: 0}
)
