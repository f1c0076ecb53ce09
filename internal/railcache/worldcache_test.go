package railcache

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
	"github.com/railgo/server/internal/zone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRepeatedLookupReturnsSameRecord(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	first := f.find(origin)
	require.Len(t, first, 1)
	second := f.find(origin)
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, 1, rail.calls)

	f.advance(3)
	again := f.find(origin)
	assert.Same(t, first[0], again[0])

	looked, err := f.cache.LookupOrCreate(origin, rail)
	require.NoError(t, err)
	assert.Same(t, first[0], looked)
	assert.Equal(t, 1, rail.calls, "no rediscovery inside the grace window")

	f.advance(10)
	assert.Same(t, first[0], f.find(origin)[0], "revalidation keeps the memo")
	assert.Equal(t, 1, rail.calls)
}

func TestQueryAboveTrackPublishesNoneHead(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rails := f.find(above)
	require.Len(t, rails, 1)
	assert.Equal(t, origin, rails[0].Pos())
	assert.Same(t, rail, rails[0].Type())

	head := f.cache.head(above)
	require.NotNil(t, head)
	assert.True(t, head.IsNone())
	assert.Equal(t, 2, f.cache.HeadCount())
}

func TestForceInvalidateAllRerunsDiscovery(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	f.find(origin)
	f.find(above)
	require.Equal(t, 2, rail.calls)

	f.cache.ForceInvalidateAll()
	f.find(origin)
	f.find(above)
	assert.Equal(t, 4, rail.calls)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.discoveries))
}

func TestOccupiedRecordIsNeverSwept(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")
	other := world.BlockPos{X: 10, Y: 64, Z: 10}
	f.place(other, "rail")

	occupied := f.find(origin)[0]
	idle := f.find(other)[0]
	vehicle := uuid.New()
	holder, err := f.cache.AddOccupant(occupied, vehicle)
	require.NoError(t, err)
	require.Same(t, occupied, holder)

	f.advance(1000)
	assert.True(t, occupied.Alive())
	assert.Same(t, occupied, f.cache.head(origin))
	assert.False(t, idle.Alive())
	assert.Nil(t, f.cache.head(other))

	f.cache.Sweep(Tick(^uint64(0)))
	assert.True(t, occupied.Alive(), "even an unbounded deadline keeps it")
}

func TestSwapOutNoneTypeKeepsRailsMemo(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	before := f.find(above)
	head := f.cache.head(above)
	require.True(t, head.IsNone())

	swapped, err := head.SwapOutNoneType(rail)
	require.NoError(t, err)
	assert.False(t, head.Alive(), "unoccupied none head is replaced")
	assert.Same(t, swapped, f.cache.head(above))
	require.Len(t, swapped.rails.list, len(before))
	for i := range before {
		assert.Same(t, before[i], swapped.rails.list[i])
	}

	after := f.find(above)
	require.Len(t, after, 1)
	assert.Same(t, before[0], after[0])
	assert.Equal(t, 1, rail.calls, "no discovery storm after the swap")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.discoveries))
}

func TestSwapOutNoneTypeKeepsOccupiedHeadChained(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	f.find(above)
	head := f.cache.head(above)
	_, err := f.cache.AddOccupant(head, uuid.New())
	require.NoError(t, err)

	swapped, err := head.SwapOutNoneType(rail)
	require.NoError(t, err)
	assert.True(t, head.Alive())
	assert.Equal(t, head.Handle(), swapped.next)

	found, err := f.cache.LookupIfPresent(above, head.Type())
	require.NoError(t, err)
	assert.Same(t, head, found)

	_, err = swapped.SwapOutNoneType(rail)
	assert.Error(t, err, "only none heads can be swapped")
}

func TestEarlierStrategyWins(t *testing.T) {
	fast := newCountingType("fast", "rail")
	slow := newCountingType("slow", "rail")
	f := newFixture(t, fast, slow)
	f.place(origin, "rail")

	rails := f.find(origin)
	require.Len(t, rails, 1)
	assert.Same(t, fast, rails[0].Type())
	assert.Equal(t, 0, slow.calls)

	slowRec, err := f.cache.LookupOrCreate(origin, slow)
	require.NoError(t, err)
	assert.Same(t, slow, slowRec.Type())
	assert.Same(t, rails[0], f.cache.head(origin))
	assert.Equal(t, slowRec.Handle(), rails[0].next)

	again := f.find(origin)
	require.Len(t, again, 1)
	assert.Same(t, rails[0], again[0])

	f.advance(20)
	again = f.find(origin)
	require.Len(t, again, 1)
	assert.Same(t, rails[0], again[0])
}

func TestZonesSurviveSweepAndSwap(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	station := world.BlockPos{X: 5, Y: 64, Z: 5}
	zones := []zone.Zone{{ID: uuid.New(), Name: "station", Min: station, Max: station.Add(3, 3, 3)}}

	require.NoError(t, f.cache.SetZones(station, zones))
	got, err := f.cache.Zones(station)
	require.NoError(t, err)
	assert.Equal(t, zones, got)

	f.advance(500)
	got, err = f.cache.Zones(station)
	require.NoError(t, err)
	assert.Equal(t, zones, got)

	assert.Empty(t, f.find(station))
	f.place(station, "rail")
	f.advance(6)
	rails := f.find(station)
	require.Len(t, rails, 1)
	assert.Same(t, rails[0], f.cache.head(station))

	got, err = f.cache.Zones(station)
	require.NoError(t, err)
	assert.Equal(t, zones, got)

	require.NoError(t, f.cache.SetZones(station, nil))
	got, err = f.cache.Zones(station)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemovedTrackTriggersRediscovery(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rails := f.find(above)
	require.Len(t, rails, 1)
	piece := rails[0]

	f.grid.SetBlock(origin, world.Air)
	f.advance(6)

	ok, err := piece.Verify()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, markersUnknown, piece.markers.state)
	assert.Equal(t, Tick(0), piece.railLife)

	assert.Empty(t, f.find(above))
	assert.Equal(t, 2, rail.calls)
}

func TestFailedVerifyInvalidatesFreshRailsMemo(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	piece := f.find(origin)[0]
	f.advance(3)
	require.Equal(t, []*Record{piece}, f.find(above))
	aboveHead := f.cache.head(above)
	require.Equal(t, Tick(9), aboveHead.posLife)

	f.advance(3) // tick 7, inside the memo window
	f.grid.SetBlock(origin, world.Air)
	ok, err := piece.Verify()
	require.NoError(t, err)
	require.False(t, ok)

	assert.Empty(t, f.find(above), "a memo holding a record that failed verify is not served")
	assert.Equal(t, 3, rail.calls)

	f.place(origin, "rail")
	ok, err = piece.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, piece.failed)
}

func TestForceInvalidateTypeRemovesKey(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rec := f.find(origin)[0]
	removed := f.cache.ForceInvalidateType(rail)
	assert.Equal(t, 1, removed)
	assert.False(t, rec.Alive())
	assert.Nil(t, f.cache.head(origin))
	assert.Equal(t, 0, f.cache.HeadCount())
}

func TestForceInvalidateTypeDiscardsOccupiedRecordWithWarning(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rec := f.find(origin)[0]
	_, err := f.cache.AddOccupant(rec, uuid.New())
	require.NoError(t, err)

	f.cache.ForceInvalidateType(rail)
	assert.False(t, rec.Alive())
	assert.Nil(t, f.cache.head(origin))
	warned := f.logs.FilterMessage("discarding occupied record of invalidated track type")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, zapcore.WarnLevel, warned.All()[0].Level)
}

func TestForceInvalidateTypeResetsMemosPointingAtIt(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	f.find(above)
	f.cache.ForceInvalidateType(rail)
	head := f.cache.head(above)
	require.NotNil(t, head, "the none head itself stays")
	assert.Equal(t, railsUncomputed, head.rails.state)

	rails := f.find(above)
	require.Len(t, rails, 1)
	assert.True(t, rails[0].Alive())
	assert.Equal(t, 2, rail.calls)
}

func TestFailingStrategyIsSkipped(t *testing.T) {
	broken := newCountingType("broken", "rail")
	broken.err = errors.New("chunk not ready")
	panicky := newCountingType("panicky", "rail")
	panicky.panic = true
	rail := newCountingType("rail", "rail")
	f := newFixture(t, broken, panicky, rail)
	f.place(origin, "rail")
	other := world.BlockPos{X: 9, Y: 64, Z: 9}
	f.place(other, "rail")

	rails := f.find(origin)
	require.Len(t, rails, 1)
	assert.Same(t, rail, rails[0].Type())

	rails = f.find(other)
	require.Len(t, rails, 1)
	assert.Same(t, rail, rails[0].Type())

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.strategyFailures.WithLabelValues("broken")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.strategyFailures.WithLabelValues("panicky")))

	failures := f.logs.FilterMessageSnippet("track type strategy failed")
	warns := 0
	for _, e := range failures.All() {
		if e.Level == zapcore.WarnLevel {
			warns++
		}
	}
	assert.Equal(t, 4, failures.Len())
	assert.Equal(t, 2, warns, "each strategy warns once per cache")
}

// reentrantType looks up its own query position while being searched.
type reentrantType struct {
	countingType
	cache *WorldCache
	inner []*Record
	err   error
}

func (t *reentrantType) FindReachableTrack(blocks world.BlockAccess, pos world.BlockPos) ([]world.BlockPos, error) {
	if t.calls == 0 {
		t.inner, t.err = t.cache.FindTrackAt(pos)
	}
	return t.countingType.FindReachableTrack(blocks, pos)
}

func TestReentrantLookupSeesReservedRecord(t *testing.T) {
	rt := &reentrantType{countingType: countingType{name: "loop", kind: "rail"}}
	f := newFixture(t, rt)
	rt.cache = f.cache
	f.place(origin, "rail")

	rails := f.find(origin)
	require.Len(t, rails, 1)
	assert.NoError(t, rt.err)
	assert.Empty(t, rt.inner, "inner lookup observes the unpopulated reservation")
	assert.Equal(t, 1, rt.calls)
	assert.Equal(t, 1, f.cache.HeadCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.discoveries))
}

// selfLinkingType creates its own record at the query position while being searched.
type selfLinkingType struct {
	countingType
	cache  *WorldCache
	linked *Record
	err    error
}

func (t *selfLinkingType) FindReachableTrack(blocks world.BlockAccess, pos world.BlockPos) ([]world.BlockPos, error) {
	if t.calls == 0 {
		t.linked, t.err = t.cache.LookupOrCreate(pos, t)
	}
	return t.countingType.FindReachableTrack(blocks, pos)
}

func TestReentrantCreateDuringDiscoveryRunsOnce(t *testing.T) {
	st := &selfLinkingType{countingType: countingType{name: "linker", kind: "rail"}}
	f := newFixture(t, st)
	st.cache = f.cache
	f.place(origin, "rail")

	rails := f.find(origin)
	require.Len(t, rails, 1)
	require.NoError(t, st.err)
	assert.Same(t, st.linked, rails[0], "the record created mid-discovery becomes the head")
	assert.True(t, st.linked.Alive())
	assert.Same(t, st.linked, f.cache.head(origin))

	assert.Equal(t, rails, f.find(origin))
	assert.Equal(t, 1, st.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.discoveries))
	assert.Equal(t, 1, f.cache.Len())
	assert.Equal(t, 1, f.cache.HeadCount())
}

func TestNegativeResultIsCachedThenRetried(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)

	assert.Empty(t, f.find(origin))
	assert.Empty(t, f.find(origin))
	assert.Equal(t, 1, rail.calls)
	assert.True(t, f.cache.head(origin).IsNone())

	f.place(origin, "rail")
	f.advance(6)
	rails := f.find(origin)
	require.Len(t, rails, 1)
	assert.Equal(t, 2, rail.calls)
	assert.Same(t, rails[0], f.cache.head(origin))
	assert.Equal(t, 1, f.cache.Len())
}

func TestSweepPromotesChainNext(t *testing.T) {
	fast := newCountingType("fast", "rail")
	slow := newCountingType("slow", "rail")
	f := newFixture(t, fast, slow)
	f.place(origin, "rail")

	head := f.find(origin)[0]
	f.advance(50)
	tail, err := f.cache.LookupOrCreate(origin, slow)
	require.NoError(t, err)

	removed := f.cache.Sweep(Tick(30))
	assert.Equal(t, 1, removed)
	assert.False(t, head.Alive())
	assert.Same(t, tail, f.cache.head(origin))

	f.cache.Sweep(Tick(100))
	assert.False(t, tail.Alive())
	assert.Equal(t, 0, f.cache.HeadCount())
}

func TestSweepUnlinksChainTail(t *testing.T) {
	fast := newCountingType("fast", "rail")
	slow := newCountingType("slow", "rail")
	f := newFixture(t, fast, slow)
	f.place(origin, "rail")

	head := f.find(origin)[0]
	f.advance(50)
	tail, err := f.cache.LookupOrCreate(origin, slow)
	require.NoError(t, err)
	f.advance(50)
	f.find(origin) // revalidates the head only

	f.cache.Sweep(Tick(80))
	assert.True(t, head.Alive())
	assert.False(t, tail.Alive())
	assert.Same(t, head, f.cache.head(origin))
	assert.Zero(t, head.next)

	found, err := f.cache.LookupIfPresent(origin, slow)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMarkersAreMemoizedAndRevalidated(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")
	sign := origin.Down()
	f.grid.SetBlock(sign, world.Block{Kind: "sign", Text: []string{"[train]"}})

	rec := f.find(origin)[0]
	markers, err := rec.Markers()
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, sign, markers[0].Pos)
	assert.Equal(t, rec.Handle(), markers[0].Owner)

	f.grid.SetBlock(sign, world.Air)
	markers, err = rec.Markers()
	require.NoError(t, err)
	assert.Len(t, markers, 1, "memo holds inside the grace window")

	fresh, err := f.cache.DiscoverMarkersFor(rec)
	require.NoError(t, err)
	assert.Empty(t, fresh, "direct discovery bypasses the memo")

	f.advance(6)
	markers, err = rec.Markers()
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestOccupants(t *testing.T) {
	fast := newCountingType("fast", "rail")
	slow := newCountingType("slow", "rail")
	f := newFixture(t, fast, slow)
	f.place(origin, "rail")

	head := f.find(origin)[0]
	tail, err := f.cache.LookupOrCreate(origin, slow)
	require.NoError(t, err)

	v1, v2 := uuid.New(), uuid.New()
	_, err = f.cache.AddOccupant(head, v1)
	require.NoError(t, err)
	_, err = f.cache.AddOccupant(head, v1)
	require.NoError(t, err)
	_, err = f.cache.AddOccupant(tail, v2)
	require.NoError(t, err)

	got, err := f.cache.FindOccupantsAt(origin)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{v1, v2}, got)

	assert.Equal(t, 1, f.idx.RemoveVehicleFromAllRecords(v1))
	got, err = f.cache.FindOccupantsAt(origin)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{v2}, got)

	assert.True(t, f.cache.RemoveOccupant(tail, v2))
	assert.False(t, f.cache.RemoveOccupant(tail, v2))
	got, err = f.cache.FindOccupantsAt(origin)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddOccupantReResolvesRemovedRecord(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rec := f.find(origin)[0]
	f.cache.ForceInvalidateType(rail)
	require.False(t, rec.Alive())

	v := uuid.New()
	holder, err := f.cache.AddOccupant(rec, v)
	require.NoError(t, err)
	assert.NotSame(t, rec, holder)
	assert.Equal(t, []uuid.UUID{v}, holder.Occupants())
	assert.Same(t, holder, f.cache.head(origin))
}

func TestRemovedRecordReResolvesRails(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rec := f.find(origin)[0]
	f.cache.ForceInvalidateType(rail)

	rails, err := rec.RailsAtPosition()
	require.NoError(t, err)
	require.Len(t, rails, 1)
	assert.NotSame(t, rec, rails[0])
	assert.True(t, rails[0].Alive())
}

func TestLookupOrCreateRejectsNoneAndUnregistered(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)

	_, err := f.cache.LookupOrCreate(origin, track.None)
	assert.ErrorIs(t, err, ErrNoneType)

	stray := newCountingType("stray", "rail")
	_, err = f.cache.LookupOrCreate(origin, stray)
	assert.ErrorIs(t, err, ErrTypeUnregistered)
}

func TestVerifyFailsForUnregisteredType(t *testing.T) {
	rail := newCountingType("rail", "rail")
	f := newFixture(t, rail)
	f.place(origin, "rail")

	rec := f.find(origin)[0]
	_, ok := f.reg.Unregister("rail")
	require.True(t, ok)

	ok, err := rec.Verify()
	require.NoError(t, err, "still inside the grace window")
	assert.True(t, ok)

	f.advance(6)
	_, err = rec.Verify()
	assert.ErrorIs(t, err, ErrTypeUnregistered)
}

// selfRemovingType unregisters itself while being searched.
type selfRemovingType struct {
	countingType
	reg *track.Registry
}

func (t *selfRemovingType) FindReachableTrack(blocks world.BlockAccess, pos world.BlockPos) ([]world.BlockPos, error) {
	t.reg.Unregister(t.name)
	return t.countingType.FindReachableTrack(blocks, pos)
}

func TestNewRecordVerifyFailureIsLogged(t *testing.T) {
	st := &selfRemovingType{countingType: countingType{name: "fleeting", kind: "rail"}}
	f := newFixture(t, st)
	st.reg = f.reg
	f.place(origin, "rail")

	rails := f.find(above)
	require.Len(t, rails, 1)
	assert.Equal(t, Tick(0), rails[0].railLife, "left due for re-check")

	logged := f.logs.FilterMessage("new record failed verification")
	require.Equal(t, 1, logged.Len())
	assert.Equal(t, zapcore.DebugLevel, logged.All()[0].Level)
}
