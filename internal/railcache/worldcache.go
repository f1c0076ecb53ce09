package railcache

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/railgo/server/internal/config"
	"github.com/railgo/server/internal/core/arena"
	"github.com/railgo/server/internal/marker"
	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
	"github.com/railgo/server/internal/zone"
	"go.uber.org/zap"
)

// Strategies is the ordered track type set consulted during discovery.
type Strategies interface {
	Types() []track.Type
}

// MarkerDiscovery enumerates the markers of a track piece.
type MarkerDiscovery interface {
	Discover(blocks world.BlockAccess, pos world.BlockPos, owner arena.Handle) []marker.Marker
}

// WorldCache is the rail cache of one world. Records live in a slot-map
// arena; heads maps a position to the first record of its chain.
// Accessed only from the game loop goroutine.
type WorldCache struct {
	id      uuid.UUID
	blocks  world.BlockAccess
	types   Strategies
	finder  MarkerDiscovery
	clock   *Clock
	cfg     config.CacheConfig
	log     *zap.Logger
	metrics *Metrics

	heads   map[world.BlockPos]arena.Handle
	records *arena.Arena[*Record]
	failing map[track.Type]struct{}

	closed    bool
	idleTicks int
}

func newWorldCache(id uuid.UUID, blocks world.BlockAccess, idx *Index) *WorldCache {
	return &WorldCache{
		id:      id,
		blocks:  blocks,
		types:   idx.types,
		finder:  idx.finder,
		clock:   idx.clock,
		cfg:     idx.cfg,
		log:     idx.log.With(zap.Stringer("world", id)),
		metrics: idx.metrics,
		heads:   make(map[world.BlockPos]arena.Handle, 256),
		records: arena.New[*Record](256),
		failing: make(map[track.Type]struct{}),
	}
}

func (c *WorldCache) ID() uuid.UUID  { return c.id }
func (c *WorldCache) Closed() bool   { return c.closed }
func (c *WorldCache) Len() int       { return c.records.Len() }
func (c *WorldCache) HeadCount() int { return len(c.heads) }

// FindTrackAt returns the records that control movement starting at pos.
// A position nobody has asked about yet runs full discovery and publishes a
// chain head for it, the none sentinel when no strategy finds track.
func (c *WorldCache) FindTrackAt(pos world.BlockPos) ([]*Record, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	if head := c.head(pos); head != nil {
		c.metrics.hit()
		return head.RailsAtPosition()
	}
	c.metrics.miss()
	head := c.reserve(pos, track.None)
	return c.populateRails(head), nil
}

// LookupOrCreate returns the record for exactly (pos, t), creating it and
// linking it into the chain at pos if needed.
func (c *WorldCache) LookupOrCreate(pos world.BlockPos, t track.Type) (*Record, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	if track.IsNone(t) {
		return nil, ErrNoneType
	}
	if !t.IsRegistered() {
		return nil, fmt.Errorf("lookup %s at %s: %w", t.Name(), pos, ErrTypeUnregistered)
	}
	return c.lookupOrCreate(pos, t), nil
}

// LookupIfPresent returns the record for (pos, t), or nil if there is none.
// It never creates records.
func (c *WorldCache) LookupIfPresent(pos world.BlockPos, t track.Type) (*Record, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	for cur := c.head(pos); cur != nil; cur = c.get(cur.next) {
		if cur.typ == t {
			return cur, nil
		}
	}
	return nil, nil
}

// DiscoverMarkersFor always scans the world. Use Record.Markers for the
// memoized list.
func (c *WorldCache) DiscoverMarkersFor(r *Record) ([]marker.Marker, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	return c.discoverMarkers(r), nil
}

func (c *WorldCache) discoverMarkers(r *Record) []marker.Marker {
	if c.finder == nil {
		return nil
	}
	return c.finder.Discover(c.blocks, r.pos, r.handle)
}

func (c *WorldCache) lookupOrCreate(pos world.BlockPos, t track.Type) *Record {
	head := c.head(pos)
	switch {
	case head == nil:
		rec := c.reserve(pos, t)
		c.prime(rec)
		return rec
	case head.IsNone() && !head.populating:
		return c.swapOutNoneType(head, t)
	default:
		// A head still being populated keeps its key; discovery swaps it
		// for the appended record when it finishes.
		return c.findOrAppendToChain(head, t)
	}
}

// prime runs the first verify of a new record. A miss only leaves the record
// due for re-check, so the answer is not needed here.
func (c *WorldCache) prime(r *Record) {
	if _, err := r.Verify(); err != nil {
		c.log.Debug("new record failed verification", zap.Stringer("record", r), zap.Error(err))
	}
}

// populateRails runs discovery for r's position and memoizes the result.
// r stays reserved (populating) for the duration, so a reentrant lookup of the
// same key sees it instead of starting a second discovery.
func (c *WorldCache) populateRails(r *Record) []*Record {
	c.metrics.discoveries.Inc()
	r.populating = true
	winner, cells := c.discover(r.pos)
	now := c.clock.Now()
	if winner == nil {
		r.populating = false
		r.rails = railsMemo{state: railsNegative}
		r.posLife = now.add(c.cfg.PositionTicks)
		return nil
	}

	holder := r
	rails := make([]*Record, 0, len(cells))
	for _, p := range cells {
		var rec *Record
		switch {
		case p != r.pos:
			rec = c.lookupOrCreate(p, winner)
		case holder.typ == winner:
			rec = holder
		case holder.IsNone() && c.isHead(holder):
			holder = c.swapOutNoneType(holder, winner)
			rec = holder
		default:
			rec = c.findOrAppendToChain(c.head(p), winner)
		}
		rails = append(rails, rec)
	}
	r.populating = false
	holder.populating = false
	holder.rails = railsMemo{state: railsComputed, list: rails}
	holder.posLife = now.add(c.cfg.PositionTicks)
	return rails
}

// discover asks each strategy in priority order; the first non-empty answer
// wins. A failing strategy is skipped for this query only.
func (c *WorldCache) discover(pos world.BlockPos) (track.Type, []world.BlockPos) {
	for _, t := range c.types.Types() {
		if !t.IsRegistered() {
			continue
		}
		cells, err := c.search(t, pos)
		if err != nil {
			c.strategyFailed(t, pos, err)
			continue
		}
		if len(cells) > 0 {
			return t, cells
		}
	}
	return nil, nil
}

func (c *WorldCache) search(t track.Type, pos world.BlockPos) (cells []world.BlockPos, err error) {
	defer func() {
		if p := recover(); p != nil {
			cells = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.FindReachableTrack(c.blocks, pos)
}

func (c *WorldCache) strategyFailed(t track.Type, pos world.BlockPos, err error) {
	c.metrics.strategyFailures.WithLabelValues(t.Name()).Inc()
	fields := []zap.Field{zap.String("type", t.Name()), zap.Stringer("pos", pos), zap.Error(err)}
	if _, seen := c.failing[t]; seen {
		c.log.Debug("track type strategy failed", fields...)
		return
	}
	c.failing[t] = struct{}{}
	c.log.Warn("track type strategy failed, skipping it for this lookup", fields...)
}

// ── chain maintenance ─────────────────────────────────────────────

func (c *WorldCache) get(h arena.Handle) *Record {
	r, ok := c.records.Get(h)
	if !ok {
		return nil
	}
	return r
}

func (c *WorldCache) head(pos world.BlockPos) *Record {
	h, ok := c.heads[pos]
	if !ok {
		return nil
	}
	return c.get(h)
}

func (c *WorldCache) isHead(r *Record) bool {
	h, ok := c.heads[r.pos]
	return ok && h == r.handle
}

func (c *WorldCache) newRecord(pos world.BlockPos, t track.Type) *Record {
	r := &Record{cache: c, pos: pos, typ: t}
	r.handle = c.records.Insert(r)
	c.metrics.records.Inc()
	return r
}

// reserve publishes a new, unpopulated chain head at pos.
func (c *WorldCache) reserve(pos world.BlockPos, t track.Type) *Record {
	r := c.newRecord(pos, t)
	c.heads[pos] = r.handle
	return r
}

func (c *WorldCache) headOrReserve(pos world.BlockPos) *Record {
	if head := c.head(pos); head != nil {
		return head
	}
	return c.reserve(pos, track.None)
}

// findOrAppendToChain walks the chain from head and returns the record of
// type t, appending a new one at the tail when absent.
func (c *WorldCache) findOrAppendToChain(head *Record, t track.Type) *Record {
	tail := head
	for cur := head; cur != nil; cur = c.get(cur.next) {
		if cur.typ == t {
			return cur
		}
		tail = cur
	}
	r := c.newRecord(head.pos, t)
	tail.next = r.handle
	c.prime(r)
	return r
}

// swapOutNoneType replaces the none head old with a record of type t under
// the same key. A record of type t already further down the chain is promoted
// rather than duplicated. The rails memo and zones move over. An occupied old
// record stays in the chain behind the new head instead of being dropped.
func (c *WorldCache) swapOutNoneType(old *Record, t track.Type) *Record {
	r := c.chainRecord(old, t)
	if r != nil {
		c.unlink(r)
	} else {
		r = c.newRecord(old.pos, t)
	}
	if r.rails.state == railsUncomputed {
		r.rails = old.rails
		r.posLife = old.posLife
	}
	r.zones, old.zones = append(old.zones, r.zones...), nil
	if len(old.occupants) > 0 {
		r.next = old.handle
	} else {
		r.next = old.next
		c.kill(old, "replaced")
	}
	c.heads[r.pos] = r.handle
	c.prime(r)
	return r
}

// chainRecord returns the record of type t after head in its chain.
func (c *WorldCache) chainRecord(head *Record, t track.Type) *Record {
	for cur := c.get(head.next); cur != nil; cur = c.get(cur.next) {
		if cur.typ == t {
			return cur
		}
	}
	return nil
}

// unlink detaches r from its chain. A removed head is replaced by its
// successor; the key disappears with the last record.
func (c *WorldCache) unlink(r *Record) {
	h, ok := c.heads[r.pos]
	if !ok {
		return
	}
	if h == r.handle {
		if c.records.Alive(r.next) {
			c.heads[r.pos] = r.next
		} else {
			delete(c.heads, r.pos)
		}
		return
	}
	for cur := c.get(h); cur != nil; cur = c.get(cur.next) {
		if cur.next == r.handle {
			cur.next = r.next
			return
		}
	}
}

func (c *WorldCache) kill(r *Record, reason string) {
	r.dead = true
	r.populating = false
	c.records.Remove(r.handle)
	c.metrics.evicted(reason, 1)
}

// ── maintenance ───────────────────────────────────────────────────

// Sweep drops every record last verified before deadline, unless it has
// occupants or zones. Returns the number of records dropped.
func (c *WorldCache) Sweep(deadline Tick) int {
	if c.closed {
		return 0
	}
	removed := 0
	c.records.Each(func(_ arena.Handle, r *Record) {
		if r.railLife >= deadline || r.posLife >= deadline || !r.evictable() {
			return
		}
		c.unlink(r)
		c.kill(r, "stale")
		removed++
	})
	return removed
}

// ForceInvalidateAll forgets every discovery result. Records stay; the next
// access recomputes.
func (c *WorldCache) ForceInvalidateAll() {
	c.failing = make(map[track.Type]struct{})
	c.records.Each(func(_ arena.Handle, r *Record) {
		r.invalidate()
	})
}

// ForceInvalidateType removes every record of type t. Occupants and zones on
// those records are discarded; what that means for the vehicles is up to the
// physics side. Memos that pointed at removed records are reset.
func (c *WorldCache) ForceInvalidateType(t track.Type) int {
	delete(c.failing, t)
	removed := 0
	c.records.Each(func(_ arena.Handle, r *Record) {
		if r.typ != t {
			return
		}
		if len(r.occupants) > 0 || len(r.zones) > 0 {
			c.log.Warn("discarding occupied record of invalidated track type",
				zap.String("type", t.Name()),
				zap.Stringer("pos", r.pos),
				zap.Int("occupants", len(r.occupants)),
				zap.Int("zones", len(r.zones)))
		}
		c.unlink(r)
		c.kill(r, "invalidated")
		removed++
	})
	if removed > 0 {
		c.records.Each(func(_ arena.Handle, r *Record) {
			if r.railsReferenceDead() {
				r.invalidate()
			}
		})
	}
	return removed
}

// BlockChanged marks records around an edited cell as due for re-check.
// Records further away keep their grace window.
func (c *WorldCache) BlockChanged(pos world.BlockPos) {
	if c.closed {
		return
	}
	stale := c.clock.Now().sub(1)
	for dy := -1; dy <= 2; dy++ {
		for cur := c.head(pos.Add(0, dy, 0)); cur != nil; cur = c.get(cur.next) {
			if cur.railLife > stale {
				cur.railLife = stale
			}
			if cur.posLife > stale {
				cur.posLife = stale
			}
		}
	}
}

// close marks every record dead and releases them.
func (c *WorldCache) close() {
	if c.closed {
		return
	}
	n := c.records.Len()
	c.records.Each(func(_ arena.Handle, r *Record) {
		r.dead = true
	})
	c.records.Clear()
	clear(c.heads)
	c.closed = true
	c.metrics.evicted("closed", n)
}

// ── occupants and zones ───────────────────────────────────────────

// AddOccupant registers vehicle v on r. A record removed since the caller
// obtained it is re-resolved by key first; the record that ends up holding
// the occupant is returned.
func (c *WorldCache) AddOccupant(r *Record, v uuid.UUID) (*Record, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	if r.dead {
		if r.IsNone() {
			r = c.headOrReserve(r.pos)
		} else {
			var err error
			if r, err = c.LookupOrCreate(r.pos, r.typ); err != nil {
				return nil, err
			}
		}
	}
	r.addOccupant(v)
	return r, nil
}

// RemoveOccupant unregisters v from r. Returns false if it was not there.
func (c *WorldCache) RemoveOccupant(r *Record, v uuid.UUID) bool {
	if c.closed || r.dead {
		return false
	}
	return r.removeOccupant(v)
}

func (c *WorldCache) removeVehicle(v uuid.UUID) int {
	n := 0
	c.records.Each(func(_ arena.Handle, r *Record) {
		if r.removeOccupant(v) {
			n++
		}
	})
	return n
}

// FindOccupantsAt lists the vehicles on every record of the chain at pos.
func (c *WorldCache) FindOccupantsAt(pos world.BlockPos) ([]uuid.UUID, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	var out []uuid.UUID
	for cur := c.head(pos); cur != nil; cur = c.get(cur.next) {
		out = append(out, cur.occupants...)
	}
	return out, nil
}

// SetZones stores zones verbatim on the head at pos. An empty list clears.
func (c *WorldCache) SetZones(pos world.BlockPos, zones []zone.Zone) error {
	if c.closed {
		return ErrCacheClosed
	}
	if len(zones) == 0 {
		if head := c.head(pos); head != nil {
			head.zones = nil
		}
		return nil
	}
	head := c.headOrReserve(pos)
	if !zone.Equal(head.zones, zones) {
		head.zones = slices.Clone(zones)
	}
	return nil
}

func (c *WorldCache) Zones(pos world.BlockPos) ([]zone.Zone, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	head := c.head(pos)
	if head == nil {
		return nil, nil
	}
	return slices.Clone(head.zones), nil
}

// EachZone visits every position holding zones.
func (c *WorldCache) EachZone(fn func(world.BlockPos, []zone.Zone)) {
	c.records.Each(func(_ arena.Handle, r *Record) {
		if len(r.zones) > 0 {
			fn(r.pos, r.zones)
		}
	})
}
