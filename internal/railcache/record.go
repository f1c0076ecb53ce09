package railcache

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/railgo/server/internal/core/arena"
	"github.com/railgo/server/internal/marker"
	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
	"github.com/railgo/server/internal/zone"
	"go.uber.org/zap"
)

type railsState uint8

const (
	railsUncomputed railsState = iota
	railsComputed
	railsNegative // discovery found nothing here
)

// railsMemo is the memoized answer to "which records control movement
// starting at this position".
type railsMemo struct {
	state railsState
	list  []*Record
}

type markerState uint8

const (
	markersUncomputed markerState = iota
	markersComputed
	markersUnknown // track was missing at the last verify
)

type markerMemo struct {
	state markerState
	list  []marker.Marker
}

// Record is the cached state of one track piece: a (position, type) pair.
// Records sharing a position are chained through next; only the chain head
// is reachable from the cache's key map.
type Record struct {
	cache  *WorldCache
	handle arena.Handle
	pos    world.BlockPos
	typ    track.Type
	next   arena.Handle

	railLife Tick // verified as track until this tick
	posLife  Tick // rails memo trusted until this tick

	dead       bool
	failed     bool // last verify found no track; cleared by the next success
	populating bool

	rails   railsMemo
	markers markerMemo

	occupants []uuid.UUID
	zones     []zone.Zone
}

func (r *Record) Pos() world.BlockPos    { return r.pos }
func (r *Record) Type() track.Type       { return r.typ }
func (r *Record) Handle() arena.Handle   { return r.handle }
func (r *Record) World() uuid.UUID       { return r.cache.id }
func (r *Record) Alive() bool            { return !r.dead }
func (r *Record) IsNone() bool           { return track.IsNone(r.typ) }
func (r *Record) GridPos() world.Pos     { return world.Pos{World: r.cache.id, BlockPos: r.pos} }
func (r *Record) Occupants() []uuid.UUID { return slices.Clone(r.occupants) }
func (r *Record) Zones() []zone.Zone     { return slices.Clone(r.zones) }

func (r *Record) String() string {
	return fmt.Sprintf("%s[%s]", r.typ.Name(), r.pos)
}

// evictable reports whether the sweep may drop this record.
func (r *Record) evictable() bool {
	return len(r.occupants) == 0 && len(r.zones) == 0 && !r.populating
}

// Verify checks that the record still describes real track. A fresh record
// returns true without touching the world. When the track is gone the marker
// memo turns unknown and the record is due for an immediate re-check; that
// false return is the only signal that discovery must run again.
func (r *Record) Verify() (bool, error) {
	c := r.cache
	if c.closed {
		return false, ErrCacheClosed
	}
	if r.dead {
		return false, nil
	}
	now := c.clock.Now()
	if r.railLife >= now {
		return true, nil
	}
	if !r.typ.IsRegistered() {
		return false, fmt.Errorf("verify %s: %w", r, ErrTypeUnregistered)
	}
	if !r.typ.IsTrackCell(c.blocks, r.pos) {
		r.markers = markerMemo{state: markersUnknown}
		r.railLife = 0
		r.failed = true
		return false, nil
	}
	r.failed = false
	r.railLife = now.add(c.cfg.VerifyTicks)
	r.refreshMarkers()
	return true, nil
}

// refreshMarkers revalidates the marker memo. Any missing marker causes the
// whole list to be rediscovered, never patched.
func (r *Record) refreshMarkers() {
	c := r.cache
	if r.markers.state == markersComputed && marker.AllPresent(c.blocks, r.markers.list) {
		return
	}
	r.markers = markerMemo{state: markersComputed, list: c.discoverMarkers(r)}
}

// Markers returns the memoized markers, or nil when the track is missing.
func (r *Record) Markers() ([]marker.Marker, error) {
	ok, err := r.Verify()
	if err != nil || !ok {
		return nil, err
	}
	return r.markers.list, nil
}

// RailsAtPosition returns the records that control movement starting at this
// record's position. The result is shared and must not be modified.
// A removed record re-resolves through its cache by position.
func (r *Record) RailsAtPosition() ([]*Record, error) {
	c := r.cache
	if c.closed {
		return nil, ErrCacheClosed
	}
	if r.dead {
		return c.FindTrackAt(r.pos)
	}
	if r.populating {
		// Reentrant call during discovery: observe the reserved state.
		return r.rails.list, nil
	}
	now := c.clock.Now()
	if r.rails.state != railsUncomputed && r.posLife >= now && !r.railsReferenceStale() {
		return r.rails.list, nil
	}
	if r.rails.state == railsComputed && r.railsStillValid() {
		r.posLife = now.add(c.cfg.PositionTicks)
		return r.rails.list, nil
	}
	return c.populateRails(r), nil
}

func (r *Record) railsStillValid() bool {
	for _, e := range r.rails.list {
		ok, err := e.Verify()
		if err != nil {
			r.cache.log.Debug("rails memo element failed verification",
				zap.Stringer("record", r), zap.Stringer("element", e), zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// invalidate drops every discovery-derived field so the next access
// recomputes from scratch.
func (r *Record) invalidate() {
	r.rails = railsMemo{}
	r.posLife = 0
	r.markers = markerMemo{state: markersUnknown}
	r.railLife = 0
	r.failed = false
}

// railsReferenceDead reports whether the rails memo points at a removed record.
func (r *Record) railsReferenceDead() bool {
	for _, e := range r.rails.list {
		if e.dead {
			return true
		}
	}
	return false
}

// railsReferenceStale is railsReferenceDead plus records whose last verify failed.
func (r *Record) railsReferenceStale() bool {
	for _, e := range r.rails.list {
		if e.dead || e.failed {
			return true
		}
	}
	return false
}

func (r *Record) addOccupant(v uuid.UUID) bool {
	if slices.Contains(r.occupants, v) {
		return false
	}
	r.occupants = append(r.occupants, v)
	return true
}

func (r *Record) removeOccupant(v uuid.UUID) bool {
	i := slices.Index(r.occupants, v)
	if i < 0 {
		return false
	}
	r.occupants = slices.Delete(r.occupants, i, i+1)
	return true
}

// SwapOutNoneType replaces this none chain head with a record of type t
// published under the same key. See WorldCache.swapOutNoneType.
func (r *Record) SwapOutNoneType(t track.Type) (*Record, error) {
	c := r.cache
	switch {
	case c.closed:
		return nil, ErrCacheClosed
	case r.dead || !r.IsNone() || !c.isHead(r):
		return nil, fmt.Errorf("swap out %s: not a live none head", r)
	case track.IsNone(t):
		return nil, ErrNoneType
	case !t.IsRegistered():
		return nil, fmt.Errorf("swap out %s for %s: %w", r, t.Name(), ErrTypeUnregistered)
	}
	return c.swapOutNoneType(r, t), nil
}

// FindOrAppendToChain returns the record of type t in this record's chain,
// appending one at the tail when missing.
func (r *Record) FindOrAppendToChain(t track.Type) (*Record, error) {
	c := r.cache
	switch {
	case c.closed:
		return nil, ErrCacheClosed
	case r.dead:
		return c.LookupOrCreate(r.pos, t)
	case track.IsNone(t):
		return nil, ErrNoneType
	case !t.IsRegistered():
		return nil, fmt.Errorf("append %s to %s: %w", t.Name(), r, ErrTypeUnregistered)
	}
	return c.findOrAppendToChain(r, t), nil
}
