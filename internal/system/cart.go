package system

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/railgo/server/internal/component"
	"github.com/railgo/server/internal/core/arena"
	"github.com/railgo/server/internal/core/event"
	coresys "github.com/railgo/server/internal/core/system"
	"github.com/railgo/server/internal/railcache"
	"github.com/railgo/server/internal/world"
	"go.uber.org/zap"
)

// ErrNoTrack is returned when spawning a cart where no track is found.
var ErrNoTrack = errors.New("no track at spawn position")

// CartSystem moves carts along their velocity and keeps rail cache occupancy
// in step with the cell each cart is in. A cart stops on a marker whose
// header matches stopHeader and derails when it leaves the track.
// Phase 2 (Update).
type CartSystem struct {
	carts      *arena.Arena[*component.Cart]
	idx        *railcache.Index
	bus        *event.Bus
	stopHeader string
	log        *zap.Logger
}

func NewCartSystem(idx *railcache.Index, bus *event.Bus, stopHeader string, log *zap.Logger) *CartSystem {
	return &CartSystem{
		carts:      arena.New[*component.Cart](64),
		idx:        idx,
		bus:        bus,
		stopHeader: stopHeader,
		log:        log,
	}
}

func (s *CartSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

// Spawn places a cart at pos. The cell must resolve to track.
func (s *CartSystem) Spawn(worldID uuid.UUID, pos, vel mgl64.Vec3) (arena.Handle, error) {
	rails, err := s.idx.FindTrackAtVec(worldID, pos)
	if err != nil {
		return 0, fmt.Errorf("spawn cart: %w", err)
	}
	if len(rails) == 0 {
		return 0, fmt.Errorf("spawn cart at %s: %w", world.BlockPosFromVec(pos), ErrNoTrack)
	}
	c := &component.Cart{
		ID:       uuid.New(),
		World:    worldID,
		Position: pos,
		Velocity: vel,
		Cell:     world.BlockPosFromVec(pos),
	}
	if c.Track, err = s.idx.AddOccupant(rails[0], c.ID); err != nil {
		return 0, fmt.Errorf("spawn cart: %w", err)
	}
	s.log.Debug("cart spawned", zap.Stringer("cart", c.ID), zap.Stringer("track", c.Track))
	return s.carts.Insert(c), nil
}

func (s *CartSystem) Cart(h arena.Handle) (*component.Cart, bool) {
	return s.carts.Get(h)
}

func (s *CartSystem) Len() int { return s.carts.Len() }

// Moving counts carts that are neither stopped nor derailed.
func (s *CartSystem) Moving() int {
	n := 0
	s.carts.Each(func(_ arena.Handle, c *component.Cart) {
		if !c.Stopped && !c.Derailed {
			n++
		}
	})
	return n
}

func (s *CartSystem) Update(_ time.Duration) {
	s.carts.Each(func(_ arena.Handle, c *component.Cart) {
		if c.Stopped || c.Derailed {
			return
		}
		s.step(c)
	})
}

func (s *CartSystem) step(c *component.Cart) {
	c.Position = c.Position.Add(c.Velocity)
	cell := world.BlockPosFromVec(c.Position)
	if cell == c.Cell && c.Track != nil && c.Track.Alive() {
		return
	}
	c.Cell = cell

	rails, err := s.idx.FindTrackAtVec(c.World, c.Position)
	if err != nil {
		s.log.Warn("cart track lookup failed", zap.Stringer("cart", c.ID), zap.Error(err))
		s.derail(c)
		return
	}
	if len(rails) == 0 {
		s.derail(c)
		return
	}

	next := rails[0]
	if c.Track != nil && c.Track != next {
		s.idx.RemoveOccupant(c.Track, c.ID)
	}
	if c.Track, err = s.idx.AddOccupant(next, c.ID); err != nil {
		s.log.Warn("cart occupancy update failed", zap.Stringer("cart", c.ID), zap.Error(err))
		s.derail(c)
		return
	}
	c.Traveled++

	for _, z := range c.Track.Zones() {
		if z.Contains(c.Track.Pos()) {
			s.log.Debug("cart in zone", zap.Stringer("cart", c.ID), zap.String("zone", z.Name))
		}
	}

	markers, err := c.Track.Markers()
	if err != nil {
		s.log.Warn("cart marker lookup failed", zap.Stringer("cart", c.ID), zap.Error(err))
		return
	}
	for _, m := range markers {
		if s.stopHeader != "" && strings.EqualFold(m.Header, s.stopHeader) {
			c.Stopped = true
			s.log.Info("cart stopped at marker",
				zap.Stringer("cart", c.ID),
				zap.Stringer("marker", m.Pos),
				zap.Int("traveled", c.Traveled))
			return
		}
	}
}

func (s *CartSystem) derail(c *component.Cart) {
	if c.Track != nil {
		s.idx.RemoveOccupant(c.Track, c.ID)
		c.Track = nil
	}
	c.Derailed = true
	s.log.Info("cart left the track",
		zap.Stringer("cart", c.ID),
		zap.Stringer("cell", c.Cell),
		zap.Int("traveled", c.Traveled))
}

// FlushDerailed unloads every derailed cart and announces it on the bus so the
// rail cache drops any occupancy it still holds. Returns the number removed.
func (s *CartSystem) FlushDerailed() int {
	n := 0
	s.carts.Each(func(h arena.Handle, c *component.Cart) {
		if !c.Derailed {
			return
		}
		event.Emit(s.bus, event.VehicleUnloaded{Vehicle: c.ID})
		s.carts.Remove(h)
		n++
	})
	return n
}
