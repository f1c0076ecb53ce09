package system

import (
	"time"

	coresys "github.com/railgo/server/internal/core/system"
	"github.com/railgo/server/internal/railcache"
	"go.uber.org/zap"
)

// RailMaintenanceSystem advances the rail cache clock once per tick, which
// also sweeps stale records and releases unloaded or idle worlds.
// Phase 1 (Maintenance).
type RailMaintenanceSystem struct {
	idx        *railcache.Index
	log        *zap.Logger
	statsEvery int
	tickCount  int
}

// NewRailMaintenanceSystem logs cache stats every statsEvery ticks; 0 disables it.
func NewRailMaintenanceSystem(idx *railcache.Index, statsEvery int, log *zap.Logger) *RailMaintenanceSystem {
	return &RailMaintenanceSystem{idx: idx, statsEvery: statsEvery, log: log}
}

func (s *RailMaintenanceSystem) Phase() coresys.Phase { return coresys.PhaseMaintenance }

func (s *RailMaintenanceSystem) Update(_ time.Duration) {
	s.idx.Tick()
	s.tickCount++

	if s.statsEvery > 0 && s.tickCount%s.statsEvery == 0 {
		st := s.idx.Stats()
		s.log.Debug("rail cache stats",
			zap.Uint64("tick", uint64(s.idx.Now())),
			zap.Int("worlds", st.Worlds),
			zap.Int("heads", st.Heads),
			zap.Int("records", st.Records))
	}
}
