package system

import (
	"time"

	coresys "github.com/railgo/server/internal/core/system"
)

// CleanupSystem unloads derailed carts at tick end. Phase 4 (Cleanup).
type CleanupSystem struct {
	carts *CartSystem
}

func NewCleanupSystem(carts *CartSystem) *CleanupSystem {
	return &CleanupSystem{carts: carts}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.carts.FlushDerailed()
}
