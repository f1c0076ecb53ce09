package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput       Phase = iota // 0: dispatch last tick's events
	PhaseMaintenance              // 1: advance the logical clock, sweep rail caches
	PhaseUpdate                   // 2: physics and occupancy updates
	PhasePostUpdate               // 3: lookups triggered by movement
	PhaseCleanup                  // 4: end-of-tick bookkeeping
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
