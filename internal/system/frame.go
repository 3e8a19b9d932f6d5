package system

import (
	"time"

	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/core/event"
	coresys "github.com/nodebridge/nodebridge/internal/core/system"
)

// FrameSystem starts a tick: it advances the world clock and rotates the
// message bus. Phase 0 (First), registered before every other system.
type FrameSystem struct {
	world *ecs.World
	bus   *event.Bus
}

func NewFrameSystem(world *ecs.World, bus *event.Bus) *FrameSystem {
	return &FrameSystem{world: world, bus: bus}
}

func (s *FrameSystem) Phase() coresys.Phase   { return coresys.PhaseFirst }
func (s *FrameSystem) Name() string           { return "frame" }
func (s *FrameSystem) Access() coresys.Access { return coresys.Access{Exclusive: true} }

func (s *FrameSystem) Update(_ time.Duration) {
	s.world.Clock().Advance()
	s.bus.SwapBuffers()
}

// DispatchSystem hands the messages delivered this tick to bus subscribers.
// Phase 3 (PostUpdate).
type DispatchSystem struct {
	bus *event.Bus
}

func NewDispatchSystem(bus *event.Bus) *DispatchSystem {
	return &DispatchSystem{bus: bus}
}

func (s *DispatchSystem) Phase() coresys.Phase   { return coresys.PhasePostUpdate }
func (s *DispatchSystem) Name() string           { return "dispatch" }
func (s *DispatchSystem) Access() coresys.Access { return coresys.Access{Exclusive: true} }

func (s *DispatchSystem) Update(_ time.Duration) {
	s.bus.DispatchAll()
}
