package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/nodebridge/nodebridge/internal/core/system"
	"github.com/nodebridge/nodebridge/internal/world"
)

// CleanupSystem flushes the deferred entity destruction queue at tick end,
// routing every despawn through world.State so the registry and the signal
// bridge see it. Phase 5 (Cleanup).
type CleanupSystem struct {
	state *world.State
	log   *zap.Logger
}

func NewCleanupSystem(state *world.State, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{state: state, log: log}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }
func (s *CleanupSystem) Name() string         { return "cleanup" }

func (s *CleanupSystem) Update(_ time.Duration) {
	if n := s.state.FlushDestroyQueue(); n > 0 {
		s.log.Debug("destroy queue flushed", zap.Int("entities", n))
	}
}
