package system

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/collision"
	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/event"
	coresys "github.com/nodebridge/nodebridge/internal/core/system"
	"github.com/nodebridge/nodebridge/internal/signal"
	"github.com/nodebridge/nodebridge/internal/world"
)

// ResourceCollisions orders the collision system against tracker readers.
const ResourceCollisions = "collisions"

// CollisionWatchSystem connects the contact signals of every spawned node
// whose mask has body_entered or area_entered.
// Phase 0 (First), between the scene tree and signal systems.
type CollisionWatchSystem struct {
	bridge  *signal.Bridge
	bus     *event.Bus
	entered uint64
	bits    map[string]uint64
	log     *zap.Logger
}

// NewCollisionWatchSystem fails when a contact signal is not watched.
func NewCollisionWatchSystem(bridge *signal.Bridge, signals SignalBits, bus *event.Bus, log *zap.Logger) (*CollisionWatchSystem, error) {
	s := &CollisionWatchSystem{bridge: bridge, bus: bus, bits: make(map[string]uint64, len(collision.Signals)), log: log}
	for _, name := range collision.Signals {
		bit, ok := signals.SignalBit(name)
		if !ok {
			return nil, fmt.Errorf("collisions: signal %q is not watched", name)
		}
		s.bits[name] = bit
	}
	s.entered = s.bits[collision.BodyEntered] | s.bits[collision.AreaEntered]
	return s, nil
}

func (s *CollisionWatchSystem) Phase() coresys.Phase { return coresys.PhaseFirst }
func (s *CollisionWatchSystem) Name() string         { return "collision_watch" }

func (s *CollisionWatchSystem) Access() coresys.Access {
	return coresys.Access{Writes: []string{ResourceBindings}}
}

func (s *CollisionWatchSystem) Update(_ time.Duration) {
	for _, spawned := range event.Read[event.NodeSpawned](s.bus) {
		if spawned.Signals&s.entered == 0 {
			continue
		}
		mask := component.SignalMask{Bits: spawned.Signals}
		n := 0
		for _, name := range collision.Signals {
			if !mask.Has(s.bits[name]) {
				continue
			}
			signal.ConnectDeferred(s.bridge, spawned.Entity, name, collision.MapContact)
			n++
		}
		s.log.Debug("contact signals queued",
			zap.Uint64("entity", uint64(spawned.Entity)),
			zap.String("class", spawned.Class),
			zap.Int("signals", n),
		)
	}
}

// CollisionSystem folds captured contacts into the tracker and delivers
// CollisionStarted and CollisionEnded for every change of the touching set.
// Contacts of despawned entities end when the entity goes.
// Phase 1 (PreUpdate).
type CollisionSystem struct {
	state   *world.State
	tracker *collision.Tracker
	bus     *event.Bus
	log     *zap.Logger
}

func NewCollisionSystem(state *world.State, tracker *collision.Tracker, bus *event.Bus, log *zap.Logger) *CollisionSystem {
	return &CollisionSystem{state: state, tracker: tracker, bus: bus, log: log}
}

func (s *CollisionSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }
func (s *CollisionSystem) Name() string         { return "collisions" }

func (s *CollisionSystem) Access() coresys.Access {
	return coresys.Access{
		Reads:  []string{world.StoreHandle},
		Writes: []string{ResourceCollisions},
	}
}

func (s *CollisionSystem) Update(_ time.Duration) {
	t := s.tracker
	t.BeginFrame()

	for _, gone := range event.Read[event.NodeDespawned](s.bus) {
		for _, p := range t.Forget(gone.Entity) {
			event.Deliver(s.bus, event.CollisionEnded{Entity1: p.A, Entity2: p.B})
		}
	}

	for _, c := range event.Read[collision.Contact](s.bus) {
		if !s.state.World.Alive(c.Origin) {
			continue
		}
		other, ok := s.state.EntityOf(c.Target)
		if !ok {
			s.log.Debug("contact with unmirrored node", zap.Int64("native_id", int64(c.Target)))
			continue
		}
		p := collision.NewPair(c.Origin, other)
		if c.Started {
			if t.Start(p.A, p.B) {
				event.Deliver(s.bus, event.CollisionStarted{Entity1: p.A, Entity2: p.B})
			}
		} else if t.End(p.A, p.B) {
			event.Deliver(s.bus, event.CollisionEnded{Entity1: p.A, Entity2: p.B})
		}
	}
}
