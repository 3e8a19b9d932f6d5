package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/core/event"
	coresys "github.com/nodebridge/nodebridge/internal/core/system"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/scene"
	"github.com/nodebridge/nodebridge/internal/world"
)

// SceneTreeSystem is the entity lifecycle manager. It drains the scene event
// channel completely and applies each event in order: spawning, stripping
// or despawning entities and keeping the node registry in step. It is the
// only writer of the registry and runs alone in its stage.
// Phase 0 (First), after FrameSystem.
type SceneTreeSystem struct {
	state *world.State
	ch    *scene.Channel
	bus   *event.Bus
	log   *zap.Logger
}

func NewSceneTreeSystem(state *world.State, ch *scene.Channel, bus *event.Bus, log *zap.Logger) *SceneTreeSystem {
	return &SceneTreeSystem{state: state, ch: ch, bus: bus, log: log}
}

func (s *SceneTreeSystem) Phase() coresys.Phase   { return coresys.PhaseFirst }
func (s *SceneTreeSystem) Name() string           { return "scene_tree" }
func (s *SceneTreeSystem) Access() coresys.Access { return coresys.Access{Exclusive: true} }

func (s *SceneTreeSystem) Update(_ time.Duration) {
	for _, ev := range s.ch.Drain() {
		s.apply(ev)
	}
}

func (s *SceneTreeSystem) apply(ev scene.Event) {
	switch ev.Kind {
	case scene.Added:
		s.added(ev)
	case scene.Removed:
		s.removed(ev)
	case scene.Renamed:
		s.renamed(ev)
	case scene.Reparented:
		s.reparented(ev)
	default:
		s.log.Error("unknown scene event kind", zap.Uint8("kind", uint8(ev.Kind)), zap.Int64("native_id", int64(ev.ID)))
	}
}

func (s *SceneTreeSystem) added(ev scene.Event) {
	st := s.state
	if e, ok := st.EntityOf(ev.ID); ok {
		s.log.Error("duplicate node added",
			zap.Int64("native_id", int64(ev.ID)),
			zap.Uint64("entity", uint64(e)),
		)
		return
	}

	e := st.World.CreateEntity()
	if err := st.AttachNative(e, ev.ID, ev.Class); err != nil {
		s.log.Error("register node", zap.Int64("native_id", int64(ev.ID)), zap.Error(err))
		st.World.Despawn(e)
		return
	}
	st.SetName(e, ev.Name)
	st.Groups.Set(e, &component.Groups{Names: ev.Groups})
	st.Signals.Set(e, &component.SignalMask{Bits: ev.SignalMask})
	if parent, ok := st.EntityOf(ev.ParentID); ok {
		st.SetParent(e, parent)
	}
	if ev.Spatial {
		pose := component.PoseFromNative(ev.Pose)
		st.Poses.Set(e, &pose)
		st.SyncMeta.Set(e, &component.SyncMeta{
			Origin: component.OriginNative,
			Tick:   st.World.Tick(),
			Seq:    st.Poses.ChangedSeq(e),
			Native: ev.Pose,
		})
	}

	name, _ := st.Names.Get(e)
	event.Deliver(s.bus, event.NodeSpawned{
		Entity:  e,
		Node:    ev.ID,
		Class:   ev.Class,
		Name:    name.Value,
		Groups:  ev.Groups,
		Signals: ev.SignalMask,
	})
}

func (s *SceneTreeSystem) removed(ev scene.Event) {
	st := s.state
	e, ok := st.EntityOf(ev.ID)
	if !ok {
		if st.ConsumeReleased(ev.ID) {
			return
		}
		s.log.Error("removed node was never added", zap.Int64("native_id", int64(ev.ID)), zap.String("name", ev.Name))
		return
	}

	if st.Protected.Has(e) {
		st.DetachNative(e)
		event.Deliver(s.bus, event.NodeDespawned{Entity: e, Node: ev.ID, Protected: true})
		return
	}
	st.DespawnRemoved(e)
	event.Deliver(s.bus, event.NodeDespawned{Entity: e, Node: ev.ID})
}

func (s *SceneTreeSystem) renamed(ev scene.Event) {
	st := s.state
	e, ok := s.lookup(ev.ID, "renamed")
	if !ok {
		return
	}
	st.SetName(e, ev.Name)
	name, _ := st.Names.Get(e)
	event.Deliver(s.bus, event.NodeRenamed{Entity: e, Node: ev.ID, Name: name.Value})
}

func (s *SceneTreeSystem) reparented(ev scene.Event) {
	st := s.state
	e, ok := s.lookup(ev.ID, "reparented")
	if !ok {
		return
	}
	parent, ok := st.EntityOf(ev.ParentID)
	if !ok {
		parent = ecs.NoEntity
	}
	st.SetParent(e, parent)
	event.Deliver(s.bus, event.NodeReparented{Entity: e, Node: ev.ID, Parent: parent})
}

// lookup resolves a node that must already be mirrored. Events for nodes
// released from the ECS side are dropped quietly.
func (s *SceneTreeSystem) lookup(id host.NodeID, kind string) (ecs.EntityID, bool) {
	if e, ok := s.state.EntityOf(id); ok {
		return e, true
	}
	if !s.state.Released(id) {
		s.log.Error("event for unknown node", zap.String("kind", kind), zap.Int64("native_id", int64(id)))
	}
	return ecs.NoEntity, false
}
