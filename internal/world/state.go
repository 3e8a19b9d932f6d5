package world

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/data"
	"github.com/nodebridge/nodebridge/internal/host"
)

// Store names used in system access declarations.
const (
	StoreHandle    = "native_handle"
	StoreName      = "name"
	StoreGroups    = "groups"
	StoreSignals   = "signal_mask"
	StoreMarkers   = "class_markers"
	StoreProtected = "protected"
	StoreHierarchy = "hierarchy"
	StorePose      = "pose"
	StoreSyncMeta  = "sync_meta"
	StoreOverride  = "sync_override"
)

// DespawnFunc is called for every entity State despawns, before its
// components are cleared. handle is valid when had is true.
type DespawnFunc func(e ecs.EntityID, handle component.NativeHandle, had bool)

// State holds the mirrored-entity components and keeps them consistent with
// the NodeRegistry. Mutating methods belong to the lifecycle and cleanup
// stages, which run exclusively.
type State struct {
	World     *ecs.World
	Registry  *NodeRegistry
	Classes   *data.ClassTable
	Handles   *ecs.PtrComponentStore[component.NativeHandle]
	Names     *ecs.PtrComponentStore[component.Name]
	Groups    *ecs.PtrComponentStore[component.Groups]
	Signals   *ecs.PtrComponentStore[component.SignalMask]
	Protected *ecs.PtrComponentStore[component.Protected]
	ChildOf   *ecs.PtrComponentStore[component.ChildOf]
	Children  *ecs.PtrComponentStore[component.Children]
	Poses     *ecs.PtrComponentStore[component.Pose]
	SyncMeta  *ecs.PtrComponentStore[component.SyncMeta]
	Overrides *ecs.PtrComponentStore[component.SyncOverride]

	markerMu sync.RWMutex
	markers  map[string]*ecs.PtrComponentStore[component.ClassMarker]

	// Nodes whose entity was despawned from the ECS side while the node
	// was still alive. Their eventual Removed event is expected.
	released map[host.NodeID]struct{}

	cascade   bool
	onDespawn []DespawnFunc
	log       *zap.Logger
}

// Option configures a State.
type Option func(*State)

// WithCascade makes despawning a parent despawn its unprotected children.
func WithCascade(on bool) Option {
	return func(s *State) { s.cascade = on }
}

func NewState(w *ecs.World, reg *NodeRegistry, classes *data.ClassTable, log *zap.Logger, opts ...Option) *State {
	s := &State{
		World:     w,
		Registry:  reg,
		Classes:   classes,
		Handles:   ecs.NewStore[component.NativeHandle](w, StoreHandle),
		Names:     ecs.NewStore[component.Name](w, StoreName),
		Groups:    ecs.NewStore[component.Groups](w, StoreGroups),
		Signals:   ecs.NewStore[component.SignalMask](w, StoreSignals),
		Protected: ecs.NewStore[component.Protected](w, StoreProtected),
		ChildOf:   ecs.NewStore[component.ChildOf](w, StoreHierarchy),
		Children:  ecs.NewStore[component.Children](w, StoreHierarchy),
		Poses:     ecs.NewStore[component.Pose](w, StorePose),
		SyncMeta:  ecs.NewStore[component.SyncMeta](w, StoreSyncMeta),
		Overrides: ecs.NewStore[component.SyncOverride](w, StoreOverride),
		markers:   make(map[string]*ecs.PtrComponentStore[component.ClassMarker]),
		released:  make(map[host.NodeID]struct{}),
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnDespawn registers fn to run for every despawned entity.
func (s *State) OnDespawn(fn DespawnFunc) {
	s.onDespawn = append(s.onDespawn, fn)
}

// Marker returns the marker store of class, creating it on first use.
func (s *State) Marker(class string) *ecs.PtrComponentStore[component.ClassMarker] {
	s.markerMu.RLock()
	st, ok := s.markers[class]
	s.markerMu.RUnlock()
	if ok {
		return st
	}
	s.markerMu.Lock()
	defer s.markerMu.Unlock()
	if st, ok = s.markers[class]; !ok {
		st = ecs.NewStore[component.ClassMarker](s.World, StoreMarkers)
		s.markers[class] = st
	}
	return st
}

// IsA reports whether e carries the marker of class.
func (s *State) IsA(e ecs.EntityID, class string) bool {
	s.markerMu.RLock()
	st, ok := s.markers[class]
	s.markerMu.RUnlock()
	return ok && st.Has(e)
}

// ClassesOf returns the classes of e, most derived first.
func (s *State) ClassesOf(e ecs.EntityID) []string {
	s.markerMu.RLock()
	defer s.markerMu.RUnlock()
	var out []string
	for class, st := range s.markers {
		if st.Has(e) {
			out = append(out, class)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return len(s.Classes.Hierarchy(out[i])) > len(s.Classes.Hierarchy(out[j]))
	})
	return out
}

// EntityOf returns the entity mirroring node id.
func (s *State) EntityOf(id host.NodeID) (ecs.EntityID, bool) {
	return s.Registry.EntityOf(id)
}

// AttachNative gives e a native identity: handle, registry entry and one
// marker per class of the hierarchy.
func (s *State) AttachNative(e ecs.EntityID, id host.NodeID, class string) error {
	h := component.NativeHandle{ID: id}
	if err := s.Registry.Register(e, h); err != nil {
		return err
	}
	s.Handles.Set(e, &h)
	for _, c := range s.Classes.Hierarchy(class) {
		s.Marker(c).Set(e, &component.ClassMarker{Class: c})
	}
	return nil
}

// DetachNative strips the native identity from e and leaves the entity and
// its other components alive.
func (s *State) DetachNative(e ecs.EntityID) (component.NativeHandle, bool) {
	h, ok := s.Registry.Unregister(e)
	s.Handles.Remove(e)
	s.SyncMeta.Remove(e)
	s.Signals.Remove(e)
	s.markerMu.RLock()
	for _, st := range s.markers {
		st.Remove(e)
	}
	s.markerMu.RUnlock()
	return h, ok
}

// SetName stores name in NFC form.
func (s *State) SetName(e ecs.EntityID, name string) {
	s.Names.Set(e, &component.Name{Value: NormalizeName(name)})
}

// FindByName returns the entities whose mirrored name equals name after
// normalisation, in ascending id order.
func (s *State) FindByName(name string) []ecs.EntityID {
	want := NormalizeName(name)
	var out []ecs.EntityID
	for _, e := range s.Names.IDs() {
		if n, _ := s.Names.Get(e); n.Value == want {
			out = append(out, e)
		}
	}
	return out
}

// NormalizeName returns name in Unicode NFC so visually equal names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// SetParent links e under parent. NoEntity detaches e.
func (s *State) SetParent(e, parent ecs.EntityID) {
	if cur, ok := s.ChildOf.Get(e); ok {
		if cur.Parent == parent {
			return
		}
		if ch, ok := s.Children.Get(cur.Parent); ok {
			ch.Remove(e)
			s.Children.MarkChanged(cur.Parent)
		}
		s.ChildOf.Remove(e)
	}
	if parent == ecs.NoEntity {
		return
	}
	s.ChildOf.Set(e, &component.ChildOf{Parent: parent})
	ch, ok := s.Children.Get(parent)
	if !ok {
		ch = &component.Children{}
	}
	ch.Add(e)
	s.Children.Set(parent, ch)
}

// Despawn destroys e from the ECS side. If e still mirrors a live node, the
// node's later Removed event is treated as expected.
func (s *State) Despawn(e ecs.EntityID) bool {
	return s.despawn(e, false)
}

// DespawnRemoved destroys e because its node left the tree.
func (s *State) DespawnRemoved(e ecs.EntityID) bool {
	return s.despawn(e, true)
}

func (s *State) despawn(e ecs.EntityID, nodeGone bool) bool {
	if !s.World.Alive(e) {
		return false
	}
	if ch, ok := s.Children.Get(e); ok {
		for _, c := range append([]ecs.EntityID(nil), ch.IDs...) {
			if s.cascade && !s.Protected.Has(c) {
				s.despawn(c, false)
			} else {
				s.SetParent(c, ecs.NoEntity)
			}
		}
	}
	s.SetParent(e, ecs.NoEntity)

	h, had := s.Registry.Unregister(e)
	if had && !nodeGone {
		s.released[h.ID] = struct{}{}
	}
	for _, fn := range s.onDespawn {
		fn(e, h, had)
	}
	s.World.Despawn(e)
	if had {
		s.log.Debug("entity despawned",
			zap.Uint64("entity", uint64(e)),
			zap.Int64("native_id", int64(h.ID)),
		)
	}
	return true
}

// Released reports whether id belonged to an entity despawned from the ECS
// side whose node has not left the tree yet.
func (s *State) Released(id host.NodeID) bool {
	_, ok := s.released[id]
	return ok
}

// ConsumeReleased reports whether id belonged to an entity despawned from
// the ECS side, and forgets it.
func (s *State) ConsumeReleased(id host.NodeID) bool {
	if _, ok := s.released[id]; !ok {
		return false
	}
	delete(s.released, id)
	return true
}

// FlushDestroyQueue despawns every entity queued with
// World.MarkForDestruction and returns how many were alive.
func (s *State) FlushDestroyQueue() int {
	n := 0
	for _, e := range s.World.TakeDestroyQueue() {
		if s.Despawn(e) {
			n++
		}
	}
	return n
}
