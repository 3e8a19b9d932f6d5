package world

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/host"
)

var (
	ErrNotRegistered     = errors.New("world: entity has no native handle")
	ErrNodeFreed         = errors.New("world: native node freed")
	ErrTypeMismatch      = errors.New("world: native node has a different type")
	ErrAlreadyRegistered = errors.New("world: already registered")
)

// NodeRegistry maps mirrored entities to their native handles and back.
// Lookups may come from any goroutine; Register and Unregister are only
// called by the lifecycle stage, which runs alone.
type NodeRegistry struct {
	mu      sync.RWMutex
	scene   *host.Scene
	handles map[ecs.EntityID]component.NativeHandle
	index   map[host.NodeID]ecs.EntityID
}

func NewNodeRegistry(scene *host.Scene) *NodeRegistry {
	return &NodeRegistry{
		scene:   scene,
		handles: make(map[ecs.EntityID]component.NativeHandle, 256),
		index:   make(map[host.NodeID]ecs.EntityID, 256),
	}
}

func (r *NodeRegistry) Scene() *host.Scene { return r.scene }

// Register records e ↔ h. Each entity and each node has at most one entry.
func (r *NodeRegistry) Register(e ecs.EntityID, h component.NativeHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[e]; ok {
		return fmt.Errorf("%w: entity %d → node %d", ErrAlreadyRegistered, e, cur.ID)
	}
	if cur, ok := r.index[h.ID]; ok {
		return fmt.Errorf("%w: node %d → entity %d", ErrAlreadyRegistered, h.ID, cur)
	}
	r.handles[e] = h
	r.index[h.ID] = e
	return nil
}

// Unregister drops e's entry and returns the handle it had.
func (r *NodeRegistry) Unregister(e ecs.EntityID) (component.NativeHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[e]
	if !ok {
		return component.NativeHandle{}, false
	}
	delete(r.handles, e)
	delete(r.index, h.ID)
	return h, true
}

func (r *NodeRegistry) Handle(e ecs.EntityID) (component.NativeHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[e]
	return h, ok
}

// EntityOf returns the entity mirroring the node id.
func (r *NodeRegistry) EntityOf(id host.NodeID) (ecs.EntityID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.index[id]
	return e, ok
}

func (r *NodeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Each visits every entry. fn must not call back into the registry.
func (r *NodeRegistry) Each(fn func(ecs.EntityID, component.NativeHandle)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for e, h := range r.handles {
		fn(e, h)
	}
}

// TryAccess resolves e's node as the view PT. Host thread only.
func TryAccess[T any, PT host.View[T]](r *NodeRegistry, e ecs.EntityID) (PT, error) {
	h, ok := r.Handle(e)
	if !ok {
		return nil, fmt.Errorf("%w: entity %d", ErrNotRegistered, e)
	}
	v, err := host.As[T, PT](r.scene, h.ID)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, host.ErrFreed):
		return nil, fmt.Errorf("%w: entity %d node %d", ErrNodeFreed, e, h.ID)
	case errors.Is(err, host.ErrTypeMismatch):
		return nil, fmt.Errorf("%w: entity %d: %v", ErrTypeMismatch, e, err)
	default:
		return nil, err
	}
}

// Access is TryAccess for callers that treat failure as a bug.
func Access[T any, PT host.View[T]](r *NodeRegistry, e ecs.EntityID) PT {
	v, err := TryAccess[T, PT](r, e)
	if err != nil {
		panic(err)
	}
	return v
}
