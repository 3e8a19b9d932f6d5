package ecs

import "sync"

// World is the top-level ECS container. It owns the entity pool, the component
// registry, the tick/change clock and a deferred destruction queue flushed by
// CleanupSystem each tick.
type World struct {
	pool         *EntityPool
	registry     *Registry
	clock        *Clock
	destroyMu    sync.Mutex
	destroyQueue []EntityID
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		registry:     NewRegistry(),
		clock:        &Clock{},
		destroyQueue: make([]EntityID, 0, 64),
	}
}

func (w *World) Clock() *Clock { return w.clock }

// Tick returns the current world tick.
func (w *World) Tick() Tick { return w.clock.Tick() }

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// Despawn removes id from every store and invalidates it immediately.
func (w *World) Despawn(id EntityID) bool {
	if !w.pool.Alive(id) {
		return false
	}
	w.registry.RemoveAll(id)
	return w.pool.Destroy(id)
}

// MarkForDestruction queues an entity for end-of-tick cleanup. Safe to call
// from systems running on worker goroutines.
func (w *World) MarkForDestruction(id EntityID) {
	w.destroyMu.Lock()
	w.destroyQueue = append(w.destroyQueue, id)
	w.destroyMu.Unlock()
}

// TakeDestroyQueue hands the queued entities to the caller and resets the
// queue. The caller despawns them.
func (w *World) TakeDestroyQueue() []EntityID {
	w.destroyMu.Lock()
	defer w.destroyMu.Unlock()
	q := w.destroyQueue
	w.destroyQueue = make([]EntityID, 0, cap(q))
	return q
}
