package signal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/core/event"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/world"
)

var ErrUnknownBinding = errors.New("signal: unknown binding")

// Origin describes the emission a mapper is converting.
type Origin struct {
	Node   host.NodeID
	Entity ecs.EntityID // NoEntity when the node is not mirrored
	Signal string
}

// Mapper converts signal arguments into a typed message. It runs on the host
// thread while the signal is being emitted and must not call into the host.
// Returning false drops the emission.
type Mapper[T any] func(args []any, origin Origin) (T, bool)

// Binding is one signal → message connection.
type Binding struct {
	ID     uuid.UUID
	Node   host.NodeID
	Signal string
	Entity ecs.EntityID
	conn   host.ConnID
}

type pending struct {
	id      uuid.UUID
	entity  ecs.EntityID
	signal  string
	connect func(h component.NativeHandle) (Binding, error)
}

// Bridge owns signal bindings and the queue of captured messages. Connect,
// Disconnect and Update run on the host thread; EntityDespawned may be called
// from any stage.
type Bridge struct {
	scene *host.Scene
	reg   *world.NodeRegistry
	world *ecs.World
	out   *event.Queue[func(*event.Bus)]
	log   *zap.Logger

	mu       sync.Mutex
	live     map[uuid.UUID]*Binding
	byEntity map[ecs.EntityID][]uuid.UUID
	deferred []*pending
	dropped  []Binding
}

func NewBridge(reg *world.NodeRegistry, w *ecs.World, log *zap.Logger) *Bridge {
	return &Bridge{
		scene:    reg.Scene(),
		reg:      reg,
		world:    w,
		out:      event.NewQueue[func(*event.Bus)](64),
		log:      log,
		live:     make(map[uuid.UUID]*Binding),
		byEntity: make(map[ecs.EntityID][]uuid.UUID),
	}
}

// Connect binds signal on the node h to mapper. entity is recorded on the
// binding and reported in Origin; pass NoEntity for unmirrored nodes.
func Connect[T any](b *Bridge, h component.NativeHandle, signal string, entity ecs.EntityID, mapper Mapper[T]) (Binding, error) {
	return b.connect(uuid.New(), h, signal, entity, deliverer(b, mapper))
}

// ConnectDeferred binds signal on entity's node once the entity has a native
// handle. Update completes it in the tick the handle appears. Requests for
// entities that are no longer alive are dropped, however they were
// despawned. The returned id becomes the binding's ID.
func ConnectDeferred[T any](b *Bridge, entity ecs.EntityID, signal string, mapper Mapper[T]) uuid.UUID {
	p := &pending{id: uuid.New(), entity: entity, signal: signal}
	emit := deliverer(b, mapper)
	p.connect = func(h component.NativeHandle) (Binding, error) {
		return b.connect(p.id, h, signal, entity, emit)
	}
	b.mu.Lock()
	b.deferred = append(b.deferred, p)
	b.mu.Unlock()
	return p.id
}

func deliverer[T any](b *Bridge, mapper Mapper[T]) func([]any, Origin) {
	return func(args []any, origin Origin) {
		if msg, ok := mapper(args, origin); ok {
			b.out.Push(func(bus *event.Bus) { event.Deliver(bus, msg) })
		}
	}
}

func (b *Bridge) connect(id uuid.UUID, h component.NativeHandle, signal string, entity ecs.EntityID, emit func([]any, Origin)) (Binding, error) {
	origin := Origin{Node: h.ID, Entity: entity, Signal: signal}
	conn, err := b.scene.Connect(h.ID, signal, func(args []any) {
		o := origin
		if o.Entity == ecs.NoEntity {
			o.Entity, _ = b.reg.EntityOf(h.ID)
		}
		emit(args, o)
	})
	if err != nil {
		return Binding{}, fmt.Errorf("connect %s on node %d: %w", signal, h.ID, err)
	}
	bind := &Binding{ID: id, Node: h.ID, Signal: signal, Entity: entity, conn: conn}
	b.mu.Lock()
	b.live[id] = bind
	if entity != ecs.NoEntity {
		b.byEntity[entity] = append(b.byEntity[entity], id)
	}
	b.mu.Unlock()
	return *bind, nil
}

// Disconnect removes a live binding.
func (b *Bridge) Disconnect(id uuid.UUID) error {
	b.mu.Lock()
	bind, ok := b.live[id]
	if ok {
		b.forget(bind)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBinding, id)
	}
	b.scene.Disconnect(bind.Node, bind.Signal, bind.conn)
	return nil
}

// forget drops bind from the indexes. Caller holds mu.
func (b *Bridge) forget(bind *Binding) {
	delete(b.live, bind.ID)
	ids := b.byEntity[bind.Entity]
	for i, id := range ids {
		if id == bind.ID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(b.byEntity, bind.Entity)
	} else {
		b.byEntity[bind.Entity] = ids
	}
}

// EntityDespawned drops e's deferred requests and schedules its live
// bindings for disconnection on the next Update.
func (b *Bridge) EntityDespawned(e ecs.EntityID, _ component.NativeHandle, _ bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.deferred[:0]
	for _, p := range b.deferred {
		if p.entity != e {
			kept = append(kept, p)
		}
	}
	clear(b.deferred[len(kept):])
	b.deferred = kept
	for _, id := range b.byEntity[e] {
		if bind, ok := b.live[id]; ok {
			b.dropped = append(b.dropped, *bind)
			delete(b.live, id)
		}
	}
	delete(b.byEntity, e)
}

// Update runs on the host thread: it disconnects bindings of despawned
// entities, completes deferred connections whose entity now has a handle and
// delivers captured messages into bus.
func (b *Bridge) Update(bus *event.Bus) {
	b.mu.Lock()
	dropped := b.dropped
	b.dropped = nil
	b.mu.Unlock()
	for _, bind := range dropped {
		// A freed node has already lost its connections.
		b.scene.Disconnect(bind.Node, bind.Signal, bind.conn)
	}

	b.resolveDeferred()

	for _, deliver := range b.out.Drain() {
		deliver(bus)
	}
}

func (b *Bridge) resolveDeferred() {
	b.mu.Lock()
	var ready, stale []*pending
	waiting := b.deferred[:0]
	for _, p := range b.deferred {
		switch _, ok := b.reg.Handle(p.entity); {
		case !b.world.Alive(p.entity):
			stale = append(stale, p)
		case ok:
			ready = append(ready, p)
		default:
			waiting = append(waiting, p)
		}
	}
	clear(b.deferred[len(waiting):])
	b.deferred = waiting
	b.mu.Unlock()

	for _, p := range stale {
		b.log.Debug("deferred signal connection dropped",
			zap.Uint64("entity", uint64(p.entity)),
			zap.String("signal", p.signal),
		)
	}
	for _, p := range ready {
		h, _ := b.reg.Handle(p.entity)
		if _, err := p.connect(h); err != nil {
			b.log.Warn("deferred signal connection failed",
				zap.Uint64("entity", uint64(p.entity)),
				zap.String("signal", p.signal),
				zap.Error(err),
			)
		}
	}
}

// Pending returns the number of deferred connections still waiting.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deferred)
}

// Bindings returns the number of live bindings.
func (b *Bridge) Bindings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// BindingsOf returns e's live bindings.
func (b *Bridge) BindingsOf(e ecs.EntityID) []Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Binding, 0, len(b.byEntity[e]))
	for _, id := range b.byEntity[e] {
		out = append(out, *b.live[id])
	}
	return out
}
