package ecs

import "sort"

// Removable is implemented by all component stores so the Registry can
// bulk-remove an entity's data from every store on destroy.
type Removable interface {
	Remove(id EntityID)
}

// Named is implemented by stores that take part in access declarations.
type Named interface {
	Name() string
}

// PtrComponentStore is a generic typed map store for ECS components.
// No reflect, no interface{}: pure generics.
//
// Every Set and MarkChanged stamps the entry with the next value of the
// owning world's change sequence, so systems can ask "did this change after
// I last looked" without diffing values.
type PtrComponentStore[T any] struct {
	name    string
	clock   *Clock
	data    map[EntityID]*T
	changed map[EntityID]uint64
}

// NewPtrComponentStore creates a detached store. Its change stamps come from
// a private clock; use NewStore to share the world's clock.
func NewPtrComponentStore[T any]() *PtrComponentStore[T] {
	return newStore[T]("", &Clock{})
}

// NewStore creates a store stamped by w's clock and registers it for bulk removal.
func NewStore[T any](w *World, name string) *PtrComponentStore[T] {
	s := newStore[T](name, w.clock)
	w.registry.Register(s)
	return s
}

func newStore[T any](name string, clock *Clock) *PtrComponentStore[T] {
	return &PtrComponentStore[T]{
		name:    name,
		clock:   clock,
		data:    make(map[EntityID]*T, 256),
		changed: make(map[EntityID]uint64, 256),
	}
}

func (s *PtrComponentStore[T]) Name() string { return s.name }

func (s *PtrComponentStore[T]) Set(id EntityID, c *T) {
	s.data[id] = c
	s.changed[id] = s.clock.nextSeq()
}

func (s *PtrComponentStore[T]) Get(id EntityID) (*T, bool) {
	c, ok := s.data[id]
	return c, ok
}

// MarkChanged stamps an in-place mutation made through a pointer from Get.
func (s *PtrComponentStore[T]) MarkChanged(id EntityID) {
	if _, ok := s.data[id]; ok {
		s.changed[id] = s.clock.nextSeq()
	}
}

// ChangedSeq returns the change stamp of id's component, 0 when absent.
func (s *PtrComponentStore[T]) ChangedSeq(id EntityID) uint64 {
	return s.changed[id]
}

func (s *PtrComponentStore[T]) Remove(id EntityID) {
	delete(s.data, id)
	delete(s.changed, id)
}

func (s *PtrComponentStore[T]) Has(id EntityID) bool {
	_, ok := s.data[id]
	return ok
}

func (s *PtrComponentStore[T]) Len() int {
	return len(s.data)
}

func (s *PtrComponentStore[T]) Each(fn func(EntityID, *T)) {
	for id, c := range s.data {
		fn(id, c)
	}
}

// IDs returns the entity ids holding this component in ascending order.
func (s *PtrComponentStore[T]) IDs() []EntityID {
	ids := make([]EntityID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
