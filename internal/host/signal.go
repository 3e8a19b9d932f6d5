package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var ErrUnknownSignal = errors.New("host: unknown signal")

// StringName is an interned identifier. Equal strings intern to equal names.
type StringName uint64

// ConnID identifies one signal connection.
type ConnID uint64

// Callable receives the arguments of a signal emission on the host thread.
type Callable func(args []any)

type connection struct {
	id ConnID
	fn Callable
}

type nameTable struct {
	mu    sync.RWMutex
	hash  func(string) uint64
	names map[StringName]string
	ids   map[string]StringName
}

func newNameTable() *nameTable {
	return &nameTable{
		hash:  xxhash.Sum64String,
		names: make(map[StringName]string, 64),
		ids:   make(map[string]StringName, 64),
	}
}

// intern returns the name of s. A hash already taken by another string moves
// s to the next free slot.
func (t *nameTable) intern(s string) StringName {
	t.mu.RLock()
	id, ok := t.ids[s]
	t.mu.RUnlock()
	if ok {
		return id
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[s]; ok {
		return id
	}
	id = StringName(t.hash(s))
	for {
		if _, taken := t.names[id]; !taken {
			break
		}
		id++
	}
	t.names[id] = s
	t.ids[s] = id
	return id
}

func (t *nameTable) lookup(n StringName) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.names[n]
}

// Intern returns the StringName for s.
func (s *Scene) Intern(name string) StringName { return s.names.intern(name) }

// NameOf returns the string an interned name was created from.
func (s *Scene) NameOf(n StringName) string { return s.names.lookup(n) }

// AddUserSignal declares a signal on a single node in addition to the ones
// its class provides.
func (s *Scene) AddUserSignal(n *Instance, signal string) {
	set := s.userSignals[n.id]
	if set == nil {
		set = make(map[StringName]struct{})
		s.userSignals[n.id] = set
	}
	set[s.Intern(signal)] = struct{}{}
}

// HasSignal reports whether n's class or n itself declares signal.
func (s *Scene) HasSignal(n *Instance, signal string) bool {
	if _, ok := s.userSignals[n.id][s.Intern(signal)]; ok {
		return true
	}
	for _, sig := range s.classes.Signals(n.class) {
		if sig == signal {
			return true
		}
	}
	return false
}

// Connect subscribes fn to signal on the node id.
func (s *Scene) Connect(id NodeID, signal string, fn Callable) (ConnID, error) {
	s.cross()
	n, ok := s.nodes[id]
	if !ok || n.freed {
		return 0, ErrFreed
	}
	if !s.HasSignal(n, signal) {
		return 0, fmt.Errorf("%w: %s on %s", ErrUnknownSignal, signal, n.class)
	}
	s.nextConn++
	byName := s.conns[id]
	if byName == nil {
		byName = make(map[StringName][]*connection)
		s.conns[id] = byName
	}
	key := s.Intern(signal)
	byName[key] = append(byName[key], &connection{id: s.nextConn, fn: fn})
	return s.nextConn, nil
}

// Disconnect removes a connection. Returns false when the node is gone or
// the connection does not exist.
func (s *Scene) Disconnect(id NodeID, signal string, conn ConnID) bool {
	s.cross()
	byName := s.conns[id]
	if byName == nil {
		return false
	}
	key := s.Intern(signal)
	list := byName[key]
	for i, c := range list {
		if c.id == conn {
			byName[key] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Connections returns the number of connections on the node.
func (s *Scene) Connections(id NodeID) int {
	total := 0
	for _, list := range s.conns[id] {
		total += len(list)
	}
	return total
}

// Emit calls every callable connected to signal on n, in connection order.
// Callables may connect or disconnect during emission; the set is fixed when
// Emit starts.
func (s *Scene) Emit(n *Instance, signal string, args ...any) {
	if n.freed {
		return
	}
	list := append([]*connection(nil), s.conns[n.id][s.Intern(signal)]...)
	for _, c := range list {
		c.fn(args)
	}
}
