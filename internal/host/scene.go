package host

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nodebridge/nodebridge/internal/data"
)

var (
	ErrFreed        = errors.New("host: node freed")
	ErrNotInTree    = errors.New("host: node not in tree")
	ErrInTree       = errors.New("host: node already has a parent")
	ErrIsRoot       = errors.New("host: operation not allowed on the root")
	ErrCycle        = errors.New("host: new parent is a descendant")
	ErrUnknownClass = errors.New("host: unknown class")
)

// TreeListener receives scene tree notifications. NodeAdded, NodeRemoved and
// NodeReparented fire synchronously from the mutating call; NodeRenamed is
// deferred to EndFrame.
type TreeListener interface {
	NodeAdded(n *Instance)
	NodeRemoved(n *Instance)
	NodeRenamed(n *Instance)
	NodeReparented(n *Instance, oldParent NodeID)
}

// Scene is the simulated host scene graph. It is not safe for concurrent
// use: every method must run on the host thread. Only Calls and StrayCalls
// may be read from elsewhere.
type Scene struct {
	classes   *data.ClassTable
	root      *Instance
	nodes     map[NodeID]*Instance
	nextID    NodeID
	frame     uint64
	listeners []TreeListener
	renames   []*Instance

	names       *nameTable
	conns       map[NodeID]map[StringName][]*connection
	userSignals map[NodeID]map[StringName]struct{}
	nextConn    ConnID

	calls   atomic.Uint64
	owner   func() bool
	strayed atomic.Uint64
}

// NewScene creates a scene holding only the root node.
func NewScene(classes *data.ClassTable) *Scene {
	s := &Scene{
		classes:     classes,
		nodes:       make(map[NodeID]*Instance, 256),
		names:       newNameTable(),
		conns:       make(map[NodeID]map[StringName][]*connection),
		userSignals: make(map[NodeID]map[StringName]struct{}),
	}
	s.root = s.newInstance("Node", "root")
	s.root.inTree = true
	return s
}

func (s *Scene) Classes() *data.ClassTable { return s.classes }
func (s *Scene) Root() *Instance           { return s.root }
func (s *Scene) Frame() uint64             { return s.frame }

// Calls returns how many boundary calls the bridge made into the scene.
func (s *Scene) Calls() uint64 { return s.calls.Load() }

// BindThread makes every boundary call ask current whether it runs on the
// host thread. Calls from anywhere else are counted by StrayCalls. Bind
// before the bridge starts ticking.
func (s *Scene) BindThread(current func() bool) { s.owner = current }

// StrayCalls returns how many boundary calls came from outside the bound
// host thread.
func (s *Scene) StrayCalls() uint64 { return s.strayed.Load() }

func (s *Scene) cross() {
	s.calls.Add(1)
	if s.owner != nil && !s.owner() {
		s.strayed.Add(1)
	}
}

// AddListener registers l for tree notifications.
func (s *Scene) AddListener(l TreeListener) {
	s.listeners = append(s.listeners, l)
}

func (s *Scene) RemoveListener(l TreeListener) {
	for i, cur := range s.listeners {
		if cur == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Scene) newInstance(class, name string) *Instance {
	s.nextID++
	n := &Instance{
		scene:  s,
		id:     s.nextID,
		class:  class,
		name:   name,
		xform3: IdentityTransform3D(),
		xform2: IdentityTransform2D(),
	}
	s.nodes[n.id] = n
	return n
}

// NewNode creates a detached node. It becomes visible to listeners once
// added under a node that is in the tree.
func (s *Scene) NewNode(class, name string) (*Instance, error) {
	if !s.classes.Has(class) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return s.newInstance(class, name), nil
}

// Resolve returns the live node with the given id.
func (s *Scene) Resolve(id NodeID) (*Instance, bool) {
	s.cross()
	n, ok := s.nodes[id]
	if !ok || n.freed {
		return nil, false
	}
	return n, true
}

// Lookup is Resolve without counting a boundary call. Used by listeners and
// tests that already run inside the host.
func (s *Scene) Lookup(id NodeID) (*Instance, bool) {
	n, ok := s.nodes[id]
	if !ok || n.freed {
		return nil, false
	}
	return n, true
}

// Walk visits every node in the tree in pre-order, root first.
func (s *Scene) Walk(fn func(*Instance) bool) {
	s.root.walk(fn)
}

// Len returns the number of live nodes, detached ones included.
func (s *Scene) Len() int { return len(s.nodes) }

// AddChild attaches a detached child. If parent is in the tree the child's
// subtree enters it and NodeAdded fires for each node in pre-order.
func (s *Scene) AddChild(parent, child *Instance) error {
	switch {
	case parent.freed || child.freed:
		return ErrFreed
	case child == s.root:
		return ErrIsRoot
	case child.parent != nil || child.inTree:
		return ErrInTree
	}
	for cur := parent; cur != nil; cur = cur.parent {
		if cur == child {
			return ErrCycle
		}
	}
	child.parent = parent
	parent.children = append(parent.children, child)
	if !parent.inTree {
		return nil
	}
	child.walk(func(n *Instance) bool {
		n.inTree = true
		for _, l := range s.listeners {
			l.NodeAdded(n)
		}
		return true
	})
	return nil
}

// RemoveChild takes n out of the tree without freeing it. NodeRemoved fires
// for n's subtree in post-order. The node can be added again later.
func (s *Scene) RemoveChild(n *Instance) error {
	if n == s.root {
		return ErrIsRoot
	}
	if n.parent == nil {
		return ErrNotInTree
	}
	if n.inTree {
		s.exitTree(n)
	}
	n.parent.children = removeInstance(n.parent.children, n)
	n.parent = nil
	return nil
}

// Free removes n from the tree and destroys it and its descendants. Their
// ids never resolve again.
func (s *Scene) Free(n *Instance) error {
	if n == s.root {
		return ErrIsRoot
	}
	if n.freed {
		return ErrFreed
	}
	if n.inTree {
		s.exitTree(n)
	}
	if n.parent != nil {
		n.parent.children = removeInstance(n.parent.children, n)
		n.parent = nil
	}
	n.walkPost(func(c *Instance) {
		c.freed = true
		delete(s.nodes, c.id)
		delete(s.conns, c.id)
		delete(s.userSignals, c.id)
	})
	return nil
}

func (s *Scene) exitTree(n *Instance) {
	n.walkPost(func(c *Instance) {
		for _, l := range s.listeners {
			l.NodeRemoved(c)
		}
		c.inTree = false
	})
}

// Reparent moves n under newParent, keeping its identity. Both must be in
// the tree.
func (s *Scene) Reparent(n, newParent *Instance) error {
	switch {
	case n == s.root:
		return ErrIsRoot
	case n.freed || newParent.freed:
		return ErrFreed
	case !n.inTree || !newParent.inTree:
		return ErrNotInTree
	}
	for cur := newParent; cur != nil; cur = cur.parent {
		if cur == n {
			return ErrCycle
		}
	}
	old := n.parent
	if old == newParent {
		return nil
	}
	old.children = removeInstance(old.children, n)
	n.parent = newParent
	newParent.children = append(newParent.children, n)
	for _, l := range s.listeners {
		l.NodeReparented(n, old.id)
	}
	return nil
}

// Rename changes n's name immediately. Listeners hear about it at EndFrame,
// and not at all if n is freed first.
func (s *Scene) Rename(n *Instance, name string) {
	if n.name == name {
		return
	}
	n.name = name
	if n.inTree {
		s.renames = append(s.renames, n)
	}
}

// EndFrame flushes deferred notifications and advances the frame counter.
func (s *Scene) EndFrame() {
	pending := s.renames
	s.renames = nil
	for _, n := range pending {
		if n.freed || !n.inTree {
			continue
		}
		for _, l := range s.listeners {
			l.NodeRenamed(n)
		}
	}
	s.frame++
}

func removeInstance(list []*Instance, n *Instance) []*Instance {
	for i, c := range list {
		if c == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
