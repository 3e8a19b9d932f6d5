package host

import "strings"

// NodeID is the stable identity of a host node. It is never reused within a
// Scene, so a stale id simply fails to resolve.
type NodeID int64

// Instance is a node object owned by the Scene. All methods must be called
// on the host thread.
type Instance struct {
	scene    *Scene
	id       NodeID
	class    string
	name     string
	parent   *Instance
	children []*Instance
	groups   []string
	meta     map[string]any
	props    map[string]any
	xform3   Transform3D
	xform2   Transform2D
	inTree   bool
	freed    bool
}

func (n *Instance) ID() NodeID        { return n.id }
func (n *Instance) Class() string     { return n.class }
func (n *Instance) Name() string      { return n.name }
func (n *Instance) InTree() bool      { return n.inTree }
func (n *Instance) Freed() bool       { return n.freed }
func (n *Instance) Parent() *Instance { return n.parent }

// ParentID returns the parent's id, 0 for the root or a detached node.
func (n *Instance) ParentID() NodeID {
	if n.parent == nil {
		return 0
	}
	return n.parent.id
}

// Children returns a copy of the child list in sibling order.
func (n *Instance) Children() []*Instance {
	return append([]*Instance(nil), n.children...)
}

// Path returns the absolute node path, e.g. "/root/Level/Player".
func (n *Instance) Path() string {
	var parts []string
	for cur := n; cur != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	return b.String()
}

// Groups returns a copy of the node's group names.
func (n *Instance) Groups() []string {
	return append([]string(nil), n.groups...)
}

func (n *Instance) IsInGroup(group string) bool {
	for _, g := range n.groups {
		if g == group {
			return true
		}
	}
	return false
}

func (n *Instance) AddToGroup(group string) {
	if !n.IsInGroup(group) {
		n.groups = append(n.groups, group)
	}
}

func (n *Instance) RemoveFromGroup(group string) {
	for i, g := range n.groups {
		if g == group {
			n.groups = append(n.groups[:i], n.groups[i+1:]...)
			return
		}
	}
}

// Meta returns a metadata value set with SetMeta.
func (n *Instance) Meta(key string) (any, bool) {
	v, ok := n.meta[key]
	return v, ok
}

func (n *Instance) HasMeta(key string) bool {
	_, ok := n.meta[key]
	return ok
}

func (n *Instance) SetMeta(key string, v any) {
	if n.meta == nil {
		n.meta = make(map[string]any)
	}
	n.meta[key] = v
}

func (n *Instance) RemoveMeta(key string) {
	delete(n.meta, key)
}

// Dim returns 3 for Node3D descendants, 2 for Node2D descendants and 0 for
// nodes without a spatial transform.
func (n *Instance) Dim() int {
	switch {
	case n.scene.classes.Inherits(n.class, "Node3D"):
		return 3
	case n.scene.classes.Inherits(n.class, "Node2D"):
		return 2
	default:
		return 0
	}
}

func (n *Instance) Transform3D() Transform3D     { return n.xform3 }
func (n *Instance) SetTransform3D(t Transform3D) { n.xform3 = t }
func (n *Instance) Transform2D() Transform2D     { return n.xform2 }
func (n *Instance) SetTransform2D(t Transform2D) { n.xform2 = t }

// Pose decomposes the node's transform. ok is false for non-spatial nodes.
func (n *Instance) Pose() (Pose, bool) {
	switch n.Dim() {
	case 3:
		return n.xform3.Decompose(), true
	case 2:
		return n.xform2.Decompose(), true
	default:
		return Pose{}, false
	}
}

// SetPose composes p into the node's transform. Returns false for
// non-spatial nodes.
func (n *Instance) SetPose(p Pose) bool {
	switch n.Dim() {
	case 3:
		n.xform3 = ComposeTransform3D(p)
	case 2:
		n.xform2 = ComposeTransform2D(p)
	default:
		return false
	}
	return true
}

func (n *Instance) prop(key string) (any, bool) {
	v, ok := n.props[key]
	return v, ok
}

func (n *Instance) setProp(key string, v any) {
	if n.props == nil {
		n.props = make(map[string]any)
	}
	n.props[key] = v
}

// walk visits n and its descendants in pre-order. Returning false from fn
// skips the subtree.
func (n *Instance) walk(fn func(*Instance) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.walk(fn)
	}
}

// walkPost visits n's descendants before n.
func (n *Instance) walkPost(fn func(*Instance)) {
	for _, c := range n.children {
		c.walkPost(fn)
	}
	fn(n)
}
