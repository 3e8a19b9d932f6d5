package host

import (
	"errors"
	"fmt"
)

var ErrTypeMismatch = errors.New("host: node is not of the requested class")

// View is implemented by typed node handles. A view is bound to one live
// node and must only be used on the host thread.
type View[T any] interface {
	*T
	bind(n *Instance)
	// Class returns the host class the view requires.
	Class() string
}

// As resolves id and binds it to the view PT.
func As[T any, PT View[T]](s *Scene, id NodeID) (PT, error) {
	n, ok := s.Resolve(id)
	if !ok {
		return nil, ErrFreed
	}
	v := PT(new(T))
	if !s.classes.Inherits(n.class, v.Class()) {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrTypeMismatch, n.Name(), n.class, v.Class())
	}
	v.bind(n)
	return v, nil
}

// Node is a view over any node.
type Node struct {
	n *Instance
}

func (v *Node) bind(n *Instance) { v.n = n }
func (*Node) Class() string      { return "Node" }

func (v *Node) ID() NodeID { return v.n.id }

func (v *Node) Name() string {
	v.n.scene.cross()
	return v.n.name
}

func (v *Node) NodeClass() string { return v.n.class }

func (v *Node) IsInGroup(group string) bool {
	v.n.scene.cross()
	return v.n.IsInGroup(group)
}

func (v *Node) Meta(key string) (any, bool) {
	v.n.scene.cross()
	return v.n.Meta(key)
}

// Valid reports whether the bound node is still alive.
func (v *Node) Valid() bool { return !v.n.freed }

// Instance exposes the bound node for host-side callers.
func (v *Node) Instance() *Instance { return v.n }

// Node2D is a view over a Node2D descendant.
type Node2D struct {
	Node
}

func (*Node2D) Class() string { return "Node2D" }

func (v *Node2D) Transform() Transform2D {
	v.n.scene.cross()
	return v.n.xform2
}

func (v *Node2D) SetTransform(t Transform2D) {
	v.n.scene.cross()
	v.n.xform2 = t
}

// Node3D is a view over a Node3D descendant.
type Node3D struct {
	Node
}

func (*Node3D) Class() string { return "Node3D" }

func (v *Node3D) Transform() Transform3D {
	v.n.scene.cross()
	return v.n.xform3
}

func (v *Node3D) SetTransform(t Transform3D) {
	v.n.scene.cross()
	v.n.xform3 = t
}

const (
	propCollisionLayer = "collision_layer"
	propCollisionMask  = "collision_mask"
	propMonitoring     = "monitoring"
)

func collisionBits(n *Instance, key string) uint32 {
	if v, ok := n.prop(key); ok {
		return v.(uint32)
	}
	return 1
}

func monitoring(n *Instance) bool {
	if v, ok := n.prop(propMonitoring); ok {
		return v.(bool)
	}
	return true
}

// Area2D is a view over an Area2D descendant.
type Area2D struct {
	Node2D
}

func (*Area2D) Class() string { return "Area2D" }

func (v *Area2D) CollisionLayer() uint32 {
	v.n.scene.cross()
	return collisionBits(v.n, propCollisionLayer)
}

func (v *Area2D) SetCollisionLayer(bits uint32) {
	v.n.scene.cross()
	v.n.setProp(propCollisionLayer, bits)
}

func (v *Area2D) CollisionMask() uint32 {
	v.n.scene.cross()
	return collisionBits(v.n, propCollisionMask)
}

func (v *Area2D) SetCollisionMask(bits uint32) {
	v.n.scene.cross()
	v.n.setProp(propCollisionMask, bits)
}

func (v *Area2D) Monitoring() bool {
	v.n.scene.cross()
	return monitoring(v.n)
}

func (v *Area2D) SetMonitoring(on bool) {
	v.n.scene.cross()
	v.n.setProp(propMonitoring, on)
}

// Area3D is a view over an Area3D descendant.
type Area3D struct {
	Node3D
}

func (*Area3D) Class() string { return "Area3D" }

func (v *Area3D) CollisionLayer() uint32 {
	v.n.scene.cross()
	return collisionBits(v.n, propCollisionLayer)
}

func (v *Area3D) SetCollisionLayer(bits uint32) {
	v.n.scene.cross()
	v.n.setProp(propCollisionLayer, bits)
}

func (v *Area3D) CollisionMask() uint32 {
	v.n.scene.cross()
	return collisionBits(v.n, propCollisionMask)
}

func (v *Area3D) SetCollisionMask(bits uint32) {
	v.n.scene.cross()
	v.n.setProp(propCollisionMask, bits)
}

func (v *Area3D) Monitoring() bool {
	v.n.scene.cross()
	return monitoring(v.n)
}

func (v *Area3D) SetMonitoring(on bool) {
	v.n.scene.cross()
	v.n.setProp(propMonitoring, on)
}
