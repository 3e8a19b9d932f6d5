package component

import (
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/host"
)

// NativeHandle links an entity to its host node. It is an identity, not an
// owning reference: the node lives in the host scene and may already be gone.
type NativeHandle struct {
	ID host.NodeID
}

// Name mirrors the node name, NFC-normalised.
type Name struct {
	Value string
}

// Groups mirrors the node's group membership at the time it was added.
type Groups struct {
	Names []string
}

func (g *Groups) Is(group string) bool {
	for _, n := range g.Names {
		if n == group {
			return true
		}
	}
	return false
}

// SignalMask has bit i set when the node's class declares the i-th watched
// signal. It is fixed at spawn.
type SignalMask struct {
	Bits uint64
}

// Has reports whether every bit of want is set.
func (m *SignalMask) Has(want uint64) bool {
	return want != 0 && m.Bits&want == want
}

// ClassMarker tags an entity with one class of its node's hierarchy. There is
// one marker store per class, so "all Area3D entities" is a store scan.
type ClassMarker struct {
	Class string
}

// Protected keeps an entity alive when its node leaves the tree. Only the
// native components are stripped.
type Protected struct{}

// ChildOf points at the entity mirroring the node's parent.
type ChildOf struct {
	Parent ecs.EntityID
}

// Children lists mirrored child entities in insertion order.
type Children struct {
	IDs []ecs.EntityID
}

func (c *Children) Add(id ecs.EntityID) {
	for _, cur := range c.IDs {
		if cur == id {
			return
		}
	}
	c.IDs = append(c.IDs, id)
}

func (c *Children) Remove(id ecs.EntityID) {
	for i, cur := range c.IDs {
		if cur == id {
			c.IDs = append(c.IDs[:i], c.IDs[i+1:]...)
			return
		}
	}
}
