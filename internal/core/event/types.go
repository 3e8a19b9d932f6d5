package event

import (
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/host"
)

// Lifecycle messages delivered by the scene tree system. They are readable
// by every system that runs after it in the same tick.

type NodeSpawned struct {
	Entity ecs.EntityID
	Node   host.NodeID
	Class  string
	Name   string
	Groups []string
	// Signals is the spawn-time signal mask, one bit per watched signal.
	Signals uint64
}

type NodeDespawned struct {
	Entity    ecs.EntityID
	Node      host.NodeID
	Protected bool // entity survived; only its native components were stripped
}

type NodeRenamed struct {
	Entity ecs.EntityID
	Node   host.NodeID
	Name   string
}

type NodeReparented struct {
	Entity ecs.EntityID
	Node   host.NodeID
	Parent ecs.EntityID // NoEntity when the new parent is not mirrored
}

// Collision messages delivered by the collision system when a watched contact
// signal changes the set of touching pairs. Entity1 < Entity2.

type CollisionStarted struct {
	Entity1 ecs.EntityID
	Entity2 ecs.EntityID
}

type CollisionEnded struct {
	Entity1 ecs.EntityID
	Entity2 ecs.EntityID
}
