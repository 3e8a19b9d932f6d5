package world

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/data"
	"github.com/nodebridge/nodebridge/internal/host"
)

type fixture struct {
	scene *host.Scene
	state *State
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	classes := data.NewClassTable()
	scene := host.NewScene(classes)
	st := NewState(ecs.NewWorld(), NewNodeRegistry(scene), classes, zap.NewNop(), opts...)
	return &fixture{scene: scene, state: st}
}

func (f *fixture) node(t *testing.T, class, name string) *host.Instance {
	t.Helper()
	n, err := f.scene.NewNode(class, name)
	require.NoError(t, err)
	require.NoError(t, f.scene.AddChild(f.scene.Root(), n))
	return n
}

func (f *fixture) mirror(t *testing.T, n *host.Instance) ecs.EntityID {
	t.Helper()
	e := f.state.World.CreateEntity()
	require.NoError(t, f.state.AttachNative(e, n.ID(), n.Class()))
	f.state.SetName(e, n.Name())
	return e
}

func TestRegistryOneEntryPerEntityAndNode(t *testing.T) {
	f := newFixture(t)
	reg := f.state.Registry
	require.NoError(t, reg.Register(1, component.NativeHandle{ID: 10}))
	require.ErrorIs(t, reg.Register(1, component.NativeHandle{ID: 11}), ErrAlreadyRegistered)
	require.ErrorIs(t, reg.Register(2, component.NativeHandle{ID: 10}), ErrAlreadyRegistered)

	e, ok := reg.EntityOf(10)
	require.True(t, ok)
	require.Equal(t, ecs.EntityID(1), e)

	h, ok := reg.Unregister(1)
	require.True(t, ok)
	require.Equal(t, host.NodeID(10), h.ID)
	_, ok = reg.EntityOf(10)
	require.False(t, ok)
	require.Zero(t, reg.Len())
}

func TestTryAccessErrors(t *testing.T) {
	f := newFixture(t)
	area := f.node(t, "Area3D", "Zone")
	e := f.mirror(t, area)

	v, err := TryAccess[host.Area3D](f.state.Registry, e)
	require.NoError(t, err)
	require.Equal(t, area.ID(), v.ID())

	_, err = TryAccess[host.Node3D](f.state.Registry, e)
	require.NoError(t, err, "Area3D is a Node3D")

	_, err = TryAccess[host.Node2D](f.state.Registry, e)
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = TryAccess[host.Node](f.state.Registry, ecs.EntityID(999))
	require.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, f.scene.Free(area))
	_, err = TryAccess[host.Node](f.state.Registry, e)
	require.ErrorIs(t, err, ErrNodeFreed)
	require.Panics(t, func() { Access[host.Node](f.state.Registry, e) })
}

func TestAttachNativeAddsHierarchyMarkers(t *testing.T) {
	f := newFixture(t)
	body := f.node(t, "CharacterBody2D", "Hero")
	e := f.mirror(t, body)

	for _, class := range []string{"CharacterBody2D", "PhysicsBody2D", "CollisionObject2D", "Node2D", "CanvasItem", "Node", "Object"} {
		require.True(t, f.state.IsA(e, class), class)
	}
	require.False(t, f.state.IsA(e, "Node3D"))
	require.Equal(t, "CharacterBody2D", f.state.ClassesOf(e)[0])

	h, ok := f.state.DetachNative(e)
	require.True(t, ok)
	require.Equal(t, body.ID(), h.ID)
	require.True(t, f.state.World.Alive(e))
	require.False(t, f.state.IsA(e, "Node"))
	require.False(t, f.state.Handles.Has(e))
	require.True(t, f.state.Names.Has(e))
}

func TestNamesAreNormalized(t *testing.T) {
	f := newFixture(t)
	e := f.state.World.CreateEntity()
	f.state.SetName(e, "Cafe\u0301")

	n, ok := f.state.Names.Get(e)
	require.True(t, ok)
	require.Equal(t, "Caf\u00e9", n.Value)
	require.Equal(t, []ecs.EntityID{e}, f.state.FindByName("Caf\u00e9"))
	require.Equal(t, []ecs.EntityID{e}, f.state.FindByName("Cafe\u0301"))
	require.Empty(t, f.state.FindByName("Cafe"))
}

func TestDespawnCascade(t *testing.T) {
	f := newFixture(t, WithCascade(true))
	parent := f.mirror(t, f.node(t, "Node3D", "Parent"))
	child := f.mirror(t, f.node(t, "Node3D", "Child"))
	kept := f.mirror(t, f.node(t, "Node3D", "Kept"))
	f.state.Protected.Set(kept, &component.Protected{})
	f.state.SetParent(child, parent)
	f.state.SetParent(kept, parent)

	var despawned []ecs.EntityID
	f.state.OnDespawn(func(e ecs.EntityID, _ component.NativeHandle, _ bool) {
		despawned = append(despawned, e)
	})

	require.True(t, f.state.Despawn(parent))
	require.ElementsMatch(t, []ecs.EntityID{parent, child}, despawned)
	require.False(t, f.state.World.Alive(child))
	require.True(t, f.state.World.Alive(kept))
	require.False(t, f.state.ChildOf.Has(kept))
	require.Equal(t, 1, f.state.Registry.Len())
	require.False(t, f.state.Despawn(parent))
}

func TestDespawnWithoutCascadeDetachesChildren(t *testing.T) {
	f := newFixture(t)
	parent := f.mirror(t, f.node(t, "Node", "Parent"))
	child := f.mirror(t, f.node(t, "Node", "Child"))
	f.state.SetParent(child, parent)

	ch, ok := f.state.Children.Get(parent)
	require.True(t, ok)
	require.Equal(t, []ecs.EntityID{child}, ch.IDs)

	require.True(t, f.state.DespawnRemoved(parent))
	require.True(t, f.state.World.Alive(child))
	require.False(t, f.state.ChildOf.Has(child))
}

func TestReleasedNodes(t *testing.T) {
	f := newFixture(t)
	n := f.node(t, "Node", "N")
	e := f.mirror(t, n)

	f.state.World.MarkForDestruction(e)
	require.Equal(t, 1, f.state.FlushDestroyQueue())
	require.True(t, f.state.ConsumeReleased(n.ID()))
	require.False(t, f.state.ConsumeReleased(n.ID()))

	m := f.node(t, "Node", "M")
	e2 := f.mirror(t, m)
	require.True(t, f.state.DespawnRemoved(e2))
	require.False(t, f.state.ConsumeReleased(m.ID()))
}

func TestSetParentMovesBetweenParents(t *testing.T) {
	f := newFixture(t)
	a := f.state.World.CreateEntity()
	b := f.state.World.CreateEntity()
	c := f.state.World.CreateEntity()

	f.state.SetParent(c, a)
	f.state.SetParent(c, b)

	ca, _ := f.state.Children.Get(a)
	require.Empty(t, ca.IDs)
	cb, _ := f.state.Children.Get(b)
	require.Equal(t, []ecs.EntityID{c}, cb.IDs)
	p, _ := f.state.ChildOf.Get(c)
	require.Equal(t, b, p.Parent)
}
