package app

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/config"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/core/event"
	coresys "github.com/nodebridge/nodebridge/internal/core/system"
	"github.com/nodebridge/nodebridge/internal/data"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/scripting"
	"github.com/nodebridge/nodebridge/internal/world"
)

const level = `
nodes:
  - name: Level
    class: Node3D
    children:
      - name: Player
        class: CharacterBody3D
        groups: [players]
        position: [0, 1, 0]
      - name: Coin
        class: Area3D
        groups: [coins]
        position: [4, 0, -2]
        rotation: [0, 45, 0]
      - name: Editor Gizmo
        class: Node3D
        meta:
          _bridge_exclude: true
        children:
          - name: Handle
            class: MeshInstance3D
  - name: HUD
    class: Control
    children:
      - name: Score
        class: Label
`

const coinScript = `
function on_coin_body_entered(ctx, body)
  return { kind = "coin_collected", coin = ctx.entity, body = body }
end
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coin.lua"), []byte(coinScript), 0o644))
	cfg := config.Default()
	cfg.Scripting.Dir = dir
	cfg.Routes = []config.RouteConfig{{Group: "coins", Signal: "body_entered", Function: "on_coin_body_entered"}}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	sc := host.NewScene(data.NewClassTable())
	path := filepath.Join(t.TempDir(), "level.yaml")
	require.NoError(t, os.WriteFile(path, []byte(level), 0o644))
	f, err := host.LoadSceneFile(path)
	require.NoError(t, err)
	require.NoError(t, sc.Instantiate(sc.Root(), f))

	a, err := New(cfg, sc, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func tick(t *testing.T, a *App) {
	t.Helper()
	require.NoError(t, a.Tick(16*time.Millisecond))
}

func find(t *testing.T, s *host.Scene, name string) *host.Instance {
	t.Helper()
	var out *host.Instance
	s.Walk(func(n *host.Instance) bool {
		if n.Name() == name {
			out = n
			return false
		}
		return true
	})
	require.NotNil(t, out, "node %q", name)
	return out
}

// checkConsistent asserts that the registry mirrors exactly the watched nodes
// of the tree. Exclusion applies to the marked node only.
func checkConsistent(t *testing.T, a *App) {
	t.Helper()
	want := 0
	a.Scene.Walk(func(n *host.Instance) bool {
		if n == a.Scene.Root() {
			return true
		}
		if v, ok := n.Meta(a.Config.SceneTree.ExcludeMeta); ok && v == true {
			return true
		}
		want++
		e, ok := a.State.EntityOf(n.ID())
		require.True(t, ok, "node %s not mirrored", n.Path())
		require.True(t, a.World.Alive(e))
		h, ok := a.State.Registry.Handle(e)
		require.True(t, ok)
		require.Equal(t, n.ID(), h.ID)
		return true
	})
	require.Equal(t, want, a.State.Registry.Len())
	a.State.Registry.Each(func(e ecs.EntityID, h component.NativeHandle) {
		n, ok := a.Scene.Lookup(h.ID)
		require.True(t, ok, "entity %d holds a stale handle", e)
		require.True(t, n.InTree())
	})
}

func TestStartupMirrorsExistingTree(t *testing.T) {
	a := newApp(t, testConfig(t))
	require.Equal(t, 6, a.Startup(), "the excluded node and the root are skipped")
	require.Zero(t, a.Startup())
	tick(t, a)

	checkConsistent(t, a)
	coin := find(t, a.Scene, "Coin")
	e, ok := a.State.EntityOf(coin.ID())
	require.True(t, ok)
	require.True(t, a.State.IsA(e, "Area3D"))
	groups, _ := a.State.Groups.Get(e)
	require.True(t, groups.Is("coins"))

	p, _ := a.State.Poses.Get(e)
	require.InDelta(t, 4, p.Translation.X(), 1e-12)
	require.InDelta(t, -2, p.Translation.Z(), 1e-12)

	_, ok = a.State.EntityOf(find(t, a.Scene, "Editor Gizmo").ID())
	require.False(t, ok)
	handle, ok := a.State.EntityOf(find(t, a.Scene, "Handle").ID())
	require.True(t, ok)
	require.False(t, a.State.ChildOf.Has(handle), "parent is not mirrored")
}

func TestLifecycleOverThreeTicks(t *testing.T) {
	a := newApp(t, testConfig(t))
	a.Startup()
	tick(t, a)

	n, err := a.Scene.NewNode("Node3D", "Crate")
	require.NoError(t, err)
	require.NoError(t, a.Scene.AddChild(find(t, a.Scene, "Level"), n))
	tick(t, a)
	spawned := event.Read[event.NodeSpawned](a.Bus)
	require.Len(t, spawned, 1)
	e := spawned[0].Entity
	checkConsistent(t, a)

	a.Scene.Rename(n, "Barrel")
	a.Scene.EndFrame()
	tick(t, a)
	require.Equal(t, []event.NodeRenamed{{Entity: e, Node: n.ID(), Name: "Barrel"}}, event.Read[event.NodeRenamed](a.Bus))

	require.NoError(t, a.Scene.Free(n))
	tick(t, a)
	require.Equal(t, []event.NodeDespawned{{Entity: e, Node: n.ID()}}, event.Read[event.NodeDespawned](a.Bus))
	require.False(t, a.World.Alive(e))
	checkConsistent(t, a)
}

func TestAddRenameRemoveInOneDrain(t *testing.T) {
	a := newApp(t, testConfig(t))
	a.Startup()
	tick(t, a)
	before := a.State.Registry.Len()

	spark, err := a.Scene.NewNode("Node2D", "Spark")
	require.NoError(t, err)
	smoke, err := a.Scene.NewNode("Node2D", "Smoke")
	require.NoError(t, err)
	require.NoError(t, a.Scene.AddChild(a.Scene.Root(), spark))
	require.NoError(t, a.Scene.AddChild(a.Scene.Root(), smoke))
	a.Scene.Rename(spark, "Ember")
	a.Scene.Rename(smoke, "Haze")
	require.NoError(t, a.Scene.Free(smoke))
	a.Scene.EndFrame()
	require.NoError(t, a.Scene.Free(spark))
	tick(t, a)

	require.Len(t, event.Read[event.NodeSpawned](a.Bus), 2)
	renamed := event.Read[event.NodeRenamed](a.Bus)
	require.Len(t, renamed, 1, "a node freed before the frame ended loses its rename")
	require.Equal(t, "Ember", renamed[0].Name)
	require.Len(t, event.Read[event.NodeDespawned](a.Bus), 2)
	require.Equal(t, before, a.State.Registry.Len())
	require.Empty(t, a.State.FindByName("Ember"))
	checkConsistent(t, a)
}

func TestRoutedSignalArrivesAsMessage(t *testing.T) {
	a := newApp(t, testConfig(t))
	a.Startup()
	tick(t, a)

	coin := find(t, a.Scene, "Coin")
	e, _ := a.State.EntityOf(coin.ID())
	require.Len(t, a.Bridge.BindingsOf(e), 5, "route and contact signals connected in the spawning tick")

	var got []scripting.Message
	event.Subscribe(a.Bus, func(m scripting.Message) { got = append(got, m) })
	var touched []event.CollisionStarted
	event.Subscribe(a.Bus, func(m event.CollisionStarted) { touched = append(touched, m) })

	player := find(t, a.Scene, "Player")
	a.Scene.Emit(coin, "body_entered", player.ID())
	tick(t, a)

	require.Len(t, got, 1, "dispatched to subscribers")
	require.Equal(t, "coin_collected", got[0].Kind)
	require.Equal(t, float64(e), got[0].Fields["coin"])
	require.Equal(t, float64(player.ID()), got[0].Fields["body"])

	pe, _ := a.State.EntityOf(player.ID())
	require.Len(t, touched, 1)
	require.True(t, a.Collisions.Contains(e, pe))
}

func TestCollisionTrackingCanBeTurnedOff(t *testing.T) {
	cfg := testConfig(t)
	cfg.SceneTree.TrackCollisions = false
	a := newApp(t, cfg)
	a.Startup()
	tick(t, a)

	require.Nil(t, a.Collisions)
	require.Equal(t, []string{"body_entered"}, a.Watcher.WatchedSignals(), "routed signals are always watched")
	coin := find(t, a.Scene, "Coin")
	e, _ := a.State.EntityOf(coin.ID())
	require.Len(t, a.Bridge.BindingsOf(e), 1)
}

func TestUnknownRouteFunctionFailsNew(t *testing.T) {
	cfg := testConfig(t)
	cfg.Routes = append(cfg.Routes, config.RouteConfig{Signal: "timeout", Function: "nope"})
	_, err := New(cfg, host.NewScene(data.NewClassTable()), zap.NewNop())
	require.Error(t, err)
}

// moveSystem drags every player along +x by one unit per tick. It declares
// no host access, so it runs on a worker.
type moveSystem struct {
	a      *App
	th     *host.Thread
	onHost []bool
}

func (s *moveSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *moveSystem) Access() coresys.Access {
	return coresys.Access{Writes: []string{world.StorePose}}
}

func (s *moveSystem) Update(_ time.Duration) {
	s.onHost = append(s.onHost, s.th.Current())
	for _, e := range s.a.State.Groups.IDs() {
		g, _ := s.a.State.Groups.Get(e)
		p, ok := s.a.State.Poses.Get(e)
		if !g.Is("players") || !ok {
			continue
		}
		p.Translation = p.Translation.Add(mgl64.Vec3{1, 0, 0})
		s.a.State.Poses.MarkChanged(e)
	}
}

// hostCheck is a host-bound system that records where it ran.
type hostCheck struct {
	th     *host.Thread
	phase  coresys.Phase
	onHost []bool
}

func (s *hostCheck) Phase() coresys.Phase { return s.phase }

func (s *hostCheck) Access() coresys.Access {
	return coresys.Access{Host: true, Reads: []string{world.StoreHandle}}
}

func (s *hostCheck) Update(_ time.Duration) {
	s.onHost = append(s.onHost, s.th.Current())
}

func TestHostThreadGate(t *testing.T) {
	th := host.NewThread()
	defer th.Close()

	mover := &moveSystem{th: th}
	early := &hostCheck{th: th, phase: coresys.PhasePreUpdate}
	late := &hostCheck{th: th, phase: coresys.PhasePostUpdate}
	a := newApp(t, testConfig(t), WithHostExecutor(th), WithSystems(mover, early, late))
	mover.a = a
	th.Do(func() {
		a.Scene.BindThread(th.Current)
		a.Startup()
	})
	before := a.Scene.Calls()

	for i := 0; i < 3; i++ {
		tick(t, a)
		th.Do(a.Scene.EndFrame)
	}

	require.Greater(t, a.Scene.Calls(), before, "readback and pushdown reached the scene")
	require.Zero(t, a.Scene.StrayCalls(), "every scene call came through the host thread")
	require.Equal(t, []bool{false, false, false}, mover.onHost, "worker systems stay off the host thread")
	require.Equal(t, []bool{true, true, true}, early.onHost)
	require.Equal(t, []bool{true, true, true}, late.onHost)

	var x float64
	th.Do(func() {
		x = find(t, a.Scene, "Player").Transform3D().Origin.X()
	})
	require.InDelta(t, 3, x, 1e-9)
}

func TestRandomEditsKeepRegistryConsistent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transform.BatchMode = "always"
	a := newApp(t, cfg)
	a.Startup()
	tick(t, a)

	rng := rand.New(rand.NewSource(7))
	classes := []string{"Node", "Node2D", "Node3D", "Area3D", "Sprite2D", "Timer"}
	var live []*host.Instance
	for i := 0; i < 300; i++ {
		switch op := rng.Intn(10); {
		case op < 4 || len(live) == 0:
			parent := a.Scene.Root()
			if len(live) > 0 && rng.Intn(2) == 0 {
				parent = live[rng.Intn(len(live))]
			}
			n, err := a.Scene.NewNode(classes[rng.Intn(len(classes))], "n")
			require.NoError(t, err)
			require.NoError(t, a.Scene.AddChild(parent, n))
			live = append(live, n)
		case op < 6:
			a.Scene.Rename(live[rng.Intn(len(live))], "renamed")
		case op < 8:
			n := live[rng.Intn(len(live))]
			require.NoError(t, a.Scene.Free(n))
		default:
			n, p := live[rng.Intn(len(live))], live[rng.Intn(len(live))]
			_ = a.Scene.Reparent(n, p) // cycles are refused
		}
		kept := live[:0]
		for _, n := range live {
			if !n.Freed() {
				kept = append(kept, n)
			}
		}
		live = kept

		if rng.Intn(3) == 0 {
			a.Scene.EndFrame()
			tick(t, a)
			checkConsistent(t, a)
		}
	}
	a.Scene.EndFrame()
	tick(t, a)
	checkConsistent(t, a)
}
