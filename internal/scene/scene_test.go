package scene

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/data"
	"github.com/nodebridge/nodebridge/internal/host"
)

func newWatched(t *testing.T, signals ...string) (*host.Scene, *Channel, *Watcher) {
	t.Helper()
	s := host.NewScene(data.NewClassTable())
	ch := NewChannel(16)
	w, err := NewWatcher(ch, zap.NewNop(), Options{WatchedSignals: signals})
	require.NoError(t, err)
	w.Attach(s)
	return s, ch, w
}

func add(t *testing.T, s *host.Scene, parent *host.Instance, class, name string) *host.Instance {
	t.Helper()
	n, err := s.NewNode(class, name)
	require.NoError(t, err)
	require.NoError(t, s.AddChild(parent, n))
	return n
}

func kinds(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, fmt.Sprintf("%s %s", ev.Kind, ev.Name))
	}
	return out
}

func TestChannelConcurrentProducers(t *testing.T) {
	ch := NewChannel(0)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ch.Push(Event{ID: host.NodeID(p*1000 + i)})
			}
		}(p)
	}
	wg.Wait()

	evs := ch.Drain()
	require.Len(t, evs, 400)
	last := map[int]host.NodeID{}
	for _, ev := range evs {
		p := int(ev.ID) / 1000
		if prev, ok := last[p]; ok {
			require.Greater(t, ev.ID, prev, "per-producer FIFO")
		}
		last[p] = ev.ID
	}
	require.Zero(t, ch.Len())
	require.Empty(t, ch.Drain())
}

func TestWatcherAddedEvent(t *testing.T) {
	s, ch, _ := newWatched(t, "body_entered", "timeout", "pressed")
	area := add(t, s, s.Root(), "Area3D", "Zone")
	area.AddToGroup("hazards")

	evs := ch.Drain()
	require.Len(t, evs, 1)
	ev := evs[0]
	require.Equal(t, Added, ev.Kind)
	require.Equal(t, area.ID(), ev.ID)
	require.Equal(t, "Area3D", ev.Class)
	require.Equal(t, s.Root().ID(), ev.ParentID)
	require.Equal(t, uint64(0b001), ev.SignalMask)
	require.True(t, ev.Spatial)
	require.Equal(t, host.IdentityPose(), ev.Pose)
	require.Empty(t, ev.Groups, "groups are captured when the node enters the tree")
}

func TestWatcherExcludesMarkedNodes(t *testing.T) {
	s, ch, _ := newWatched(t)
	hidden, err := s.NewNode("Node", "Debug")
	require.NoError(t, err)
	hidden.SetMeta(DefaultExcludeMeta, true)
	require.NoError(t, s.AddChild(s.Root(), hidden))
	add(t, s, hidden, "Node", "DebugChild")

	optedIn, err := s.NewNode("Node", "Visible")
	require.NoError(t, err)
	optedIn.SetMeta(DefaultExcludeMeta, false)
	require.NoError(t, s.AddChild(s.Root(), optedIn))

	s.Rename(hidden, "Debug2")
	s.EndFrame()
	require.NoError(t, s.Free(hidden))

	require.Equal(t, []string{"added DebugChild", "added Visible", "removed DebugChild"}, kinds(ch.Drain()))
}

func TestWatcherRemovalAndRenameOrder(t *testing.T) {
	s, ch, _ := newWatched(t)
	n := add(t, s, s.Root(), "Node", "A")
	s.EndFrame()
	s.Rename(n, "B")
	s.EndFrame()
	require.NoError(t, s.Free(n))

	evs := ch.Drain()
	require.Equal(t, []string{"added A", "renamed B", "removed B"}, kinds(evs))
	require.Equal(t, []uint64{0, 1, 2}, []uint64{evs[0].Frame, evs[1].Frame, evs[2].Frame})
}

func TestWatcherReparent(t *testing.T) {
	s, ch, _ := newWatched(t)
	a := add(t, s, s.Root(), "Node", "A")
	b := add(t, s, s.Root(), "Node", "B")
	ch.Drain()

	require.NoError(t, s.Reparent(a, b))
	evs := ch.Drain()
	require.Len(t, evs, 1)
	require.Equal(t, Reparented, evs[0].Kind)
	require.Equal(t, b.ID(), evs[0].ParentID)
}

func TestWalkIsPreOrderAndSkipsRoot(t *testing.T) {
	s := host.NewScene(data.NewClassTable())
	a := add(t, s, s.Root(), "Node", "A")
	add(t, s, a, "Node", "A1")
	add(t, s, s.Root(), "Node", "B")

	ch := NewChannel(4)
	w, err := NewWatcher(ch, zap.NewNop(), Options{})
	require.NoError(t, err)
	w.Attach(s)
	require.Equal(t, 3, w.Walk())
	require.Equal(t, []string{"added A", "added A1", "added B"}, kinds(ch.Drain()))
}

func TestSignalBitsFollowWatchOrder(t *testing.T) {
	s, ch, w := newWatched(t, "timeout", "body_entered", "timeout", "area_entered")
	require.Equal(t, []string{"timeout", "body_entered", "area_entered"}, w.WatchedSignals())

	bit, ok := w.SignalBit("area_entered")
	require.True(t, ok)
	require.Equal(t, uint64(0b100), bit)
	_, ok = w.SignalBit("pressed")
	require.False(t, ok)

	add(t, s, s.Root(), "Area2D", "Pad")
	evs := ch.Drain()
	require.Len(t, evs, 1)
	require.Equal(t, uint64(0b110), evs[0].SignalMask)
}

func TestTooManyWatchedSignals(t *testing.T) {
	sigs := make([]string, MaxWatchedSignals+1)
	for i := range sigs {
		sigs[i] = fmt.Sprintf("s%d", i)
	}
	_, err := NewWatcher(NewChannel(0), zap.NewNop(), Options{WatchedSignals: sigs})
	require.Error(t, err)
}

func TestDetachStopsEvents(t *testing.T) {
	s, ch, w := newWatched(t)
	w.Detach()
	add(t, s, s.Root(), "Node", "Late")
	require.Zero(t, ch.Len())
}
