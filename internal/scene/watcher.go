package scene

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/host"
)

// MaxWatchedSignals is the width of Event.SignalMask.
const MaxWatchedSignals = 64

// DefaultExcludeMeta marks nodes the watcher ignores.
const DefaultExcludeMeta = "_bridge_exclude"

// Options configures a Watcher.
type Options struct {
	ExcludeMeta    string
	WatchedSignals []string
}

// Watcher turns host tree notifications into Events. It runs on the host
// thread, never blocks and never touches the ECS.
type Watcher struct {
	ch          *Channel
	scene       *host.Scene
	excludeMeta string
	watched     []string
	excluded    map[host.NodeID]struct{}
	log         *zap.Logger
}

func NewWatcher(ch *Channel, log *zap.Logger, opts Options) (*Watcher, error) {
	watched := dedupe(opts.WatchedSignals)
	if len(watched) > MaxWatchedSignals {
		return nil, fmt.Errorf("scene: %d watched signals, at most %d fit the mask", len(watched), MaxWatchedSignals)
	}
	if opts.ExcludeMeta == "" {
		opts.ExcludeMeta = DefaultExcludeMeta
	}
	return &Watcher{
		ch:          ch,
		excludeMeta: opts.ExcludeMeta,
		watched:     watched,
		excluded:    make(map[host.NodeID]struct{}),
		log:         log,
	}, nil
}

// SignalBit returns the mask bit of a watched signal.
func (w *Watcher) SignalBit(signal string) (uint64, bool) {
	for i, s := range w.watched {
		if s == signal {
			return 1 << uint(i), true
		}
	}
	return 0, false
}

// WatchedSignals returns the signal names in mask bit order.
func (w *Watcher) WatchedSignals() []string { return append([]string(nil), w.watched...) }

// dedupe keeps the first occurrence of each name.
func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Attach subscribes to s's tree notifications.
func (w *Watcher) Attach(s *host.Scene) {
	w.scene = s
	s.AddListener(w)
}

func (w *Watcher) Detach() {
	if w.scene != nil {
		w.scene.RemoveListener(w)
		w.scene = nil
	}
}

// Walk reports every node already in the tree as Added, parents before
// children. The root is never mirrored.
func (w *Watcher) Walk() int {
	n := 0
	root := w.scene.Root()
	w.scene.Walk(func(node *host.Instance) bool {
		if node != root {
			if w.add(node) {
				n++
			}
		}
		return true
	})
	w.log.Info("scene tree walked", zap.Int("nodes", n))
	return n
}

func (w *Watcher) isExcluded(n *host.Instance) bool {
	v, ok := n.Meta(w.excludeMeta)
	if !ok {
		return false
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	return true
}

func (w *Watcher) add(n *host.Instance) bool {
	if w.isExcluded(n) {
		w.excluded[n.ID()] = struct{}{}
		return false
	}
	ev := Event{
		Kind:       Added,
		ID:         n.ID(),
		Class:      n.Class(),
		Name:       n.Name(),
		ParentID:   n.ParentID(),
		SignalMask: w.signalMask(n),
		Groups:     n.Groups(),
		Frame:      w.scene.Frame(),
	}
	ev.Pose, ev.Spatial = n.Pose()
	w.ch.Push(ev)
	return true
}

func (w *Watcher) signalMask(n *host.Instance) uint64 {
	var mask uint64
	for i, sig := range w.watched {
		if w.scene.HasSignal(n, sig) {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

func (w *Watcher) NodeAdded(n *host.Instance) { w.add(n) }

func (w *Watcher) NodeRemoved(n *host.Instance) {
	if _, ok := w.excluded[n.ID()]; ok {
		delete(w.excluded, n.ID())
		return
	}
	w.ch.Push(Event{
		Kind:     Removed,
		ID:       n.ID(),
		Class:    n.Class(),
		Name:     n.Name(),
		ParentID: n.ParentID(),
		Frame:    w.scene.Frame(),
	})
}

func (w *Watcher) NodeRenamed(n *host.Instance) {
	if _, ok := w.excluded[n.ID()]; ok {
		return
	}
	w.ch.Push(Event{Kind: Renamed, ID: n.ID(), Name: n.Name(), Frame: w.scene.Frame()})
}

func (w *Watcher) NodeReparented(n *host.Instance, _ host.NodeID) {
	if _, ok := w.excluded[n.ID()]; ok {
		return
	}
	w.ch.Push(Event{Kind: Reparented, ID: n.ID(), Name: n.Name(), ParentID: n.ParentID(), Frame: w.scene.Frame()})
}
