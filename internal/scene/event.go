package scene

import (
	"github.com/nodebridge/nodebridge/internal/core/event"
	"github.com/nodebridge/nodebridge/internal/host"
)

// Kind is the type of a scene tree change.
type Kind uint8

const (
	Added Kind = iota
	Removed
	Renamed
	Reparented
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	case Reparented:
		return "reparented"
	default:
		return "unknown"
	}
}

// Event is an immutable record of one scene tree change, captured on the
// host thread. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind
	ID         host.NodeID
	Class      string
	Name       string
	ParentID   host.NodeID
	SignalMask uint64
	Groups     []string
	Pose       host.Pose // initial pose, Added only
	Spatial    bool
	Frame      uint64
}

// Channel carries scene events from the host thread to the lifecycle
// system. Any number of producers may push; there is one consumer.
type Channel struct {
	q *event.Queue[Event]
}

func NewChannel(capacity int) *Channel {
	return &Channel{q: event.NewQueue[Event](capacity)}
}

func (c *Channel) Push(ev Event) { c.q.Push(ev) }

// Drain returns every pending event in push order. The slice is reused by
// the next Drain.
func (c *Channel) Drain() []Event { return c.q.Drain() }

func (c *Channel) Len() int { return c.q.Len() }
