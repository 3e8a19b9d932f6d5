// Package collision keeps the set of touching entity pairs, fed by the
// contact signals of area and body nodes.
package collision

import (
	"sort"

	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/signal"
)

// Contact signals declared by area and rigid body classes.
const (
	BodyEntered = "body_entered"
	BodyExited  = "body_exited"
	AreaEntered = "area_entered"
	AreaExited  = "area_exited"
)

// Signals lists the contact signals in the order they should be watched.
var Signals = []string{BodyEntered, BodyExited, AreaEntered, AreaExited}

// Contact is captured on the host thread when a contact signal fires.
type Contact struct {
	Origin  ecs.EntityID
	Target  host.NodeID
	Started bool
}

// MapContact turns the arguments of a contact signal into a Contact. The
// first argument is the other node.
func MapContact(args []any, o signal.Origin) (Contact, bool) {
	if len(args) == 0 || o.Entity == ecs.NoEntity {
		return Contact{}, false
	}
	var target host.NodeID
	switch v := args[0].(type) {
	case host.NodeID:
		target = v
	case *host.Instance:
		if v == nil {
			return Contact{}, false
		}
		target = v.ID()
	default:
		return Contact{}, false
	}
	started := o.Signal == BodyEntered || o.Signal == AreaEntered
	return Contact{Origin: o.Entity, Target: target, Started: started}, true
}

// Pair is an unordered entity pair stored with A < B.
type Pair struct {
	A, B ecs.EntityID
}

func NewPair(a, b ecs.EntityID) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Other returns the entity of p that is not e.
func (p Pair) Other(e ecs.EntityID) ecs.EntityID {
	if p.A == e {
		return p.B
	}
	return p.A
}

// Tracker holds the touching pairs and the pairs that started or ended in
// the current tick. It is owned by the collision system; readers declare
// the collisions resource in their access.
type Tracker struct {
	active  map[Pair]struct{}
	with    map[ecs.EntityID][]ecs.EntityID
	started []Pair
	ended   []Pair
}

func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[Pair]struct{}),
		with:   make(map[ecs.EntityID][]ecs.EntityID),
	}
}

// BeginFrame clears the started and ended lists.
func (t *Tracker) BeginFrame() {
	t.started = t.started[:0]
	t.ended = t.ended[:0]
}

// Start records a contact between a and b. It returns false for a pair that
// is already touching or an entity touching itself.
func (t *Tracker) Start(a, b ecs.EntityID) bool {
	if a == b {
		return false
	}
	p := NewPair(a, b)
	if _, ok := t.active[p]; ok {
		return false
	}
	t.active[p] = struct{}{}
	t.with[p.A] = append(t.with[p.A], p.B)
	t.with[p.B] = append(t.with[p.B], p.A)
	t.started = append(t.started, p)
	return true
}

// End removes the contact between a and b. It returns false when the pair
// was not touching.
func (t *Tracker) End(a, b ecs.EntityID) bool {
	p := NewPair(a, b)
	if _, ok := t.active[p]; !ok {
		return false
	}
	t.drop(p)
	t.ended = append(t.ended, p)
	return true
}

// Forget ends every contact of e and returns the ended pairs.
func (t *Tracker) Forget(e ecs.EntityID) []Pair {
	others := append([]ecs.EntityID(nil), t.with[e]...)
	out := make([]Pair, 0, len(others))
	for _, o := range others {
		p := NewPair(e, o)
		t.drop(p)
		t.ended = append(t.ended, p)
		out = append(out, p)
	}
	return out
}

func (t *Tracker) drop(p Pair) {
	delete(t.active, p)
	t.with[p.A] = remove(t.with[p.A], p.B)
	t.with[p.B] = remove(t.with[p.B], p.A)
	if len(t.with[p.A]) == 0 {
		delete(t.with, p.A)
	}
	if len(t.with[p.B]) == 0 {
		delete(t.with, p.B)
	}
}

func remove(list []ecs.EntityID, e ecs.EntityID) []ecs.EntityID {
	for i, x := range list {
		if x == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Contains reports whether a and b are touching.
func (t *Tracker) Contains(a, b ecs.EntityID) bool {
	_, ok := t.active[NewPair(a, b)]
	return ok
}

// CollidingWith returns the entities touching e in contact order.
func (t *Tracker) CollidingWith(e ecs.EntityID) []ecs.EntityID {
	return append([]ecs.EntityID(nil), t.with[e]...)
}

// Pairs returns the touching pairs sorted by A then B.
func (t *Tracker) Pairs() []Pair {
	out := make([]Pair, 0, len(t.active))
	for p := range t.active {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Started returns the pairs that began touching this tick.
func (t *Tracker) Started() []Pair { return append([]Pair(nil), t.started...) }

// Ended returns the pairs that stopped touching this tick.
func (t *Tracker) Ended() []Pair { return append([]Pair(nil), t.ended...) }

func (t *Tracker) Len() int { return len(t.active) }
