package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseFirst      Phase = iota // 0: frame bookkeeping, scene event drain, signal wiring
	PhasePreUpdate               // 1: native → ECS transform readback
	PhaseUpdate                  // 2: application logic
	PhasePostUpdate              // 3: late application logic
	PhaseLast                    // 4: ECS → native transform pushdown
	PhaseCleanup                 // 5: destroy queued entities
)

func (p Phase) String() string {
	switch p {
	case PhaseFirst:
		return "First"
	case PhasePreUpdate:
		return "PreUpdate"
	case PhaseUpdate:
		return "Update"
	case PhasePostUpdate:
		return "PostUpdate"
	case PhaseLast:
		return "Last"
	case PhaseCleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// System is the interface every ECS system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Access declares what a system touches. Names are component store or
// resource names; the runner only compares them.
//
// Host marks a system that can reach into the Host Engine (resolving a
// native handle, reading the scene root, connecting signals). Such systems
// run through the runner's HostExecutor and never concurrently with each
// other. Exclusive systems run alone in their stage.
type Access struct {
	Reads     []string
	Writes    []string
	Exclusive bool
	Host      bool
}

// Declarer is implemented by systems that declare their access. Systems that
// do not are treated as exclusive.
type Declarer interface {
	Access() Access
}

// Namer lets a system name itself in logs.
type Namer interface {
	Name() string
}

// HostExecutor runs fn on the host thread and returns once it has finished.
type HostExecutor interface {
	Do(fn func())
}

// Inline is a HostExecutor for callers that already tick on the host thread.
type Inline struct{}

func (Inline) Do(fn func()) { fn() }

func accessOf(s System) Access {
	if d, ok := s.(Declarer); ok {
		return d.Access()
	}
	return Access{Exclusive: true}
}

func conflicts(a, b Access) bool {
	if a.Exclusive || b.Exclusive {
		return true
	}
	return overlaps(a.Writes, b.Writes) || overlaps(a.Writes, b.Reads) || overlaps(a.Reads, b.Writes)
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
