package system

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/event"
	coresys "github.com/nodebridge/nodebridge/internal/core/system"
	"github.com/nodebridge/nodebridge/internal/scripting"
	"github.com/nodebridge/nodebridge/internal/signal"
	"github.com/nodebridge/nodebridge/internal/world"
)

// ResourceBindings orders the systems that queue and resolve signal bindings.
const ResourceBindings = "signal_bindings"

// SignalSystem completes deferred connections, drops bindings of despawned
// entities and delivers captured signal messages into the bus. It touches
// the host, so it runs through the host executor.
// Phase 0 (First), after the scene tree and route systems.
type SignalSystem struct {
	bridge *signal.Bridge
	bus    *event.Bus
}

func NewSignalSystem(bridge *signal.Bridge, bus *event.Bus) *SignalSystem {
	return &SignalSystem{bridge: bridge, bus: bus}
}

func (s *SignalSystem) Phase() coresys.Phase { return coresys.PhaseFirst }
func (s *SignalSystem) Name() string         { return "signals" }

func (s *SignalSystem) Access() coresys.Access {
	return coresys.Access{
		Host:   true,
		Reads:  []string{world.StoreHandle},
		Writes: []string{ResourceBindings},
	}
}

func (s *SignalSystem) Update(_ time.Duration) {
	s.bridge.Update(s.bus)
}

// Route binds a signal of every node in Group to a Lua mapper function. An
// empty Group matches every node whose class declares Signal.
type Route struct {
	Group    string
	Signal   string
	Function string
}

// SignalBits maps a watched signal to its bit in the spawn-time signal mask.
type SignalBits interface {
	SignalBit(signal string) (uint64, bool)
}

// RouteSystem installs deferred connections for configured routes as nodes
// are spawned. A route only binds nodes whose signal mask has its signal.
// Phase 0 (First), between the scene tree and signal systems.
type RouteSystem struct {
	bridge *signal.Bridge
	engine *scripting.Engine
	routes []Route
	bits   []uint64
	bus    *event.Bus
	log    *zap.Logger
}

// NewRouteSystem checks that every route names a watched signal and a loaded
// Lua function.
func NewRouteSystem(bridge *signal.Bridge, engine *scripting.Engine, signals SignalBits, routes []Route, bus *event.Bus, log *zap.Logger) (*RouteSystem, error) {
	bits := make([]uint64, len(routes))
	for i, r := range routes {
		if r.Signal == "" {
			return nil, fmt.Errorf("signal route for group %q has no signal", r.Group)
		}
		bit, ok := signals.SignalBit(r.Signal)
		if !ok {
			return nil, fmt.Errorf("signal route %s/%s: signal is not watched", r.Group, r.Signal)
		}
		if !engine.Has(r.Function) {
			return nil, fmt.Errorf("signal route %s/%s: lua function %q not found", r.Group, r.Signal, r.Function)
		}
		bits[i] = bit
	}
	return &RouteSystem{bridge: bridge, engine: engine, routes: routes, bits: bits, bus: bus, log: log}, nil
}

func (s *RouteSystem) Phase() coresys.Phase { return coresys.PhaseFirst }
func (s *RouteSystem) Name() string         { return "signal_routes" }

func (s *RouteSystem) Access() coresys.Access {
	return coresys.Access{Writes: []string{ResourceBindings}}
}

func (s *RouteSystem) Update(_ time.Duration) {
	if len(s.routes) == 0 {
		return
	}
	for _, spawned := range event.Read[event.NodeSpawned](s.bus) {
		mask := component.SignalMask{Bits: spawned.Signals}
		for i, r := range s.routes {
			if !mask.Has(s.bits[i]) {
				continue
			}
			if r.Group != "" && !contains(spawned.Groups, r.Group) {
				continue
			}
			signal.ConnectDeferred(s.bridge, spawned.Entity, r.Signal, s.engine.Mapper(r.Function))
			s.log.Debug("signal route queued",
				zap.Uint64("entity", uint64(spawned.Entity)),
				zap.String("signal", r.Signal),
				zap.String("func", r.Function),
			)
		}
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
