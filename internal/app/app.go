// Package app assembles the bridge: scene watcher, lifecycle manager, node
// registry, transform sync, signal bridge and the staged runner.
package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/collision"
	"github.com/nodebridge/nodebridge/internal/config"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/core/event"
	coresys "github.com/nodebridge/nodebridge/internal/core/system"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/scene"
	"github.com/nodebridge/nodebridge/internal/scripting"
	"github.com/nodebridge/nodebridge/internal/signal"
	"github.com/nodebridge/nodebridge/internal/system"
	"github.com/nodebridge/nodebridge/internal/world"
)

// App owns one bridged scene.
type App struct {
	Config  *config.Config
	Scene   *host.Scene
	World   *ecs.World
	Bus     *event.Bus
	Channel *scene.Channel
	Watcher *scene.Watcher
	State   *world.State
	Bridge  *signal.Bridge
	Scripts *scripting.Engine
	Runner  *coresys.Runner
	// Collisions is nil unless scene_tree.track_collisions is set.
	Collisions *collision.Tracker

	started bool
	log     *zap.Logger
}

type options struct {
	host    coresys.HostExecutor
	workers int
	user    []coresys.System
}

// Option configures New.
type Option func(*options)

// WithHostExecutor routes host-bound systems through exec. Tick must then be
// called from a goroutine other than exec's own thread.
func WithHostExecutor(exec coresys.HostExecutor) Option {
	return func(o *options) { o.host = exec }
}

func WithMaxWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithSystems registers application systems. They run in their own phases,
// between readback and pushdown for PhaseUpdate and PhasePostUpdate.
func WithSystems(systems ...coresys.System) Option {
	return func(o *options) { o.user = append(o.user, systems...) }
}

// New wires an App over sc. The scene is not observed until Startup.
func New(cfg *config.Config, sc *host.Scene, log *zap.Logger, opts ...Option) (*App, error) {
	o := options{host: coresys.Inline{}}
	for _, opt := range opts {
		opt(&o)
	}

	ch := scene.NewChannel(cfg.SceneTree.ChannelSize)
	watcher, err := scene.NewWatcher(ch, log.Named("watcher"), scene.Options{
		ExcludeMeta:    cfg.SceneTree.ExcludeMeta,
		WatchedSignals: watchedSignals(cfg),
	})
	if err != nil {
		return nil, err
	}

	w := ecs.NewWorld()
	reg := world.NewNodeRegistry(sc)
	state := world.NewState(w, reg, sc.Classes(), log.Named("world"), world.WithCascade(cfg.SceneTree.CascadeDespawn))
	bridge := signal.NewBridge(reg, w, log.Named("signal"))
	state.OnDespawn(bridge.EntityDespawned)

	scripts, err := scripting.NewEngine(cfg.Scripting.Dir, log.Named("lua"))
	if err != nil {
		return nil, fmt.Errorf("lua engine: %w", err)
	}

	var batch system.BatchMode
	if err := batch.UnmarshalText([]byte(cfg.Transform.BatchMode)); err != nil {
		scripts.Close()
		return nil, err
	}
	xf := system.TransformConfig{
		Direction:      cfg.Transform.Direction,
		Batch:          batch,
		BatchThreshold: cfg.Transform.BatchThreshold,
	}

	bus := event.NewBus()
	routes := make([]system.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, system.Route{Group: r.Group, Signal: r.Signal, Function: r.Function})
	}
	routeSys, err := system.NewRouteSystem(bridge, scripts, watcher, routes, bus, log.Named("routes"))
	if err != nil {
		scripts.Close()
		return nil, err
	}
	var (
		tracker  *collision.Tracker
		watchSys *system.CollisionWatchSystem
	)
	if cfg.SceneTree.TrackCollisions {
		tracker = collision.NewTracker()
		if watchSys, err = system.NewCollisionWatchSystem(bridge, watcher, bus, log.Named("collisions")); err != nil {
			scripts.Close()
			return nil, err
		}
	}

	runnerOpts := []coresys.Option{coresys.WithHostExecutor(o.host)}
	if o.workers > 0 {
		runnerOpts = append(runnerOpts, coresys.WithMaxWorkers(o.workers))
	}
	runner := coresys.NewRunner(log.Named("runner"), runnerOpts...)

	// Phase 0: frame, lifecycle drain, route install, deferred signal resolution.
	runner.Register(system.NewFrameSystem(w, bus))
	runner.Register(system.NewSceneTreeSystem(state, ch, bus, log.Named("scene_tree")))
	runner.Register(routeSys)
	if watchSys != nil {
		runner.Register(watchSys)
	}
	runner.Register(system.NewSignalSystem(bridge, bus))
	// Phase 1
	runner.Register(system.NewTransformReadback(state, xf, log.Named("readback")))
	if tracker != nil {
		runner.Register(system.NewCollisionSystem(state, tracker, bus, log.Named("collisions")))
	}
	// Phase 2-3
	for _, s := range o.user {
		runner.Register(s)
	}
	runner.Register(system.NewDispatchSystem(bus))
	// Phase 4
	runner.Register(system.NewTransformPushdown(state, xf, log.Named("pushdown")))
	// Phase 5
	runner.Register(system.NewCleanupSystem(state, log.Named("cleanup")))

	return &App{
		Config:  cfg,
		Scene:   sc,
		World:   w,
		Bus:     bus,
		Channel: ch,
		Watcher: watcher,
		State:   state,
		Bridge:  bridge,
		Scripts: scripts,
		Runner:  runner,

		Collisions: tracker,
		log:        log,
	}, nil
}

// watchedSignals is the configured list plus every routed signal and, when
// collisions are tracked, the contact signals.
func watchedSignals(cfg *config.Config) []string {
	out := append([]string(nil), cfg.SceneTree.WatchedSignals...)
	for _, r := range cfg.Routes {
		out = append(out, r.Signal)
	}
	if cfg.SceneTree.TrackCollisions {
		out = append(out, collision.Signals...)
	}
	return out
}

// Startup subscribes the watcher and reports the nodes already in the tree.
// Host thread only; returns the number of Added events queued.
func (a *App) Startup() int {
	if a.started {
		return 0
	}
	a.started = true
	a.Watcher.Attach(a.Scene)
	return a.Watcher.Walk()
}

// Tick runs one ECS tick.
func (a *App) Tick(dt time.Duration) error {
	return a.Runner.Tick(dt)
}

// Close stops observing the scene and releases the Lua VM.
func (a *App) Close() {
	a.Watcher.Detach()
	a.Scripts.Close()
}
