package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nodebridge/nodebridge/internal/app"
	"github.com/nodebridge/nodebridge/internal/config"
	"github.com/nodebridge/nodebridge/internal/core/event"
	"github.com/nodebridge/nodebridge/internal/data"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/scripting"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner() {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             nodebridge  v0.1.0            \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        scene graph ⇄ ECS bridge           \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
}

func printSection(title string) {
	lineLen := 46 - runewidth.StringWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - runewidth.StringWidth(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main loop ─────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/nodebridge.toml"
	if p := os.Getenv("NODEBRIDGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner()

	// 3. Class table and scene
	printSection("Host scene")
	classes := data.NewClassTable()
	if cfg.Scene.ClassTable != "" {
		classes, err = data.LoadClassTable(cfg.Scene.ClassTable)
		if err != nil {
			return fmt.Errorf("load class table: %w", err)
		}
	}
	printStat("Classes", classes.Count())

	sceneFile, err := host.LoadSceneFile(cfg.Scene.Path)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}

	// Everything touching the scene from here on runs on the host thread.
	hostThread := host.NewThread()
	defer hostThread.Close()

	sc := host.NewScene(classes)
	if cfg.Logging.Level == "debug" {
		sc.BindThread(hostThread.Current)
	}
	hostThread.Do(func() { err = sc.Instantiate(sc.Root(), sceneFile) })
	if err != nil {
		return fmt.Errorf("instantiate scene: %w", err)
	}
	printStat("Nodes", sc.Len()-1)

	// 4. Bridge
	a, err := app.New(cfg, sc, log, app.WithHostExecutor(hostThread))
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	defer hostThread.Do(a.Close)
	printOK("Lua mappers loaded")

	event.Subscribe(a.Bus, func(m scripting.Message) {
		log.Info("signal message",
			zap.String("kind", m.Kind),
			zap.Uint64("entity", uint64(m.Entity)),
			zap.String("signal", m.Signal),
			zap.Any("fields", m.Fields),
		)
	})
	event.Subscribe(a.Bus, func(m event.NodeSpawned) {
		log.Debug("entity spawned", zap.Uint64("entity", uint64(m.Entity)), zap.String("name", m.Name), zap.String("class", m.Class))
	})

	event.Subscribe(a.Bus, func(m event.CollisionStarted) {
		log.Info("collision started", zap.Uint64("a", uint64(m.Entity1)), zap.Uint64("b", uint64(m.Entity2)))
	})
	event.Subscribe(a.Bus, func(m event.CollisionEnded) {
		log.Info("collision ended", zap.Uint64("a", uint64(m.Entity1)), zap.Uint64("b", uint64(m.Entity2)))
	})

	var walked int
	hostThread.Do(func() { walked = a.Startup() })
	printStat("Mirrored on startup", walked)
	fmt.Println()

	// 5. Loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	rate := cfg.Loop.TickRate
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	printSection("Running")
	printReady(fmt.Sprintf("tick %s, transform %s, batch %s", rate, cfg.Transform.Direction, cfg.Transform.BatchMode))
	fmt.Println()

	ticks := 0
	for {
		select {
		case <-ticker.C:
			if err := a.Tick(rate); err != nil {
				log.Error("tick", zap.Error(err))
			}
			ticks++
			hostThread.Do(func() {
				animate(sc, ticks, rate)
				sc.EndFrame()
			})
			if cfg.Loop.MaxTicks > 0 && ticks >= cfg.Loop.MaxTicks {
				log.Info("tick limit reached", zap.Int("ticks", ticks), zap.Int("entities", a.State.Registry.Len()))
				warnStray(log, sc)
				return nil
			}

		case sig := <-shutdownCh:
			log.Info("shutting down", zap.String("signal", sig.String()), zap.Int("ticks", ticks))
			warnStray(log, sc)
			return nil
		}
	}
}

func warnStray(log *zap.Logger, sc *host.Scene) {
	if n := sc.StrayCalls(); n > 0 {
		log.Warn("scene calls made off the host thread", zap.Uint64("calls", n))
	}
}

// animate plays the host side of the demo: spinners turn about Y and timers
// fire once a second.
func animate(sc *host.Scene, frame int, rate time.Duration) {
	step := rate.Seconds()
	perSecond := int(time.Second / rate)
	if perSecond < 1 {
		perSecond = 1
	}
	sc.Walk(func(n *host.Instance) bool {
		switch {
		case n.IsInGroup("spinners") && n.Dim() == 3:
			xf := n.Transform3D()
			spin := mgl64.Rotate3DY(step)
			xf.Basis = spin.Mul3(xf.Basis)
			n.SetTransform3D(xf)
		case n.Class() == "Timer" && frame%perSecond == 0:
			sc.Emit(n, "timeout")
		}
		return true
	})
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
