package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nodebridge/nodebridge/internal/component"
)

type Config struct {
	Loop      LoopConfig      `toml:"loop"`
	Scene     SceneConfig     `toml:"scene"`
	SceneTree SceneTreeConfig `toml:"scene_tree"`
	Transform TransformConfig `toml:"transform"`
	Scripting ScriptingConfig `toml:"scripting"`
	Routes    []RouteConfig   `toml:"signal_route"`
	Logging   LoggingConfig   `toml:"logging"`
}

type LoopConfig struct {
	TickRate  time.Duration `toml:"tick_rate"`
	MaxTicks  int           `toml:"max_ticks"` // 0 runs until interrupted
	StartTime int64         // set at boot, not from config
}

type SceneConfig struct {
	Path       string `toml:"path"`        // scene YAML instantiated under the root
	ClassTable string `toml:"class_table"` // extra classes merged over the built-ins; optional
}

type SceneTreeConfig struct {
	CascadeDespawn  bool     `toml:"cascade_despawn"`
	ExcludeMeta     string   `toml:"exclude_meta"`
	WatchedSignals  []string `toml:"watched_signals"`
	ChannelSize     int      `toml:"channel_size"`
	TrackCollisions bool     `toml:"track_collisions"` // watch contact signals of areas and bodies
}

type TransformConfig struct {
	Direction      component.SyncDirection `toml:"direction"`
	BatchMode      string                  `toml:"batch_mode"` // "auto", "always" or "never"
	BatchThreshold int                     `toml:"batch_threshold"`
}

type ScriptingConfig struct {
	Dir string `toml:"dir"`
}

// RouteConfig binds a signal of every node in Group to a Lua function.
type RouteConfig struct {
	Group    string `toml:"group"`
	Signal   string `toml:"signal"`
	Function string `toml:"function"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Loop.StartTime = time.Now().Unix()
	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := defaults()
	cfg.Loop.StartTime = time.Now().Unix()
	return cfg
}

func (c *Config) validate() error {
	if c.Loop.TickRate <= 0 {
		return fmt.Errorf("loop.tick_rate must be positive, got %s", c.Loop.TickRate)
	}
	switch c.Transform.BatchMode {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("transform.batch_mode %q is not auto, always or never", c.Transform.BatchMode)
	}
	if c.SceneTree.ChannelSize <= 0 {
		return fmt.Errorf("scene_tree.channel_size must be positive, got %d", c.SceneTree.ChannelSize)
	}
	for i, r := range c.Routes {
		if r.Signal == "" || r.Function == "" {
			return fmt.Errorf("signal_route[%d]: signal and function are required", i)
		}
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Loop: LoopConfig{
			TickRate: 16 * time.Millisecond,
		},
		Scene: SceneConfig{
			Path: "data/yaml/scene.yaml",
		},
		SceneTree: SceneTreeConfig{
			CascadeDespawn:  true,
			ExcludeMeta:     "_bridge_exclude",
			ChannelSize:     256,
			TrackCollisions: true,
		},
		Transform: TransformConfig{
			Direction:      component.SyncBoth,
			BatchMode:      "auto",
			BatchThreshold: 64,
		},
		Scripting: ScriptingConfig{
			Dir: "scripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
