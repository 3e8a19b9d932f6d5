package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodebridge/nodebridge/internal/component"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodebridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[loop]
tick_rate = "33ms"

[transform]
direction = "native_to_ecs"
batch_mode = "always"

[scene_tree]
cascade_despawn = false
track_collisions = false
watched_signals = ["body_entered", "timeout"]

[[signal_route]]
group = "coins"
signal = "body_entered"
function = "on_coin_body_entered"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 33*time.Millisecond, cfg.Loop.TickRate)
	require.Equal(t, component.SyncNativeToECS, cfg.Transform.Direction)
	require.Equal(t, "always", cfg.Transform.BatchMode)
	require.Equal(t, 64, cfg.Transform.BatchThreshold, "unset keys keep their default")
	require.False(t, cfg.SceneTree.CascadeDespawn)
	require.False(t, cfg.SceneTree.TrackCollisions)
	require.Equal(t, "_bridge_exclude", cfg.SceneTree.ExcludeMeta)
	require.Equal(t, []string{"body_entered", "timeout"}, cfg.SceneTree.WatchedSignals)
	require.Equal(t, []RouteConfig{{Group: "coins", Signal: "body_entered", Function: "on_coin_body_entered"}}, cfg.Routes)
	require.NotZero(t, cfg.Loop.StartTime)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"direction":  "[transform]\ndirection = \"sideways\"\n",
		"batch mode": "[transform]\nbatch_mode = \"sometimes\"\n",
		"tick rate":  "[loop]\ntick_rate = \"0s\"\n",
		"route":      "[[signal_route]]\ngroup = \"x\"\n",
		"syntax":     "[loop\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())
	require.Equal(t, component.SyncBoth, cfg.Transform.Direction)
}
