package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/signal"
)

const coinScript = `
function on_coin_body_entered(ctx, body)
  if body == 0 then
    return nil
  end
  return { kind = "coin_collected", coin = ctx.entity, body = body, tags = {"loot", "gold"} }
end

function on_timeout(ctx)
  return { fired = true }
end

function broken(ctx)
  error("boom")
end

function wrong_type(ctx)
  return 42
end
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coin.lua"), []byte(coinScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))
	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestMapperProducesMessage(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Has("on_coin_body_entered"))
	require.False(t, e.Has("missing"))

	origin := signal.Origin{Node: host.NodeID(3), Entity: ecs.EntityID(12), Signal: "body_entered"}
	msg, ok := e.Mapper("on_coin_body_entered")([]any{host.NodeID(8)}, origin)
	require.True(t, ok)
	require.Equal(t, "coin_collected", msg.Kind)
	require.Equal(t, "on_coin_body_entered", msg.Route)
	require.Equal(t, ecs.EntityID(12), msg.Entity)
	require.Equal(t, map[string]any{
		"coin": float64(12),
		"body": float64(8),
		"tags": []any{"loot", "gold"},
	}, msg.Fields)

	_, ok = e.Mapper("on_coin_body_entered")([]any{host.NodeID(0)}, origin)
	require.False(t, ok, "nil result drops the emission")
}

func TestKindDefaultsToFunctionName(t *testing.T) {
	e := newTestEngine(t)
	msg, ok, err := e.Call("on_timeout", nil, signal.Origin{Signal: "timeout"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "on_timeout", msg.Kind)
	require.Equal(t, true, msg.Fields["fired"])
}

func TestMapperErrorsAreContained(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Call("broken", nil, signal.Origin{})
	require.Error(t, err)
	_, _, err = e.Call("wrong_type", nil, signal.Origin{})
	require.Error(t, err)
	_, _, err = e.Call("missing", nil, signal.Origin{})
	require.Error(t, err)

	_, ok := e.Mapper("broken")(nil, signal.Origin{})
	require.False(t, ok)
}

func TestMissingDirIsEmpty(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "none"), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.LoadString(`function f(ctx) return {} end`))
	require.True(t, e.Has("f"))
}

func TestBadScriptFailsLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.lua"), []byte("function ("), 0o644))
	_, err := NewEngine(dir, zap.NewNop())
	require.Error(t, err)
}
