package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/signal"
)

// Engine wraps a single gopher-lua VM holding signal mapper functions.
// Single-goroutine access only: mappers run on the host thread.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// Message is what a Lua mapper produces from a signal emission.
type Message struct {
	Route  string // Lua function that produced it
	Kind   string // "kind" field of the returned table, Route when absent
	Entity ecs.EntityID
	Node   host.NodeID
	Signal string
	Fields map[string]any
}

// NewEngine creates a Lua engine and loads every .lua file in dir. A missing
// dir yields an empty engine.
func NewEngine(dir string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if dir == "" {
		return e, nil
	}
	if err := e.loadDir(dir); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("log_info", vm.NewFunction(e.luaLog))
	return e
}

// loadDir loads all .lua files in a directory in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source, typically to define mappers.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// Has reports whether a global function named fn exists.
func (e *Engine) Has(fn string) bool {
	_, ok := e.vm.GetGlobal(fn).(*lua.LFunction)
	return ok
}

// luaLog lets scripts write to the bridge log: log_info("msg").
func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

// Mapper adapts the Lua function fn to a signal mapper. The function is
// called as fn(ctx, args...) with ctx = {entity, node, signal}; returning a
// table produces a Message, returning nil drops the emission.
func (e *Engine) Mapper(fn string) signal.Mapper[Message] {
	return func(args []any, origin signal.Origin) (Message, bool) {
		msg, ok, err := e.Call(fn, args, origin)
		if err != nil {
			e.log.Error("lua mapper error", zap.String("func", fn), zap.Error(err))
			return Message{}, false
		}
		return msg, ok
	}
}

// Call runs fn for one emission.
func (e *Engine) Call(fn string, args []any, origin signal.Origin) (Message, bool, error) {
	f, ok := e.vm.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return Message{}, false, fmt.Errorf("lua function %s not found", fn)
	}

	ctx := e.vm.NewTable()
	ctx.RawSetString("entity", lua.LNumber(origin.Entity))
	ctx.RawSetString("node", lua.LNumber(origin.Node))
	ctx.RawSetString("signal", lua.LString(origin.Signal))

	lArgs := make([]lua.LValue, 0, len(args)+1)
	lArgs = append(lArgs, ctx)
	for _, a := range args {
		lArgs = append(lArgs, toLua(e.vm, a))
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      f,
		NRet:    1,
		Protect: true,
	}, lArgs...); err != nil {
		return Message{}, false, err
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		if result != lua.LNil {
			return Message{}, false, fmt.Errorf("lua %s returned %s, want table or nil", fn, result.Type())
		}
		return Message{}, false, nil
	}
	fields := fromTable(rt)
	kind, _ := fields["kind"].(string)
	if kind == "" {
		kind = fn
	}
	delete(fields, "kind")
	return Message{
		Route:  fn,
		Kind:   kind,
		Entity: origin.Entity,
		Node:   origin.Node,
		Signal: origin.Signal,
		Fields: fields,
	}, true, nil
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint32:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case host.NodeID:
		return lua.LNumber(x)
	case ecs.EntityID:
		return lua.LNumber(x)
	case []any:
		t := L.NewTable()
		for _, item := range x {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range x {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromTable converts string-keyed entries; array parts become []any.
func fromTable(t *lua.LTable) map[string]any {
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			out[string(ks)] = fromLua(v)
		}
	})
	return out
}

func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if n := x.Len(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, fromLua(x.RawGetInt(i)))
			}
			return arr
		}
		return fromTable(x)
	default:
		return nil
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
