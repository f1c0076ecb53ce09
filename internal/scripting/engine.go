package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM holding scripted track types.
// Single-goroutine access only (game loop).
type Engine struct {
	vm    *lua.LState
	log   *zap.Logger
	types []*LuaType

	// blocks is the world being queried by the running call; nil between calls.
	blocks world.BlockAccess
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
// Scripts declare track types with register_track_type.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("block_at", vm.NewFunction(e.luaBlockAt))
	vm.SetGlobal("register_track_type", vm.NewFunction(e.luaRegisterTrackType))

	// Helpers first, then the track type definitions that use them
	for _, sub := range []string{"core", "track"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
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

// TrackTypes returns the scripted types in declaration order.
func (e *Engine) TrackTypes() []*LuaType {
	return e.types
}

// block_at(x, y, z) -> kind, facing
func (e *Engine) luaBlockAt(L *lua.LState) int {
	if e.blocks == nil {
		L.RaiseError("block_at called outside a track query")
		return 0
	}
	pos := world.BlockPos{X: L.CheckInt(1), Y: L.CheckInt(2), Z: L.CheckInt(3)}
	b := e.blocks.Block(pos)
	kind := b.Kind
	if b.IsAir() {
		kind = "air"
	}
	L.Push(lua.LString(kind))
	L.Push(lua.LString(b.Facing.String()))
	return 2
}

// register_track_type{name = "...", is_track = fn(x, y, z), find = fn(x, y, z)}
func (e *Engine) luaRegisterTrackType(L *lua.LState) int {
	def := L.CheckTable(1)
	name := lStr(def, "name")
	if name == "" {
		L.ArgError(1, "name is required")
		return 0
	}
	for _, t := range e.types {
		if t.name == name {
			L.ArgError(1, fmt.Sprintf("track type %q already declared", name))
			return 0
		}
	}
	isTrack, ok := def.RawGetString("is_track").(*lua.LFunction)
	if !ok {
		L.ArgError(1, "is_track must be a function")
		return 0
	}
	find, ok := def.RawGetString("find").(*lua.LFunction)
	if !ok {
		L.ArgError(1, "find must be a function")
		return 0
	}
	e.types = append(e.types, &LuaType{engine: e, name: name, isTrack: isTrack, find: find})
	e.log.Debug("lua track type declared", zap.String("type", name))
	return 0
}

// call runs fn(x, y, z) against blocks and returns its single result.
// The previous world is restored afterwards so nested queries work.
func (e *Engine) call(fn *lua.LFunction, blocks world.BlockAccess, pos world.BlockPos) (lua.LValue, error) {
	prev := e.blocks
	e.blocks = blocks
	defer func() { e.blocks = prev }()

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(pos.X), lua.LNumber(pos.Y), lua.LNumber(pos.Z)); err != nil {
		return lua.LNil, err
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return result, nil
}

// LuaType is a track type whose recognition and search are Lua functions.
type LuaType struct {
	track.Registration

	engine  *Engine
	name    string
	isTrack *lua.LFunction
	find    *lua.LFunction
}

func (t *LuaType) Name() string { return t.name }

// IsTrackCell reports false when the script errors.
func (t *LuaType) IsTrackCell(blocks world.BlockAccess, pos world.BlockPos) bool {
	ret, err := t.engine.call(t.isTrack, blocks, pos)
	if err != nil {
		t.engine.log.Error("lua is_track error",
			zap.String("type", t.name), zap.Stringer("pos", pos), zap.Error(err))
		return false
	}
	return lua.LVAsBool(ret)
}

// FindReachableTrack expects find to return a list of cells, each either
// {x, y, z} or {x = .., y = .., z = ..}. nil means no track.
func (t *LuaType) FindReachableTrack(blocks world.BlockAccess, pos world.BlockPos) ([]world.BlockPos, error) {
	ret, err := t.engine.call(t.find, blocks, pos)
	if err != nil {
		return nil, fmt.Errorf("lua %s find: %w", t.name, err)
	}
	if ret == lua.LNil {
		return nil, nil
	}
	list, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua %s find: returned %s, want table", t.name, ret.Type())
	}
	n := list.Len()
	out := make([]world.BlockPos, 0, n)
	for i := 1; i <= n; i++ {
		cell, ok := list.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("lua %s find: entry %d is not a table", t.name, i)
		}
		out = append(out, cellPos(cell))
	}
	return out, nil
}

// --- Lua helpers ---

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

func cellPos(t *lua.LTable) world.BlockPos {
	if t.RawGetString("x") != lua.LNil {
		return world.BlockPos{X: lInt(t, "x"), Y: lInt(t, "y"), Z: lInt(t, "z")}
	}
	return world.BlockPos{
		X: int(lua.LVAsNumber(t.RawGetInt(1))),
		Y: int(lua.LVAsNumber(t.RawGetInt(2))),
		Z: int(lua.LVAsNumber(t.RawGetInt(3))),
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
