package scripting_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/lobber/internal/scripting"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestNewSandboxedState_UnsafeLibsNil(t *testing.T) {
	L := scripting.NewSandboxedState()
	defer L.Close()
	for _, name := range []string{"os", "io", "debug", "dofile", "loadfile", "load", "collectgarbage", "require"} {
		assert.Equal(t, lua.LNil, L.GetGlobal(name), "expected %s to be nil", name)
	}
}

func TestNewSandboxedState_SafeLibsAvailable(t *testing.T) {
	L := scripting.NewSandboxedState()
	defer L.Close()
	err := L.DoString(`
		assert(math.sqrt(4) == 2.0, "math.sqrt failed")
		assert(string.upper("hello") == "HELLO", "string.upper failed")
		local t = {}
		table.insert(t, 1)
		assert(#t == 1, "table.insert failed")
	`)
	assert.NoError(t, err)
}

func TestManager_Call(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	path := writeScript(t, `
		function greet(user, lobby)
			lobber.log("greeting", user.username)
			return "hello " .. user.username .. " from " .. lobby.id .. " in " .. lobber.app
		end
		function echo(data) return data end
	`)
	require.NoError(t, m.Load("chat", path, 0))

	assert.True(t, m.Has("chat", "greet"))
	assert.False(t, m.Has("chat", "missing"))
	assert.False(t, m.Has("other", "greet"))

	got, err := m.Call("chat", "greet",
		map[string]any{"username": "alice"},
		map[string]any{"id": "room1"},
	)
	require.NoError(t, err)
	assert.Equal(t, "hello alice from room1 in chat", got)

	got, err = m.Call("chat", "echo", json.RawMessage(`{"x":[1,2,3],"ok":true,"half":0.5}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"x":    []any{int64(1), int64(2), int64(3)},
		"ok":   true,
		"half": 0.5,
	}, got)
}

func TestManager_CallMissing(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	_, err := m.Call("ghost", "fn")
	assert.ErrorIs(t, err, scripting.ErrNoScript)

	require.NoError(t, m.Load("chat", writeScript(t, `x = 1`), 0))
	_, err = m.Call("chat", "x")
	assert.ErrorIs(t, err, scripting.ErrNoFunction)
}

func TestManager_RuntimeErrorIsReturned(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	require.NoError(t, m.Load("chat", writeScript(t, `function boom() error("kaboom") end`), 0))
	_, err := m.Call("chat", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestManager_LoadFailure(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	assert.Error(t, m.Load("chat", writeScript(t, `this is not lua`), 0))
	assert.Error(t, m.Load("chat", filepath.Join(t.TempDir(), "missing.lua"), 0))
	assert.Error(t, m.Load("chat", writeScript(t, `while true do end`), 50))
}

func TestManager_BudgetIsPerCall(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	require.NoError(t, m.Load("chat", writeScript(t, `
		function work() local s = 0 for i = 1, 20 do s = s + i end return s end
		function spin() while true do end end
	`), 500))

	for i := 0; i < 10; i++ {
		got, err := m.Call("chat", "work")
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, int64(210), got)
	}
	_, err := m.Call("chat", "spin")
	assert.Error(t, err)
	got, err := m.Call("chat", "work")
	require.NoError(t, err)
	assert.Equal(t, int64(210), got)
}

func TestManager_ReloadReplacesVM(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	require.NoError(t, m.Load("chat", writeScript(t, `function v() return 1 end`), 0))
	require.NoError(t, m.Load("chat", writeScript(t, `function v() return 2 end`), 0))
	got, err := m.Call("chat", "v")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestProperty_InstructionLimitAlwaysErrors(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(10, 2000).Draw(rt, "limit")
		path := filepath.Join(t.TempDir(), "spin.lua")
		require.NoError(rt, os.WriteFile(path, []byte(`function spin() while true do end end`), 0o600))
		require.NoError(rt, m.Load("spin", path, limit))
		_, err := m.Call("spin", "spin")
		require.Error(rt, err)
	})
}

func TestProperty_ConvertRoundTripsStrings(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		L := scripting.NewSandboxedState()
		defer L.Close()
		words := rapid.SliceOf(rapid.String()).Draw(rt, "words")
		got, err := scripting.FromLua(scripting.ToLua(L, words))
		require.NoError(rt, err)
		if len(words) == 0 {
			require.Equal(rt, map[string]any{}, got)
			return
		}
		want := make([]any, len(words))
		for i, w := range words {
			want[i] = w
		}
		require.Equal(rt, want, got)
	})
}

func TestManager_CallRejectsCyclicResult(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	require.NoError(t, m.Load("duel", writeScript(t, `
		function cyc() local t = {}; t.self = t; return t end
		function ring() local a, b = {}, {}; a[1] = b; b[1] = a; return a end
		function shared() local s = {1}; return {left = s, right = s} end
	`), 0))

	for _, fn := range []string{"cyc", "ring"} {
		_, err := m.Call("duel", fn, nil, nil, nil)
		assert.ErrorIs(t, err, scripting.ErrCyclicTable, fn)
	}

	got, err := m.Call("duel", "shared")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"left": []any{int64(1)}, "right": []any{int64(1)}}, got)
}

func TestManager_CallRejectsDeepResult(t *testing.T) {
	m := scripting.NewManager(zaptest.NewLogger(t))
	defer m.Close()
	require.NoError(t, m.Load("deep", writeScript(t, `
		function nest(n)
			local t = {}
			for i = 1, n do t = {t} end
			return t
		end
	`), 0))

	_, err := m.Call("deep", "nest", scripting.MaxTableDepth+1)
	assert.ErrorIs(t, err, scripting.ErrTableDepth)

	_, err = m.Call("deep", "nest", scripting.MaxTableDepth-1)
	assert.NoError(t, err)
}
