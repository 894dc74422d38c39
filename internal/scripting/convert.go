package scripting

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts plain Go data (the shapes produced by encoding/json plus
// common scalar types) into a Lua value.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.RawMessage:
		if len(val) == 0 {
			return lua.LNil
		}
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return lua.LString(string(val))
		}
		return ToLua(L, decoded)
	case []string:
		t := L.NewTable()
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, ToLua(L, val[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// MaxTableDepth bounds how deeply nested a table returned by a script may be.
const MaxTableDepth = 32

// Conversion failures.
var (
	ErrCyclicTable = errors.New("table references itself")
	ErrTableDepth  = errors.New("table nested too deeply")
)

// FromLua converts a Lua value into plain Go data. Tables with only a
// contiguous integer key range starting at 1 become []any; other tables
// become map[string]any.
//
// Postcondition: Returns ErrCyclicTable or ErrTableDepth instead of
// recursing without bound.
func FromLua(v lua.LValue) (any, error) {
	return fromLua(v, make(map[*lua.LTable]bool), 0)
}

func fromLua(v lua.LValue, seen map[*lua.LTable]bool, depth int) (any, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil
	case *lua.LTable:
		if seen[val] {
			return nil, ErrCyclicTable
		}
		if depth >= MaxTableDepth {
			return nil, ErrTableDepth
		}
		seen[val] = true
		defer delete(seen, val)
		return tableFromLua(val, seen, depth+1)
	default:
		return val.String(), nil
	}
}

func tableFromLua(t *lua.LTable, seen map[*lua.LTable]bool, depth int) (any, error) {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(t.RawGetInt(i), seen, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}
	out := make(map[string]any, count)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		var item any
		if item, err = fromLua(v, seen, depth); err == nil {
			out[k.String()] = item
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
