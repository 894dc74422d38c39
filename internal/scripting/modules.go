package scripting

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerModules defines the lobber global table in L:
//
//	lobber.app           the application name
//	lobber.log(...)      logs its arguments at info level
//	lobber.lower(s)      case-folds s for username comparisons
func (m *Manager) registerModules(L *lua.LState, app string) {
	logger := m.logger.With(zap.String("application", app))
	mod := L.NewTable()
	mod.RawSetString("app", lua.LString(app))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.Get(i).String())
		}
		logger.Info("script", zap.String("message", strings.Join(parts, " ")))
		return 0
	}))
	mod.RawSetString("lower", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("lobber", mod)
}
