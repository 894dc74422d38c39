package scripting

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Lookup failures.
var (
	ErrNoScript   = errors.New("no script loaded")
	ErrNoFunction = errors.New("function not defined")
)

type vm struct {
	mu    sync.Mutex
	L     *lua.LState
	limit int
}

// Manager owns one sandboxed LState per application.
//
// Calls into the same application's VM are serialized; different
// applications may run concurrently.
type Manager struct {
	mu     sync.RWMutex
	vms    map[string]*vm
	logger *zap.Logger
}

// NewManager creates a Manager with no VMs.
//
// Precondition: logger must be non-nil.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		vms:    make(map[string]*vm),
		logger: logger.Named("scripting"),
	}
}

// Load creates a VM for app, registers the lobber module and executes the
// script at path. A previous VM for app is replaced.
//
// Precondition: app must be non-empty.
// Postcondition: Returns an error if the script fails to load or exceeds
// limit opcodes at top level.
func (m *Manager) Load(app, path string, limit int) error {
	L := NewSandboxedState()
	m.registerModules(L, app)

	release := budget(L, limit)
	err := L.DoFile(path)
	release()
	if err != nil {
		L.Close()
		return fmt.Errorf("scripting: loading %q for %q: %w", path, app, err)
	}

	m.mu.Lock()
	old := m.vms[app]
	m.vms[app] = &vm{L: L, limit: limit}
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	m.logger.Info("script loaded", zap.String("application", app), zap.String("path", path))
	return nil
}

func (m *Manager) lookup(app string) *vm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vms[app]
}

// Has reports whether app's script defines a global function named fn.
func (m *Manager) Has(app, fn string) bool {
	v := m.lookup(app)
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.L.GetGlobal(fn).(*lua.LFunction)
	return ok
}

// Call invokes the global function fn of app's script with args converted by
// ToLua and returns its first result converted by FromLua.
//
// Postcondition: Returns ErrNoScript or ErrNoFunction when the target is
// missing, a wrapped Lua error on runtime failure or budget exhaustion, and
// ErrCyclicTable or ErrTableDepth when the result cannot be converted.
func (m *Manager) Call(app, fn string, args ...any) (any, error) {
	v := m.lookup(app)
	if v == nil {
		return nil, fmt.Errorf("scripting: %q: %w", app, ErrNoScript)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	f, ok := v.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("scripting: %s.%s: %w", app, fn, ErrNoFunction)
	}
	largs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		largs = append(largs, ToLua(v.L, a))
	}

	release := budget(v.L, v.limit)
	err := v.L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, largs...)
	release()
	if err != nil {
		m.logger.Warn("Lua runtime error",
			zap.String("application", app),
			zap.String("function", fn),
			zap.Error(err),
		)
		return nil, fmt.Errorf("scripting: %s.%s: %w", app, fn, err)
	}
	ret := v.L.Get(-1)
	v.L.Pop(1)
	out, err := FromLua(ret)
	if err != nil {
		m.logger.Warn("Lua result not convertible",
			zap.String("application", app),
			zap.String("function", fn),
			zap.Error(err),
		)
		return nil, fmt.Errorf("scripting: %s.%s result: %w", app, fn, err)
	}
	return out, nil
}

// Close closes every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for app, v := range m.vms {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
		delete(m.vms, app)
	}
}
