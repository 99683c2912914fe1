//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/store"
)

// luaEventHandler is a callback registered with rgb.on.
type luaEventHandler struct {
	eventType string
	device    string // device index or name filter, empty matches any
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script. Every call into the
// state goes through commands.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// logf records rgb.log and system.log output.
	logf func(msg string)
}

// Engine runs enabled scripts and feeds them controller events.
type Engine struct {
	lights  Lights
	manager *Manager
	logger  *slog.Logger

	// callTimeout bounds each controller call made from Lua.
	callTimeout time.Duration

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(lights Lights, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		lights:      lights,
		manager:     mgr,
		logger:      logger.With("component", "automation"),
		callTimeout: 5 * time.Second,
		vms:         make(map[string]*scriptVM),
	}
}

// Start subscribes to controller events and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.lights.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from events.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running reports whether the script with id has a live VM.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// ReloadScript stops the script's VM and starts it again if enabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary VM with a 5s budget. Handlers
// registered with rgb.on are each invoked once with a synthetic event so
// their actions run. Log output is captured in the result.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		logs  []string
		logMu sync.Mutex
	)
	vm := e.newVM(ctx, cancel, func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	})
	L := vm.state
	defer L.Close()
	L.SetContext(ctx)

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: append([]string(nil), logs...), Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (5s)"
			}
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		e.logger.Warn("run script", "err", err)
		return result(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		ev.RawSetString("test", lua.LTrue)
		if h.device != "" {
			ev.RawSetString("device", lua.LString(h.device))
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			e.logger.Warn("run script handler", "event", h.eventType, "err", err)
			return result(err)
		}
	}
	return result(nil)
}

// newVM creates a sandboxed state with the rgb and system modules loaded.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, logf func(string)) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
		logf:     logf,
	}
	registerRGBModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	logger := e.logger.With("script", s.ID)
	vm := e.newVM(ctx, cancel, func(msg string) {
		logger.Info("script log", "msg", msg)
	})
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on each VM's command loop.
func (e *Engine) dispatchEvent(event controller.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			if vm.ctx.Err() != nil {
				break
			}
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "event", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event controller.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if h.device == "" {
		return true
	}
	dev, ok := event.Data.(*store.Device)
	if !ok {
		return false
	}
	return h.device == fmt.Sprint(dev.Index) || h.device == dev.Name() || h.device == dev.Controller.Name
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event controller.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "event", event.Type, "err", err)
	}
}

// eventTable converts a controller event to the table handlers receive.
func eventTable(L *lua.LState, event controller.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(event.Type))
	t.RawSetString("id", lua.LString(event.ID))
	t.RawSetString("time", lua.LNumber(event.Time.Unix()))

	switch data := event.Data.(type) {
	case *store.Device:
		t.RawSetString("device", deviceTable(L, data))
	case map[string]interface{}:
		for k, v := range data {
			t.RawSetString(k, goToLua(L, v))
		}
	}
	return t
}

// deviceTable is the Lua view of a device.
func deviceTable(L *lua.LState, dev *store.Device) *lua.LTable {
	d := L.NewTable()
	d.RawSetString("index", lua.LNumber(dev.Index))
	d.RawSetString("name", lua.LString(dev.Name()))
	d.RawSetString("type", lua.LNumber(dev.Controller.Type))
	d.RawSetString("leds", lua.LNumber(len(dev.Controller.Leds)))

	zones := L.NewTable()
	for _, z := range dev.Controller.Zones {
		zones.Append(lua.LString(z.Name))
	}
	d.RawSetString("zones", zones)

	modes := L.NewTable()
	for _, m := range dev.Controller.Modes {
		modes.Append(lua.LString(m.Name))
	}
	d.RawSetString("modes", modes)

	if am := dev.Controller.ActiveMode; am >= 0 && int(am) < len(dev.Controller.Modes) {
		d.RawSetString("mode", lua.LString(dev.Controller.Modes[am].Name))
	}

	colors := L.NewTable()
	for _, c := range dev.Controller.Colors {
		colors.Append(lua.LString(c.Hex()))
	}
	d.RawSetString("colors", colors)
	return d
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for _, vv := range val {
			t.Append(goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
