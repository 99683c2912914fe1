//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/store"
)

const maxHandlersPerScript = 100

// registerRGBModule registers the `rgb` global table.
//
// Device arguments accept a controller index or a device name. Color
// arguments accept anything controller.ParseColor does, or a number
// 0xRRGGBB. Setters return true, or nil and an error message.
func registerRGBModule(L *lua.LState, vm *scriptVM, e *Engine) {
	fns := map[string]lua.LGFunction{
		"on":             func(L *lua.LState) int { return rgbOn(L, vm) },
		"after":          func(L *lua.LState) int { return rgbAfter(L, vm, e) },
		"log":            func(L *lua.LState) int { return rgbLog(L, vm) },
		"devices":        func(L *lua.LState) int { return rgbDevices(L, e) },
		"device":         func(L *lua.LState) int { return rgbDevice(L, e) },
		"set_color":      func(L *lua.LState) int { return rgbSetColor(L, e) },
		"set_zone_color": func(L *lua.LState) int { return rgbSetZoneColor(L, e) },
		"set_led":        func(L *lua.LState) int { return rgbSetLED(L, e) },
		"set_mode":       func(L *lua.LState) int { return rgbSetMode(L, e) },
		"gradient":       func(L *lua.LState) int { return rgbGradient(L, e) },
		"off":            func(L *lua.LState) int { return rgbOff(L, e) },
	}
	L.SetGlobal("rgb", L.SetFuncs(L.NewTable(), fns))
}

// rgb.on(type, [filter], callback)
func rgbOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	h := luaEventHandler{eventType: eventType}

	if L.GetTop() >= 3 {
		if filter := L.OptTable(2, nil); filter != nil {
			if v := filter.RawGetString("device"); v != lua.LNil {
				h.device = v.String()
			}
		}
		h.fn = L.CheckFunction(3)
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// rgb.log(msg)
func rgbLog(L *lua.LState, vm *scriptVM) int {
	vm.logf(L.CheckString(1))
	return 0
}

// rgb.after(seconds, callback)
func rgbAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// rgb.devices()
func rgbDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for _, dev := range e.lights.Devices() {
		tbl.Append(deviceTable(L, dev))
	}
	L.Push(tbl)
	return 1
}

// rgb.device(target)
func rgbDevice(L *lua.LState, e *Engine) int {
	dev, err := resolveDevice(L, e, 1)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(deviceTable(L, dev))
	return 1
}

// rgb.set_color(target, color)
func rgbSetColor(L *lua.LState, e *Engine) int {
	dev, err := resolveDevice(L, e, 1)
	if err != nil {
		return pushError(L, err)
	}
	col, err := checkColor(L, 2)
	if err != nil {
		return pushError(L, err)
	}
	return e.call(L, func(ctx context.Context) error {
		return e.lights.SetColor(ctx, dev.Index, col)
	})
}

// rgb.off(target)
func rgbOff(L *lua.LState, e *Engine) int {
	dev, err := resolveDevice(L, e, 1)
	if err != nil {
		return pushError(L, err)
	}
	return e.call(L, func(ctx context.Context) error {
		return e.lights.SetColor(ctx, dev.Index, 0)
	})
}

// rgb.set_zone_color(target, zone, color); zone is an index or a name.
func rgbSetZoneColor(L *lua.LState, e *Engine) int {
	dev, err := resolveDevice(L, e, 1)
	if err != nil {
		return pushError(L, err)
	}
	var zone uint32
	switch v := L.Get(2).(type) {
	case lua.LNumber:
		zone = uint32(v)
	case lua.LString:
		zone, err = e.lights.ZoneIndex(dev.Index, string(v))
		if err != nil {
			return pushError(L, err)
		}
	default:
		L.ArgError(2, "zone index or name expected")
		return 0
	}
	col, err := checkColor(L, 3)
	if err != nil {
		return pushError(L, err)
	}
	return e.call(L, func(ctx context.Context) error {
		return e.lights.SetZoneColor(ctx, dev.Index, zone, col)
	})
}

// rgb.set_led(target, led, color)
func rgbSetLED(L *lua.LState, e *Engine) int {
	dev, err := resolveDevice(L, e, 1)
	if err != nil {
		return pushError(L, err)
	}
	led := L.CheckInt(2)
	if led < 0 {
		L.ArgError(2, "led index must not be negative")
		return 0
	}
	col, err := checkColor(L, 3)
	if err != nil {
		return pushError(L, err)
	}
	return e.call(L, func(ctx context.Context) error {
		return e.lights.SetLEDColor(ctx, dev.Index, uint32(led), col)
	})
}

// rgb.set_mode(target, mode)
func rgbSetMode(L *lua.LState, e *Engine) int {
	dev, err := resolveDevice(L, e, 1)
	if err != nil {
		return pushError(L, err)
	}
	mode := L.CheckString(2)
	return e.call(L, func(ctx context.Context) error {
		return e.lights.SetMode(ctx, dev.Index, mode)
	})
}

// rgb.gradient(target, from, to) spreads a gradient across all LEDs.
func rgbGradient(L *lua.LState, e *Engine) int {
	dev, err := resolveDevice(L, e, 1)
	if err != nil {
		return pushError(L, err)
	}
	from, err := checkColor(L, 2)
	if err != nil {
		return pushError(L, err)
	}
	to, err := checkColor(L, 3)
	if err != nil {
		return pushError(L, err)
	}
	colors := controller.Gradient(from, to, len(dev.Controller.Leds))
	return e.call(L, func(ctx context.Context) error {
		return e.lights.SetColors(ctx, dev.Index, colors)
	})
}

// call runs fn with the engine's call timeout and pushes the Lua result.
func (e *Engine) call(L *lua.LState, fn func(ctx context.Context) error) int {
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		e.logger.Warn("script call failed", "err", err)
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// resolveDevice reads a device index or name argument.
func resolveDevice(L *lua.LState, e *Engine, n int) (*store.Device, error) {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		if v < 0 {
			return nil, fmt.Errorf("device %v: %w", v, controller.ErrInvalidID)
		}
		return e.lights.Device(uint32(v))
	case lua.LString:
		return e.lights.DeviceByName(string(v))
	default:
		L.ArgError(n, "device index or name expected")
		return nil, nil
	}
}

// checkColor reads a color argument.
func checkColor(L *lua.LState, n int) (proto.Color, error) {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		x := uint32(v)
		return proto.RGB(uint8(x>>16), uint8(x>>8), uint8(x)), nil
	case lua.LString:
		return controller.ParseColor(string(v))
	default:
		L.ArgError(n, "color string or number expected")
		return 0, nil
	}
}
