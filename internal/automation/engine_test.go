//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type call struct {
	op     string
	index  uint32
	arg    uint32
	mode   string
	colors []proto.Color
}

func (c call) String() string {
	hex := make([]string, len(c.colors))
	for i, col := range c.colors {
		hex[i] = col.Hex()
	}
	return fmt.Sprintf("%s(%d,%d,%q,[%s])", c.op, c.index, c.arg, c.mode, strings.Join(hex, " "))
}

type fakeLights struct {
	events  *controller.EventBus
	devices []*store.Device

	mu    sync.Mutex
	calls []call
}

func newFakeLights() *fakeLights {
	return &fakeLights{
		events: controller.NewEventBus(testLogger()),
		devices: []*store.Device{{
			Index: 0,
			Controller: proto.Device{
				Type:       proto.DeviceLEDStrip,
				Name:       "Strip",
				Modes:      []proto.Mode{{Name: "Direct"}, {Name: "Breathing"}},
				ActiveMode: 1,
				Zones:      []proto.Zone{{Name: "Front", LedsCount: 2}, {Name: "Back", LedsCount: 1}},
				Leds:       []proto.Led{{Name: "F1"}, {Name: "F2"}, {Name: "B1"}},
				Colors:     []proto.Color{0, 0, proto.RGB(255, 0, 0)},
			},
		}},
	}
}

func (l *fakeLights) record(c call) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
	return nil
}

func (l *fakeLights) recorded() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}

func (l *fakeLights) Events() *controller.EventBus { return l.events }
func (l *fakeLights) Devices() []*store.Device     { return l.devices }

func (l *fakeLights) Device(index uint32) (*store.Device, error) {
	if int(index) >= len(l.devices) {
		return nil, fmt.Errorf("device %d: %w", index, controller.ErrInvalidID)
	}
	return l.devices[index], nil
}

func (l *fakeLights) DeviceByName(name string) (*store.Device, error) {
	for _, d := range l.devices {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %q: %w", name, controller.ErrInvalidID)
}

func (l *fakeLights) ZoneIndex(index uint32, zone string) (uint32, error) {
	d, err := l.Device(index)
	if err != nil {
		return 0, err
	}
	if i := d.Controller.ZoneIndex(zone); i >= 0 {
		return uint32(i), nil
	}
	return 0, fmt.Errorf("zone %q: %w", zone, controller.ErrInvalidID)
}

func (l *fakeLights) SetColor(_ context.Context, index uint32, col proto.Color) error {
	return l.record(call{op: "color", index: index, colors: []proto.Color{col}})
}

func (l *fakeLights) SetColors(_ context.Context, index uint32, colors []proto.Color) error {
	return l.record(call{op: "colors", index: index, colors: colors})
}

func (l *fakeLights) SetZoneColor(_ context.Context, index, zone uint32, col proto.Color) error {
	return l.record(call{op: "zone", index: index, arg: zone, colors: []proto.Color{col}})
}

func (l *fakeLights) SetLEDColor(_ context.Context, index, led uint32, col proto.Color) error {
	return l.record(call{op: "led", index: index, arg: led, colors: []proto.Color{col}})
}

func (l *fakeLights) SetMode(_ context.Context, index uint32, name string) error {
	if name == "Nope" {
		return fmt.Errorf("mode %q: %w", name, controller.ErrInvalidMode)
	}
	return l.record(call{op: "mode", index: index, mode: name})
}

func newTestEngine(t *testing.T) (*Engine, *fakeLights) {
	t.Helper()
	lights := newFakeLights()
	e := NewEngine(lights, newTestManager(t), testLogger())
	t.Cleanup(e.Stop)
	return e, lights
}

func TestRunLuaCodeCalls(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"color by name", `rgb.set_color("Strip", "#ff0000")`, `color(0,0,"",[#ff0000])`},
		{"color by number", `rgb.set_color(0, 0x00ff00)`, `color(0,0,"",[#00ff00])`},
		{"off", `rgb.off(0)`, `color(0,0,"",[#000000])`},
		{"zone by name", `rgb.set_zone_color(0, "Back", "rgb(0,0,255)")`, `zone(0,1,"",[#0000ff])`},
		{"zone by index", `rgb.set_zone_color(0, 0, "#fff")`, `zone(0,0,"",[#ffffff])`},
		{"led", `rgb.set_led(0, 2, "#010203")`, `led(0,2,"",[#010203])`},
		{"mode", `rgb.set_mode("Strip", "Direct")`, `mode(0,0,"Direct",[])`},
		{"gradient", `rgb.gradient(0, "#ff0000", "#0000ff")`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, lights := newTestEngine(t)
			res := e.RunLuaCode(tt.code)
			if !res.OK {
				t.Fatalf("run failed: %s", res.Error)
			}
			calls := lights.recorded()
			if len(calls) != 1 {
				t.Fatalf("calls = %v, want 1", calls)
			}
			if tt.want != "" && calls[0].String() != tt.want {
				t.Errorf("call = %s, want %s", calls[0], tt.want)
			}
		})
	}
}

func TestRunLuaCodeGradient(t *testing.T) {
	e, lights := newTestEngine(t)
	if res := e.RunLuaCode(`rgb.gradient(0, "#ff0000", "#0000ff")`); !res.OK {
		t.Fatal(res.Error)
	}
	calls := lights.recorded()
	if len(calls) != 1 || len(calls[0].colors) != 3 {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0].colors[0] != proto.RGB(255, 0, 0) || calls[0].colors[2] != proto.RGB(0, 0, 255) {
		t.Errorf("gradient endpoints = %v", calls[0].colors)
	}
}

func TestRunLuaCodeReturnsErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"unknown index", `local ok, err = rgb.set_color(9, "#fff"); rgb.log(tostring(ok) .. " " .. err)`, "nil device 9: invalid id"},
		{"unknown name", `local ok, err = rgb.set_mode("Fan", "Direct"); rgb.log(err)`, `device "Fan": invalid id`},
		{"bad color", `local ok, err = rgb.set_color(0, "octarine"); rgb.log(tostring(ok))`, "nil"},
		{"bad mode", `local ok, err = rgb.set_mode(0, "Nope"); rgb.log(err)`, `mode "Nope": invalid mode`},
		{"bad zone", `local ok, err = rgb.set_zone_color(0, "Top", "#fff"); rgb.log(err)`, `zone "Top": invalid id`},
		{"success", `local ok = rgb.set_color(0, "#fff"); rgb.log(tostring(ok))`, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			res := e.RunLuaCode(tt.code)
			if !res.OK {
				t.Fatalf("run failed: %s", res.Error)
			}
			if len(res.Logs) != 1 || res.Logs[0] != tt.want {
				t.Errorf("logs = %q, want [%q]", res.Logs, tt.want)
			}
		})
	}
}

func TestRunLuaCodeArgErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, code := range []string{
		`rgb.set_color(true, "#fff")`,
		`rgb.set_color(0, {})`,
		`rgb.set_led(0, -1, "#fff")`,
		`rgb.set_zone_color(0, nil, "#fff")`,
		`this is not lua`,
	} {
		if res := e.RunLuaCode(code); res.OK || res.Error == "" {
			t.Errorf("RunLuaCode(%q) = %+v, want error", code, res)
		}
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, global := range []string{"os", "io", "require", "load", "dofile", "debug"} {
		res := e.RunLuaCode(fmt.Sprintf(`rgb.log(tostring(%s == nil))`, global))
		if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "true" {
			t.Errorf("%s not removed: %+v", global, res)
		}
	}
}

func TestRunLuaCodeDevices(t *testing.T) {
	e, _ := newTestEngine(t)
	res := e.RunLuaCode(`
local d = rgb.devices()[1]
rgb.log(d.name .. ":" .. d.leds .. ":" .. d.zones[2] .. ":" .. d.mode .. ":" .. d.colors[3])
local one = rgb.device("Strip")
rgb.log(tostring(one.index))
`)
	if !res.OK {
		t.Fatal(res.Error)
	}
	want := []string{"Strip:3:Back:Breathing:#ff0000", "0"}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, lights := newTestEngine(t)
	res := e.RunLuaCode(`
rgb.on("device_updated", {device = "Strip"}, function(ev)
	rgb.log(ev.type .. " " .. ev.device)
	rgb.set_mode(0, "Direct")
end)
rgb.on("connection_state", function(ev) rgb.log("conn") end)
`)
	if !res.OK {
		t.Fatal(res.Error)
	}
	if strings.Join(res.Logs, "|") != "device_updated Strip|conn" {
		t.Errorf("logs = %q", res.Logs)
	}
	if calls := lights.recorded(); len(calls) != 1 || calls[0].op != "mode" {
		t.Errorf("calls = %v", calls)
	}
}

func TestRunScriptMissing(t *testing.T) {
	e, _ := newTestEngine(t)
	res := e.RunScript("absent")
	if res.OK || !strings.Contains(res.Error, "script not found") {
		t.Errorf("result = %+v", res)
	}
}

func waitForCalls(t *testing.T, lights *fakeLights, n int) []call {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := lights.recorded(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %v", n, lights.recorded())
	return nil
}

func TestEngineDispatchesEvents(t *testing.T) {
	e, lights := newTestEngine(t)
	if _, err := e.manager.Save(&Script{
		ID:   "follow",
		Meta: ScriptMeta{Name: "follow", Enabled: true},
		LuaCode: `
rgb.on("device_updated", {device = 0}, function(ev)
	rgb.set_led(ev.device.index, 1, "#0000ff")
end)
rgb.on("connection_state", function(ev)
	if ev.connected == false then rgb.log("lost " .. ev.address) end
end)
`,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.manager.Save(&Script{ID: "idle", Meta: ScriptMeta{Name: "idle"}, LuaCode: `rgb.off(0)`}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	if !e.Running("follow") || e.Running("idle") {
		t.Fatalf("running: follow=%v idle=%v", e.Running("follow"), e.Running("idle"))
	}

	other := &store.Device{Index: 5, Controller: proto.Device{Name: "Other"}}
	lights.events.Emit(controller.Event{Type: controller.EventDeviceUpdated, Data: other})
	lights.events.Emit(controller.Event{Type: controller.EventDeviceUpdated, Data: lights.devices[0]})

	calls := waitForCalls(t, lights, 1)
	if calls[0].String() != `led(0,1,"",[#0000ff])` {
		t.Errorf("call = %s", calls[0])
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(lights.recorded()); n != 1 {
		t.Errorf("filter let through %d calls", n)
	}

	e.StopScript("follow")
	if e.Running("follow") {
		t.Error("follow still running after StopScript")
	}
	if err := e.ReloadScript("follow"); err != nil {
		t.Fatal(err)
	}
	if !e.Running("follow") {
		t.Error("follow not running after reload")
	}

	s, _ := e.manager.Get("follow")
	s.Meta.Enabled = false
	if _, err := e.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript("follow"); err != nil {
		t.Fatal(err)
	}
	if e.Running("follow") {
		t.Error("disabled script still running after reload")
	}
}

func TestEngineAfter(t *testing.T) {
	e, lights := newTestEngine(t)
	if _, err := e.manager.Save(&Script{
		ID:      "later",
		Meta:    ScriptMeta{Enabled: true},
		LuaCode: `rgb.after(0.01, function() rgb.off("Strip") end)`,
	}); err != nil {
		t.Fatal(err)
	}
	e.Start()
	calls := waitForCalls(t, lights, 1)
	if calls[0].op != "color" || calls[0].colors[0] != 0 {
		t.Errorf("call = %s", calls[0])
	}
}

func TestStartScriptError(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.startScript(&Script{ID: "bad", LuaCode: "error('boom')"}); err == nil {
		t.Fatal("expected error")
	}
	if e.Running("bad") {
		t.Error("failed script registered")
	}
}

func TestMatchesHandler(t *testing.T) {
	dev := &store.Device{Index: 2, FriendlyName: "Desk", Controller: proto.Device{Name: "ARGB"}}
	ev := controller.Event{Type: controller.EventDeviceUpdated, Data: dev}
	tests := []struct {
		h    luaEventHandler
		ev   controller.Event
		want bool
	}{
		{luaEventHandler{eventType: "device_updated"}, ev, true},
		{luaEventHandler{eventType: "devices_refreshed"}, ev, false},
		{luaEventHandler{eventType: "device_updated", device: "2"}, ev, true},
		{luaEventHandler{eventType: "device_updated", device: "Desk"}, ev, true},
		{luaEventHandler{eventType: "device_updated", device: "ARGB"}, ev, true},
		{luaEventHandler{eventType: "device_updated", device: "3"}, ev, false},
		{luaEventHandler{eventType: "connection_state", device: "2"}, controller.Event{Type: "connection_state"}, false},
	}
	for i, tt := range tests {
		if got := matchesHandler(tt.h, tt.ev); got != tt.want {
			t.Errorf("case %d: matchesHandler = %v, want %v", i, got, tt.want)
		}
	}
}

func TestEventTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := eventTable(L, controller.Event{
		ID:   "abc",
		Type: controller.EventConnectionState,
		Time: time.Unix(100, 0),
		Data: map[string]interface{}{"connected": true, "address": "host:6742"},
	})
	if v := tbl.RawGetString("connected"); v != lua.LTrue {
		t.Errorf("connected = %v", v)
	}
	if v := tbl.RawGetString("address"); v.String() != "host:6742" {
		t.Errorf("address = %v", v)
	}
	if v := tbl.RawGetString("time"); v != lua.LNumber(100) {
		t.Errorf("time = %v", v)
	}
	if v := tbl.RawGetString("id"); v.String() != "abc" {
		t.Errorf("id = %v", v)
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"int32", int32(-1), lua.LTNumber},
		{"uint32", uint32(100000), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}
