package automation

import (
	"context"
	"errors"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/store"
)

var ErrScriptNotFound = errors.New("script not found")

// Lights is the controller surface scripts can reach.
type Lights interface {
	Events() *controller.EventBus
	Devices() []*store.Device
	Device(index uint32) (*store.Device, error)
	DeviceByName(name string) (*store.Device, error)
	ZoneIndex(index uint32, zone string) (uint32, error)
	SetColor(ctx context.Context, index uint32, col proto.Color) error
	SetColors(ctx context.Context, index uint32, colors []proto.Color) error
	SetZoneColor(ctx context.Context, index, zone uint32, col proto.Color) error
	SetLEDColor(ctx context.Context, index, led uint32, col proto.Color) error
	SetMode(ctx context.Context, index uint32, name string) error
}

// ScriptMeta is the user-editable part of a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation stored as a .lua file. The first line of the
// file is a Lua comment carrying ScriptMeta as JSON.
type Script struct {
	ID       string     `json:"id"` // filename stem
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult reports a one-shot execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}
