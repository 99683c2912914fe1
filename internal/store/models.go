package store

import (
	"strings"
	"time"

	"openrgb-go-home/internal/proto"
)

// Device is the last fetched description of one controller.
type Device struct {
	Index        uint32       `json:"index"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	Controller   proto.Device `json:"controller"`
	FetchedAt    time.Time    `json:"fetched_at"`
}

// Name returns the friendly name if set, else the controller name.
func (d *Device) Name() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.Controller.Name
}

// Identity distinguishes devices across refreshes, independent of index.
func (d *Device) Identity() string {
	c := &d.Controller
	return strings.Join([]string{c.Name, c.Serial, c.Location}, "|")
}

// ServerInfo records the server the snapshots came from.
type ServerInfo struct {
	Address     string    `json:"address"`
	ClientName  string    `json:"client_name"`
	DeviceCount uint32    `json:"device_count"`
	Connected   bool      `json:"connected"`
	RefreshedAt time.Time `json:"refreshed_at"`
}
