//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/openrgb_sn_0001/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

// haLight is a JSON-schema light discovery payload.
type haLight struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Schema              string   `json:"schema"`
	Brightness          bool     `json:"brightness"`
	SupportedColorModes []string `json:"supported_color_modes"`
	Effect              bool     `json:"effect,omitempty"`
	EffectList          []string `json:"effect_list,omitempty"`
	Device              haDevice `json:"device"`
}

// lightState is the JSON-schema state payload.
type lightState struct {
	State      string    `json:"state"`
	ColorMode  string    `json:"color_mode,omitempty"`
	Brightness uint8     `json:"brightness"`
	Color      *rgbColor `json:"color,omitempty"`
	Effect     string    `json:"effect,omitempty"`
}

type rgbColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *store.Device) string {
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	if dev.Controller.Name != "" {
		return dev.Controller.Name
	}
	return fmt.Sprintf("Device %d", dev.Index)
}

// deviceIdentifier returns the unique identifier for HA device registry.
// The serial is preferred since controller indices shift when hardware is
// added or removed.
func deviceIdentifier(dev *store.Device) string {
	if s := sanitize(dev.Controller.Serial); s != "" {
		return "openrgb_" + s
	}
	if s := sanitize(dev.Controller.Name); s != "" {
		return fmt.Sprintf("openrgb_%s_%d", s, dev.Index)
	}
	return fmt.Sprintf("openrgb_%d", dev.Index)
}

// deviceTopicName returns the topic name for a device.
func deviceTopicName(dev *store.Device) string {
	if name := sanitize(dev.FriendlyName); name != "" {
		return name
	}
	if name := sanitize(dev.Controller.Name); name != "" {
		return fmt.Sprintf("%s_%d", name, dev.Index)
	}
	return fmt.Sprintf("device_%d", dev.Index)
}

// sanitize lowercases s and keeps only safe chars for MQTT topics.
func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, s)
}

func zoneObjectID(zone int) string {
	return fmt.Sprintf("zone_%d", zone)
}

// buildDiscovery generates a light for the whole device and, when the device
// has more than one zone, a light per zone.
func buildDiscovery(dev *store.Device, prefix string) []discoveryMsg {
	if len(dev.Controller.Leds) == 0 {
		return nil
	}

	avail := prefix + "/bridge/state"
	base := prefix + "/" + deviceTopicName(dev)
	nodeID := deviceIdentifier(dev)
	displayName := deviceDisplayName(dev)

	haDev := haDevice{
		Identifiers: []string{nodeID},
		Model:       dev.Controller.Description,
		SWVersion:   dev.Controller.Version,
		Name:        displayName,
	}
	if dev.Controller.Description == "" {
		haDev.Model = proto.DeviceTypeName(dev.Controller.Type)
	}

	effects := make([]string, 0, len(dev.Controller.Modes))
	for _, m := range dev.Controller.Modes {
		effects = append(effects, m.Name)
	}

	msgs := []discoveryMsg{{
		Topic: fmt.Sprintf("homeassistant/light/%s/light/config", nodeID),
		Payload: mustJSON(haLight{
			Name:                displayName,
			UniqueID:            nodeID + "_light",
			StateTopic:          base,
			CommandTopic:        base + "/set",
			AvailabilityTopic:   avail,
			Schema:              "json",
			Brightness:          true,
			SupportedColorModes: []string{"rgb"},
			Effect:              len(effects) > 0,
			EffectList:          effects,
			Device:              haDev,
		}),
	}}

	if len(dev.Controller.Zones) < 2 {
		return msgs
	}
	for i, z := range dev.Controller.Zones {
		if z.LedsCount == 0 {
			continue
		}
		obj := zoneObjectID(i)
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/light/%s/%s/config", nodeID, obj),
			Payload: mustJSON(haLight{
				Name:                displayName + " " + z.Name,
				UniqueID:            nodeID + "_" + obj,
				StateTopic:          base + "/" + obj,
				CommandTopic:        base + "/" + obj + "/set",
				AvailabilityTopic:   avail,
				Schema:              "json",
				Brightness:          true,
				SupportedColorModes: []string{"rgb"},
				Device:              haDev,
			}),
		})
	}
	return msgs
}

// buildRemoveDiscovery generates empty retained messages to remove a device from HA.
func buildRemoveDiscovery(dev *store.Device) []discoveryMsg {
	nodeID := deviceIdentifier(dev)
	msgs := []discoveryMsg{{
		Topic: fmt.Sprintf("homeassistant/light/%s/light/config", nodeID),
	}}
	for i := range dev.Controller.Zones {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/light/%s/%s/config", nodeID, zoneObjectID(i)),
		})
	}
	return msgs
}

// buildState derives a light state from colors. A light whose LEDs are all
// black is off; otherwise the first lit LED gives color and brightness.
func buildState(colors []proto.Color, effect string) lightState {
	st := lightState{State: "OFF", Effect: effect}
	for _, c := range colors {
		if c == 0 {
			continue
		}
		st.State = "ON"
		st.ColorMode = "rgb"
		st.Brightness = controller.Brightness(c)
		full := controller.WithBrightness(c, 255)
		st.Color = &rgbColor{R: full.R(), G: full.G(), B: full.B()}
		break
	}
	return st
}

// activeModeName returns the name of the active mode, or "".
func activeModeName(d *proto.Device) string {
	if d.ActiveMode < 0 || int(d.ActiveMode) >= len(d.Modes) {
		return ""
	}
	return d.Modes[d.ActiveMode].Name
}

// zoneColors returns the slice of d.Colors belonging to zone i.
func zoneColors(d *proto.Device, i int) []proto.Color {
	off := d.ZoneOffset(i)
	end := off + int(d.Zones[i].LedsCount)
	if off > len(d.Colors) {
		return nil
	}
	if end > len(d.Colors) {
		end = len(d.Colors)
	}
	return d.Colors[off:end]
}
