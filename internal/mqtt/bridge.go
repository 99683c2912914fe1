//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Lights is the part of the controller the bridge drives.
type Lights interface {
	Context() context.Context
	Events() *controller.EventBus
	Devices() []*store.Device
	SetColor(ctx context.Context, index uint32, col proto.Color) error
	SetZoneColor(ctx context.Context, index, zone uint32, col proto.Color) error
	SetMode(ctx context.Context, index uint32, name string) error
}

// Bridge publishes OpenRGB devices to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	lights Lights
	prefix string
	logger *slog.Logger
	unsub  func()

	mu sync.Mutex
	// Devices whose discovery is currently published, by controller index.
	published map[uint32]*store.Device
	// Last non-black color per light, restored on a bare ON.
	lastColor map[lightKey]proto.Color
}

// lightKey addresses a whole device (zone -1) or one of its zones.
type lightKey struct {
	index uint32
	zone  int
}

// command is a JSON-schema light command.
type command struct {
	State      string    `json:"state"`
	Brightness *float64  `json:"brightness"`
	Color      *rgbColor `json:"color"`
	Effect     string    `json:"effect"`
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(lights Lights, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(lights, cfg.TopicPrefix, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("openrgb-go-home-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.syncDevices()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(lights Lights, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		lights:    lights,
		prefix:    prefix,
		logger:    logger.With("component", "mqtt"),
		published: make(map[uint32]*store.Device),
		lastColor: make(map[lightKey]proto.Color),
	}
}

// Start subscribes to controller events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.lights.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event controller.Event) {
	switch event.Type {
	case controller.EventDevicesRefreshed:
		b.syncDevices()
	case controller.EventDeviceUpdated:
		if dev, ok := event.Data.(*store.Device); ok {
			b.publishDeviceState(dev)
		}
	case controller.EventConnectionState:
		b.publish(b.prefix+"/bridge/openrgb", mustJSON(event.Data), true)
	}
}

// syncDevices brings published discovery in line with the controller's
// device list: removed devices are withdrawn, the rest are (re)announced,
// subscribed and have their state published.
func (b *Bridge) syncDevices() {
	devices := b.lights.Devices()
	current := make(map[uint32]*store.Device, len(devices))
	for _, dev := range devices {
		current[dev.Index] = dev
	}

	b.mu.Lock()
	var stale []*store.Device
	for idx, old := range b.published {
		if dev, ok := current[idx]; !ok || deviceIdentifier(dev) != deviceIdentifier(old) ||
			deviceTopicName(dev) != deviceTopicName(old) {
			stale = append(stale, old)
		}
	}
	b.published = current
	b.mu.Unlock()

	for _, old := range stale {
		b.removeDevice(old)
	}
	for _, dev := range devices {
		b.publishDeviceDiscovery(dev)
		b.subscribeDeviceCommands(dev)
		b.publishDeviceState(dev)
	}
}

func (b *Bridge) removeDevice(dev *store.Device) {
	for _, msg := range buildRemoveDiscovery(dev) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	base := b.prefix + "/" + deviceTopicName(dev)
	topics := []string{base + "/set"}
	for i := range dev.Controller.Zones {
		topics = append(topics, base+"/"+zoneObjectID(i)+"/set")
	}
	if b.client.IsConnected() {
		b.client.Unsubscribe(topics...)
	}

	b.mu.Lock()
	for k := range b.lastColor {
		if k.index == dev.Index {
			delete(b.lastColor, k)
		}
	}
	b.mu.Unlock()
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishDeviceDiscovery(dev *store.Device) {
	msgs := buildDiscovery(dev, b.prefix)
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}
	if len(msgs) > 0 {
		b.logger.Info("published HA discovery", "index", dev.Index, "name", deviceDisplayName(dev))
	}
}

func (b *Bridge) publishDeviceState(dev *store.Device) {
	base := b.prefix + "/" + deviceTopicName(dev)
	d := &dev.Controller

	st := buildState(d.Colors, activeModeName(d))
	b.remember(lightKey{dev.Index, -1}, st)
	b.publish(base, mustJSON(st), true)

	if len(d.Zones) < 2 {
		return
	}
	for i, z := range d.Zones {
		if z.LedsCount == 0 {
			continue
		}
		zst := buildState(zoneColors(d, i), "")
		b.remember(lightKey{dev.Index, i}, zst)
		b.publish(base+"/"+zoneObjectID(i), mustJSON(zst), true)
	}
}

func (b *Bridge) remember(key lightKey, st lightState) {
	if st.Color == nil {
		return
	}
	b.mu.Lock()
	b.lastColor[key] = controller.WithBrightness(proto.RGB(st.Color.R, st.Color.G, st.Color.B), st.Brightness)
	b.mu.Unlock()
}

func (b *Bridge) subscribeDeviceCommands(dev *store.Device) {
	if len(dev.Controller.Leds) == 0 {
		return
	}
	base := b.prefix + "/" + deviceTopicName(dev)
	index := dev.Index
	b.client.Subscribe(base+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(lightKey{index, -1}, msg.Payload())
	})
	if len(dev.Controller.Zones) < 2 {
		return
	}
	for i, z := range dev.Controller.Zones {
		if z.LedsCount == 0 {
			continue
		}
		key := lightKey{index, i}
		b.client.Subscribe(base+"/"+zoneObjectID(i)+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(key, msg.Payload())
		})
	}
}

func (b *Bridge) handleCommand(key lightKey, payload []byte) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "index", key.index, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.lights.Context(), 10*time.Second)
	defer cancel()

	if cmd.Effect != "" && key.zone < 0 {
		if err := b.lights.SetMode(ctx, key.index, cmd.Effect); err != nil {
			b.logger.Warn("effect command failed", "index", key.index, "effect", cmd.Effect, "err", err)
		}
		if cmd.Color == nil && cmd.Brightness == nil && cmd.State == "" {
			return
		}
	}

	col, ok := b.targetColor(key, cmd)
	if !ok {
		return
	}

	var err error
	if key.zone < 0 {
		err = b.lights.SetColor(ctx, key.index, col)
	} else {
		err = b.lights.SetZoneColor(ctx, key.index, uint32(key.zone), col)
	}
	if err != nil {
		b.logger.Warn("color command failed", "index", key.index, "zone", key.zone, "err", err)
	}
}

// targetColor resolves a command to the color the light should show.
func (b *Bridge) targetColor(key lightKey, cmd command) (proto.Color, bool) {
	if strings.EqualFold(cmd.State, "OFF") {
		return 0, true
	}

	b.mu.Lock()
	col, ok := b.lastColor[key]
	b.mu.Unlock()
	if !ok {
		col = proto.RGB(255, 255, 255)
	}

	changed := strings.EqualFold(cmd.State, "ON")
	if cmd.Color != nil {
		col = proto.RGB(cmd.Color.R, cmd.Color.G, cmd.Color.B)
		changed = true
	}
	if cmd.Brightness != nil {
		level := *cmd.Brightness
		level = max(0, min(255, level))
		col = controller.WithBrightness(col, uint8(level))
		changed = true
	}
	return col, changed
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
