package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/store"
)

var (
	// ErrInvalidID is returned for a device, zone or LED index that does not exist.
	ErrInvalidID = errors.New("invalid id")

	// ErrInvalidColorAmount is returned when a color list does not match the
	// number of LEDs it targets or the mode's color bounds.
	ErrInvalidColorAmount = errors.New("invalid color amount")

	// ErrInvalidMode is returned for an unknown mode name.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrInvalidSize is returned when a zone cannot be resized to the requested size.
	ErrInvalidSize = errors.New("invalid zone size")

	// ErrNotConnected is returned when no server connection could be made.
	ErrNotConnected = errors.New("not connected")
)

// Client is the request surface of an OpenRGB session.
type Client interface {
	DeviceCount(ctx context.Context) (uint32, error)
	Device(ctx context.Context, id uint32) (*proto.Device, error)
	SetCustomMode(ctx context.Context, id uint32) error
	UpdateLeds(ctx context.Context, id uint32, colors []proto.Color) error
	UpdateZoneLeds(ctx context.Context, id, zone uint32, colors []proto.Color) error
	UpdateSingleLed(ctx context.Context, id, led uint32, c proto.Color) error
	UpdateMode(ctx context.Context, id, modeIndex uint32, mode proto.Mode) error
	ResizeZone(ctx context.Context, id, zone, size uint32) error
	Err() error
	Close() error
}

// DialFunc opens a new handshaken client.
type DialFunc func(ctx context.Context) (Client, error)

// Config holds controller configuration.
type Config struct {
	Address         string
	ClientName      string
	RequestTimeout  time.Duration
	RefreshInterval time.Duration
}

// Controller owns the server connection and the device cache. All session
// traffic goes through its mutex.
type Controller struct {
	dial   DialFunc
	store  store.Store
	events *EventBus
	logger *slog.Logger
	config Config

	mu      sync.Mutex
	client  Client
	devices []*store.Device
	pending []Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller. Snapshots already in the store are served until
// the first successful refresh.
func New(dial DialFunc, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		dial:   dial,
		store:  st,
		events: events,
		logger: logger.With("component", "controller"),
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if devs, err := st.ListDevices(); err != nil {
		c.logger.Error("load cached devices", "err", err)
	} else {
		c.devices = devs
	}
	return c
}

// queue holds an event until the mutex is released, so handlers may call
// back into the controller.
func (c *Controller) queue(e Event) {
	c.pending = append(c.pending, e)
}

func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, e := range pending {
		c.events.Emit(e)
	}
}

// Context returns the controller's context, which is cancelled on Stop().
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Events returns the event bus.
func (c *Controller) Events() *EventBus {
	return c.events
}

// Store returns the store.
func (c *Controller) Store() store.Store {
	return c.store
}

// Start connects, fetches every device and starts the refresh loop. The loop
// runs even if the first attempt fails, so a server started later is picked up.
func (c *Controller) Start(ctx context.Context) error {
	err := c.Refresh(ctx)
	if c.config.RefreshInterval > 0 {
		c.wg.Add(1)
		go c.refreshLoop()
	}
	return err
}

// Stop ends the refresh loop and closes the connection.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *Controller) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Warn("periodic refresh failed", "err", err)
			}
		}
	}
}

// Connected reports whether a usable session is open.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.unlock()
	return c.client != nil && c.client.Err() == nil
}

// Reconnect drops the current session, if any, and dials a new one.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	c.dropLocked(nil)
	return c.connectLocked(ctx)
}

func (c *Controller) connectLocked(ctx context.Context) error {
	client, err := c.dial(ctx)
	if err != nil {
		c.saveServerInfo(false, uint32(len(c.devices)))
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	c.client = client
	c.logger.Info("connected", "addr", c.config.Address)
	c.queue(Event{Type: EventConnectionState, Data: map[string]interface{}{
		"connected": true,
		"address":   c.config.Address,
	}})
	return nil
}

// dropLocked closes the session. cause is nil for a deliberate reconnect.
func (c *Controller) dropLocked(cause error) {
	if c.client == nil {
		return
	}
	c.client.Close()
	c.client = nil
	if cause != nil {
		c.logger.Warn("connection lost", "err", cause)
	}
	data := map[string]interface{}{
		"connected": false,
		"address":   c.config.Address,
	}
	if cause != nil {
		data["error"] = cause.Error()
	}
	c.queue(Event{Type: EventConnectionState, Data: data})
}

// do runs fn against a usable client, reconnecting first if the previous
// session failed. A failure that leaves the session unusable drops it.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context, cl Client) error) error {
	if c.client == nil || c.client.Err() != nil {
		if c.client != nil {
			c.dropLocked(c.client.Err())
		}
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	err := fn(ctx, c.client)
	if err != nil && c.client.Err() != nil {
		c.dropLocked(err)
	}
	return err
}

// Refresh fetches the device count and every device, replacing the cache and
// the stored snapshots. Friendly names survive a refresh.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()

	var fetched []*proto.Device
	err := c.do(ctx, func(ctx context.Context, cl Client) error {
		n, err := cl.DeviceCount(ctx)
		if err != nil {
			return fmt.Errorf("device count: %w", err)
		}
		fetched = make([]*proto.Device, 0, n)
		for i := uint32(0); i < n; i++ {
			dev, err := cl.Device(ctx, i)
			if err != nil {
				return fmt.Errorf("device %d: %w", i, err)
			}
			if err := dev.Validate(); err != nil {
				c.logger.Warn("device failed validation", "index", i, "err", err)
			}
			fetched = append(fetched, dev)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	now := time.Now()
	old := c.devices
	c.devices = make([]*store.Device, len(fetched))
	for i, dev := range fetched {
		snap := &store.Device{Index: uint32(i), Controller: *dev, FetchedAt: now}
		if name, err := c.store.Alias(snap.Identity()); err == nil {
			snap.FriendlyName = name
		}
		if err := c.store.SaveDevice(snap); err != nil {
			c.logger.Error("save device", "index", i, "err", err)
		}
		c.devices[i] = snap
	}
	for _, d := range old {
		if int(d.Index) >= len(fetched) {
			if err := c.store.DeleteDevice(d.Index); err != nil {
				c.logger.Error("delete stale device", "index", d.Index, "err", err)
			}
		}
	}
	c.saveServerInfo(true, uint32(len(fetched)))

	c.logger.Info("devices refreshed", "count", len(fetched))
	c.queue(Event{Type: EventDevicesRefreshed, Data: map[string]interface{}{
		"count": len(fetched),
	}})
	return nil
}

func (c *Controller) saveServerInfo(connected bool, count uint32) {
	info := &store.ServerInfo{
		Address:     c.config.Address,
		ClientName:  c.config.ClientName,
		DeviceCount: count,
		Connected:   connected,
	}
	if prev, err := c.store.GetServerInfo(); err == nil {
		info.RefreshedAt = prev.RefreshedAt
	}
	if connected {
		info.RefreshedAt = time.Now()
	}
	if err := c.store.SaveServerInfo(info); err != nil {
		c.logger.Error("save server info", "err", err)
	}
}

// ServerInfo returns the stored server state with the live connection flag.
func (c *Controller) ServerInfo() *store.ServerInfo {
	info, err := c.store.GetServerInfo()
	if err != nil {
		info = &store.ServerInfo{Address: c.config.Address, ClientName: c.config.ClientName}
	}
	info.Connected = c.Connected()
	return info
}

// Devices returns a copy of the cached devices in index order.
func (c *Controller) Devices() []*store.Device {
	c.mu.Lock()
	defer c.unlock()
	out := make([]*store.Device, len(c.devices))
	for i, d := range c.devices {
		out[i] = clone(d)
	}
	return out
}

// Device returns a copy of the cached device at index.
func (c *Controller) Device(index uint32) (*store.Device, error) {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return nil, err
	}
	return clone(d), nil
}

// DeviceByName returns the first device whose friendly or reported name is name.
func (c *Controller) DeviceByName(name string) (*store.Device, error) {
	c.mu.Lock()
	defer c.unlock()
	for _, d := range c.devices {
		if d.Name() == name || d.Controller.Name == name {
			return clone(d), nil
		}
	}
	return nil, fmt.Errorf("device %q: %w", name, ErrInvalidID)
}

// Rename sets the friendly name of a device. The name follows the device
// to a new index on later refreshes; an empty name clears it.
func (c *Controller) Rename(index uint32, name string) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	if err := c.store.SetAlias(d.Identity(), name); err != nil {
		return fmt.Errorf("rename device %d: %w", index, err)
	}
	if err := c.store.UpdateDevice(index, func(dev *store.Device) error {
		dev.FriendlyName = name
		return nil
	}); err != nil {
		return fmt.Errorf("rename device %d: %w", index, err)
	}
	d.FriendlyName = name
	c.emitUpdated(d)
	return nil
}

func (c *Controller) deviceLocked(index uint32) (*store.Device, error) {
	if int(index) >= len(c.devices) {
		return nil, fmt.Errorf("device %d: %w", index, ErrInvalidID)
	}
	return c.devices[index], nil
}

func (c *Controller) emitUpdated(d *store.Device) {
	c.queue(Event{Type: EventDeviceUpdated, Data: clone(d)})
}

// clone copies d deeply enough that later in-place updates to the cache do
// not show through.
func clone(d *store.Device) *store.Device {
	cp := *d
	cp.Controller.Modes = slices.Clone(d.Controller.Modes)
	cp.Controller.Zones = slices.Clone(d.Controller.Zones)
	cp.Controller.Leds = slices.Clone(d.Controller.Leds)
	cp.Controller.Colors = slices.Clone(d.Controller.Colors)
	return &cp
}

// commit copies the cached state of d into the store and announces it.
func (c *Controller) commit(d *store.Device) {
	if err := c.store.SaveDevice(d); err != nil {
		c.logger.Error("save device", "index", d.Index, "err", err)
	}
	c.emitUpdated(d)
}

// SetColor switches the device to its custom mode and sets every LED to col.
func (c *Controller) SetColor(ctx context.Context, index uint32, col proto.Color) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	return c.setColorsLocked(ctx, d, Fill(col, len(d.Controller.Leds)))
}

// SetColors sets every LED of the device; colors must cover each LED exactly.
func (c *Controller) SetColors(ctx context.Context, index uint32, colors []proto.Color) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	if len(colors) != len(d.Controller.Leds) {
		return fmt.Errorf("device %d: %d colors for %d leds: %w", index, len(colors), len(d.Controller.Leds), ErrInvalidColorAmount)
	}
	return c.setColorsLocked(ctx, d, colors)
}

func (c *Controller) setColorsLocked(ctx context.Context, d *store.Device, colors []proto.Color) error {
	err := c.do(ctx, func(ctx context.Context, cl Client) error {
		if err := cl.SetCustomMode(ctx, d.Index); err != nil {
			return err
		}
		return cl.UpdateLeds(ctx, d.Index, colors)
	})
	if err != nil {
		return fmt.Errorf("set colors on device %d: %w", d.Index, err)
	}
	d.Controller.Colors = append([]proto.Color(nil), colors...)
	if i := d.Controller.ModeIndex("Direct"); i >= 0 {
		d.Controller.ActiveMode = int32(i)
	}
	c.commit(d)
	return nil
}

// ZoneIndex resolves a zone name on a device.
func (c *Controller) ZoneIndex(index uint32, zone string) (uint32, error) {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return 0, err
	}
	i := d.Controller.ZoneIndex(zone)
	if i < 0 {
		return 0, fmt.Errorf("device %d zone %q: %w", index, zone, ErrInvalidID)
	}
	return uint32(i), nil
}

// SetZoneColor sets every LED of one zone to col.
func (c *Controller) SetZoneColor(ctx context.Context, index, zone uint32, col proto.Color) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	if int(zone) >= len(d.Controller.Zones) {
		return fmt.Errorf("device %d zone %d: %w", index, zone, ErrInvalidID)
	}
	return c.setZoneColorsLocked(ctx, d, zone, Fill(col, int(d.Controller.Zones[zone].LedsCount)))
}

// SetZoneColors sets every LED of one zone; colors must cover the zone exactly.
func (c *Controller) SetZoneColors(ctx context.Context, index, zone uint32, colors []proto.Color) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	if int(zone) >= len(d.Controller.Zones) {
		return fmt.Errorf("device %d zone %d: %w", index, zone, ErrInvalidID)
	}
	if n := d.Controller.Zones[zone].LedsCount; uint32(len(colors)) != n {
		return fmt.Errorf("device %d zone %d: %d colors for %d leds: %w", index, zone, len(colors), n, ErrInvalidColorAmount)
	}
	return c.setZoneColorsLocked(ctx, d, zone, colors)
}

func (c *Controller) setZoneColorsLocked(ctx context.Context, d *store.Device, zone uint32, colors []proto.Color) error {
	err := c.do(ctx, func(ctx context.Context, cl Client) error {
		if err := cl.SetCustomMode(ctx, d.Index); err != nil {
			return err
		}
		return cl.UpdateZoneLeds(ctx, d.Index, zone, colors)
	})
	if err != nil {
		return fmt.Errorf("set zone %d colors on device %d: %w", zone, d.Index, err)
	}
	off := d.Controller.ZoneOffset(int(zone))
	for i, col := range colors {
		if off+i < len(d.Controller.Colors) {
			d.Controller.Colors[off+i] = col
		}
	}
	c.commit(d)
	return nil
}

// SetLEDColor sets a single LED.
func (c *Controller) SetLEDColor(ctx context.Context, index, led uint32, col proto.Color) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	if int(led) >= len(d.Controller.Leds) {
		return fmt.Errorf("device %d led %d: %w", index, led, ErrInvalidID)
	}
	err = c.do(ctx, func(ctx context.Context, cl Client) error {
		return cl.UpdateSingleLed(ctx, index, led, col)
	})
	if err != nil {
		return fmt.Errorf("set led %d on device %d: %w", led, index, err)
	}
	if int(led) < len(d.Controller.Colors) {
		d.Controller.Colors[led] = col
	}
	c.commit(d)
	return nil
}

// SetMode activates the named mode with its current parameters.
func (c *Controller) SetMode(ctx context.Context, index uint32, name string) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	mi := d.Controller.ModeIndex(name)
	if mi < 0 {
		return fmt.Errorf("device %d mode %q: %w", index, name, ErrInvalidMode)
	}
	return c.updateModeLocked(ctx, d, mi, d.Controller.Modes[mi])
}

// SetModeColors activates the named mode with new mode-specific colors.
func (c *Controller) SetModeColors(ctx context.Context, index uint32, name string, colors []proto.Color) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	mi := d.Controller.ModeIndex(name)
	if mi < 0 {
		return fmt.Errorf("device %d mode %q: %w", index, name, ErrInvalidMode)
	}
	mode := d.Controller.Modes[mi]
	if mode.Flags&proto.ModeFlagHasModeSpecificColor == 0 {
		return fmt.Errorf("device %d mode %q has no mode colors: %w", index, name, ErrInvalidColorAmount)
	}
	mode.Colors = append([]proto.Color(nil), colors...)
	if err := mode.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidColorAmount, err)
	}
	return c.updateModeLocked(ctx, d, mi, mode)
}

// SetModeSpeed activates the named mode with a new speed.
func (c *Controller) SetModeSpeed(ctx context.Context, index uint32, name string, speed uint32) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	mi := d.Controller.ModeIndex(name)
	if mi < 0 {
		return fmt.Errorf("device %d mode %q: %w", index, name, ErrInvalidMode)
	}
	mode := d.Controller.Modes[mi]
	if mode.Flags&proto.ModeFlagHasSpeed == 0 {
		return fmt.Errorf("device %d mode %q has no speed: %w", index, name, ErrInvalidMode)
	}
	lo, hi := min(mode.SpeedMin, mode.SpeedMax), max(mode.SpeedMin, mode.SpeedMax)
	if speed < lo || speed > hi {
		return fmt.Errorf("device %d mode %q: speed %d outside [%d, %d]: %w", index, name, speed, lo, hi, ErrInvalidMode)
	}
	mode.Speed = speed
	return c.updateModeLocked(ctx, d, mi, mode)
}

func (c *Controller) updateModeLocked(ctx context.Context, d *store.Device, mi int, mode proto.Mode) error {
	err := c.do(ctx, func(ctx context.Context, cl Client) error {
		return cl.UpdateMode(ctx, d.Index, uint32(mi), mode)
	})
	if err != nil {
		return fmt.Errorf("update mode %q on device %d: %w", mode.Name, d.Index, err)
	}
	d.Controller.Modes[mi] = mode
	d.Controller.ActiveMode = int32(mi)
	c.commit(d)
	return nil
}

// ResizeZone changes the LED count of a resizable zone and refetches the
// device, since its LED list changes with the zone.
func (c *Controller) ResizeZone(ctx context.Context, index, zone, size uint32) error {
	c.mu.Lock()
	defer c.unlock()
	d, err := c.deviceLocked(index)
	if err != nil {
		return err
	}
	if int(zone) >= len(d.Controller.Zones) {
		return fmt.Errorf("device %d zone %d: %w", index, zone, ErrInvalidID)
	}
	z := d.Controller.Zones[zone]
	if z.LedsMin == z.LedsMax || size < z.LedsMin || size > z.LedsMax {
		return fmt.Errorf("device %d zone %q: size %d outside [%d, %d]: %w", index, z.Name, size, z.LedsMin, z.LedsMax, ErrInvalidSize)
	}

	var fresh *proto.Device
	err = c.do(ctx, func(ctx context.Context, cl Client) error {
		if err := cl.ResizeZone(ctx, index, zone, size); err != nil {
			return err
		}
		var err error
		fresh, err = cl.Device(ctx, index)
		return err
	})
	if err != nil {
		return fmt.Errorf("resize zone %d on device %d: %w", zone, index, err)
	}
	d.Controller = *fresh
	d.FetchedAt = time.Now()
	c.commit(d)
	return nil
}
