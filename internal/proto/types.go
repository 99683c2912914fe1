package proto

import (
	"fmt"
	"math"
)

// Color is a packed LED value: red in the low byte, then green, then blue.
type Color uint32

// RGB packs 8-bit channels into a Color.
func RGB(r, g, b uint8) Color {
	return Color(uint32(r) | uint32(g)<<8 | uint32(b)<<16)
}

func (c Color) R() uint8 { return uint8(c) }
func (c Color) G() uint8 { return uint8(c >> 8) }
func (c Color) B() uint8 { return uint8(c >> 16) }

// Hex formats c as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R(), c.G(), c.B())
}

// Zone types
const (
	ZoneSingle uint32 = 0
	ZoneLinear uint32 = 1
	ZoneMatrix uint32 = 2
)

// Device types
const (
	DeviceMotherboard uint32 = iota
	DeviceDRAM
	DeviceGPU
	DeviceCooler
	DeviceLEDStrip
	DeviceKeyboard
	DeviceMouse
	DeviceMouseMat
	DeviceHeadset
	DeviceHeadsetStand
	DeviceGamepad
	DeviceLight
	DeviceSpeaker
	DeviceVirtual
	DeviceUnknown
)

var deviceTypeNames = [...]string{
	DeviceMotherboard:  "Motherboard",
	DeviceDRAM:         "DRAM",
	DeviceGPU:          "GPU",
	DeviceCooler:       "Cooler",
	DeviceLEDStrip:     "LED Strip",
	DeviceKeyboard:     "Keyboard",
	DeviceMouse:        "Mouse",
	DeviceMouseMat:     "Mouse Mat",
	DeviceHeadset:      "Headset",
	DeviceHeadsetStand: "Headset Stand",
	DeviceGamepad:      "Gamepad",
	DeviceLight:        "Light",
	DeviceSpeaker:      "Speaker",
	DeviceVirtual:      "Virtual",
	DeviceUnknown:      "Unknown",
}

// DeviceTypeName returns a display name for a device type.
func DeviceTypeName(t uint32) string {
	if t < uint32(len(deviceTypeNames)) {
		return deviceTypeNames[t]
	}
	return "Unknown"
}

// Mode flags
const (
	ModeFlagHasSpeed             uint32 = 1 << 0
	ModeFlagHasDirectionLR       uint32 = 1 << 1
	ModeFlagHasDirectionUD       uint32 = 1 << 2
	ModeFlagHasDirectionHV       uint32 = 1 << 3
	ModeFlagHasBrightness        uint32 = 1 << 4
	ModeFlagHasPerLedColor       uint32 = 1 << 5
	ModeFlagHasModeSpecificColor uint32 = 1 << 6
	ModeFlagHasRandomColor       uint32 = 1 << 7
)

// Mode color modes
const (
	ColorModeNone         uint32 = 0
	ColorModePerLed       uint32 = 1
	ColorModeModeSpecific uint32 = 2
	ColorModeRandom       uint32 = 3
)

// Mode directions
const (
	DirectionLeft       uint32 = 0
	DirectionRight      uint32 = 1
	DirectionUp         uint32 = 2
	DirectionDown       uint32 = 3
	DirectionHorizontal uint32 = 4
	DirectionVertical   uint32 = 5
)

// NoActiveMode is the active mode index of a device that did not report one.
const NoActiveMode int32 = -1

// Led is a single controllable light element.
type Led struct {
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

// MatrixMap is the physical layout of a matrix zone. Map holds Height rows
// of Width LED indices each.
type MatrixMap struct {
	Height uint32   `json:"height"`
	Width  uint32   `json:"width"`
	Map    []uint32 `json:"map"`
}

// Zone is a group of LEDs on a device.
type Zone struct {
	Name      string     `json:"name"`
	Type      uint32     `json:"type"`
	LedsMin   uint32     `json:"leds_min"`
	LedsMax   uint32     `json:"leds_max"`
	LedsCount uint32     `json:"leds_count"`
	Matrix    *MatrixMap `json:"matrix,omitempty"`
}

// Mode is a lighting effect supported by a device.
type Mode struct {
	Name      string  `json:"name"`
	Value     int32   `json:"value"`
	Flags     uint32  `json:"flags"`
	SpeedMin  uint32  `json:"speed_min"`
	SpeedMax  uint32  `json:"speed_max"`
	ColorsMin uint32  `json:"colors_min"`
	ColorsMax uint32  `json:"colors_max"`
	Speed     uint32  `json:"speed"`
	Direction uint32  `json:"direction"`
	ColorMode uint32  `json:"color_mode"`
	Colors    []Color `json:"colors"`
}

// Device is an RGB controller as reported by the server.
type Device struct {
	Type        uint32  `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Version     string  `json:"version"`
	Serial      string  `json:"serial"`
	Location    string  `json:"location"`
	ActiveMode  int32   `json:"active_mode"`
	Modes       []Mode  `json:"modes"`
	Zones       []Zone  `json:"zones"`
	Leds        []Led   `json:"leds"`
	Colors      []Color `json:"colors"`
}

// --- Encode ---

func (l *Led) encode(w *Writer) {
	w.String(l.Name)
	w.U32(l.Value)
}

func (m *MatrixMap) encode(w *Writer) {
	if uint64(m.Width)*uint64(m.Height) != uint64(len(m.Map)) {
		w.fail(fmt.Errorf("%w: matrix %dx%d has %d cells", ErrLengthMismatch, m.Width, m.Height, len(m.Map)))
		return
	}
	w.U32(m.Height)
	w.U32(m.Width)
	for _, v := range m.Map {
		w.U32(v)
	}
}

func (z *Zone) encode(w *Writer) {
	w.String(z.Name)
	w.U32(z.Type)
	w.U32(z.LedsMin)
	w.U32(z.LedsMax)
	w.U32(z.LedsCount)

	if z.Matrix == nil {
		w.U16(0)
		return
	}
	sub := NewWriter(8 + 4*len(z.Matrix.Map))
	z.Matrix.encode(sub)
	if err := sub.Err(); err != nil {
		w.fail(err)
		return
	}
	if sub.Len() > math.MaxUint16 {
		w.fail(fmt.Errorf("%w: matrix of %d bytes in zone %q", ErrInputTooLarge, sub.Len(), z.Name))
		return
	}
	w.U16(uint16(sub.Len()))
	w.Raw(sub.Bytes())
}

func (m *Mode) encode(w *Writer) {
	w.String(m.Name)
	w.I32(m.Value)
	w.U32(m.Flags)
	w.U32(m.SpeedMin)
	w.U32(m.SpeedMax)
	w.U32(m.ColorsMin)
	w.U32(m.ColorsMax)
	w.U32(m.Speed)
	w.U32(m.Direction)
	w.U32(m.ColorMode)
	encodeColors(w, m.Colors)
}

func (d *Device) encode(w *Writer) {
	w.U32(d.Type)
	w.String(d.Name)
	w.String(d.Description)
	w.String(d.Version)
	w.String(d.Serial)
	w.String(d.Location)

	w.Count(len(d.Modes))
	w.I32(d.ActiveMode)
	for i := range d.Modes {
		d.Modes[i].encode(w)
	}

	w.Count(len(d.Zones))
	for i := range d.Zones {
		d.Zones[i].encode(w)
	}

	w.Count(len(d.Leds))
	for i := range d.Leds {
		d.Leds[i].encode(w)
	}

	encodeColors(w, d.Colors)
}

func encodeColors(w *Writer, colors []Color) {
	w.Count(len(colors))
	for _, c := range colors {
		w.U32(uint32(c))
	}
}

// --- Decode ---

// Minimum encoded sizes, used to bound declared counts before allocating.
const (
	minLedSize  = 2 + 4
	minZoneSize = 2 + 4*4 + 2
	minModeSize = 2 + 4*9 + 2
	colorSize   = 4
)

func decodeLed(r *Reader) Led {
	return Led{
		Name:  r.String(),
		Value: r.U32(),
	}
}

func decodeMatrixMap(r *Reader) *MatrixMap {
	m := &MatrixMap{
		Height: r.U32(),
		Width:  r.U32(),
	}
	if r.Err() != nil {
		return nil
	}
	cells := uint64(m.Width) * uint64(m.Height)
	if cells > uint64(r.Remaining())/4 {
		r.fail(fmt.Errorf("%w: matrix %dx%d does not fit in %d bytes", ErrLengthMismatch, m.Width, m.Height, r.Remaining()))
		return nil
	}
	m.Map = make([]uint32, cells)
	for i := range m.Map {
		m.Map[i] = r.U32()
	}
	return m
}

func decodeZone(r *Reader) Zone {
	z := Zone{
		Name:      r.String(),
		Type:      r.U32(),
		LedsMin:   r.U32(),
		LedsMax:   r.U32(),
		LedsCount: r.U32(),
	}
	size := int(r.U16())
	if size == 0 || r.Err() != nil {
		return z
	}
	block := r.Raw(size)
	if block == nil {
		return z
	}
	sub := NewReader(block)
	m := decodeMatrixMap(sub)
	if err := sub.Finish(); err != nil {
		r.fail(fmt.Errorf("zone %q matrix: %w", z.Name, err))
		return z
	}
	z.Matrix = m
	return z
}

func decodeMode(r *Reader) Mode {
	return Mode{
		Name:      r.String(),
		Value:     r.I32(),
		Flags:     r.U32(),
		SpeedMin:  r.U32(),
		SpeedMax:  r.U32(),
		ColorsMin: r.U32(),
		ColorsMax: r.U32(),
		Speed:     r.U32(),
		Direction: r.U32(),
		ColorMode: r.U32(),
		Colors:    decodeColors(r),
	}
}

func decodeColors(r *Reader) []Color {
	n := r.Count(colorSize)
	if r.Err() != nil {
		return nil
	}
	colors := make([]Color, n)
	for i := range colors {
		colors[i] = Color(r.U32())
	}
	return colors
}

func decodeDevice(r *Reader) (*Device, error) {
	d := &Device{
		Type:        r.U32(),
		Name:        r.String(),
		Description: r.String(),
		Version:     r.String(),
		Serial:      r.String(),
		Location:    r.String(),
	}

	n := r.Count(minModeSize)
	d.ActiveMode = r.I32()
	d.Modes = make([]Mode, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		d.Modes = append(d.Modes, decodeMode(r))
	}

	n = r.Count(minZoneSize)
	d.Zones = make([]Zone, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		d.Zones = append(d.Zones, decodeZone(r))
	}

	n = r.Count(minLedSize)
	d.Leds = make([]Led, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		d.Leds = append(d.Leds, decodeLed(r))
	}

	d.Colors = decodeColors(r)

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode device: %w", err)
	}
	return d, nil
}

// --- Validation ---

// Validate checks the zone's LED count against its bounds and matrix.
func (z *Zone) Validate() error {
	if z.LedsMax > 0 && (z.LedsCount < z.LedsMin || z.LedsCount > z.LedsMax) {
		return fmt.Errorf("zone %q: led count %d outside [%d, %d]", z.Name, z.LedsCount, z.LedsMin, z.LedsMax)
	}
	if z.Matrix != nil {
		cells := uint64(z.Matrix.Width) * uint64(z.Matrix.Height)
		if cells != uint64(len(z.Matrix.Map)) {
			return fmt.Errorf("zone %q: matrix %dx%d has %d cells", z.Name, z.Matrix.Width, z.Matrix.Height, len(z.Matrix.Map))
		}
	}
	return nil
}

// Validate checks that a mode with mode-specific colors carries an allowed
// number of them.
func (m *Mode) Validate() error {
	if m.Flags&ModeFlagHasModeSpecificColor == 0 {
		return nil
	}
	n := uint32(len(m.Colors))
	if n < m.ColorsMin || (m.ColorsMax > 0 && n > m.ColorsMax) {
		return fmt.Errorf("mode %q: %d colors outside [%d, %d]", m.Name, n, m.ColorsMin, m.ColorsMax)
	}
	return nil
}

// Validate checks the active mode index and every zone and mode.
func (d *Device) Validate() error {
	if d.ActiveMode != NoActiveMode && (d.ActiveMode < 0 || int(d.ActiveMode) >= len(d.Modes)) {
		return fmt.Errorf("device %q: active mode %d out of range (%d modes)", d.Name, d.ActiveMode, len(d.Modes))
	}
	for i := range d.Zones {
		if err := d.Zones[i].Validate(); err != nil {
			return fmt.Errorf("device %q: %w", d.Name, err)
		}
	}
	for i := range d.Modes {
		if err := d.Modes[i].Validate(); err != nil {
			return fmt.Errorf("device %q: %w", d.Name, err)
		}
	}
	return nil
}

// ModeIndex returns the index of the mode named name, or -1.
func (d *Device) ModeIndex(name string) int {
	for i := range d.Modes {
		if d.Modes[i].Name == name {
			return i
		}
	}
	return -1
}

// ZoneIndex returns the index of the zone named name, or -1.
func (d *Device) ZoneIndex(name string) int {
	for i := range d.Zones {
		if d.Zones[i].Name == name {
			return i
		}
	}
	return -1
}

// ZoneOffset returns the index of the first LED of zone i in Leds/Colors.
func (d *Device) ZoneOffset(i int) int {
	off := 0
	for j := 0; j < i && j < len(d.Zones); j++ {
		off += int(d.Zones[j].LedsCount)
	}
	return off
}
