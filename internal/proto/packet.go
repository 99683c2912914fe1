package proto

import (
	"fmt"
	"unicode/utf8"
)

// Packet is a decoded frame body. The set of implementations is closed:
// one type per command body plus Bodyless.
type Packet interface {
	Command() Command
	encode(w *Writer)
}

// ClientName announces the client to the server.
type ClientName struct {
	Name string
}

// ControllerCount is the server's reply to RequestControllerCount.
type ControllerCount struct {
	Count uint32
}

// ControllerData is the server's reply to RequestControllerData.
type ControllerData struct {
	Device Device
}

// UpdateLeds sets every LED of a device.
type UpdateLeds struct {
	Colors []Color
}

// UpdateZoneLeds sets every LED of one zone.
type UpdateZoneLeds struct {
	Zone   uint32
	Colors []Color
}

// UpdateSingleLed sets one LED.
type UpdateSingleLed struct {
	Led   uint32
	Color Color
}

// UpdateMode changes the parameters of a mode and activates it.
type UpdateMode struct {
	ModeIndex uint32
	Mode      Mode
}

// ResizeZone changes the LED count of a resizable zone.
type ResizeZone struct {
	Zone uint32
	Size uint32
}

// Bodyless is a frame with a zero-length body.
type Bodyless struct {
	Cmd Command
}

func (*ClientName) Command() Command      { return CmdSetClientName }
func (*ControllerCount) Command() Command { return CmdRequestControllerCount }
func (*ControllerData) Command() Command  { return CmdRequestControllerData }
func (*UpdateLeds) Command() Command      { return CmdUpdateLeds }
func (*UpdateZoneLeds) Command() Command  { return CmdUpdateZoneLeds }
func (*UpdateSingleLed) Command() Command { return CmdUpdateSingleLed }
func (*UpdateMode) Command() Command      { return CmdUpdateMode }
func (*ResizeZone) Command() Command      { return CmdResizeZone }
func (p *Bodyless) Command() Command      { return p.Cmd }

func (p *ClientName) encode(w *Writer) {
	if !utf8.ValidString(p.Name) {
		w.fail(fmt.Errorf("%w: %q", ErrMalformedText, p.Name))
		return
	}
	w.Raw([]byte(p.Name))
}

func (p *ControllerCount) encode(w *Writer) {
	w.U32(p.Count)
}

func (p *ControllerData) encode(w *Writer) {
	withInnerLength(w, p.Device.encode)
}

func (p *UpdateLeds) encode(w *Writer) {
	withInnerLength(w, func(w *Writer) {
		encodeColors(w, p.Colors)
	})
}

func (p *UpdateZoneLeds) encode(w *Writer) {
	withInnerLength(w, func(w *Writer) {
		w.U32(p.Zone)
		encodeColors(w, p.Colors)
	})
}

func (p *UpdateSingleLed) encode(w *Writer) {
	w.U32(p.Led)
	w.U32(uint32(p.Color))
}

func (p *UpdateMode) encode(w *Writer) {
	withInnerLength(w, func(w *Writer) {
		w.U32(p.ModeIndex)
		p.Mode.encode(w)
	})
}

func (p *ResizeZone) encode(w *Writer) {
	w.U32(p.Zone)
	w.U32(p.Size)
}

func (p *Bodyless) encode(*Writer) {}

// withInnerLength writes a u32 byte length followed by the bytes fn writes.
// The length excludes its own four bytes.
func withInnerLength(w *Writer, fn func(*Writer)) {
	sub := NewWriter(64)
	fn(sub)
	if err := sub.Err(); err != nil {
		w.fail(err)
		return
	}
	w.U32(uint32(sub.Len()))
	w.Raw(sub.Bytes())
}

// EncodePacket returns the body bytes of p.
func EncodePacket(p Packet) ([]byte, error) {
	w := NewWriter(64)
	p.encode(w)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Command(), err)
	}
	return w.Bytes(), nil
}

// DecodePacket decodes the body of a cmd frame. An empty body decodes to
// Bodyless regardless of the command.
func DecodePacket(cmd Command, body []byte) (Packet, error) {
	if len(body) == 0 {
		return &Bodyless{Cmd: cmd}, nil
	}

	r := NewReader(body)
	var p Packet

	switch cmd {
	case CmdSetClientName:
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("decode %s: %w", cmd, ErrMalformedText)
		}
		return &ClientName{Name: string(body)}, nil

	case CmdRequestControllerCount:
		p = &ControllerCount{Count: r.U32()}

	case CmdRequestControllerData:
		if err := readInnerLength(r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", cmd, err)
		}
		dev, err := decodeDevice(r)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", cmd, err)
		}
		p = &ControllerData{Device: *dev}

	case CmdUpdateLeds:
		if err := readInnerLength(r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", cmd, err)
		}
		p = &UpdateLeds{Colors: decodeColors(r)}

	case CmdUpdateZoneLeds:
		if err := readInnerLength(r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", cmd, err)
		}
		zone := r.U32()
		p = &UpdateZoneLeds{Zone: zone, Colors: decodeColors(r)}

	case CmdUpdateSingleLed:
		p = &UpdateSingleLed{Led: r.U32(), Color: Color(r.U32())}

	case CmdUpdateMode:
		if err := readInnerLength(r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", cmd, err)
		}
		idx := r.U32()
		p = &UpdateMode{ModeIndex: idx, Mode: decodeMode(r)}

	case CmdResizeZone:
		p = &ResizeZone{Zone: r.U32(), Size: r.U32()}

	default:
		// SetCustomMode never carries a body.
		return nil, fmt.Errorf("decode %s: %w: unexpected %d-byte body", cmd, ErrLengthMismatch, len(body))
	}

	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", cmd, err)
	}
	return p, nil
}

// readInnerLength consumes the redundant u32 length prefix and checks it
// against the bytes that follow it.
func readInnerLength(r *Reader) error {
	n := r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	if int64(n) != int64(r.Remaining()) {
		return fmt.Errorf("%w: inner length %d, body has %d", ErrLengthMismatch, n, r.Remaining())
	}
	return nil
}
