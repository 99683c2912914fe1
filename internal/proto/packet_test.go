package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
	}{
		{"client name", &ClientName{Name: "openrgb-go-home"}},
		{"client name utf8", &ClientName{Name: "Wohnzimmer-Lüfter"}},
		{"controller count", &ControllerCount{Count: 7}},
		{"controller count zero", &ControllerCount{Count: 0}},
		{"controller data", &ControllerData{Device: sampleDevice()}},
		{"update leds", &UpdateLeds{Colors: []Color{RGB(1, 2, 3), RGB(4, 5, 6)}}},
		{"update leds empty", &UpdateLeds{Colors: []Color{}}},
		{"update zone leds", &UpdateZoneLeds{Zone: 3, Colors: []Color{0xFFFFFFFF}}},
		{"update zone leds empty", &UpdateZoneLeds{Zone: 0, Colors: []Color{}}},
		{"update single led", &UpdateSingleLed{Led: 42, Color: RGB(9, 8, 7)}},
		{"update mode", &UpdateMode{ModeIndex: 1, Mode: sampleDevice().Modes[1]}},
		{"resize zone", &ResizeZone{Zone: 2, Size: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := EncodePacket(tt.p)
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecodePacket(tt.p.Command(), body)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.p) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, tt.p)
			}
		})
	}
}

func TestPacketInnerLength(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
	}{
		{"controller data", &ControllerData{Device: sampleDevice()}},
		{"update leds", &UpdateLeds{Colors: []Color{1, 2, 3}}},
		{"update zone leds", &UpdateZoneLeds{Zone: 1, Colors: []Color{1}}},
		{"update mode", &UpdateMode{ModeIndex: 0, Mode: sampleDevice().Modes[0]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := EncodePacket(tt.p)
			if err != nil {
				t.Fatal(err)
			}
			if inner := binary.LittleEndian.Uint32(body[:4]); int(inner) != len(body)-4 {
				t.Errorf("inner length = %d, want %d", inner, len(body)-4)
			}
		})
	}
}

func TestPacketFixedBodies(t *testing.T) {
	body, err := EncodePacket(&UpdateSingleLed{Led: 1, Color: RGB(0xAA, 0xBB, 0xCC)})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC, 0x00}
	if !bytes.Equal(body, want) {
		t.Errorf("update single led = %X, want %X", body, want)
	}

	body, err = EncodePacket(&ResizeZone{Zone: 2, Size: 30})
	if err != nil {
		t.Fatal(err)
	}
	want = []byte{0x02, 0x00, 0x00, 0x00, 0x1E, 0x00, 0x00, 0x00}
	if !bytes.Equal(body, want) {
		t.Errorf("resize zone = %X, want %X", body, want)
	}

	body, err = EncodePacket(&ClientName{Name: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, []byte("abc")) {
		t.Errorf("client name = %X", body)
	}
}

func TestControllerDataLengthMismatch(t *testing.T) {
	body, err := EncodePacket(&ControllerData{Device: sampleDevice()})
	if err != nil {
		t.Fatal(err)
	}
	for _, delta := range []int{-1, 1, 4} {
		bad := append([]byte(nil), body...)
		binary.LittleEndian.PutUint32(bad[:4], uint32(len(body)-4+delta))
		_, err := DecodePacket(CmdRequestControllerData, bad)
		if !errors.Is(err, ErrLengthMismatch) {
			t.Errorf("delta %d: err = %v, want ErrLengthMismatch", delta, err)
		}
	}
}

func TestUpdatePacketsLengthMismatch(t *testing.T) {
	for _, p := range []Packet{
		&UpdateLeds{Colors: []Color{1}},
		&UpdateZoneLeds{Zone: 1, Colors: []Color{1}},
		&UpdateMode{Mode: Mode{Name: "Static", Colors: []Color{}}},
	} {
		body, err := EncodePacket(p)
		if err != nil {
			t.Fatal(err)
		}
		binary.LittleEndian.PutUint32(body[:4], 0)
		if _, err := DecodePacket(p.Command(), body); !errors.Is(err, ErrLengthMismatch) {
			t.Errorf("%s: err = %v, want ErrLengthMismatch", p.Command(), err)
		}
	}
}

func TestDecodePacketTrailingBytes(t *testing.T) {
	body, _ := EncodePacket(&ResizeZone{Zone: 1, Size: 2})
	body = append(body, 0xFF)
	if _, err := DecodePacket(CmdResizeZone, body); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestDecodePacketBodyless(t *testing.T) {
	for _, cmd := range Commands() {
		p, err := DecodePacket(cmd, nil)
		if err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		b, ok := p.(*Bodyless)
		if !ok || b.Command() != cmd {
			t.Errorf("%s: got %#v", cmd, p)
		}
	}

	if _, err := DecodePacket(CmdSetCustomMode, []byte{0x00}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("custom mode with body: err = %v", err)
	}
}

func TestDecodeClientNameMalformed(t *testing.T) {
	if _, err := DecodePacket(CmdSetClientName, []byte{0xFF, 0xFE}); !errors.Is(err, ErrMalformedText) {
		t.Fatalf("err = %v, want ErrMalformedText", err)
	}
}

func TestEncodePacketRejectsInvalidUTF8(t *testing.T) {
	dev := sampleDevice()
	dev.Name = "GPU\xff"
	tests := []struct {
		name string
		p    Packet
	}{
		{"client name", &ClientName{Name: "desk\xc3"}},
		{"device name", &ControllerData{Device: dev}},
		{"mode name", &UpdateMode{ModeIndex: 0, Mode: Mode{Name: "Static\xff", Colors: []Color{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := EncodePacket(tt.p)
			if !errors.Is(err, ErrMalformedText) {
				t.Fatalf("err = %v, want ErrMalformedText", err)
			}
			if body != nil {
				t.Errorf("body = %d bytes, want nil", len(body))
			}
		})
	}
}

// TestControllerDataFrame writes a full frame for a small GPU device and
// reads it back through the header and packet codecs.
func TestControllerDataFrame(t *testing.T) {
	dev := Device{
		Type:       3,
		Name:       "GPU",
		ActiveMode: 0,
		Modes: []Mode{{
			Name:   "Static",
			Colors: []Color{0x00FF00, 0xFF0000},
		}},
		Zones:  []Zone{{Name: "Fan", LedsCount: 4}},
		Leds:   []Led{{Name: "Fan1", Value: 0}},
		Colors: []Color{0x0000FF},
	}

	body, err := EncodePacket(&ControllerData{Device: dev})
	if err != nil {
		t.Fatal(err)
	}
	var frame bytes.Buffer
	frame.Write(Header{DeviceID: 2, Command: CmdRequestControllerData, Length: uint32(len(body))}.Encode())
	frame.Write(body)

	raw := frame.Bytes()
	h, err := DecodeHeader(raw[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if h.DeviceID != 2 || h.Command != CmdRequestControllerData || int(h.Length) != len(raw)-HeaderSize {
		t.Fatalf("header = %+v", h)
	}

	p, err := DecodePacket(h.Command, raw[HeaderSize:HeaderSize+int(h.Length)])
	if err != nil {
		t.Fatal(err)
	}
	cd, ok := p.(*ControllerData)
	if !ok {
		t.Fatalf("packet = %T", p)
	}
	got := cd.Device

	if got.Name != "GPU" || got.Type != 3 {
		t.Errorf("name/type = %q/%d", got.Name, got.Type)
	}
	if len(got.Modes) != 1 || got.Modes[0].Name != "Static" {
		t.Fatalf("modes = %+v", got.Modes)
	}
	if !reflect.DeepEqual(got.Modes[0].Colors, []Color{0x00FF00, 0xFF0000}) {
		t.Errorf("mode colors = %v", got.Modes[0].Colors)
	}
	if len(got.Zones) != 1 || got.Zones[0].Name != "Fan" || got.Zones[0].LedsCount != 4 || got.Zones[0].Matrix != nil {
		t.Errorf("zones = %+v", got.Zones)
	}
	if len(got.Leds) != 1 || got.Leds[0] != (Led{Name: "Fan1", Value: 0}) {
		t.Errorf("leds = %+v", got.Leds)
	}
	if !reflect.DeepEqual(got.Colors, []Color{0x0000FF}) {
		t.Errorf("colors = %v", got.Colors)
	}
	if !reflect.DeepEqual(got, dev) {
		t.Errorf("device mismatch:\n got %+v\nwant %+v", got, dev)
	}
}
