package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"openrgb-go-home/internal/proto"
)

// stream is an in-memory connection: reads come from a canned server
// response, writes are captured.
type stream struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (s *stream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.out.Write(p) }

func newStream(response []byte) *stream {
	return &stream{in: bytes.NewReader(response)}
}

type failingWriter struct{ io.Reader }

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func frame(t *testing.T, p proto.Packet, deviceID uint32) []byte {
	t.Helper()
	body, err := proto.EncodePacket(p)
	if err != nil {
		t.Fatal(err)
	}
	h := proto.Header{DeviceID: deviceID, Command: p.Command(), Length: uint32(len(body))}
	return append(h.Encode(), body...)
}

func gpuDevice() proto.Device {
	return proto.Device{
		Type:   3,
		Name:   "GPU",
		Modes:  []proto.Mode{{Name: "Static", Colors: []proto.Color{0x00FF00, 0xFF0000}}},
		Zones:  []proto.Zone{{Name: "Fan", LedsCount: 4}},
		Leds:   []proto.Led{{Name: "Fan1", Value: 0}},
		Colors: []proto.Color{0x0000FF},
	}
}

func TestDeviceExchange(t *testing.T) {
	want := gpuDevice()
	conn := newStream(frame(t, &proto.ControllerData{Device: want}, 2))
	s := New(conn, WithLogger(testLogger()))

	got, err := s.Device(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}

	request := proto.Header{DeviceID: 2, Command: proto.CmdRequestControllerData}.Encode()
	if !bytes.Equal(conn.out.Bytes(), request) {
		t.Errorf("request = %X, want %X", conn.out.Bytes(), request)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("device mismatch:\n got %+v\nwant %+v", *got, want)
	}
	if conn.in.Len() != 0 {
		t.Errorf("%d unread bytes", conn.in.Len())
	}
}

func TestDeviceCount(t *testing.T) {
	conn := newStream(frame(t, &proto.ControllerCount{Count: 3}, 0))
	s := New(conn)

	n, err := s.DeviceCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
	want := proto.Header{Command: proto.CmdRequestControllerCount}.Encode()
	if !bytes.Equal(conn.out.Bytes(), want) {
		t.Errorf("request = %X", conn.out.Bytes())
	}
}

func TestSendFrames(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		send func(*Session) error
		want []byte
	}{
		{
			name: "handshake",
			send: func(s *Session) error { return s.Handshake(ctx, "test") },
			want: frame(t, &proto.ClientName{Name: "test"}, 0),
		},
		{
			name: "custom mode",
			send: func(s *Session) error { return s.SetCustomMode(ctx, 4) },
			want: proto.Header{DeviceID: 4, Command: proto.CmdSetCustomMode}.Encode(),
		},
		{
			name: "update leds",
			send: func(s *Session) error { return s.UpdateLeds(ctx, 1, []proto.Color{1, 2}) },
			want: frame(t, &proto.UpdateLeds{Colors: []proto.Color{1, 2}}, 1),
		},
		{
			name: "update zone leds",
			send: func(s *Session) error { return s.UpdateZoneLeds(ctx, 1, 2, []proto.Color{3}) },
			want: frame(t, &proto.UpdateZoneLeds{Zone: 2, Colors: []proto.Color{3}}, 1),
		},
		{
			name: "update single led",
			send: func(s *Session) error { return s.UpdateSingleLed(ctx, 5, 6, 7) },
			want: frame(t, &proto.UpdateSingleLed{Led: 6, Color: 7}, 5),
		},
		{
			name: "update mode",
			send: func(s *Session) error {
				return s.UpdateMode(ctx, 0, 1, proto.Mode{Name: "Breathing", Colors: []proto.Color{}})
			},
			want: frame(t, &proto.UpdateMode{ModeIndex: 1, Mode: proto.Mode{Name: "Breathing", Colors: []proto.Color{}}}, 0),
		},
		{
			name: "resize zone",
			send: func(s *Session) error { return s.ResizeZone(ctx, 3, 0, 60) },
			want: frame(t, &proto.ResizeZone{Zone: 0, Size: 60}, 3),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newStream(nil)
			if err := tt.send(New(conn)); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(conn.out.Bytes(), tt.want) {
				t.Errorf("wrote %X, want %X", conn.out.Bytes(), tt.want)
			}
		})
	}
}

func TestUnknownCommandLeavesBody(t *testing.T) {
	hdr := proto.Header{Command: proto.CmdRequestControllerCount, Length: 8}.Encode()
	binary.LittleEndian.PutUint32(hdr[8:12], 9999)
	conn := newStream(append(hdr, make([]byte, 8)...))
	s := New(conn, WithLogger(testLogger()))

	_, _, err := s.ReadPacket()
	var uc *proto.UnknownCommandError
	if !errors.As(err, &uc) || uc.ID != 9999 {
		t.Fatalf("err = %v, want UnknownCommand(9999)", err)
	}
	if conn.in.Len() != 8 {
		t.Errorf("consumed %d body bytes, want 0", 8-conn.in.Len())
	}

	_, _, err = s.ReadPacket()
	if !errors.Is(err, ErrSessionUnusable) || !errors.Is(err, proto.ErrUnknownCommand) {
		t.Errorf("second read err = %v", err)
	}
	if err := s.SendCommand(proto.CmdRequestControllerCount, 0); !errors.Is(err, ErrSessionUnusable) {
		t.Errorf("send after failure err = %v", err)
	}
	if conn.out.Len() != 0 {
		t.Errorf("wrote %d bytes on an unusable session", conn.out.Len())
	}
}

func TestReadErrorsMakeSessionUnusable(t *testing.T) {
	badInner := frame(t, &proto.ControllerData{Device: gpuDevice()}, 0)
	binary.LittleEndian.PutUint32(badInner[proto.HeaderSize:], 1)

	badMagic := frame(t, &proto.ControllerCount{Count: 1}, 0)
	binary.LittleEndian.PutUint32(badMagic[0:4], 0)

	tooLarge := proto.Header{Command: proto.CmdRequestControllerData, Length: DefaultMaxBody + 1}.Encode()

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"length mismatch", badInner, proto.ErrLengthMismatch},
		{"bad magic", badMagic, proto.ErrProtocolMismatch},
		{"eof in header", []byte{0x4F, 0x52}, ErrTransport},
		{"eof in body", frame(t, &proto.ControllerCount{Count: 1}, 0)[:proto.HeaderSize+2], ErrTransport},
		{"body too large", tooLarge, proto.ErrInputTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newStream(tt.in), WithLogger(testLogger()))
			if _, _, err := s.ReadPacket(); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if s.Err() == nil {
				t.Fatal("session still usable")
			}
			if _, _, err := s.ReadPacket(); !errors.Is(err, ErrSessionUnusable) || !errors.Is(err, tt.want) {
				t.Errorf("second read err = %v", err)
			}
		})
	}
}

func TestWriteFailure(t *testing.T) {
	s := New(failingWriter{Reader: bytes.NewReader(nil)}, WithLogger(testLogger()))
	err := s.SetCustomMode(context.Background(), 0)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if err := s.SetCustomMode(context.Background(), 0); !errors.Is(err, ErrSessionUnusable) {
		t.Errorf("err = %v, want ErrSessionUnusable", err)
	}
}

func TestEncodeErrorKeepsSession(t *testing.T) {
	conn := newStream(nil)
	s := New(conn)
	mode := proto.Mode{Name: strings.Repeat("x", 70000)}
	if err := s.UpdateMode(context.Background(), 0, 0, mode); !errors.Is(err, proto.ErrInputTooLarge) {
		t.Fatalf("err = %v, want ErrInputTooLarge", err)
	}
	if s.Err() != nil {
		t.Fatalf("session unusable after encode error: %v", s.Err())
	}
	if conn.out.Len() != 0 {
		t.Errorf("wrote %d bytes", conn.out.Len())
	}
	if err := s.SetCustomMode(context.Background(), 0); err != nil {
		t.Errorf("follow-up send: %v", err)
	}
}

func TestUnexpectedVariant(t *testing.T) {
	conn := newStream(frame(t, &proto.ControllerCount{Count: 1}, 0))
	s := New(conn)

	_, err := s.Device(context.Background(), 0)
	var uv *proto.UnexpectedVariantError
	if !errors.As(err, &uv) {
		t.Fatalf("err = %v, want UnexpectedVariantError", err)
	}
	if uv.Want != proto.CmdRequestControllerData || uv.Got != proto.CmdRequestControllerCount {
		t.Errorf("err = %+v", uv)
	}
	if !errors.Is(err, proto.ErrUnexpectedVariant) {
		t.Error("errors.Is(ErrUnexpectedVariant) = false")
	}
	if _, err := s.DeviceCount(context.Background()); !errors.Is(err, ErrSessionUnusable) {
		t.Errorf("after mismatch: err = %v, want ErrSessionUnusable", err)
	}
}

func TestContextCancelled(t *testing.T) {
	s := New(newStream(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.DeviceCount(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.Err() != nil {
		t.Errorf("session marked unusable: %v", s.Err())
	}
}

func TestContextCancelInterruptsRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	s := New(client, WithLogger(testLogger()))
	defer s.Close()

	// Swallow the request and never answer.
	go io.Copy(io.Discard, server)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.DeviceCount(ctx)
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want transport error joined with context.Canceled", err)
	}
	if s.Err() == nil {
		t.Error("session still usable after interrupted read")
	}
}

// lateDeadlineConn cancels a context from inside Write and delays every
// non-zero SetDeadline, so a cancel callback can land after the request
// has already finished.
type lateDeadlineConn struct {
	net.Conn
	onWrite func()
}

func (c *lateDeadlineConn) Write(p []byte) (int, error) {
	if c.onWrite != nil {
		c.onWrite()
	}
	return c.Conn.Write(p)
}

func (c *lateDeadlineConn) SetDeadline(t time.Time) error {
	if !t.IsZero() {
		time.Sleep(30 * time.Millisecond)
	}
	return c.Conn.SetDeadline(t)
}

func TestCancelAfterSuccessKeepsSessionUsable(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go io.Copy(io.Discard, server)

	ctx, cancel := context.WithCancel(context.Background())
	conn := &lateDeadlineConn{Conn: client, onWrite: cancel}
	s := New(conn, WithLogger(testLogger()))
	defer s.Close()

	if err := s.SetCustomMode(ctx, 0); err != nil {
		t.Fatalf("first request: %v", err)
	}
	conn.onWrite = nil

	if err := s.SetCustomMode(context.Background(), 0); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if s.Err() != nil {
		t.Errorf("session marked unusable: %v", s.Err())
	}
}

func TestStaleDeadlineCleared(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go io.Copy(io.Discard, server)

	s := New(client, WithLogger(testLogger()))
	defer s.Close()

	_ = client.SetDeadline(time.Now().Add(-time.Second))
	if err := s.SetCustomMode(context.Background(), 0); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if s.Err() != nil {
		t.Errorf("session marked unusable: %v", s.Err())
	}
}

func TestConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		hdr := make([]byte, proto.HeaderSize)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		h, err := proto.DecodeHeader(hdr)
		if err != nil {
			return
		}
		body := make([]byte, h.Length)
		io.ReadFull(conn, body)
		got <- append(hdr, body...)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, ln.Addr().String(), "openrgb-go-home", WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	select {
	case b := <-got:
		if want := frame(t, &proto.ClientName{Name: "openrgb-go-home"}, 0); !bytes.Equal(b, want) {
			t.Errorf("handshake = %X, want %X", b, want)
		}
	case <-ctx.Done():
		t.Fatal("server did not receive handshake")
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Connect(context.Background(), addr, "x"); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	conn := newStream(frame(t, &proto.ControllerCount{Count: 2}, 0))
	s := New(conn, WithMetrics(m))
	if _, err := s.DeviceCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.ReadPacket(); err == nil {
		t.Fatal("expected EOF")
	}

	values := gather(t, reg)
	checks := map[string]float64{
		"openrgb_session_frames_sent_total{command=RequestControllerCount}":     1,
		"openrgb_session_frames_received_total{command=RequestControllerCount}": 1,
		"openrgb_session_bytes_sent_total":                                      16,
		"openrgb_session_bytes_received_total":                                  20,
		"openrgb_session_errors_total{kind=transport}":                          1,
	}
	for name, want := range checks {
		if got := values[name]; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

// gather flattens counters into name{label=value} keys.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				key += "{" + labels[0].GetName() + "=" + labels[0].GetValue() + "}"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out
}
