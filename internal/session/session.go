// Package session runs the OpenRGB SDK request/response exchange over one
// stream connection.
//
// A Session is not safe for concurrent use. Callers that share one must
// serialise access themselves; internal/controller does this with a mutex.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"openrgb-go-home/internal/proto"
)

var (
	// ErrTransport wraps failures of the underlying stream.
	ErrTransport = errors.New("session: transport error")

	// ErrSessionUnusable is returned by every call after the session has
	// failed once. The original cause is wrapped alongside it.
	ErrSessionUnusable = errors.New("session: unusable")
)

// Session frames packets onto a byte stream.
type Session struct {
	conn    io.ReadWriter
	w       *bufio.Writer
	logger  *slog.Logger
	metrics *Metrics
	maxBody uint32
	broken  error
}

// DefaultMaxBody bounds the body length accepted from a header.
const DefaultMaxBody = 16 << 20

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxBody changes the largest body ReadPacket will allocate for.
func WithMaxBody(n uint32) Option {
	return func(s *Session) {
		s.maxBody = n
	}
}

// WithMetrics attaches frame counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// New wraps conn. Writes are buffered and flushed once per frame; reads take
// exactly the bytes of the current frame from conn.
func New(conn io.ReadWriter, opts ...Option) *Session {
	s := &Session{
		conn:    conn,
		w:       bufio.NewWriter(conn),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxBody: DefaultMaxBody,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Err returns the error that made the session unusable, or nil.
func (s *Session) Err() error {
	return s.broken
}

// Close closes the underlying stream if it is an io.Closer.
func (s *Session) Close() error {
	if s.broken == nil {
		s.broken = errors.New("session closed")
	}
	if c, ok := s.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Session) check() error {
	if s.broken != nil {
		return fmt.Errorf("%w: %w", ErrSessionUnusable, s.broken)
	}
	return nil
}

// fail records err as the reason the session is unusable and returns it.
func (s *Session) fail(op string, err error) error {
	s.broken = err
	s.metrics.observeError(err)
	s.logger.Warn("session failed", "op", op, "err", err)
	return err
}

// SendCommand writes a header with an empty body.
func (s *Session) SendCommand(cmd proto.Command, deviceID uint32) error {
	return s.writeFrame(cmd, deviceID, nil)
}

// SendPacket encodes p and writes it as one frame. Encoding errors leave the
// session usable since nothing has been written.
func (s *Session) SendPacket(p proto.Packet, deviceID uint32) error {
	if err := s.check(); err != nil {
		return err
	}
	body, err := proto.EncodePacket(p)
	if err != nil {
		return err
	}
	return s.writeFrame(p.Command(), deviceID, body)
}

func (s *Session) writeFrame(cmd proto.Command, deviceID uint32, body []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if uint64(len(body)) > uint64(^uint32(0)) {
		return fmt.Errorf("send %s: %w: body of %d bytes", cmd, proto.ErrInputTooLarge, len(body))
	}

	var hdr [proto.HeaderSize]byte
	proto.Header{DeviceID: deviceID, Command: cmd, Length: uint32(len(body))}.Put(hdr[:])

	if _, err := s.w.Write(hdr[:]); err != nil {
		return s.fail("send", fmt.Errorf("%w: send %s: %w", ErrTransport, cmd, err))
	}
	if _, err := s.w.Write(body); err != nil {
		return s.fail("send", fmt.Errorf("%w: send %s: %w", ErrTransport, cmd, err))
	}
	if err := s.w.Flush(); err != nil {
		return s.fail("send", fmt.Errorf("%w: send %s: %w", ErrTransport, cmd, err))
	}

	s.metrics.observeSent(cmd, proto.HeaderSize+len(body))
	s.logger.Debug("sent", "cmd", cmd.String(), "device", deviceID, "len", len(body))
	return nil
}

// ReadPacket reads one frame and decodes its body. It returns the device id
// from the header alongside the packet.
func (s *Session) ReadPacket() (proto.Packet, uint32, error) {
	if err := s.check(); err != nil {
		return nil, 0, err
	}

	var hdr [proto.HeaderSize]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return nil, 0, s.fail("read", fmt.Errorf("%w: read header: %w", ErrTransport, err))
	}
	h, err := proto.DecodeHeader(hdr[:])
	if err != nil {
		return nil, 0, s.fail("read", err)
	}

	if h.Length > s.maxBody {
		return nil, 0, s.fail("read", fmt.Errorf("%w: %s body of %d bytes", proto.ErrInputTooLarge, h.Command, h.Length))
	}
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return nil, 0, s.fail("read", fmt.Errorf("%w: read %s body: %w", ErrTransport, h.Command, err))
	}

	p, err := proto.DecodePacket(h.Command, body)
	if err != nil {
		return nil, 0, s.fail("read", err)
	}

	s.metrics.observeReceived(h.Command, proto.HeaderSize+len(body))
	s.logger.Debug("received", "cmd", h.Command.String(), "device", h.DeviceID, "len", h.Length)
	return p, h.DeviceID, nil
}
