package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

// DefaultPort is the port an OpenRGB server listens on.
const DefaultPort = "6742"

// Connect dials addr over TCP and announces name to the server. A missing
// port in addr defaults to DefaultPort.
func Connect(ctx context.Context, addr, name string, opts ...Option) (*Session, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}

	s := New(conn, opts...)
	if err := s.Handshake(ctx, name); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}
	s.logger.Info("connected", "addr", addr, "client", name)
	return s, nil
}

// DialSerial opens a serial port carrying SDK frames and announces name.
func DialSerial(ctx context.Context, portName string, baud int, name string, opts ...Option) (*Session, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrTransport, portName, err)
	}

	s := New(&serialConn{Port: port}, opts...)
	if err := s.Handshake(ctx, name); err != nil {
		port.Close()
		return nil, fmt.Errorf("handshake %s: %w", portName, err)
	}
	s.logger.Info("connected", "port", portName, "baud", baud, "client", name)
	return s, nil
}

// serialConn gives a serial port deadline semantics through its read
// timeout. Writes are not bounded.
type serialConn struct {
	serial.Port
}

func (c *serialConn) SetDeadline(t time.Time) error {
	if t.IsZero() {
		return c.Port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}
	return c.Port.SetReadTimeout(d)
}

// Read reports a timed out read as os.ErrDeadlineExceeded instead of the
// port's (0, nil).
func (c *serialConn) Read(p []byte) (int, error) {
	n, err := c.Port.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}
