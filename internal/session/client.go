package session

import (
	"context"
	"errors"
	"time"

	"openrgb-go-home/internal/proto"
)

type deadliner interface {
	SetDeadline(time.Time) error
}

// do runs fn with ctx's deadline and cancellation applied to the stream when
// it supports deadlines.
func (s *Session) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dl, ok := s.conn.(deadliner)
	if !ok {
		return fn()
	}

	if d, has := ctx.Deadline(); has {
		_ = dl.SetDeadline(d)
	} else {
		_ = dl.SetDeadline(time.Time{})
	}
	// The cancel callback must finish before the reset below, or a late
	// SetDeadline(now) would poison the next request.
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		_ = dl.SetDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			<-done
		}
		_ = dl.SetDeadline(time.Time{})
	}()

	err := fn()
	if err != nil && ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Handshake sends the client name. The server does not reply.
func (s *Session) Handshake(ctx context.Context, name string) error {
	return s.do(ctx, func() error {
		return s.SendPacket(&proto.ClientName{Name: name}, 0)
	})
}

// DeviceCount asks how many controllers the server exposes.
func (s *Session) DeviceCount(ctx context.Context) (uint32, error) {
	var count uint32
	err := s.do(ctx, func() error {
		if err := s.SendCommand(proto.CmdRequestControllerCount, 0); err != nil {
			return err
		}
		p, _, err := s.ReadPacket()
		if err != nil {
			return err
		}
		cc, ok := p.(*proto.ControllerCount)
		if !ok {
			return s.fail("read", &proto.UnexpectedVariantError{Want: proto.CmdRequestControllerCount, Got: p.Command()})
		}
		count = cc.Count
		return nil
	})
	return count, err
}

// Device fetches the full description of controller id.
func (s *Session) Device(ctx context.Context, id uint32) (*proto.Device, error) {
	var dev *proto.Device
	err := s.do(ctx, func() error {
		if err := s.SendCommand(proto.CmdRequestControllerData, id); err != nil {
			return err
		}
		p, _, err := s.ReadPacket()
		if err != nil {
			return err
		}
		cd, ok := p.(*proto.ControllerData)
		if !ok {
			return s.fail("read", &proto.UnexpectedVariantError{Want: proto.CmdRequestControllerData, Got: p.Command()})
		}
		dev = &cd.Device
		return nil
	})
	return dev, err
}

// SetCustomMode switches controller id to its direct-control mode.
func (s *Session) SetCustomMode(ctx context.Context, id uint32) error {
	return s.do(ctx, func() error {
		return s.SendCommand(proto.CmdSetCustomMode, id)
	})
}

// UpdateLeds sets every LED of controller id.
func (s *Session) UpdateLeds(ctx context.Context, id uint32, colors []proto.Color) error {
	return s.do(ctx, func() error {
		return s.SendPacket(&proto.UpdateLeds{Colors: colors}, id)
	})
}

// UpdateZoneLeds sets every LED in one zone of controller id.
func (s *Session) UpdateZoneLeds(ctx context.Context, id, zone uint32, colors []proto.Color) error {
	return s.do(ctx, func() error {
		return s.SendPacket(&proto.UpdateZoneLeds{Zone: zone, Colors: colors}, id)
	})
}

// UpdateSingleLed sets one LED of controller id.
func (s *Session) UpdateSingleLed(ctx context.Context, id, led uint32, c proto.Color) error {
	return s.do(ctx, func() error {
		return s.SendPacket(&proto.UpdateSingleLed{Led: led, Color: c}, id)
	})
}

// UpdateMode activates mode modeIndex on controller id with the given
// parameters.
func (s *Session) UpdateMode(ctx context.Context, id, modeIndex uint32, mode proto.Mode) error {
	return s.do(ctx, func() error {
		return s.SendPacket(&proto.UpdateMode{ModeIndex: modeIndex, Mode: mode}, id)
	})
}

// ResizeZone changes the LED count of a zone on controller id.
func (s *Session) ResizeZone(ctx context.Context, id, zone, size uint32) error {
	return s.do(ctx, func() error {
		return s.SendPacket(&proto.ResizeZone{Zone: zone, Size: size}, id)
	})
}
