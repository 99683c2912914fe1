package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/session"
)

func parseColors(args []string) ([]proto.Color, error) {
	colors := make([]proto.Color, len(args))
	for i, arg := range args {
		c, err := controller.ParseColor(arg)
		if err != nil {
			return nil, err
		}
		colors[i] = c
	}
	return colors, nil
}

// resolveZone accepts a zone index or name.
func resolveZone(d *proto.Device, arg string) (uint32, error) {
	if n, err := strconv.ParseUint(arg, 10, 32); err == nil {
		if int(n) >= len(d.Zones) {
			return 0, fmt.Errorf("zone %d: %w", n, controller.ErrInvalidID)
		}
		return uint32(n), nil
	}
	i := d.ZoneIndex(arg)
	if i < 0 {
		return 0, fmt.Errorf("zone %q: %w", arg, controller.ErrInvalidID)
	}
	return uint32(i), nil
}

func colorCmd(opts *options) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "color <device> <color> [color...]",
		Short: "Set every LED of a device",
		Long: `Set every LED of a device. One color fills the device; a list must name
one color per LED. With --to, LEDs fade from <color> to the --to color.

Colors are #rrggbb, #rgb, rgb(r,g,b) or hsv(h,s,v).`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			colors, err := parseColors(args[1:])
			if err != nil {
				return err
			}
			var end proto.Color
			if to != "" {
				if len(colors) != 1 {
					return fmt.Errorf("--to takes a single start color")
				}
				if end, err = controller.ParseColor(to); err != nil {
					return err
				}
			}

			return opts.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				d, err := s.Device(ctx, index)
				if err != nil {
					return err
				}
				n := len(d.Leds)
				switch {
				case to != "":
					colors = controller.Gradient(colors[0], end, n)
				case len(colors) == 1:
					colors = controller.Fill(colors[0], n)
				case len(colors) != n:
					return fmt.Errorf("device %d: %d colors for %d leds: %w", index, len(colors), n, controller.ErrInvalidColorAmount)
				}
				if err := s.SetCustomMode(ctx, index); err != nil {
					return err
				}
				return s.UpdateLeds(ctx, index, colors)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "end color of a gradient across the device")
	return cmd
}

func zoneColorCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "zone-color <device> <zone> <color> [color...]",
		Short: "Set every LED of one zone, by zone index or name",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			colors, err := parseColors(args[2:])
			if err != nil {
				return err
			}

			return opts.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				d, err := s.Device(ctx, index)
				if err != nil {
					return err
				}
				zone, err := resolveZone(d, args[1])
				if err != nil {
					return err
				}
				n := int(d.Zones[zone].LedsCount)
				if len(colors) == 1 {
					colors = controller.Fill(colors[0], n)
				} else if len(colors) != n {
					return fmt.Errorf("zone %q: %d colors for %d leds: %w", d.Zones[zone].Name, len(colors), n, controller.ErrInvalidColorAmount)
				}
				if err := s.SetCustomMode(ctx, index); err != nil {
					return err
				}
				return s.UpdateZoneLeds(ctx, index, zone, colors)
			})
		},
	}
}

func ledCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "led <device> <led> <color>",
		Short: "Set a single LED",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			led, err := parseIndex(args[1], "led index")
			if err != nil {
				return err
			}
			c, err := controller.ParseColor(args[2])
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return s.UpdateSingleLed(ctx, index, led, c)
			})
		},
	}
}

func modeCmd(opts *options) *cobra.Command {
	var (
		speed  int
		colors []string
	)

	cmd := &cobra.Command{
		Use:   "mode <device> <mode>",
		Short: "Activate a mode by name, optionally changing its speed or colors",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			modeColors, err := parseColors(colors)
			if err != nil {
				return err
			}

			return opts.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				d, err := s.Device(ctx, index)
				if err != nil {
					return err
				}
				mi := d.ModeIndex(args[1])
				if mi < 0 {
					return fmt.Errorf("device %d mode %q: %w", index, args[1], controller.ErrInvalidMode)
				}
				mode := d.Modes[mi]
				if cmd.Flags().Changed("speed") {
					if err := applySpeed(&mode, speed); err != nil {
						return err
					}
				}
				if len(modeColors) > 0 {
					if mode.Flags&proto.ModeFlagHasModeSpecificColor == 0 {
						return fmt.Errorf("mode %q has no mode colors: %w", mode.Name, controller.ErrInvalidColorAmount)
					}
					mode.Colors = modeColors
					if err := mode.Validate(); err != nil {
						return fmt.Errorf("%w: %w", controller.ErrInvalidColorAmount, err)
					}
				}
				return s.UpdateMode(ctx, index, uint32(mi), mode)
			})
		},
	}
	cmd.Flags().IntVar(&speed, "speed", 0, "mode speed, within the mode's range")
	cmd.Flags().StringSliceVar(&colors, "color", nil, "mode color (repeatable)")
	return cmd
}

func applySpeed(mode *proto.Mode, speed int) error {
	if mode.Flags&proto.ModeFlagHasSpeed == 0 {
		return fmt.Errorf("mode %q has no speed: %w", mode.Name, controller.ErrInvalidMode)
	}
	lo, hi := min(mode.SpeedMin, mode.SpeedMax), max(mode.SpeedMin, mode.SpeedMax)
	if speed < 0 || uint32(speed) < lo || uint32(speed) > hi {
		return fmt.Errorf("mode %q: speed %d outside [%d, %d]: %w", mode.Name, speed, lo, hi, controller.ErrInvalidMode)
	}
	mode.Speed = uint32(speed)
	return nil
}

func resizeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resize <device> <zone> <size>",
		Short: "Change the LED count of a resizable zone",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			size, err := parseIndex(args[2], "size")
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				d, err := s.Device(ctx, index)
				if err != nil {
					return err
				}
				zone, err := resolveZone(d, args[1])
				if err != nil {
					return err
				}
				z := d.Zones[zone]
				if z.LedsMin == z.LedsMax || size < z.LedsMin || size > z.LedsMax {
					return fmt.Errorf("zone %q: size %d outside [%d, %d]: %w", z.Name, size, z.LedsMin, z.LedsMax, controller.ErrInvalidSize)
				}
				return s.ResizeZone(ctx, index, zone, size)
			})
		},
	}
}
