package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/session"
)

type deviceSummary struct {
	Index      uint32   `json:"index"`
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	Serial     string   `json:"serial,omitempty"`
	Location   string   `json:"location,omitempty"`
	ActiveMode string   `json:"active_mode"`
	Modes      []string `json:"modes"`
	Zones      []string `json:"zones"`
	Colors     []string `json:"colors"`
}

func summarize(index uint32, d *proto.Device) deviceSummary {
	s := deviceSummary{
		Index:    index,
		Type:     proto.DeviceTypeName(d.Type),
		Name:     d.Name,
		Serial:   d.Serial,
		Location: d.Location,
		Modes:    make([]string, len(d.Modes)),
		Zones:    make([]string, len(d.Zones)),
		Colors:   make([]string, len(d.Colors)),
	}
	if d.ActiveMode >= 0 && int(d.ActiveMode) < len(d.Modes) {
		s.ActiveMode = d.Modes[d.ActiveMode].Name
	}
	for i, m := range d.Modes {
		s.Modes[i] = m.Name
	}
	for i, z := range d.Zones {
		s.Zones[i] = z.Name
	}
	for i, c := range d.Colors {
		s.Colors[i] = c.Hex()
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the server's devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				n, err := s.DeviceCount(ctx)
				if err != nil {
					return err
				}
				devices := make([]deviceSummary, 0, n)
				for i := uint32(0); i < n; i++ {
					d, err := s.Device(ctx, i)
					if err != nil {
						return err
					}
					devices = append(devices, summarize(i, d))
				}

				out := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(out, devices)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "INDEX\tTYPE\tNAME\tLEDS\tMODE")
				for _, d := range devices {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", d.Index, d.Type, d.Name, len(d.Colors), d.ActiveMode)
				}
				return tw.Flush()
			})
		},
	}
}

func showCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <device>",
		Short: "Show a device's modes, zones and colors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				d, err := s.Device(ctx, index)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(out, summarize(index, d))
				}
				printDevice(out, index, d)
				return nil
			})
		},
	}
}

func printDevice(w io.Writer, index uint32, d *proto.Device) {
	fmt.Fprintf(w, "Device %d: %s (%s)\n", index, d.Name, proto.DeviceTypeName(d.Type))
	for _, f := range []struct{ label, value string }{
		{"Description", d.Description},
		{"Version", d.Version},
		{"Serial", d.Serial},
		{"Location", d.Location},
	} {
		if f.value != "" {
			fmt.Fprintf(w, "  %-12s %s\n", f.label+":", f.value)
		}
	}

	fmt.Fprintln(w, "Modes:")
	for i, m := range d.Modes {
		marker := " "
		if int32(i) == d.ActiveMode {
			marker = "*"
		}
		line := fmt.Sprintf(" %s %d %s", marker, i, m.Name)
		if m.Flags&proto.ModeFlagHasSpeed != 0 {
			line += fmt.Sprintf(" speed=%d [%d-%d]", m.Speed, m.SpeedMin, m.SpeedMax)
		}
		if m.Flags&proto.ModeFlagHasModeSpecificColor != 0 {
			hex := make([]string, len(m.Colors))
			for j, c := range m.Colors {
				hex[j] = c.Hex()
			}
			line += fmt.Sprintf(" colors=[%s] (%d-%d)", strings.Join(hex, " "), m.ColorsMin, m.ColorsMax)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "Zones:")
	for i, z := range d.Zones {
		line := fmt.Sprintf("   %d %s leds=%d", i, z.Name, z.LedsCount)
		if z.LedsMin != z.LedsMax {
			line += fmt.Sprintf(" resizable=[%d-%d]", z.LedsMin, z.LedsMax)
		}
		if z.Matrix != nil {
			line += fmt.Sprintf(" matrix=%dx%d", z.Matrix.Width, z.Matrix.Height)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "LEDs:")
	for i, l := range d.Leds {
		color := "-"
		if i < len(d.Colors) {
			color = d.Colors[i].Hex()
		}
		fmt.Fprintf(w, "   %d %s %s\n", i, l.Name, color)
	}
}
