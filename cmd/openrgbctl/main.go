// Command openrgbctl talks to an OpenRGB SDK server directly, without the
// openrgb-home daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"openrgb-go-home/internal/session"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	address    string
	serialPort string
	baud       int
	name       string
	timeout    time.Duration
	logLevel   string
	json       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "openrgbctl",
		Short:         "Control lighting through an OpenRGB SDK server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.address, "address", "a", "127.0.0.1:"+session.DefaultPort, "server address (host[:port])")
	flags.StringVar(&opts.serialPort, "serial", "", "serial port carrying SDK frames instead of TCP")
	flags.IntVar(&opts.baud, "baud", 115200, "serial baud rate")
	flags.StringVarP(&opts.name, "name", "n", "openrgbctl", "client name announced to the server")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 10*time.Second, "timeout for the whole command")
	flags.StringVarP(&opts.logLevel, "log-level", "L", "warn", "log level, one of: [debug,info,warn,error]")
	flags.BoolVar(&opts.json, "json", false, "print JSON instead of text")

	root.AddCommand(
		listCmd(opts),
		showCmd(opts),
		colorCmd(opts),
		zoneColorCmd(opts),
		ledCmd(opts),
		modeCmd(opts),
		resizeCmd(opts),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func (o *options) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(o.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// withSession connects, runs fn and closes the session. The timeout covers
// the connection and every request fn makes.
func (o *options) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	sopts := []session.Option{session.WithLogger(o.logger(cmd.ErrOrStderr()))}

	var (
		s   *session.Session
		err error
	)
	if o.serialPort != "" {
		s, err = session.DialSerial(ctx, o.serialPort, o.baud, o.name, sopts...)
	} else {
		s, err = session.Connect(ctx, o.address, o.name, sopts...)
	}
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func parseIndex(arg, what string) (uint32, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return uint32(n), nil
}
