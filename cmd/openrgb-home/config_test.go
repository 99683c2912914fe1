package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"openrgb-go-home/internal/session"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte("web:\n  api_key: k\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenRGB.Transport != "tcp" || cfg.OpenRGB.Address != "127.0.0.1:6742" {
		t.Errorf("openrgb = %+v", cfg.OpenRGB)
	}
	if cfg.OpenRGB.DialTimeout != 5*time.Second || cfg.OpenRGB.RefreshInterval != time.Minute {
		t.Errorf("timeouts = %v, %v", cfg.OpenRGB.DialTimeout, cfg.OpenRGB.RefreshInterval)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Web.APIKey != "k" {
		t.Errorf("web = %+v", cfg.Web)
	}
	if cfg.MQTT.TopicPrefix != "openrgb" || cfg.ScriptsDir != "scripts" {
		t.Errorf("mqtt prefix = %q, scripts = %q", cfg.MQTT.TopicPrefix, cfg.ScriptsDir)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate defaults: %v", err)
	}
}

func TestParseConfigValues(t *testing.T) {
	cfg, err := parseConfig([]byte(`
openrgb:
  transport: serial
  serial_port: /dev/ttyUSB0
  baud: 921600
  request_timeout: 750ms
  refresh_interval: -1s
metrics:
  enabled: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenRGB.RequestTimeout != 750*time.Millisecond {
		t.Errorf("request timeout = %v", cfg.OpenRGB.RequestTimeout)
	}
	if cfg.OpenRGB.RefreshInterval >= 0 {
		t.Errorf("refresh interval = %v, want negative", cfg.OpenRGB.RefreshInterval)
	}
	if cfg.endpoint() != "/dev/ttyUSB0" || !cfg.Metrics.Enabled {
		t.Errorf("endpoint = %q, metrics = %v", cfg.endpoint(), cfg.Metrics.Enabled)
	}
	if err := cfg.validate(); err != nil {
		t.Error(err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown transport", "openrgb:\n  transport: usb\n", "unknown openrgb.transport"},
		{"serial without port", "openrgb:\n  transport: serial\n", "serial_port is required"},
		{"bad baud", "openrgb:\n  transport: serial\n  serial_port: COM3\n  baud: -5\n", "baud must be positive"},
		{"mqtt without broker", "mqtt:\n  enabled: true\n", "mqtt.broker is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig([]byte(tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("openrgb: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("loadConfig = %v, want parse error", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantDebug     bool
		wantJSON      bool
	}{
		{"debug", "json", true, true},
		{"info", "text", false, false},
		{"WARN", "TEXT", false, false},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		cfg := &Config{}
		cfg.Log.Level = tt.level
		cfg.Log.Format = tt.format
		logger := newLogger(cfg, &buf)

		logger.Debug("probe")
		if got := buf.Len() > 0; got != tt.wantDebug {
			t.Errorf("%s: debug logged = %v, want %v", tt.level, got, tt.wantDebug)
		}
		buf.Reset()
		logger.Error("probe")
		if got := strings.HasPrefix(buf.String(), "{"); got != tt.wantJSON {
			t.Errorf("%s: json = %v, want %v (%q)", tt.format, got, tt.wantJSON, buf.String())
		}
	}
}

func TestDialerReportsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg, err := parseConfig([]byte("openrgb:\n  address: " + addr + "\n  dial_timeout: 1s\n"))
	if err != nil {
		t.Fatal(err)
	}
	dial := newDialer(cfg, nil, newLogger(cfg, &bytes.Buffer{}))
	client, err := dial(context.Background())
	if !errors.Is(err, session.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if client != nil {
		t.Errorf("client = %v, want nil interface", client)
	}
}
