package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	OpenRGB struct {
		Transport       string        `yaml:"transport"` // "tcp" or "serial"
		Address         string        `yaml:"address"`
		SerialPort      string        `yaml:"serial_port"`
		Baud            int           `yaml:"baud"`
		ClientName      string        `yaml:"client_name"`
		DialTimeout     time.Duration `yaml:"dial_timeout"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		RefreshInterval time.Duration `yaml:"refresh_interval"` // negative disables
		MaxBody         uint32        `yaml:"max_body"`
	} `yaml:"openrgb"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	switch c.OpenRGB.Transport {
	case "tcp":
		if c.OpenRGB.Address == "" {
			return fmt.Errorf("openrgb.address is required for tcp transport")
		}
	case "serial":
		if c.OpenRGB.SerialPort == "" {
			return fmt.Errorf("openrgb.serial_port is required for serial transport")
		}
		if c.OpenRGB.Baud <= 0 {
			return fmt.Errorf("openrgb.baud must be positive, got %d", c.OpenRGB.Baud)
		}
	default:
		return fmt.Errorf("unknown openrgb.transport %q (supported: tcp, serial)", c.OpenRGB.Transport)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.OpenRGB.Transport == "" {
		cfg.OpenRGB.Transport = "tcp"
	}
	if cfg.OpenRGB.Address == "" {
		cfg.OpenRGB.Address = "127.0.0.1:6742"
	}
	if cfg.OpenRGB.Baud == 0 {
		cfg.OpenRGB.Baud = 115200
	}
	if cfg.OpenRGB.ClientName == "" {
		cfg.OpenRGB.ClientName = "openrgb-go-home"
	}
	if cfg.OpenRGB.DialTimeout == 0 {
		cfg.OpenRGB.DialTimeout = 5 * time.Second
	}
	if cfg.OpenRGB.RequestTimeout == 0 {
		cfg.OpenRGB.RequestTimeout = 5 * time.Second
	}
	if cfg.OpenRGB.RefreshInterval == 0 {
		cfg.OpenRGB.RefreshInterval = time.Minute
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "openrgb-home.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "openrgb"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// endpoint names the server for logs and server info.
func (c *Config) endpoint() string {
	if c.OpenRGB.Transport == "serial" {
		return c.OpenRGB.SerialPort
	}
	return c.OpenRGB.Address
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
