package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/session"
	"openrgb-go-home/internal/store"
	"openrgb-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("openrgb-go-home starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var (
		registry *prometheus.Registry
		metrics  *session.Metrics
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = session.NewMetrics(registry)
	}

	events := controller.NewEventBus(logger)
	ctrl := controller.New(newDialer(cfg, metrics, logger), db, events, controller.Config{
		Address:         cfg.endpoint(),
		ClientName:      cfg.OpenRGB.ClientName,
		RequestTimeout:  cfg.OpenRGB.RequestTimeout,
		RefreshInterval: cfg.OpenRGB.RefreshInterval,
	}, logger)

	// A server that is down at startup is picked up by the refresh loop.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ctrl.Start(ctx); err != nil {
		logger.Warn("initial refresh failed, serving cached devices", "err", err)
	}
	cancel()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(ctrl, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if registry != nil {
		webOpts = append(webOpts, web.WithMetrics(registry))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(ctrl, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(ctrl, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	ctrl.Stop()

	logger.Info("goodbye")
}

// newDialer opens a session over the configured transport. metrics may be nil.
func newDialer(cfg *Config, metrics *session.Metrics, logger *slog.Logger) controller.DialFunc {
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	}
	if cfg.OpenRGB.MaxBody > 0 {
		opts = append(opts, session.WithMaxBody(cfg.OpenRGB.MaxBody))
	}

	return func(ctx context.Context) (controller.Client, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.OpenRGB.DialTimeout)
		defer cancel()

		var (
			s   *session.Session
			err error
		)
		switch cfg.OpenRGB.Transport {
		case "serial":
			s, err = session.DialSerial(ctx, cfg.OpenRGB.SerialPort, cfg.OpenRGB.Baud, cfg.OpenRGB.ClientName, opts...)
		default:
			s, err = session.Connect(ctx, cfg.OpenRGB.Address, cfg.OpenRGB.ClientName, opts...)
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
