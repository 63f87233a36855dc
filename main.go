package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/api"
	"github.com/ibeckermayer/unrepost/internal/app"
	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/tray"
)

func main() {
	// Load or create configuration
	cfg, created, err := config.LoadOrInit()
	if err != nil {
		logrus.WithError(err).Warn("Could not load config, using defaults")
		cfg = config.Default()
	}
	app.ConfigureLogging(cfg.LogLevel)
	if created {
		path, _ := config.ConfigPath()
		logrus.WithField("path", path).Info("Created default config")
	}

	a, err := app.Bootstrap(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The control API runs beside the tray when an address is configured.
	var services []func(context.Context) error
	if addr := cfg.Control.Listen; addr != "" {
		events := api.NewEventLog(api.DefaultEventLogSize)
		msgs, cancel := a.Bus().Subscribe()
		defer cancel()
		srv := api.NewServer(addr, a, events)
		services = append(services, srv.Run, func(ctx context.Context) error {
			return events.Run(ctx, msgs)
		})
	}

	go func() {
		if err := a.Serve(ctx, services...); err != nil {
			logrus.WithError(err).Error("Background services stopped")
		}
		stop()
	}()

	logrus.Info("unrepost starting...")

	// Run systray (blocks until Quit)
	systray.Run(tray.OnReady(ctx, a), tray.OnExit(a))
}
