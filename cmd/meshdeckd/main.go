package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MatusOllah/slogcolor"

	"github.com/mvickers/meshdeck/pkg/config"
	"github.com/mvickers/meshdeck/pkg/overlay"
	"github.com/mvickers/meshdeck/pkg/persist"
	"github.com/mvickers/meshdeck/pkg/routes"
	"github.com/mvickers/meshdeck/pkg/store"
	"github.com/mvickers/meshdeck/pkg/transport"
	"github.com/mvickers/meshdeck/pkg/transport/mqttbridge"
)

func main() {
	configDir := flag.String("config", "", "Directory containing meshdeck.yaml (defaults to the working directory)")
	flag.Parse()

	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, slogcolor.DefaultOptions)))

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	adapter, err := persist.Open(cfg.StorePath, slog.Default())
	if err != nil {
		slog.Error("opening snapshot store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer adapter.Close()

	mode := overlay.Permissive
	if cfg.DiffMode == "strict" {
		mode = overlay.Strict
	}
	registry := store.NewRegistry(adapter, store.Options{
		DiffMode:       mode,
		AckTimeout:     cfg.AckTimeout,
		CoalesceWindow: cfg.CoalesceWindow,
	}, slog.Default())
	defer registry.Close()

	if err := registry.Rehydrate(); err != nil {
		slog.Error("rehydrating devices", "error", err)
		os.Exit(1)
	}
	slog.Info("registry ready", "devices", len(registry.Devices()))

	router := routes.NewWebRouter(registry)
	router.SetConnector(func(deviceID string) (transport.Transport, error) {
		return mqttbridge.Connect(mqttbridge.Options{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  "meshdeck-" + deviceID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Root:      cfg.MQTT.RootPrefix + "/" + deviceID,
		}, slog.Default())
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		errCh <- router.ListenAndServe(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	}
}
