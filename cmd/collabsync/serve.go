package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nugget/collabsync/internal/config"
	"github.com/nugget/collabsync/internal/connwatch"
	"github.com/nugget/collabsync/internal/events"
	"github.com/nugget/collabsync/internal/instanceid"
	"github.com/nugget/collabsync/internal/pubsub"
	"github.com/nugget/collabsync/internal/pubsub/memtransport"
	"github.com/nugget/collabsync/internal/pubsub/mqtttransport"
	"github.com/nugget/collabsync/internal/pubsub/sqliteaudit"
	"github.com/nugget/collabsync/internal/statuspage"
)

func runServe(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)
	logger = reconfigureLogger(logger, cfg)

	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", dataDir, "error", err)
		os.Exit(1)
	}

	id, err := instanceid.LoadOrCreate(dataDir)
	if err != nil {
		logger.Error("failed to load instance id", "error", err)
		os.Exit(1)
	}
	logger.Info("instance id", "id", id)

	ctx, cancel := signalContext()
	defer cancel()

	transport, closeTransport, err := buildTransport(ctx, cfg, id, logger)
	if err != nil {
		logger.Error("failed to build transport", "error", err)
		os.Exit(1)
	}
	defer closeTransport()

	bus := events.New()

	ps := pubsub.New(ctx, pubsub.Options{
		Transport: transport,
		Prefix:    cfg.Transport.ChannelPrefix,
		Logger:    logger,
		Events:    bus,
	})
	defer ps.Close(func() {})

	watch := connwatch.NewManager(logger)
	if cfg.MQTT.Configured() {
		watch.Watch(ctx, connwatch.WatcherConfig{
			Name:    "mqtt",
			Probe:   func(context.Context) error { return nil }, // autopaho already reconnects; this just surfaces status
			Backoff: connwatch.DefaultBackoffConfig(),
			OnReady: func() {
				bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceConnWatch, Kind: events.KindReachable, Data: map[string]any{"name": "mqtt"}})
			},
			OnDown: func(err error) {
				bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceConnWatch, Kind: events.KindUnreachable, Data: map[string]any{"name": "mqtt", "error": err.Error()}})
			},
			Logger: logger,
		})
	}

	status := statuspage.NewServer(cfg.Listen.Address, cfg.Listen.Port, watch, ps, bus)
	logger.Info("starting status server", "address", cfg.Listen.Address, "port", cfg.Listen.Port, "transport", cfg.Transport.Backend)

	errCh := make(chan error, 1)
	go func() { errCh <- status.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("status server failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("collabsync server stopped")
}

// buildTransport constructs the configured pubsub.Transport, optionally
// wrapped in the sqlite audit-log decorator, and returns a cleanup func.
func buildTransport(ctx context.Context, cfg *config.Config, instanceID string, logger *slog.Logger) (pubsub.Transport, func(), error) {
	var transport pubsub.Transport
	var closeFn func()

	switch cfg.Transport.Backend {
	case "mqtt":
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = instanceID
		}
		mt, err := mqtttransport.New(ctx, mqtttransport.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  clientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			QoS:       cfg.MQTT.QoS,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt transport: %w", err)
		}
		transport = mt
		closeFn = func() { _ = mt.Close(context.Background()) }
	case "memory":
		transport = memtransport.New()
		closeFn = func() {}
	default:
		return nil, nil, fmt.Errorf("unknown transport backend: %s", cfg.Transport.Backend)
	}

	if cfg.Transport.Audit {
		audited, err := sqliteaudit.New(transport, cfg.DataDir+"/audit.db", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("audit transport: %w", err)
		}
		transport = audited
	}

	return transport, closeFn, nil
}
