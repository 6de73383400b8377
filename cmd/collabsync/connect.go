package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/nugget/collabsync/internal/connection"
	"github.com/nugget/collabsync/internal/demodoc"
	"github.com/nugget/collabsync/internal/ottype"
	"github.com/nugget/collabsync/internal/wsocket"
)

func runConnect(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)
	logger = reconfigureLogger(logger, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	conn := connection.New(ctx, connection.Options{
		DefaultType:  cfg.Client.DefaultType,
		TypeRegistry: ottype.DefaultRegistry(),
		DocFactory:   demodoc.New(logger),
		QueryFactory: demodoc.NewQueryFactory(logger),
		Logger:       logger,
	})
	defer conn.Stop()

	conn.OnState(func(state connection.State, reason string) {
		logger.Info("connection state", "state", state.String(), "reason", reason)
	})
	conn.OnError(func(err *connection.Error) {
		logger.Warn("connection error", "code", err.Code, "message", err.Message)
	})

	socket := wsocket.New(wsocket.Options{
		URL:      cfg.Client.ServerURL,
		ProxyURL: cfg.Proxy.URL,
		Logger:   logger,
	})
	conn.Bind(socket)

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	if err := socket.Dial(dialCtx); err != nil {
		logger.Error("failed to dial server", "url", cfg.Client.ServerURL, "error", err)
		os.Exit(1)
	}
	logger.Info("dialed server", "url", cfg.Client.ServerURL)

	<-ctx.Done()
	logger.Info("collabsync client stopped")
}
