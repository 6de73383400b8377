// Package main is the entry point for collabsync: a demo OT
// collaboration client and PubSub fan-out server over one shared
// wire protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/collabsync/internal/buildinfo"
	"github.com/nugget/collabsync/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "connect":
			runConnect(logger, *configPath)
		case "pair":
			runPair(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("collabsync - OT collaboration demo client and PubSub server")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the PubSub fan-out server and status page")
	fmt.Println("  connect  Connect to a server as a demo client")
	fmt.Println("  pair     Print a pairing QR code for the configured server")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// loadConfig resolves and loads the config file, falling back to
// config.Default() when none is found and no explicit path was given.
func loadConfig(logger *slog.Logger, configPath string) *config.Config {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		if configPath != "" {
			logger.Error("config", "error", err)
			os.Exit(1)
		}
		logger.Warn("no config file found, using defaults", "error", err)
		return config.Default()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "path", cfgPath)
	return cfg
}

// reconfigureLogger rebuilds logger at cfg's configured level, in the
// teacher's startup-time log-level-swap style.
func reconfigureLogger(logger *slog.Logger, cfg *config.Config) *slog.Logger {
	if cfg.LogLevel == "" {
		return logger
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid log_level in config", "error", err)
		os.Exit(1)
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
