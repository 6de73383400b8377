package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/collabsync/internal/pairing"
)

func runPair(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)

	url := pairing.URL(cfg.Client.ServerURL, cfg.Client.DefaultType)
	qr, err := pairing.TerminalQR(url)
	if err != nil {
		logger.Error("failed to render pairing QR code", "error", err)
		os.Exit(1)
	}

	fmt.Println(url)
	fmt.Println()
	fmt.Println(qr)
}
