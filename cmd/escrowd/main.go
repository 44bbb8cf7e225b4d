// Command escrowd is the marketplace escrow engine. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and serves the
// HTTP gateway until interrupted.
//
// With -encrypt-key it instead encrypts an issuer private key read from
// ESCROWD_SIGNER_PRIVATE_KEY with ESCROWD_SIGNER_KEY_PASSWORD and writes the
// result to the given path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/escrowd/internal/app"
	"github.com/alanyoungcy/escrowd/internal/config"
	"github.com/alanyoungcy/escrowd/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.String("encrypt-key", "", "encrypt the issuer key to this path and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := writeEncryptedKey(*encryptKey); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *encryptKey))
		return
	}

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("escrowd starting",
		slog.String("config", *configPath),
		slog.Any("settings", redacted),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("escrowd stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writeEncryptedKey(path string) error {
	key := os.Getenv("ESCROWD_SIGNER_PRIVATE_KEY")
	password := os.Getenv("ESCROWD_SIGNER_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("ESCROWD_SIGNER_PRIVATE_KEY and ESCROWD_SIGNER_KEY_PASSWORD must be set")
	}
	data, err := crypto.EncryptKey(strings.TrimPrefix(key, "0x"), password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
