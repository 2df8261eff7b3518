package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"indexerservice/observability/logging"
	"indexerservice/storage/receipts"
)

type notificationListener interface {
	Run(ctx context.Context, handler receipts.Handler) error
}

var newListener = func(dsn, channel string, logger *slog.Logger) notificationListener {
	return receipts.NewListener(dsn, channel, logger)
}

func runListen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("listen", stderr)
	var (
		dsn     string
		channel string
	)
	fs.StringVar(&dsn, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	fs.StringVar(&channel, "channel", receipts.DefaultChannel, "notification channel")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	if strings.TrimSpace(dsn) == "" {
		return printError(stderr, errors.New("--database-url is required"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(stderr, "tapctl", "", slog.LevelInfo)
	logger.Info("subscribing", slog.String("database", logging.RedactDSN(dsn)), slog.String("channel", channel))

	enc := json.NewEncoder(stdout)
	err := newListener(dsn, channel, logger).Run(ctx, func(_ context.Context, note receipts.Notification) error {
		return enc.Encode(note)
	})
	if err != nil {
		return printError(stderr, fmt.Errorf("listen: %w", err))
	}
	return 0
}
