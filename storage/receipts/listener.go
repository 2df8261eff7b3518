package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"indexerservice/observability"
)

// Handler consumes decoded notifications. Returning an error stops the listener.
type Handler func(ctx context.Context, note Notification) error

// Listener subscribes to the receipt channel over a dedicated Postgres
// connection and hands decoded notifications to a handler.
type Listener struct {
	dsn     string
	channel string
	logger  *slog.Logger
	metrics *observability.ReceiptStoreMetrics
}

// NewListener builds a listener for channel; an empty channel uses DefaultChannel.
func NewListener(dsn, channel string, logger *slog.Logger) *Listener {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		dsn:     dsn,
		channel: channel,
		logger:  logger.With(slog.String("component", "receipt-listener")),
		metrics: observability.ReceiptStore(),
	}
}

// Run blocks until ctx is cancelled, the connection fails, or handler errors.
// Malformed payloads are logged and skipped.
func (l *Listener) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("receipts: notification handler required")
	}
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("receipts: connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("receipts: listen %s: %w", l.channel, err)
	}
	l.logger.Info("listening for receipt notifications", slog.String("channel", l.channel))

	for {
		raw, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("receipts: wait for notification: %w", err)
		}
		if raw.Channel != l.channel {
			continue
		}
		note, err := ParseNotification(raw.Payload)
		if err != nil {
			l.logger.Warn("dropping malformed receipt notification", slog.String("error", err.Error()))
			continue
		}
		l.metrics.RecordNotification()
		if err := handler(ctx, note); err != nil {
			return err
		}
	}
}
