package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

// MessageSource is a committing message reader. *Consumer implements it.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// AlertSender delivers one relayed alert. *notification.EmailNotifier
// implements it.
type AlertSender interface {
	SendAlert(msg *protocol.AlertMessage) error
}

// Relay forwards alert messages from Kafka to a sender. A message is
// committed once sent, or when it can never be sent because it does not
// decode. Kafka commits are cumulative per partition, so a message that
// fails to send is retried in place with backoff and the relay never moves
// past it; the next message is read only after it is committed.
type Relay struct {
	source     MessageSource
	sender     AlertSender
	logger     *slog.Logger
	retryDelay time.Duration
	maxDelay   time.Duration
}

// NewRelay creates a relay whose retry delay starts at 2s and doubles up
// to 1m.
func NewRelay(source MessageSource, sender AlertSender, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		source:     source,
		sender:     sender,
		logger:     logger,
		retryDelay: 2 * time.Second,
		maxDelay:   time.Minute,
	}
}

// Run relays messages until ctx is cancelled. A message still unsent at
// cancellation stays uncommitted and is redelivered on restart.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("failed to consume message", "error", err)
			if !sleep(ctx, r.retryDelay) {
				return ctx.Err()
			}
			continue
		}

		if !r.handle(ctx, msg) {
			return ctx.Err()
		}
		for {
			err := r.source.Commit(ctx, msg)
			if err == nil {
				break
			}
			r.logger.Error("failed to commit offset", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			if !sleep(ctx, r.retryDelay) {
				return ctx.Err()
			}
		}
	}
}

// handle sends msg until it succeeds or ctx ends. It reports false only
// when ctx ended first.
func (r *Relay) handle(ctx context.Context, msg kafka.Message) bool {
	alert, err := protocol.DecodeAlertMessage(msg.Value)
	if err != nil {
		r.logger.Error("dropping undecodable alert message",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		return true
	}

	log := r.logger.With("event_id", alert.ID, "location", alert.Location,
		"partition", msg.Partition, "offset", msg.Offset)
	delay := r.retryDelay
	for attempt := 1; ; attempt++ {
		err = r.sender.SendAlert(alert)
		if err == nil {
			log.Info("alert relayed", "attempt", attempt)
			return true
		}

		wait := delay
		if errors.Is(err, notification.ErrUnavailable) {
			wait = r.maxDelay
		}
		log.Warn("alert relay attempt failed, holding partition", "attempt", attempt, "retry_in", wait, "error", err)
		if !sleep(ctx, wait) {
			log.Warn("alert left uncommitted at shutdown")
			return false
		}
		delay = min(delay*2, r.maxDelay)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
