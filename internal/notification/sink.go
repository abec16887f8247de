package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/smukkama/aqi-alerts/internal/protocol"
)

// ErrUnavailable reports that a channel cannot deliver right now, for
// example because permission was never granted or the transport is not
// connected. Callers must not expect the engine to retry.
var ErrUnavailable = errors.New("notification channel unavailable")

// NotificationSink delivers push notifications.
type NotificationSink interface {
	Deliver(ctx context.Context, payload protocol.PushPayload) error
}

// SpeechSink delivers utterances to a speech synthesizer.
type SpeechSink interface {
	Deliver(ctx context.Context, payload protocol.SpeechPayload) error
}

// NotificationSinkFunc adapts a function to NotificationSink.
type NotificationSinkFunc func(ctx context.Context, payload protocol.PushPayload) error

func (f NotificationSinkFunc) Deliver(ctx context.Context, payload protocol.PushPayload) error {
	return f(ctx, payload)
}

// SpeechSinkFunc adapts a function to SpeechSink.
type SpeechSinkFunc func(ctx context.Context, payload protocol.SpeechPayload) error

func (f SpeechSinkFunc) Deliver(ctx context.Context, payload protocol.SpeechPayload) error {
	return f(ctx, payload)
}

// MultiSink forwards push payloads to several sinks. It succeeds if at
// least one sink accepted the payload.
type MultiSink struct {
	sinks []NotificationSink
}

// NewMultiSink constructs a MultiSink; nil sinks are skipped.
func NewMultiSink(sinks ...NotificationSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Deliver(ctx context.Context, payload protocol.PushPayload) error {
	if m == nil || len(m.sinks) == 0 {
		return fmt.Errorf("%w: no push sinks configured", ErrUnavailable)
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.sinks) {
		return errors.Join(errs...)
	}
	return nil
}

// Publisher is the subset of queue.Producer the QueueSink needs.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// QueueSink publishes push payloads to the alert topic, from where the
// notification service relays them. Messages are keyed by tag so every
// alert for one location lands on the same partition.
type QueueSink struct {
	publisher Publisher
}

// NewQueueSink creates a push sink backed by publisher.
func NewQueueSink(publisher Publisher) *QueueSink {
	return &QueueSink{publisher: publisher}
}

func (q *QueueSink) Deliver(ctx context.Context, payload protocol.PushPayload) error {
	if q.publisher == nil {
		return fmt.Errorf("%w: no alert producer", ErrUnavailable)
	}
	msg := AlertMessageFromContext(ctx)
	if msg == nil {
		msg = &protocol.AlertMessage{Location: payload.Tag}
	}
	out := *msg
	out.Push = payload

	data, err := protocol.EncodeAlertMessage(&out)
	if err != nil {
		return fmt.Errorf("failed to encode alert message: %w", err)
	}
	if err := q.publisher.Publish(ctx, payload.Tag, data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

type alertMessageKey struct{}

// WithAlertMessage attaches the event envelope to ctx so sinks that forward
// whole messages (such as QueueSink) can include it.
func WithAlertMessage(ctx context.Context, msg *protocol.AlertMessage) context.Context {
	return context.WithValue(ctx, alertMessageKey{}, msg)
}

// AlertMessageFromContext returns the envelope attached by WithAlertMessage.
func AlertMessageFromContext(ctx context.Context) *protocol.AlertMessage {
	msg, _ := ctx.Value(alertMessageKey{}).(*protocol.AlertMessage)
	return msg
}
