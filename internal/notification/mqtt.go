package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smukkama/aqi-alerts/internal/protocol"
)

// MQTTPublisher is the part of mqtt.Client the speech sink uses.
type MQTTPublisher interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSpeechSink publishes utterances to <prefix>/<language tag>, where a
// speaker device subscribes and synthesizes them.
type MQTTSpeechSink struct {
	client  MQTTPublisher
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTSpeechSink creates a speech sink on an already configured client.
func NewMQTTSpeechSink(client MQTTPublisher, prefix string, timeout time.Duration) *MQTTSpeechSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTSpeechSink{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     1,
		timeout: timeout,
	}
}

// Topic returns the topic an utterance in languageTag is published to.
func (s *MQTTSpeechSink) Topic(languageTag string) string {
	return s.prefix + "/" + languageTag
}

func (s *MQTTSpeechSink) Deliver(ctx context.Context, payload protocol.SpeechPayload) error {
	if s.client == nil || !s.client.IsConnectionOpen() {
		return fmt.Errorf("%w: speech broker not connected", ErrUnavailable)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode utterance: %w", err)
	}

	token := s.client.Publish(s.Topic(payload.LanguageTag), s.qos, false, data)

	wait := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("%w: publish timed out after %s", ErrUnavailable, wait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish utterance: %w", err)
	}
	return nil
}

// NewMQTTClient builds a paho client with auto-reconnect. The caller
// connects it.
func NewMQTTClient(broker, clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false)
	return mqtt.NewClient(opts)
}
