package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/queue"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Close()

	fmt.Println("Starting Notification Service...")

	// Create email notifier
	notifier := notification.NewEmailNotifier(&cfg.SMTP, appLog.Logger)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		fmt.Printf("Note: %v (alerts stay uncommitted until SMTP is configured)\n", err)
	}

	// Create consumer for alert messages
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.ConsumerGroup)
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := queue.NewRelay(consumer, notifier, appLog.Logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("alert relay stopped", "error", err)
		}
	}()

	fmt.Println("\n✓ Notification Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	<-done

	stats := consumer.Stats()
	fmt.Printf("Consumer stats (messages: %d, errors: %d, lag: %d)\n", stats.Messages, stats.Errors, stats.Lag)
}
