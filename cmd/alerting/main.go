package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/aqi-alerts/internal/advisor"
	"github.com/smukkama/aqi-alerts/internal/aggregation"
	"github.com/smukkama/aqi-alerts/internal/alarming"
	"github.com/smukkama/aqi-alerts/internal/api"
	"github.com/smukkama/aqi-alerts/internal/comparison"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/fetch"
	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/pipeline"
	"github.com/smukkama/aqi-alerts/internal/queue"
	"github.com/smukkama/aqi-alerts/internal/scheduler"
	"github.com/smukkama/aqi-alerts/internal/trend"
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
	slogger := appLog.Logger

	fmt.Println("Starting AQI Alerting Service...")

	ctx := context.Background()

	threshold, err := cfg.Engine.ThresholdBand()
	if err != nil {
		log.Fatalf("Invalid ALERT_THRESHOLD: %v", err)
	}

	catalog, err := notification.LoadCatalog(cfg.Engine.MessagesFile, cfg.Engine.Languages, cfg.Engine.DefaultLanguage)
	if err != nil {
		log.Fatalf("Failed to load message catalog: %v", err)
	}
	fmt.Printf("Message catalog loaded (languages: %v)\n", catalog.Languages())

	// Daily history
	var historyStore aggregation.Store
	switch cfg.Engine.HistoryBackend {
	case "postgres":
		db, err := database.Connect(cfg.Database.ConnectionString())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		fmt.Println("Connected to database")

		if err := db.RunMigrations("migrations"); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		historyStore = db
	default:
		historyStore = aggregation.NewMemoryStore()
		fmt.Println("Using in-memory daily history")
	}
	history := aggregation.NewDailyAggregator(historyStore, cfg.Engine.PastDays, time.Local, slogger)

	// Alert state
	var stateStore alarming.Store
	switch cfg.Engine.StateBackend {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		fmt.Println("Connected to Redis")
		stateStore = alarming.NewRedisStore(redisClient, cfg.Engine.StateTTL)
	default:
		stateStore = alarming.NewMemoryStore()
		fmt.Println("Using in-memory alert state")
	}

	// Push channel: alert messages go to Kafka for the notification service
	created, err := queue.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.NumPartitions, 1)
	if err != nil {
		slogger.Warn("could not ensure alert topic", "topic", cfg.Kafka.TopicAlerts, "error", err)
	} else if created {
		fmt.Printf("Created topic %s with %d partitions\n", cfg.Kafka.TopicAlerts, cfg.Kafka.NumPartitions)
	}
	alertProducer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()
	pushSink := notification.NewMultiSink(notification.NewQueueSink(alertProducer))
	fmt.Println("Alert producer initialized")

	// Speech channel: utterances go to a speaker over MQTT
	var speechSink notification.SpeechSink
	if cfg.MQTT.Broker != "" {
		mqttClient := notification.NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		token := mqttClient.Connect()
		if !token.WaitTimeout(cfg.MQTT.Timeout) || token.Error() != nil {
			// Auto-reconnect keeps trying; deliveries report unavailable meanwhile.
			slogger.Warn("MQTT broker not reachable yet", "broker", cfg.MQTT.Broker, "error", token.Error())
		} else {
			fmt.Println("Connected to MQTT broker")
		}
		defer mqttClient.Disconnect(250)
		speechSink = notification.NewMQTTSpeechSink(mqttClient, cfg.MQTT.TopicPrefix, cfg.MQTT.Timeout)
	} else {
		fmt.Println("Note: MQTT_BROKER not set (speech channel unavailable)")
	}

	dispatcher, err := alarming.NewDispatcher(stateStore, notification.NewRenderer(catalog), pushSink, speechSink,
		alarming.Config{
			Threshold: threshold,
			Language:  cfg.Engine.DefaultLanguage,
			Channels:  []notification.Channel{notification.ChannelPush, notification.ChannelSpeech},
		},
		alarming.WithLogger(slogger))
	if err != nil {
		log.Fatalf("Failed to create alert dispatcher: %v", err)
	}
	dispatcher.SetEnabled(cfg.Engine.AlertsEnabled)

	analyzer, err := trend.NewAnalyzer(trend.Config{
		PastDays:   cfg.Engine.PastDays,
		FutureDays: cfg.Engine.FutureDays,
		Margin:     cfg.Engine.TrendMargin,
	})
	if err != nil {
		log.Fatalf("Failed to create trend analyzer: %v", err)
	}

	fetcher := fetch.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	runner := pipeline.NewRunner(fetcher, history, dispatcher, slogger)
	trends := pipeline.NewTrendService(analyzer, runner, history, fetcher, time.Local)
	engine := comparison.NewEngine(advisor.NewClient(cfg.Backend.AdvisoryURL, cfg.Backend.Timeout), catalog, cfg.Backend.Timeout, slogger)

	// Periodic poll, first run immediately
	sched := scheduler.New(slogger)
	sched.Start()
	if err := sched.EveryAt("poll", time.Now(), cfg.Engine.PollInterval, runner.Tick); err != nil {
		log.Fatalf("Failed to schedule poll: %v", err)
	}

	nextRetention, err := history.CalculateNextRunTime(time.Now(), cfg.Engine.RetentionTime)
	if err != nil {
		log.Fatalf("Invalid HISTORY_RETENTION_TIME: %v", err)
	}
	err = sched.EveryAt("history-retention", nextRetention, 24*time.Hour, func(ctx context.Context) {
		if err := history.Retain(ctx, time.Now()); err != nil {
			slogger.Error("daily history retention failed", "error", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule history retention: %v", err)
	}
	fmt.Printf("Poll scheduled every %s, history retention at %s\n", cfg.Engine.PollInterval, nextRetention.Format(time.RFC3339))

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      api.NewServer(runner, trends, engine, dispatcher, catalog, slogger).Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	fmt.Printf("\n✓ AQI Alerting Service is running on %s\n", srv.Addr)
	fmt.Printf("✓ Alert threshold: %s, languages: %v\n", threshold, cfg.Engine.Languages)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("HTTP shutdown failed", "error", err)
	}
	sched.Stop()

	stats := sched.Stats()
	fmt.Printf("Scheduler stopped (fired: %d, skipped ticks: %d)\n", stats.Fired, stats.Skipped)
}
