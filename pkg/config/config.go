package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/smukkama/aqi-alerts/internal/aqi"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	MQTT     MQTTConfig
	SMTP     SMTPConfig
	HTTP     HTTPConfig
	Backend  BackendConfig
	Engine   EngineConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicAlerts   string
	ConsumerGroup string
	NumPartitions int
}

// MQTTConfig addresses the broker the speech sink publishes utterances to.
// An empty Broker disables the speech channel.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Timeout     time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", h.Port)
}

// BackendConfig points at the readings backend and the advisory service.
type BackendConfig struct {
	BaseURL     string
	AdvisoryURL string
	Timeout     time.Duration
}

// EngineConfig holds classification, trend and alerting policy.
type EngineConfig struct {
	Threshold       string
	PastDays        int
	FutureDays      int
	TrendMargin     float64
	PollInterval    time.Duration
	Languages       []string
	DefaultLanguage string
	AlertsEnabled   bool
	StateBackend    string // memory, redis
	HistoryBackend  string // postgres, memory
	StateTTL        time.Duration
	MessagesFile    string
	RetentionTime   string // HH:MM, daily history cleanup
}

// WindowSize is the number of trend samples: past days, today and forecast days.
func (e EngineConfig) WindowSize() int {
	return e.PastDays + 1 + e.FutureDays
}

// ThresholdBand parses the configured alert threshold.
func (e EngineConfig) ThresholdBand() (aqi.Band, error) {
	return aqi.ParseBand(e.Threshold)
}

func (e EngineConfig) Validate() error {
	var errs []error
	if _, err := e.ThresholdBand(); err != nil {
		errs = append(errs, fmt.Errorf("ALERT_THRESHOLD: %w", err))
	}
	if e.PastDays < 0 || e.FutureDays < 0 {
		errs = append(errs, errors.New("TREND_PAST_DAYS and TREND_FUTURE_DAYS must not be negative"))
	}
	if e.WindowSize() < 3 {
		errs = append(errs, fmt.Errorf("trend window must hold at least 3 samples, got %d", e.WindowSize()))
	}
	if e.TrendMargin < 0 {
		errs = append(errs, fmt.Errorf("TREND_MARGIN must not be negative, got %v", e.TrendMargin))
	}
	if e.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", e.PollInterval))
	}
	if len(e.Languages) == 0 {
		errs = append(errs, errors.New("LANGUAGES must name at least one language"))
	} else if !slices.Contains(e.Languages, e.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("DEFAULT_LANGUAGE %q is not in LANGUAGES %v", e.DefaultLanguage, e.Languages))
	}
	switch e.StateBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("ALERT_STATE_BACKEND must be memory or redis, got %q", e.StateBackend))
	}
	switch e.HistoryBackend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND must be postgres or memory, got %q", e.HistoryBackend))
	}
	return errors.Join(errs...)
}

type LogConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "aqi_user"),
			Password: getEnv("DB_PASSWORD", "aqi_pass"),
			DBName:   getEnv("DB_NAME", "aqi_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicAlerts:   getEnv("KAFKA_TOPIC_ALERTS", "aqi.alerts"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "aqi-notification"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "aqi-alerting"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "aqi/speech"),
			Timeout:     getEnvAsDuration("MQTT_TIMEOUT", 5*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "aqi-alerts@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		HTTP: HTTPConfig{
			Port:         getEnvAsInt("HTTP_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		},
		Backend: BackendConfig{
			BaseURL:     getEnv("BACKEND_URL", "http://localhost:8000"),
			AdvisoryURL: getEnv("ADVISORY_URL", "http://localhost:8000/api/compare"),
			Timeout:     getEnvAsDuration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			Threshold:       getEnv("ALERT_THRESHOLD", "unhealthy_sensitive"),
			PastDays:        getEnvAsInt("TREND_PAST_DAYS", 4),
			FutureDays:      getEnvAsInt("TREND_FUTURE_DAYS", 2),
			TrendMargin:     getEnvAsFloat("TREND_MARGIN", 10),
			PollInterval:    getEnvAsDuration("POLL_INTERVAL", 5*time.Minute),
			Languages:       getEnvAsList("LANGUAGES", []string{"az", "en"}),
			DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "az"),
			AlertsEnabled:   getEnvAsBool("ALERTS_ENABLED", true),
			StateBackend:    strings.ToLower(getEnv("ALERT_STATE_BACKEND", "memory")),
			HistoryBackend:  strings.ToLower(getEnv("HISTORY_BACKEND", "postgres")),
			StateTTL:        getEnvAsDuration("ALERT_STATE_TTL", 24*time.Hour),
			MessagesFile:    getEnv("MESSAGES_FILE", ""),
			RetentionTime:   getEnv("HISTORY_RETENTION_TIME", "00:05"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := config.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma list, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	var values []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
