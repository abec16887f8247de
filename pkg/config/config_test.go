package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.WindowSize() != 7 {
		t.Errorf("WindowSize = %d, want 7", cfg.Engine.WindowSize())
	}
	if cfg.Engine.TrendMargin != 10 {
		t.Errorf("TrendMargin = %v, want 10", cfg.Engine.TrendMargin)
	}
	if cfg.Engine.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %s, want 5m", cfg.Engine.PollInterval)
	}
	band, err := cfg.Engine.ThresholdBand()
	if err != nil || band != aqi.BandUnhealthySensitive {
		t.Errorf("ThresholdBand = %v, %v", band, err)
	}
	if strings.Join(cfg.Engine.Languages, ",") != "az,en" {
		t.Errorf("Languages = %v", cfg.Engine.Languages)
	}
	if cfg.Kafka.TopicAlerts != "aqi.alerts" {
		t.Errorf("TopicAlerts = %q", cfg.Kafka.TopicAlerts)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ALERT_THRESHOLD", "Unhealthy")
	t.Setenv("TREND_PAST_DAYS", "2")
	t.Setenv("TREND_FUTURE_DAYS", "0")
	t.Setenv("TREND_MARGIN", "7.5")
	t.Setenv("POLL_INTERVAL", "90s")
	t.Setenv("LANGUAGES", " en , az ,")
	t.Setenv("DEFAULT_LANGUAGE", "en")
	t.Setenv("ALERTS_ENABLED", "false")
	t.Setenv("ALERT_STATE_BACKEND", "REDIS")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	e := cfg.Engine
	if band, _ := e.ThresholdBand(); band != aqi.BandUnhealthy {
		t.Errorf("ThresholdBand = %v", band)
	}
	if e.WindowSize() != 3 || e.TrendMargin != 7.5 || e.PollInterval != 90*time.Second {
		t.Errorf("unexpected trend settings %+v", e)
	}
	if len(e.Languages) != 2 || e.Languages[0] != "en" {
		t.Errorf("Languages = %v", e.Languages)
	}
	if e.AlertsEnabled {
		t.Error("AlertsEnabled should be false")
	}
	if e.StateBackend != "redis" {
		t.Errorf("StateBackend = %q", e.StateBackend)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	valid := EngineConfig{
		Threshold:       "unhealthy_sensitive",
		PastDays:        4,
		FutureDays:      2,
		TrendMargin:     10,
		PollInterval:    5 * time.Minute,
		Languages:       []string{"az", "en"},
		DefaultLanguage: "az",
		StateBackend:    "memory",
		HistoryBackend:  "postgres",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*EngineConfig)
		want   string
	}{
		{"bad threshold", func(e *EngineConfig) { e.Threshold = "purple" }, "ALERT_THRESHOLD"},
		{"window too small", func(e *EngineConfig) { e.PastDays, e.FutureDays = 1, 0 }, "at least 3"},
		{"negative margin", func(e *EngineConfig) { e.TrendMargin = -1 }, "TREND_MARGIN"},
		{"zero interval", func(e *EngineConfig) { e.PollInterval = 0 }, "POLL_INTERVAL"},
		{"no languages", func(e *EngineConfig) { e.Languages = nil }, "LANGUAGES"},
		{"default not supported", func(e *EngineConfig) { e.DefaultLanguage = "ru" }, "DEFAULT_LANGUAGE"},
		{"unknown backend", func(e *EngineConfig) { e.StateBackend = "etcd" }, "ALERT_STATE_BACKEND"},
		{"unknown history", func(e *EngineConfig) { e.HistoryBackend = "sqlite" }, "HISTORY_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Languages = append([]string(nil), valid.Languages...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_RejectsInvalidEngine(t *testing.T) {
	t.Setenv("DEFAULT_LANGUAGE", "fr")

	if _, err := Load(); err == nil {
		t.Error("expected Load to fail for unsupported default language")
	}
}

func TestLoad_RejectsInvalidThreshold(t *testing.T) {
	t.Setenv("ALERT_THRESHOLD", "purple")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load to fail for an unknown threshold band")
	}
	if !errors.Is(err, aqi.ErrUnknownBand) {
		t.Errorf("Load() error = %v, want ErrUnknownBand", err)
	}
}
