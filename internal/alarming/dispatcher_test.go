package alarming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

type recordingSinks struct {
	mu       sync.Mutex
	pushes   []protocol.PushPayload
	speeches []protocol.SpeechPayload
	envelope []*protocol.AlertMessage
	pushErr  error
	speakErr error
}

func (r *recordingSinks) push() notification.NotificationSink {
	return notification.NotificationSinkFunc(func(ctx context.Context, p protocol.PushPayload) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pushErr != nil {
			return r.pushErr
		}
		r.pushes = append(r.pushes, p)
		r.envelope = append(r.envelope, notification.AlertMessageFromContext(ctx))
		return nil
	})
}

func (r *recordingSinks) speech() notification.SpeechSink {
	return notification.SpeechSinkFunc(func(_ context.Context, p protocol.SpeechPayload) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.speakErr != nil {
			return r.speakErr
		}
		r.speeches = append(r.speeches, p)
		return nil
	})
}

func newRenderer(t *testing.T) *notification.Renderer {
	t.Helper()
	catalog, err := notification.NewCatalog(notification.DefaultLanguages(), []string{"az", "en"}, "az")
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return notification.NewRenderer(catalog)
}

func newDispatcher(t *testing.T, sinks *recordingSinks, cfg Config) (*Dispatcher, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	fixed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	d, err := NewDispatcher(store, newRenderer(t), sinks.push(), sinks.speech(), cfg,
		WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d, store
}

func classified(t *testing.T, location string, value int) aqi.ClassifiedReading {
	t.Helper()
	cr, err := aqi.ClassifyReading(aqi.Reading{Location: location, AQI: value, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("ClassifyReading(%d) failed: %v", value, err)
	}
	return cr
}

func TestDispatcher_DeduplicatesUnchangedBand(t *testing.T) {
	sinks := &recordingSinks{}
	d, _ := newDispatcher(t, sinks, DefaultConfig())
	ctx := context.Background()

	first, err := d.Evaluate(ctx, classified(t, "Baku - Sabail", 160))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if first == nil {
		t.Fatal("expected an event on first unhealthy reading")
	}

	second, err := d.Evaluate(ctx, classified(t, "Baku - Sabail", 190))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if second != nil {
		t.Errorf("expected no event for unchanged band, got %+v", second)
	}
}

func TestDispatcher_ReNotifiesAfterRecrossing(t *testing.T) {
	sinks := &recordingSinks{}
	d, store := newDispatcher(t, sinks, DefaultConfig())
	ctx := context.Background()

	values := []int{170, 180, 60, 175}
	var events int
	for _, v := range values {
		event, err := d.Evaluate(ctx, classified(t, "Sumqayit", v))
		if err != nil {
			t.Fatalf("Evaluate(%d) failed: %v", v, err)
		}
		if event != nil {
			events++
		}
		if v == 60 {
			state, _ := store.Get(ctx, "Sumqayit")
			if state.Notified() {
				t.Error("state should return to Unseen below threshold")
			}
		}
	}

	if events != 2 {
		t.Errorf("expected 2 events, got %d", events)
	}
}

func TestDispatcher_Threshold(t *testing.T) {
	tests := []struct {
		name  string
		value int
		want  bool
	}{
		{"moderate stays quiet", 95, false},
		{"upper moderate stays quiet", 100, false},
		{"sensitive notifies", 105, true},
		{"hazardous notifies", 420, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sinks := &recordingSinks{}
			d, _ := newDispatcher(t, sinks, DefaultConfig())

			event, err := d.Evaluate(context.Background(), classified(t, "Ganja", tt.value))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got := event != nil; got != tt.want {
				t.Errorf("Evaluate(%d) emitted=%v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestDispatcher_NotifiesOnBandChange(t *testing.T) {
	sinks := &recordingSinks{}
	d, _ := newDispatcher(t, sinks, DefaultConfig())
	ctx := context.Background()

	if _, err := d.Evaluate(ctx, classified(t, "Shirvan", 160)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	event, err := d.Evaluate(ctx, classified(t, "Shirvan", 250))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if event == nil {
		t.Fatal("expected an event on escalation")
	}
	if !event.Escalation() {
		t.Error("expected event to be marked as escalation")
	}
	if *event.Previous != aqi.BandUnhealthy {
		t.Errorf("Previous = %v, want %v", *event.Previous, aqi.BandUnhealthy)
	}

	// De-escalation above threshold also notifies.
	event, err = d.Evaluate(ctx, classified(t, "Shirvan", 120))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if event == nil {
		t.Error("expected an event when band drops but stays above threshold")
	}
}

func TestDispatcher_DispatchDeliversToBothChannels(t *testing.T) {
	sinks := &recordingSinks{}
	cfg := DefaultConfig()
	cfg.Language = "en"
	d, _ := newDispatcher(t, sinks, cfg)

	readings := map[string]aqi.ClassifiedReading{
		"Baku - Yasamal": classified(t, "Baku - Yasamal", 210),
		"Baku - Nasimi":  classified(t, "Baku - Nasimi", 40),
		"Baku - Khatai":  classified(t, "Baku - Khatai", 130),
	}

	result, err := d.Dispatch(context.Background(), readings)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	// Location order is deterministic.
	if result.Events[0].Location != "Baku - Khatai" || result.Events[1].Location != "Baku - Yasamal" {
		t.Errorf("unexpected event order: %s, %s", result.Events[0].Location, result.Events[1].Location)
	}
	if len(result.Deliveries) != 4 {
		t.Errorf("expected 4 deliveries, got %d", len(result.Deliveries))
	}
	if len(result.Failed()) != 0 {
		t.Errorf("unexpected failures: %v", result.Failed())
	}

	if len(sinks.pushes) != 2 || len(sinks.speeches) != 2 {
		t.Fatalf("pushes=%d speeches=%d, want 2 each", len(sinks.pushes), len(sinks.speeches))
	}
	if sinks.pushes[1].Tag != "aqi-Baku - Yasamal" {
		t.Errorf("push tag = %q", sinks.pushes[1].Tag)
	}
	if sinks.speeches[0].LanguageTag != "en-US" {
		t.Errorf("speech language tag = %q, want en-US", sinks.speeches[0].LanguageTag)
	}

	env := sinks.envelope[0]
	if env == nil {
		t.Fatal("expected alert envelope on delivery context")
	}
	if env.ID != result.Events[0].ID || env.AQI != 130 || env.Band != "unhealthy_sensitive" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestDispatcher_DispatchReportsCleared(t *testing.T) {
	sinks := &recordingSinks{}
	d, _ := newDispatcher(t, sinks, DefaultConfig())
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, map[string]aqi.ClassifiedReading{
		"Lankaran": classified(t, "Lankaran", 155),
	}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	result, err := d.Dispatch(ctx, map[string]aqi.ClassifiedReading{
		"Lankaran": classified(t, "Lankaran", 45),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(result.Cleared) != 1 || result.Cleared[0] != "Lankaran" {
		t.Errorf("Cleared = %v, want [Lankaran]", result.Cleared)
	}
	if len(result.Events) != 0 {
		t.Errorf("expected no events, got %d", len(result.Events))
	}
}

func TestDispatcher_CapabilityFailureIsReportedNotRetried(t *testing.T) {
	sinks := &recordingSinks{
		speakErr: errors.Join(notification.ErrUnavailable, errors.New("synthesis unsupported")),
	}
	d, store := newDispatcher(t, sinks, DefaultConfig())
	ctx := context.Background()
	readings := map[string]aqi.ClassifiedReading{"Mingachevir": classified(t, "Mingachevir", 230)}

	result, err := d.Dispatch(ctx, readings)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	failed := result.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed delivery, got %d", len(failed))
	}
	if failed[0].Channel != notification.ChannelSpeech {
		t.Errorf("failed channel = %s, want speech", failed[0].Channel)
	}
	if !errors.Is(failed[0].Err, notification.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", failed[0].Err)
	}

	state, _ := store.Get(ctx, "Mingachevir")
	if !state.Notified() {
		t.Error("state should be Notified even when a channel failed")
	}

	// Next cycle with the same band does not retry.
	result, err = d.Dispatch(ctx, readings)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(result.Events) != 0 || len(result.Deliveries) != 0 {
		t.Errorf("expected no retry, got %d events", len(result.Events))
	}
}

func TestDispatcher_NilSinkIsUnavailable(t *testing.T) {
	d, err := NewDispatcher(NewMemoryStore(), newRenderer(t), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	result, err := d.Dispatch(context.Background(), map[string]aqi.ClassifiedReading{
		"Quba": classified(t, "Quba", 310),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	for _, delivery := range result.Deliveries {
		if !errors.Is(delivery.Err, notification.ErrUnavailable) {
			t.Errorf("%s: expected ErrUnavailable, got %v", delivery.Channel, delivery.Err)
		}
	}
}

func TestDispatcher_DisabledTracksStateWithoutDelivering(t *testing.T) {
	sinks := &recordingSinks{}
	d, store := newDispatcher(t, sinks, DefaultConfig())
	d.SetEnabled(false)
	ctx := context.Background()

	result, err := d.Dispatch(ctx, map[string]aqi.ClassifiedReading{
		"Shaki": classified(t, "Shaki", 180),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(result.Events))
	}
	if len(result.Events[0].Targets) != 0 {
		t.Errorf("expected no targets while disabled, got %v", result.Events[0].Targets)
	}
	if result.Events[0].Message == nil {
		t.Error("expected a rendered message while disabled")
	}
	if len(sinks.pushes) != 0 || len(sinks.speeches) != 0 {
		t.Error("sinks were called while disabled")
	}

	state, _ := store.Get(ctx, "Shaki")
	if !state.Notified() || state.Band != aqi.BandUnhealthy {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestDispatcher_SendTestLeavesStateUntouched(t *testing.T) {
	sinks := &recordingSinks{}
	d, store := newDispatcher(t, sinks, DefaultConfig())
	ctx := context.Background()

	event, deliveries, err := d.SendTest(ctx, classified(t, "Test", 175), "en", []notification.Channel{notification.ChannelPush})
	if err != nil {
		t.Fatalf("SendTest failed: %v", err)
	}
	if event.Message.Language != "en" {
		t.Errorf("language = %q, want en", event.Message.Language)
	}
	if len(deliveries) != 1 || deliveries[0].Err != nil {
		t.Errorf("unexpected deliveries %+v", deliveries)
	}
	if len(sinks.speeches) != 0 {
		t.Error("speech sink should not be targeted")
	}

	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("store has %d entries after SendTest", n)
	}

	if _, _, err := d.SendTest(ctx, classified(t, "Test", 175), "fr", nil); !errors.Is(err, notification.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestDispatcher_SetLanguage(t *testing.T) {
	sinks := &recordingSinks{}
	d, _ := newDispatcher(t, sinks, DefaultConfig())

	if err := d.SetLanguage("de"); !errors.Is(err, notification.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if err := d.SetLanguage("en"); err != nil {
		t.Fatalf("SetLanguage failed: %v", err)
	}

	result, err := d.Dispatch(context.Background(), map[string]aqi.ClassifiedReading{
		"Baku": classified(t, "Baku", 205),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := result.Events[0].Message.Language; got != "en" {
		t.Errorf("language = %q, want en", got)
	}
}

func TestDispatcher_PruneDropsUnpolledLocations(t *testing.T) {
	sinks := &recordingSinks{}
	d, store := newDispatcher(t, sinks, DefaultConfig())
	ctx := context.Background()

	all := map[string]aqi.ClassifiedReading{
		"A": classified(t, "A", 160),
		"B": classified(t, "B", 170),
	}
	if _, err := d.Dispatch(ctx, all); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	removed, err := d.Prune(ctx, map[string]aqi.ClassifiedReading{"A": all["A"]})
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if n, _ := store.Len(ctx); n != 1 {
		t.Errorf("store has %d entries, want 1", n)
	}
}

func TestNewDispatcher_Validation(t *testing.T) {
	renderer := newRenderer(t)

	if _, err := NewDispatcher(nil, renderer, nil, nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil store")
	}

	cfg := DefaultConfig()
	cfg.Threshold = aqi.Band(42)
	if _, err := NewDispatcher(NewMemoryStore(), renderer, nil, nil, cfg); !errors.Is(err, aqi.ErrUnknownBand) {
		t.Errorf("expected ErrUnknownBand, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Language = "ru"
	if _, err := NewDispatcher(NewMemoryStore(), renderer, nil, nil, cfg); !errors.Is(err, notification.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
}
