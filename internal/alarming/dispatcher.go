package alarming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/metrics"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

// Event is one alert decision. It lives for a single dispatch cycle.
type Event struct {
	ID       string
	Location string
	Reading  aqi.ClassifiedReading
	// Previous is the band of the prior notification, nil if Unseen.
	Previous  *aqi.Band
	Message   *notification.Message
	Targets   []notification.Channel
	EmittedAt time.Time
}

// Escalation reports whether the event replaces an earlier notification
// for a different band.
func (e *Event) Escalation() bool {
	return e.Previous != nil && *e.Previous != e.Reading.Band
}

// Delivery is the outcome of handing one event to one channel.
type Delivery struct {
	EventID  string
	Location string
	Channel  notification.Channel
	Err      error
}

// Result summarizes one dispatch cycle.
type Result struct {
	Events     []*Event
	Deliveries []Delivery
	// Cleared lists locations that dropped below the threshold and went
	// back to Unseen.
	Cleared []string
}

// Failed returns the deliveries that did not succeed.
func (r *Result) Failed() []Delivery {
	var failed []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			failed = append(failed, d)
		}
	}
	return failed
}

// Config holds dispatcher settings.
type Config struct {
	// Threshold is the least severe band that notifies.
	Threshold aqi.Band
	// Language is the initial rendering language.
	Language string
	// Channels are the targets of every event, in delivery order.
	Channels []notification.Channel
}

// DefaultConfig notifies from UnhealthySensitive upward on both channels.
func DefaultConfig() Config {
	return Config{
		Threshold: aqi.BandUnhealthySensitive,
		Language:  "az",
		Channels:  []notification.Channel{notification.ChannelPush, notification.ChannelSpeech},
	}
}

// Dispatcher compares classified readings with the last notified band per
// location and emits alert events to the notification channels.
type Dispatcher struct {
	store    Store
	renderer *notification.Renderer
	push     notification.NotificationSink
	speech   notification.SpeechSink
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	enabled  bool
	language string
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher. Either sink may be nil, in which case
// deliveries to that channel fail with notification.ErrUnavailable.
func NewDispatcher(store Store, renderer *notification.Renderer, push notification.NotificationSink, speech notification.SpeechSink, cfg Config, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("alert dispatcher: nil store")
	}
	if renderer == nil {
		return nil, errors.New("alert dispatcher: nil renderer")
	}
	if !cfg.Threshold.Valid() {
		return nil, fmt.Errorf("alert dispatcher: %w: threshold %d", aqi.ErrUnknownBand, int(cfg.Threshold))
	}
	if cfg.Language == "" {
		cfg.Language = renderer.Catalog().DefaultLanguage()
	}
	if !renderer.Catalog().Supports(cfg.Language) {
		return nil, fmt.Errorf("alert dispatcher: %w: %q", notification.ErrUnsupportedLanguage, cfg.Language)
	}

	d := &Dispatcher{
		store:    store,
		renderer: renderer,
		push:     push,
		speech:   speech,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		enabled:  true,
		language: cfg.Language,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Threshold returns the configured alert threshold.
func (d *Dispatcher) Threshold() aqi.Band { return d.cfg.Threshold }

// SetEnabled turns delivery on or off. While disabled, state keeps tracking
// bands and events are still returned, but with no targets.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Enabled reports whether deliveries are on.
func (d *Dispatcher) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetLanguage changes the rendering language of later events.
func (d *Dispatcher) SetLanguage(code string) error {
	if !d.renderer.Catalog().Supports(code) {
		return fmt.Errorf("%w: %q", notification.ErrUnsupportedLanguage, code)
	}
	d.mu.Lock()
	d.language = code
	d.mu.Unlock()
	return nil
}

// Language returns the current rendering language.
func (d *Dispatcher) Language() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.language
}

// Evaluate applies the state transition for one reading and returns the
// event it produces, or nil.
func (d *Dispatcher) Evaluate(ctx context.Context, cr aqi.ClassifiedReading) (*Event, error) {
	event, _, err := d.evaluate(ctx, cr)
	return event, err
}

// evaluate also reports whether a notified location went back to Unseen.
func (d *Dispatcher) evaluate(ctx context.Context, cr aqi.ClassifiedReading) (*Event, bool, error) {
	state, err := d.store.Get(ctx, cr.Location)
	if err != nil {
		return nil, false, err
	}

	if !cr.Band.AtLeast(d.cfg.Threshold) {
		if !state.Notified() {
			return nil, false, nil
		}
		if err := d.store.Delete(ctx, cr.Location); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	if state.Notified() && state.Band == cr.Band {
		return nil, false, nil
	}

	now := d.now()
	event := &Event{
		ID:        uuid.New().String(),
		Location:  cr.Location,
		Reading:   cr,
		EmittedAt: now,
	}
	if state.Notified() {
		previous := state.Band
		event.Previous = &previous
	}

	next := &AlertState{
		Status:     StatusNotified,
		Band:       cr.Band,
		AQI:        cr.AQI,
		NotifiedAt: now,
	}
	if err := d.store.Set(ctx, cr.Location, next); err != nil {
		return nil, false, err
	}

	return event, false, nil
}

// Dispatch evaluates every reading, in location order, and delivers the
// resulting events. Delivery failures are recorded in the result and never
// retried. The returned error joins state-store failures; locations that
// failed are skipped and the rest still dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, readings map[string]aqi.ClassifiedReading) (*Result, error) {
	locations := make([]string, 0, len(readings))
	for location := range readings {
		locations = append(locations, location)
	}
	sort.Strings(locations)

	result := &Result{}
	var errs []error

	for _, location := range locations {
		cr := readings[location]
		if cr.Location == "" {
			cr.Location = location
		}

		event, cleared, err := d.evaluate(ctx, cr)
		if err != nil {
			errs = append(errs, fmt.Errorf("location %q: %w", location, err))
			continue
		}
		if cleared {
			result.Cleared = append(result.Cleared, location)
		}
		if event == nil {
			continue
		}

		metrics.ObserveAlert(cr.Band.String())
		d.logger.Info("alert triggered",
			"event_id", event.ID,
			"location", location,
			"aqi", cr.AQI,
			"band", cr.Band.String(),
			"escalation", event.Escalation())

		deliveries, err := d.deliver(ctx, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("location %q: %w", location, err))
		}
		result.Events = append(result.Events, event)
		result.Deliveries = append(result.Deliveries, deliveries...)
	}

	if n, err := d.store.Len(ctx); err == nil {
		metrics.SetTrackedLocations(n)
	}

	return result, errors.Join(errs...)
}

// SendTest renders and delivers an alert for cr without consulting or
// changing alert state.
func (d *Dispatcher) SendTest(ctx context.Context, cr aqi.ClassifiedReading, language string, channels []notification.Channel) (*Event, []Delivery, error) {
	if language == "" {
		language = d.Language()
	}
	msg, err := d.renderer.Render(cr, language)
	if err != nil {
		return nil, nil, err
	}
	if len(channels) == 0 {
		channels = d.cfg.Channels
	}

	event := &Event{
		ID:        uuid.New().String(),
		Location:  cr.Location,
		Reading:   cr,
		Message:   msg,
		Targets:   channels,
		EmittedAt: d.now(),
	}
	return event, d.send(ctx, event), nil
}

func (d *Dispatcher) deliver(ctx context.Context, event *Event) ([]Delivery, error) {
	msg, err := d.renderer.Render(event.Reading, d.Language())
	if err != nil {
		return nil, fmt.Errorf("failed to render alert: %w", err)
	}
	event.Message = msg

	if !d.Enabled() {
		return nil, nil
	}
	event.Targets = append([]notification.Channel(nil), d.cfg.Channels...)
	return d.send(ctx, event), nil
}

func (d *Dispatcher) send(ctx context.Context, event *Event) []Delivery {
	envelope := &protocol.AlertMessage{
		ID:        event.ID,
		Location:  event.Location,
		AQI:       event.Reading.AQI,
		Band:      event.Reading.Band.String(),
		Language:  event.Message.Language,
		Push:      event.Message.Push,
		EmittedAt: event.EmittedAt,
	}
	speech := event.Message.Speech
	envelope.Speech = &speech
	ctx = notification.WithAlertMessage(ctx, envelope)

	deliveries := make([]Delivery, 0, len(event.Targets))
	for _, channel := range event.Targets {
		var err error
		switch channel {
		case notification.ChannelPush:
			if d.push == nil {
				err = fmt.Errorf("%w: no push sink", notification.ErrUnavailable)
			} else {
				err = d.push.Deliver(ctx, event.Message.Push)
			}
		case notification.ChannelSpeech:
			if d.speech == nil {
				err = fmt.Errorf("%w: no speech sink", notification.ErrUnavailable)
			} else {
				err = d.speech.Deliver(ctx, event.Message.Speech)
			}
		default:
			err = fmt.Errorf("unknown channel %q", channel)
		}

		deliveries = append(deliveries, Delivery{
			EventID:  event.ID,
			Location: event.Location,
			Channel:  channel,
			Err:      err,
		})

		switch {
		case err == nil:
			metrics.ObserveDelivery(string(channel), metrics.ResultSuccess)
		case errors.Is(err, notification.ErrUnavailable):
			metrics.ObserveDelivery(string(channel), metrics.ResultUnavailable)
			d.logger.Warn("notification channel unavailable",
				"event_id", event.ID, "location", event.Location, "channel", channel, "error", err)
		default:
			metrics.ObserveDelivery(string(channel), metrics.ResultError)
			d.logger.Warn("notification delivery failed",
				"event_id", event.ID, "location", event.Location, "channel", channel, "error", err)
		}
	}
	return deliveries
}

// Prune evicts state for locations that are no longer polled.
func (d *Dispatcher) Prune(ctx context.Context, polled map[string]aqi.ClassifiedReading) (int, error) {
	keep := make(map[string]struct{}, len(polled))
	for location := range polled {
		keep[location] = struct{}{}
	}
	return d.store.Prune(ctx, keep)
}
