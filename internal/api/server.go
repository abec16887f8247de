package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/smukkama/aqi-alerts/internal/alarming"
	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/comparison"
	"github.com/smukkama/aqi-alerts/internal/metrics"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/pipeline"
	"github.com/smukkama/aqi-alerts/internal/trend"
)

const maxRequestBytes = 1 << 16

// Server exposes the engine over HTTP.
type Server struct {
	runner     *pipeline.Runner
	trends     *pipeline.TrendService
	comparison *comparison.Engine
	dispatcher *alarming.Dispatcher
	catalog    *notification.Catalog
	logger     *slog.Logger
}

// NewServer wires the HTTP API.
func NewServer(runner *pipeline.Runner, trends *pipeline.TrendService, engine *comparison.Engine, dispatcher *alarming.Dispatcher, catalog *notification.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:     runner,
		trends:     trends,
		comparison: engine,
		dispatcher: dispatcher,
		catalog:    catalog,
		logger:     logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/aqi", s.handleReadings)
	mux.HandleFunc("GET /api/trend/{location}", s.handleTrend)
	mux.HandleFunc("POST /api/compare", s.handleCompare)
	mux.HandleFunc("POST /api/alerts/test", s.handleTestAlert)
	mux.HandleFunc("GET /api/alerts/enabled", s.handleGetEnabled)
	mux.HandleFunc("PUT /api/alerts/enabled", s.handleSetEnabled)
	mux.HandleFunc("POST /api/poll", s.handlePoll)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.runner.Running(),
	})
}

// ReadingView is one classified reading rendered for display.
type ReadingView struct {
	AQI       int                `json:"aqi"`
	Band      aqi.Band           `json:"band"`
	Label     string             `json:"label"`
	Color     string             `json:"color"`
	Icon      string             `json:"icon"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  map[string]float64 `json:"metadata,omitempty"`
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = s.catalog.DefaultLanguage()
	}
	if !s.catalog.Supports(lang) {
		s.writeError(w, notification.ErrUnsupportedLanguage)
		return
	}

	snapshot := s.runner.Snapshot()
	views := make(map[string]ReadingView, len(snapshot.Readings))
	for location, cr := range snapshot.Readings {
		label, _ := s.catalog.Label(cr.Band, lang)
		views[location] = ReadingView{
			AQI:       cr.AQI,
			Band:      cr.Band,
			Label:     label,
			Color:     cr.Band.Color(),
			Icon:      cr.Band.Icon(),
			Timestamp: cr.Timestamp,
			Metadata:  cr.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	summary, err := s.trends.Trend(r.Context(), r.PathValue("location"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type compareRequest struct {
	Location1 string `json:"location1"`
	Location2 string `json:"location2"`
	Language  string `json:"language"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Location1 == "" || req.Location2 == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("location1 and location2 are required"))
		return
	}

	result, err := s.comparison.CompareLocations(r.Context(), s.runner, req.Location1, req.Location2, req.Language)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type testAlertRequest struct {
	Location string   `json:"location"`
	AQI      *int     `json:"aqi"`
	Language string   `json:"language"`
	Channels []string `json:"channels"`
}

type deliveryView struct {
	Channel notification.Channel `json:"channel"`
	OK      bool                 `json:"ok"`
	Error   string               `json:"error,omitempty"`
}

type testAlertResponse struct {
	EventID    string                `json:"event_id"`
	Location   string                `json:"location"`
	AQI        int                   `json:"aqi"`
	Band       aqi.Band              `json:"band"`
	Message    *notification.Message `json:"message"`
	Deliveries []deliveryView        `json:"deliveries"`
}

func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	req := testAlertRequest{}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if req.Location == "" {
		req.Location = "Test"
	}
	value := 175
	if req.AQI != nil {
		value = *req.AQI
	}

	channels := make([]notification.Channel, 0, len(req.Channels))
	for _, name := range req.Channels {
		channel, err := notification.ParseChannel(name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		channels = append(channels, channel)
	}

	cr, err := aqi.ClassifyReading(aqi.Reading{Location: req.Location, AQI: value, Timestamp: time.Now()})
	if err != nil {
		s.writeError(w, err)
		return
	}

	event, deliveries, err := s.dispatcher.SendTest(r.Context(), cr, req.Language, channels)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := testAlertResponse{
		EventID:  event.ID,
		Location: cr.Location,
		AQI:      cr.AQI,
		Band:     cr.Band,
		Message:  event.Message,
	}
	unavailable := 0
	for _, d := range deliveries {
		view := deliveryView{Channel: d.Channel, OK: d.Err == nil}
		if d.Err != nil {
			view.Error = d.Err.Error()
			if errors.Is(d.Err, notification.ErrUnavailable) {
				unavailable++
			}
		}
		resp.Deliveries = append(resp.Deliveries, view)
	}

	status := http.StatusOK
	if len(deliveries) > 0 && unavailable == len(deliveries) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type enabledBody struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetEnabled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   s.dispatcher.Enabled(),
		"language":  s.dispatcher.Language(),
		"threshold": s.dispatcher.Threshold(),
	})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var body enabledBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("enabled is required"))
		return
	}

	s.dispatcher.SetEnabled(*body.Enabled)
	s.logger.Info("alert delivery toggled", "enabled", *body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *body.Enabled})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Run(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aqi.ErrInvalidReading),
		errors.Is(err, aqi.ErrUnknownBand),
		errors.Is(err, comparison.ErrSameLocation),
		errors.Is(err, notification.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, comparison.ErrNotFound),
		errors.Is(err, pipeline.ErrUnknownLocation):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, trend.ErrIncompleteWindow),
		errors.Is(err, trend.ErrEmptyWindow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, notification.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
