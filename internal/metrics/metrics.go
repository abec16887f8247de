package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess     = "success"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
	ResultSkipped     = "skipped"
	ResultFallback    = "fallback"
)

var (
	pollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqi_poll_runs_total",
		Help: "Periodic pipeline runs by result (success, error, skipped).",
	}, []string{"result"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aqi_poll_duration_seconds",
		Help:    "Duration of a full fetch-classify-trend-dispatch run.",
		Buckets: prometheus.DefBuckets,
	})

	invalidReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aqi_invalid_readings_total",
		Help: "Readings rejected because the AQI was negative or non-numeric.",
	})

	currentAQI = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aqi_current_value",
		Help: "Latest AQI reading per location.",
	}, []string{"location"})

	alertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqi_alerts_emitted_total",
		Help: "Alert events emitted by severity band.",
	}, []string{"band"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqi_alert_deliveries_total",
		Help: "Alert deliveries by channel and result.",
	}, []string{"channel", "result"})

	advisoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqi_advisory_requests_total",
		Help: "Comparison advisory requests by result (success, fallback).",
	}, []string{"result"})

	trackedLocations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aqi_alert_state_locations",
		Help: "Locations currently holding alert state.",
	})
)

// ObservePollRun records one pipeline run outcome and, when seconds is
// non-negative, its duration.
func ObservePollRun(result string, seconds float64) {
	pollRuns.WithLabelValues(result).Inc()
	if seconds >= 0 {
		pollDuration.Observe(seconds)
	}
}

func ObserveInvalidReading() { invalidReadings.Inc() }

func SetCurrentAQI(location string, value int) {
	currentAQI.WithLabelValues(location).Set(float64(value))
}

// ForgetLocation drops per-location series for a location no longer polled.
func ForgetLocation(location string) {
	currentAQI.DeleteLabelValues(location)
}

func ObserveAlert(band string) { alertsEmitted.WithLabelValues(band).Inc() }

func ObserveDelivery(channel, result string) {
	deliveries.WithLabelValues(channel, result).Inc()
}

func ObserveAdvisory(result string) { advisoryRequests.WithLabelValues(result).Inc() }

func SetTrackedLocations(n int) { trackedLocations.Set(float64(n)) }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
