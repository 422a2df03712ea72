// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ReconcileCycles prometheus.Counter
	Notifications   *prometheus.CounterVec // label: action
	PollErrors      *prometheus.CounterVec // label: kind
	TokenRefreshes  *prometheus.CounterVec // label: result

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer

	// Gauges
	WatchedChannels      prometheus.Gauge
	TrackedAnnouncements prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ReconcileCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_reconcile_cycles_total", Help: "Number of reconciliation cycles run"})
		Notifications = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_notifications_total", Help: "Per-entry reconcile outcomes by action"}, []string{"action"})
		PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_poll_errors_total", Help: "External API failures by error kind"}, []string{"kind"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_token_refresh_total", Help: "App token refresh attempts by result"}, []string{"result"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_reconcile_duration_seconds", Help: "Reconciliation cycle duration seconds", Buckets: prometheus.DefBuckets})
		WatchedChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_watched_channels", Help: "Number of entries in the watch list"})
		TrackedAnnouncements = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_tracked_announcements", Help: "Entries holding an announcement message id after the last cycle (kept until the next session replaces or resets it)"})
	})
}

// CountNotification increments the outcome counter for action.
func CountNotification(action string) {
	if Notifications != nil {
		Notifications.WithLabelValues(action).Inc()
	}
}

// CountPollError increments the error counter for an apierr kind label.
func CountPollError(kind string) {
	if PollErrors != nil {
		PollErrors.WithLabelValues(kind).Inc()
	}
}

// CountTokenRefresh records a refresh attempt; result is "success" or "failure".
func CountTokenRefresh(result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// SetWatchGauges records the watch list size and how many entries hold an
// announcement.
func SetWatchGauges(watched, tracked int) {
	if WatchedChannels != nil {
		WatchedChannels.Set(float64(watched))
	}
	if TrackedAnnouncements != nil {
		TrackedAnnouncements.Set(float64(tracked))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
