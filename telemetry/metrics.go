// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PostsCreated      prometheus.Counter
	PostsEdited       prometheus.Counter
	PostsDeleted      prometheus.Counter
	PostsPruned       prometheus.Counter
	BroadcastsSent    prometheus.Counter
	BroadcastFailures prometheus.Counter
	RelayFailures     prometheus.Counter

	// Gauges
	ChannelCountGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PostsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_posts_created_total", Help: "Number of chat posts created"})
		PostsEdited = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_posts_edited_total", Help: "Number of chat posts revised"})
		PostsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_posts_deleted_total", Help: "Number of chat posts deleted"})
		PostsPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_posts_pruned_total", Help: "Number of chat posts removed by retention pruning"})
		BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_broadcasts_sent_total", Help: "Number of pub/sub messages published"})
		BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_broadcast_failures_total", Help: "Number of pub/sub publish failures (suppressed)"})
		RelayFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_relay_failures_total", Help: "Number of outbound relay failures (suppressed)"})
		ChannelCountGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_channels", Help: "Current number of chat channels"})
	})
}

// IncCounter increments c if metrics were initialized.
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// AddCounter adds n to c if metrics were initialized.
func AddCounter(c prometheus.Counter, n float64) {
	if c != nil && n > 0 {
		c.Add(n)
	}
}

// SetChannelCount records the current channel count.
func SetChannelCount(n int) {
	if ChannelCountGauge != nil {
		ChannelCountGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
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
