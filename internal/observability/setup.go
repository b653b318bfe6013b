package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	filterHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_hits_total",
			Help: "Messages removed by a content filter",
		},
		[]string{"filter"},
	)

	moderationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_actions_total",
			Help: "Enforcement actions taken",
		},
		[]string{"action"},
	)

	voteResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_resolutions_total",
			Help: "Community votes resolved",
		},
		[]string{"kind", "outcome"},
	)

	messageProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "message_processing_duration_seconds",
			Help:    "Time spent running a message through the moderation gates",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Init registers the metrics, sets a tracer provider and serves /metrics.
func Init(ctx context.Context, addr string) error {
	prometheus.MustRegister(filterHitsTotal)
	prometheus.MustRegister(moderationActionsTotal)
	prometheus.MustRegister(voteResolutionsTotal)
	prometheus.MustRegister(messageProcessingDuration)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Error("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = tp.Shutdown(shutdownCtx)
	}()

	return nil
}

func RecordFilterHit(filter string) {
	filterHitsTotal.WithLabelValues(filter).Inc()
}

func RecordModerationAction(action string) {
	moderationActionsTotal.WithLabelValues(action).Inc()
}

func RecordVoteResolution(kind string, passed bool) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	voteResolutionsTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveProcessingDuration(d time.Duration) {
	messageProcessingDuration.Observe(d.Seconds())
}
