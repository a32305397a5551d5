package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"battlelog/internal/domain"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battlelog_mutations_total",
		Help: "Mutations submitted by kind and result",
	}, []string{"kind", "result"})

	revertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battlelog_reverts_total",
		Help: "Revert operations by result",
	}, []string{"result"})

	revertedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battlelog_reverted_events_total",
		Help: "Events marked reverted, cascades included",
	})

	lockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battlelog_lock_wait_seconds",
		Help:    "Time spent waiting for the per-session lock",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})
)

func resultLabel(err error) string {
	var cascade *domain.CascadeRequiredError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &cascade):
		return "cascade_required"
	case errors.Is(err, domain.ErrPartialRestoration):
		return "restoration_failed"
	case errors.Is(err, domain.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, domain.ErrAlreadyReverted):
		return "already_reverted"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	case errors.Is(err, domain.ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
