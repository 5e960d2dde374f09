// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var DetectorViolations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rainbot_detector_violations_total",
	Help: "Messages that violated an auto-moderation detector",
}, []string{"detector"})

var DetectionPanics = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rainbot_detection_panics_total",
	Help: "Message evaluations that panicked and were recovered",
})

var PunishmentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rainbot_punishments_applied_total",
	Help: "Punishments applied, by kind and source",
}, []string{"kind", "source"})

var ReversalsFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rainbot_reversals_fired_total",
	Help: "Deferred reversals that ran, by kind and outcome",
}, []string{"kind", "outcome"})

var PendingReversals = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rainbot_pending_reversals",
	Help: "Deferred reversals currently armed",
})

var RehydratedEntries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rainbot_rehydrated_entries_total",
	Help: "Pending punishments re-armed at startup",
})

var ExecutorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rainbot_executor_calls_total",
	Help: "Chat platform action calls, by operation and result",
}, []string{"op", "result"})
