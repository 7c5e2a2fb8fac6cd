package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogvault_operations_total",
			Help: "Vault operations by name and result code",
		},
		[]string{"op", "code"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ogvault_operation_duration_seconds",
			Help:    "Vault operation latency including oracle and router calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	signalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogvault_signals_total",
			Help: "Strategy signals by type and terminal phase",
		},
		[]string{"type", "phase", "code"},
	)

	SnapshotSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ogvault_snapshot_saves_total",
		Help: "Vault state snapshots written",
	})
	SnapshotLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ogvault_snapshot_loads_total",
		Help: "Vault state snapshots restored",
	})
	JournalWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ogvault_journal_writes_total",
		Help: "Events appended to the journal",
	})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ogvault_events_dropped_total",
		Help: "Events dropped because a subscriber was too slow",
	})
)

// ObserveOperation 记录一次金库操作；code 为空表示成功。
func ObserveOperation(op, code string, d time.Duration) {
	if code == "" {
		code = "OK"
	}
	operationsTotal.WithLabelValues(op, code).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveSignal 记录信号终态。
func ObserveSignal(typ, phase, code string) {
	signalsTotal.WithLabelValues(typ, phase, code).Inc()
}
