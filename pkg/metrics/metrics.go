package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ctt_reconcile_duration_seconds",
			Help:    "Time taken by one reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ctt_reconcile_cycles_total",
			Help: "Total number of reconciliation passes",
		},
	)

	ReconciliationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctt_reconcile_errors_total",
			Help: "Total number of reconciliation errors by stage",
		},
		[]string{"stage"},
	)

	TargetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctt_targets_total",
			Help: "Number of tracked targets by status",
		},
		[]string{"status"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctt_transitions_total",
			Help: "Total number of persisted target status changes",
		},
		[]string{"from", "to"},
	)

	// Ticket metrics
	IssuesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ctt_issues_opened_total",
			Help: "Total number of issues opened",
		},
	)

	IssuesClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ctt_issues_closed_total",
			Help: "Total number of issues closed",
		},
	)

	// Scheduler metrics
	SchedulerCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctt_scheduler_commands_total",
			Help: "Total number of scheduler commands by command and result",
		},
		[]string{"command", "result"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctt_notifications_total",
			Help: "Total number of notification deliveries by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationErrors)
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(IssuesOpened)
	prometheus.MustRegister(IssuesClosed)
	prometheus.MustRegister(SchedulerCommands)
	prometheus.MustRegister(NotificationsTotal)
}

// Result returns the label value for an operation outcome
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
