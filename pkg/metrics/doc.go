/*
Package metrics exposes Prometheus collectors and process health for ctt.

All collectors are package-level variables registered with the default
registry in init, and served by Handler at /metrics:

	ctt_reconcile_duration_seconds      histogram of pass duration
	ctt_reconcile_cycles_total          passes run
	ctt_reconcile_errors_total{stage}   per-stage failures (query, snapshot, node, persist)
	ctt_targets_total{status}           targets by persisted status after each pass
	ctt_transitions_total{from,to}      persisted status changes
	ctt_issues_opened_total             issues opened, by humans or the reconciler
	ctt_issues_closed_total             issues closed
	ctt_scheduler_commands_total        offline/online/query commands by result
	ctt_notifications_total{result}     notification deliveries

Timing uses the Timer helper:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

Health is tracked per component via UpdateComponent/ReportComponent. The
process is ready once both storage and the scheduler have answered.
*/
package metrics
