package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/metrics"
	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/rs/zerolog"
)

// Classify maps a raw scheduler report to a canonical status. recognized is
// false when the state string matched none of the known keywords, in which
// case status is the fail-safe Down (or Draining when work is running).
func Classify(r types.NodeReport) (status types.TargetStatus, recognized bool) {
	// order matters: "down,offline" must classify as offline
	switch {
	case strings.Contains(r.State, "offline"):
		return drainingIf(r.HasJobs, types.TargetStatusOffline), true
	case strings.Contains(r.State, "down"):
		return drainingIf(r.HasJobs, types.TargetStatusDown), true
	case strings.Contains(r.State, "exclusive"), r.State == "job-busy", r.State == "free":
		// job-exclusive, resv-exclusive
		return types.TargetStatusOnline, true
	}
	return drainingIf(r.HasJobs, types.TargetStatusDown), false
}

func drainingIf(hasJobs bool, otherwise types.TargetStatus) types.TargetStatus {
	if hasJobs {
		return types.TargetStatusDraining
	}
	return otherwise
}

// Interpreter turns raw scheduler output into observations, pulling any node
// in an unrecognized state out of service
type Interpreter struct {
	sched    Scheduler
	notifier notify.Notifier
	operator string
	logger   zerolog.Logger
}

// NewInterpreter creates an interpreter. operator names the actor in
// notifications for fail-safe offlining.
func NewInterpreter(sched Scheduler, notifier notify.Notifier, operator string) *Interpreter {
	return &Interpreter{
		sched:    sched,
		notifier: notifier,
		operator: operator,
		logger:   log.WithComponent("interpreter"),
	}
}

// NodesStatus queries the scheduler and classifies every reported node
func (i *Interpreter) NodesStatus(ctx context.Context) (map[string]types.Observation, error) {
	reports, err := i.sched.QueryNodeStatus(ctx)
	metrics.SchedulerCommands.WithLabelValues("query", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to query node status: %w", err)
	}

	obs := make(map[string]types.Observation, len(reports))
	for name, r := range reports {
		obs[name] = i.interpret(ctx, name, r)
	}
	return obs, nil
}

func (i *Interpreter) interpret(ctx context.Context, name string, r types.NodeReport) types.Observation {
	status, recognized := Classify(r)
	if !recognized {
		logger := log.WithTarget(i.logger, name)
		logger.Warn().Str("state", r.State).Msg("unrecognized node state, offlining node")

		err := i.sched.OfflineNode(ctx, name, r.Comment)
		metrics.SchedulerCommands.WithLabelValues("offline", metrics.Result(err)).Inc()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to offline node")
		}
		i.notifier.Notify(fmt.Sprintf("%s offlining: %s, %s", i.operator, name, r.Comment))
	}
	return types.Observation{Status: status, Comment: r.Comment}
}
