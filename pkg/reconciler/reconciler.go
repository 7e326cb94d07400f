package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/metrics"
	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/scheduler"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/topology"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/rs/zerolog"
)

// NotFoundTitle titles the issue opened for a tracked node the scheduler no
// longer reports
const NotFoundTitle = "Node not found in pbs"

// Config holds reconciler settings
type Config struct {
	Interval time.Duration
	Operator string // Author of automatic issues, comments and notifications
}

// Deps are the collaborators a Reconciler drives
type Deps struct {
	Store     storage.Store
	Scheduler scheduler.Scheduler
	Topology  topology.Topology
	Tracker   *tracker.Tracker
	Lock      *tracker.Lock
	Sink      notify.Sink
}

// Result summarizes one reconciliation pass
type Result struct {
	Observed int // Nodes reported by the scheduler
	Tracked  int // Targets considered, including newly seen nodes
	Changed  int // Targets whose stored status was written
	Missing  int // Targets the scheduler did not report
}

// Reconciler keeps stored target status and the scheduler in line with
// open issues
type Reconciler struct {
	cfg      Config
	deps     Deps
	resolver *Resolver
	logger   zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config, deps Deps) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Operator == "" {
		cfg.Operator = "ctt"
	}
	if deps.Sink == nil {
		deps.Sink = notify.NewLogSink()
	}
	return &Reconciler{
		cfg:      cfg,
		deps:     deps,
		resolver: NewResolver(deps.Store, deps.Topology),
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start runs a pass immediately and then once per interval until ctx is
// done or Stop is called
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the loop, waiting for an in-flight pass to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// run is the main reconciliation loop. A ticker drops ticks that fire while
// a pass is running, so slow passes never queue up behind each other.
func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("reconciliation pass skipped")
		}

		select {
		case <-ticker.C:
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ReconcileOnce performs one full pass under the scheduler lock. It fails
// only if the lock cannot be taken or the scheduler cannot be queried, in
// which case nothing was written.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (Result, error) {
	if err := r.deps.Lock.Acquire(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to acquire scheduler lock: %w", err)
	}

	// a pass that has started runs to completion
	passCtx := context.WithoutCancel(ctx)
	batch := notify.NewBatch(r.deps.Sink)

	res, err := r.reconcile(passCtx, batch)
	r.deps.Lock.Release()

	batch.Flush(passCtx)
	return res, err
}

// reconcile performs one reconciliation cycle
func (r *Reconciler) reconcile(ctx context.Context, batch *notify.Batch) (Result, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.logger.Info().Msg("performing sync with scheduler")

	interp := scheduler.NewInterpreter(r.deps.Scheduler, batch, r.cfg.Operator)
	observed, err := interp.NodesStatus(ctx)
	metrics.ReportComponent(metrics.ComponentScheduler, err)
	if err != nil {
		metrics.ReconciliationErrors.WithLabelValues("query").Inc()
		return Result{}, err
	}

	targets, err := r.deps.Store.ListTargets(ctx)
	metrics.ReportComponent(metrics.ComponentStorage, err)
	if err != nil {
		metrics.ReconciliationErrors.WithLabelValues("list").Inc()
		return Result{}, fmt.Errorf("failed to list targets: %w", err)
	}

	stored := make(map[string]types.TargetStatus, len(targets)+len(observed))
	for _, t := range targets {
		stored[t.Name] = t.Status
	}

	// newly seen nodes start out Online and are persisted by their first transition
	unsaved := make(map[string]bool)
	for name := range observed {
		if _, ok := stored[name]; !ok && r.deps.Topology.IsRealNode(name) {
			stored[name] = types.TargetStatusOnline
			unsaved[name] = true
		}
	}

	names := make([]string, 0, len(stored))
	for name := range stored {
		names = append(names, name)
	}
	sort.Strings(names)

	res := Result{Observed: len(observed), Tracked: len(names)}
	final := make(map[string]types.TargetStatus, len(names))
	for _, name := range names {
		old := stored[name]
		obs, ok := observed[name]
		if !ok {
			res.Missing++
			final[name] = old
			r.handleMissing(ctx, name, batch)
			continue
		}

		status, changed := r.handleTransition(ctx, name, old, unsaved[name], obs, batch)
		final[name] = status
		if changed {
			res.Changed++
		}
	}

	updateTargetGauge(final)
	r.logger.Info().
		Int("observed", res.Observed).
		Int("changed", res.Changed).
		Int("missing", res.Missing).
		Msg("sync complete")
	return res, nil
}

// handleTransition reconciles one reported node and returns the status it
// ends the pass with and whether that was written
func (r *Reconciler) handleTransition(ctx context.Context, name string, old types.TargetStatus, unsaved bool, obs types.Observation, batch *notify.Batch) (types.TargetStatus, bool) {
	logger := log.WithTarget(r.logger, name)

	desired, comment, err := r.resolver.Desired(ctx, name)
	if err != nil {
		metrics.ReconciliationErrors.WithLabelValues("resolve").Inc()
		logger.Error().Err(err).Msg("failed to resolve desired state")
		return old, false
	}

	final, action := Transition(desired, obs.Status)
	switch action {
	case ActionOpenIssue:
		title := obs.Comment
		if strings.TrimSpace(title) == "" {
			title = fmt.Sprintf("node found %s", strings.ToLower(string(obs.Status)))
		}
		logger.Info().Msgf("opening issue: %s", title)
		_, err = r.deps.Tracker.OpenIssue(ctx, tracker.NewIssue{
			Target:      name,
			Title:       title,
			Description: title,
		}, r.cfg.Operator, batch)

	case ActionOffline:
		logger.Info().Str("observed", string(obs.Status)).Msg("expected offline")
		if err = r.deps.Tracker.OfflineNode(ctx, name, comment, r.cfg.Operator, batch); err != nil {
			// retry next pass instead of recording a state that never happened
			final = obs.Status
		}

	case ActionCloseIssues:
		logger.Info().Msg("closing open issues")
		_, err = r.deps.Tracker.CloseOpenIssues(ctx, name, r.cfg.Operator, tracker.ResolvedComment, batch)
	}
	if err != nil {
		metrics.ReconciliationErrors.WithLabelValues("transition").Inc()
		logger.Warn().Err(err).Str("action", action.String()).Msg("transition side effect failed")
	}

	if final == old && !unsaved {
		return final, false
	}

	logger.Debug().
		Str("observed", string(obs.Status)).
		Str("desired", string(desired)).
		Str("final", string(final)).
		Msg("updating status")
	if err := r.persist(ctx, name, final); err != nil {
		metrics.ReconciliationErrors.WithLabelValues("persist").Inc()
		logger.Error().Err(err).Msg("failed to update status")
		return old, false
	}
	metrics.TransitionsTotal.WithLabelValues(string(old), string(final)).Inc()
	return final, true
}

// persist writes status to the named target, creating the record if the
// node has none yet
func (r *Reconciler) persist(ctx context.Context, name string, status types.TargetStatus) error {
	target, err := r.deps.Tracker.EnsureTarget(ctx, name, status)
	if err != nil {
		return err
	}
	if target.Status == status {
		return nil
	}
	return r.deps.Store.UpdateTargetStatus(ctx, target.ID, status)
}

func (r *Reconciler) handleMissing(ctx context.Context, name string, batch *notify.Batch) {
	logger := log.WithTarget(r.logger, name)
	logger.Warn().Msg("not found in scheduler")

	// TODO: add a way to retire targets so decommissioned nodes stop raising this
	_, err := r.deps.Tracker.OpenIssue(ctx, tracker.NewIssue{
		Target:      name,
		Title:       NotFoundTitle,
		Description: NotFoundTitle,
	}, r.cfg.Operator, batch)
	if errors.Is(err, tracker.ErrNotRealNode) {
		logger.Debug().Msg("not a real node, no issue opened")
		return
	}
	if err != nil {
		metrics.ReconciliationErrors.WithLabelValues("not_found").Inc()
		logger.Warn().Err(err).Msg("failed to open not-found issue")
	}
}

func updateTargetGauge(final map[string]types.TargetStatus) {
	counts := make(map[types.TargetStatus]int, len(types.TargetStatuses))
	for _, st := range final {
		counts[st]++
	}
	for _, st := range types.TargetStatuses {
		metrics.TargetsTotal.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
