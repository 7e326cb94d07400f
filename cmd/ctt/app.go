package main

import (
	"context"
	"fmt"

	"github.com/ctt-hpc/ctt/pkg/config"
	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/metrics"
	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/reconciler"
	"github.com/ctt-hpc/ctt/pkg/scheduler"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/topology"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/ctt-hpc/ctt/pkg/types"
)

// app holds every long-lived component built from configuration
type app struct {
	cfg        *config.Config
	store      storage.Store
	sched      scheduler.Scheduler
	topo       *topology.RangeTopology
	tracker    *tracker.Tracker
	lock       *tracker.Lock
	sink       notify.Sink
	reconciler *reconciler.Reconciler

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, lock: tracker.NewLock()}

	topo, err := topology.NewRangeTopology(cfg.NodeTypes)
	if err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	a.topo = topo

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.sched = a.newScheduler()
	if err := a.newSink(); err != nil {
		a.Close()
		return nil, err
	}

	a.tracker = tracker.New(a.store, a.sched, a.topo)
	a.reconciler = reconciler.NewReconciler(reconciler.Config{
		Interval: cfg.PollInterval,
		Operator: cfg.Operator,
	}, reconciler.Deps{
		Store:     a.store,
		Scheduler: a.sched,
		Topology:  a.topo,
		Tracker:   a.tracker,
		Lock:      a.lock,
		Sink:      a.sink,
	})
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		var pg *storage.PostgresStore
		pg, err = storage.NewPostgresStore(ctx, a.cfg.Storage.DSN)
		if err == nil {
			a.store = pg
		}
	default:
		var bolt *storage.BoltStore
		bolt, err = storage.NewBoltStore(a.cfg.Storage.Path)
		if err == nil {
			a.store = bolt
		}
	}
	metrics.ReportComponent(metrics.ComponentStorage, err)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", a.cfg.Storage.Driver, err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			log.Errorf("failed to close storage", err)
		}
	})
	return nil
}

func (a *app) newScheduler() scheduler.Scheduler {
	if a.cfg.Scheduler.Backend == config.BackendMemory {
		// every configured node starts out free
		mem := scheduler.NewMemory()
		for _, n := range a.topo.Nodes() {
			mem.SetNode(n, types.NodeReport{State: "free"})
		}
		log.Logger.Warn().Int("nodes", len(a.topo.Nodes())).Msg("using in-memory scheduler, no real nodes will be changed")
		return mem
	}
	return scheduler.NewPBS(a.cfg.Scheduler.PBSNodes, a.cfg.Scheduler.Timeout)
}

func (a *app) newSink() error {
	sinks := notify.Multi{notify.NewLogSink()}

	if slack := a.cfg.Notify.Slack; slack.WebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(slack.WebhookURL, slack.Channel))
	}
	if nc := a.cfg.Notify.NATS; nc.URL != "" {
		sink, err := notify.NewNATSSink(nc.URL, nc.Subject)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		a.closers = append(a.closers, sink.Close)
	}
	a.sink = sinks
	return nil
}

// Close releases everything newApp opened, in reverse order
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
