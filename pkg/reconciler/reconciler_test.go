package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/scheduler"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store storage.Store
	sched *scheduler.Memory
	lock  *tracker.Lock
	sink  *notify.Recorder
	rec   *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newTestStore(t)
	topo := testTopology(t)
	sched := scheduler.NewMemory()
	lock := tracker.NewLock()
	sink := &notify.Recorder{}

	rec := NewReconciler(Config{Interval: 10 * time.Millisecond, Operator: "ctt"}, Deps{
		Store:     store,
		Scheduler: sched,
		Topology:  topo,
		Tracker:   tracker.New(store, sched, topo),
		Lock:      lock,
		Sink:      sink,
	})
	return &harness{store: store, sched: sched, lock: lock, sink: sink, rec: rec}
}

func (h *harness) reconcile(t *testing.T) Result {
	t.Helper()
	res, err := h.rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	return res
}

func (h *harness) status(t *testing.T, name string) types.TargetStatus {
	t.Helper()
	target, err := h.store.GetTargetByName(context.Background(), name)
	require.NoError(t, err)
	return target.Status
}

func (h *harness) issues(t *testing.T, name string, status types.IssueStatus) []*types.Issue {
	t.Helper()
	target, err := h.store.GetTargetByName(context.Background(), name)
	require.NoError(t, err)
	issues, err := h.store.ListIssues(context.Background(), storage.IssueFilter{TargetID: target.ID, Status: status})
	require.NoError(t, err)
	return issues
}

func TestNodeFoundUpClosesIssues(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node01", types.TargetStatusDown)
	a := seedIssue(t, h.store, "node01", "slow disk", types.ToOfflineNone)
	b := seedIssue(t, h.store, "node01", "ecc errors", types.ToOfflineNone)
	h.sched.SetNode("node01", types.NodeReport{State: "free"})

	res := h.reconcile(t)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, types.TargetStatusOnline, h.status(t, "node01"))
	assert.Empty(t, h.issues(t, "node01", types.IssueStatusOpen))

	for _, issue := range []*types.Issue{a, b} {
		comments, err := h.store.ListComments(context.Background(), issue.ID)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.Equal(t, "node found up, assuming issue is resolved", comments[0].Text)
	}
	require.Len(t, h.sink.Messages(), 1)
	assert.Contains(t, h.sink.Messages()[0], "closing issues for node01")
	assert.Empty(t, h.sched.Commands())
}

func TestDownNodeWithoutIssuesComesOnline(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node01", types.TargetStatusDown)
	h.sched.SetNode("node01", types.NodeReport{State: "free"})

	h.reconcile(t)
	assert.Equal(t, types.TargetStatusOnline, h.status(t, "node01"))
	assert.Empty(t, h.issues(t, "node01", ""))
	assert.Empty(t, h.sink.Messages())
}

func TestSteadyState(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node07", types.TargetStatusOnline)
	h.sched.SetNode("node07", types.NodeReport{State: "job-exclusive", HasJobs: true})

	for i := 0; i < 2; i++ {
		res := h.reconcile(t)
		assert.Zero(t, res.Changed)
	}
	assert.Equal(t, types.TargetStatusOnline, h.status(t, "node07"))
	assert.Empty(t, h.issues(t, "node07", ""))
	assert.Empty(t, h.sched.Commands())
	assert.Empty(t, h.sink.Messages())
}

func TestUnrecognizedStateIsPulled(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node12", types.TargetStatusOnline)
	h.sched.SetNode("node12", types.NodeReport{State: "weird-unknown-state", HasJobs: true, Comment: "hw fault"})

	h.reconcile(t)
	assert.Equal(t, types.TargetStatusDraining, h.status(t, "node12"))
	assert.Equal(t, []scheduler.Command{{Op: "offline", Node: "node12", Comment: "hw fault"}}, h.sched.Commands())

	open := h.issues(t, "node12", types.IssueStatusOpen)
	require.Len(t, open, 1)
	assert.Equal(t, "hw fault", open[0].Title)
	assert.Equal(t, types.ToOfflineNone, open[0].ToOffline)
	assert.Equal(t, []string{"ctt offlining: node12, hw fault\nctt opened issue for node12: hw fault"}, h.sink.Messages())

	// now reported as offlined with work running: desired Down, stays Draining
	h.sched.ResetCommands()
	h.sink.Reset()
	res := h.reconcile(t)
	assert.Zero(t, res.Changed)
	assert.Len(t, h.issues(t, "node12", types.IssueStatusOpen), 1)
	assert.Empty(t, h.sched.Commands())
	assert.Empty(t, h.sink.Messages())
}

func TestUnexpectedlyDownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node04", types.TargetStatusOnline)
	h.sched.SetNode("node04", types.NodeReport{State: "down", Comment: "no heartbeat"})

	first := h.reconcile(t)
	assert.Equal(t, 1, first.Changed)
	assert.Equal(t, types.TargetStatusDown, h.status(t, "node04"))

	second := h.reconcile(t)
	assert.Zero(t, second.Changed)
	assert.Equal(t, types.TargetStatusDown, h.status(t, "node04"))

	open := h.issues(t, "node04", types.IssueStatusOpen)
	require.Len(t, open, 1)
	assert.Equal(t, "no heartbeat", open[0].Title)
	assert.Len(t, h.sink.Messages(), 1)
}

func TestUnexpectedStateWithoutComment(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node04", types.TargetStatusOnline)
	h.sched.SetNode("node04", types.NodeReport{State: "down"})

	h.reconcile(t)
	open := h.issues(t, "node04", types.IssueStatusOpen)
	require.Len(t, open, 1)
	assert.Equal(t, "node found down", open[0].Title)
}

func TestOfflineScopes(t *testing.T) {
	tests := []struct {
		name     string
		scope    types.ToOffline
		offlined []string
		left     []string
	}{
		{"node", types.ToOfflineNode, []string{"node01"}, []string{"node02", "node03", "node05"}},
		{"siblings", types.ToOfflineSiblings, []string{"node01", "node02"}, []string{"node03", "node04", "node05"}},
		{"cousins", types.ToOfflineCousins, []string{"node01", "node02", "node03", "node04"}, []string{"node05"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for _, n := range []string{"node01", "node02", "node03", "node04", "node05"} {
				seedTarget(t, h.store, n, types.TargetStatusOnline)
				h.sched.SetNode(n, types.NodeReport{State: "free"})
			}
			seedIssue(t, h.store, "node01", "chassis work", tt.scope)

			h.reconcile(t)
			for _, n := range tt.offlined {
				assert.Equal(t, types.TargetStatusDraining, h.status(t, n), n)
				report, _ := h.sched.Node(n)
				assert.Contains(t, report.State, "offline", n)
			}
			for _, n := range tt.left {
				assert.Equal(t, types.TargetStatusOnline, h.status(t, n), n)
			}
			assert.Len(t, h.sched.Commands(), len(tt.offlined))

			// drained: the scheduler now reports them offline with no work
			h.reconcile(t)
			for _, n := range tt.offlined {
				assert.Equal(t, types.TargetStatusOffline, h.status(t, n), n)
			}
			assert.Len(t, h.sched.Commands(), len(tt.offlined), "no repeat offline commands")
		})
	}
}

func TestOfflineDownNode(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node03", types.TargetStatusDown)
	seedIssue(t, h.store, "node03", "motherboard", types.ToOfflineNode)
	h.sched.SetNode("node03", types.NodeReport{State: "down"})

	h.reconcile(t)
	assert.Equal(t, types.TargetStatusOffline, h.status(t, "node03"))
	assert.Equal(t, []scheduler.Command{{Op: "offline", Node: "node03", Comment: "motherboard"}}, h.sched.Commands())
	assert.Equal(t, []string{"ctt offlining: node03, motherboard"}, h.sink.Messages())
}

func TestFailedOfflineIsRetried(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node02", types.TargetStatusOnline)
	seedIssue(t, h.store, "node02", "bad cpu", types.ToOfflineNode)
	h.sched.SetNode("node02", types.NodeReport{State: "free"})
	h.sched.CommandErr = errors.New("pbs server unreachable")

	res := h.reconcile(t)
	assert.Zero(t, res.Changed)
	assert.Equal(t, types.TargetStatusOnline, h.status(t, "node02"))
	assert.Empty(t, h.sink.Messages())

	h.sched.CommandErr = nil
	h.reconcile(t)
	assert.Equal(t, types.TargetStatusDraining, h.status(t, "node02"))
	assert.Len(t, h.sched.Commands(), 2)
}

func TestNewNodesAreTracked(t *testing.T) {
	h := newHarness(t)
	h.sched.SetNode("node05", types.NodeReport{State: "free"})
	h.sched.SetNode("node06", types.NodeReport{State: "down", Comment: "bios"})
	h.sched.SetNode("login01", types.NodeReport{State: "free"})

	res := h.reconcile(t)
	assert.Equal(t, 3, res.Observed)
	assert.Equal(t, 2, res.Tracked)
	assert.Equal(t, 2, res.Changed)

	assert.Equal(t, types.TargetStatusOnline, h.status(t, "node05"))
	assert.Equal(t, types.TargetStatusDown, h.status(t, "node06"))
	assert.Len(t, h.issues(t, "node06", types.IssueStatusOpen), 1)

	_, err := h.store.GetTargetByName(context.Background(), "login01")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStaleTargetIsParked(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "login01", types.TargetStatusOnline)
	h.sched.SetNode("login01", types.NodeReport{State: "free"})

	h.reconcile(t)
	assert.Equal(t, types.TargetStatusDraining, h.status(t, "login01"))
	assert.Equal(t, []scheduler.Command{{Op: "offline", Node: "login01", Comment: NotRealNode}}, h.sched.Commands())
}

func TestVanishedNode(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node03", types.TargetStatusOnline)
	seedTarget(t, h.store, "login01", types.TargetStatusOnline)
	h.sched.SetNode("node01", types.NodeReport{State: "free"})

	for i := 0; i < 3; i++ {
		res := h.reconcile(t)
		assert.Equal(t, 2, res.Missing)
	}

	open := h.issues(t, "node03", types.IssueStatusOpen)
	require.Len(t, open, 1)
	assert.Equal(t, NotFoundTitle, open[0].Title)
	assert.Equal(t, types.TargetStatusOnline, h.status(t, "node03"), "stored status is left alone")
	assert.Empty(t, h.issues(t, "login01", ""))

	assert.Equal(t, []string{"ctt opened issue for node03: Node not found in pbs"}, h.sink.Messages())
}

func TestQueryFailureSkipsPass(t *testing.T) {
	h := newHarness(t)
	seedTarget(t, h.store, "node01", types.TargetStatusDown)
	seedIssue(t, h.store, "node01", "slow disk", types.ToOfflineNone)
	h.sched.SetNode("node01", types.NodeReport{State: "free"})
	h.sched.QueryErr = errors.New("connection refused")

	_, err := h.rec.ReconcileOnce(context.Background())
	assert.ErrorIs(t, err, h.sched.QueryErr)
	assert.Equal(t, types.TargetStatusDown, h.status(t, "node01"))
	assert.Len(t, h.issues(t, "node01", types.IssueStatusOpen), 1)
	assert.Empty(t, h.sink.Messages())

	// lock was released
	assert.True(t, h.lock.TryAcquire())
	h.lock.Release()
}

func TestBackToBackPasses(t *testing.T) {
	h := newHarness(t)
	for _, n := range []string{"node01", "node02", "node03", "node04"} {
		h.sched.SetNode(n, types.NodeReport{State: "down", Comment: "power"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.rec.ReconcileOnce(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	targets, err := h.store.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 4)
	for _, target := range targets {
		assert.Equal(t, types.TargetStatusDown, target.Status, target.Name)
		assert.Len(t, h.issues(t, target.Name, types.IssueStatusOpen), 1, target.Name)
	}
}

func TestReconcileWaitsForLock(t *testing.T) {
	h := newHarness(t)
	h.sched.SetNode("node01", types.NodeReport{State: "free"})
	require.NoError(t, h.lock.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.rec.ReconcileOnce(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = h.store.GetTargetByName(context.Background(), "node01")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	h.lock.Release()
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.sched.SetNode("node01", types.NodeReport{State: "free"})

	h.rec.Start(context.Background())
	assert.Eventually(t, func() bool {
		_, err := h.store.GetTargetByName(context.Background(), "node01")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	h.sched.SetNode("node02", types.NodeReport{State: "free"})
	assert.Eventually(t, func() bool {
		_, err := h.store.GetTargetByName(context.Background(), "node02")
		return err == nil
	}, time.Second, 5*time.Millisecond, "later ticks pick up new nodes")

	h.rec.Stop()
	h.rec.Stop()
	assert.True(t, h.lock.TryAcquire(), "no pass left holding the lock")
	h.lock.Release()
}

func TestStartStopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.rec.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		h.rec.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

// gatedScheduler holds every status query until release is closed
type gatedScheduler struct {
	*scheduler.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedScheduler) QueryNodeStatus(ctx context.Context) (map[string]types.NodeReport, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Memory.QueryNodeStatus(ctx)
}

func TestStopWaitsForInFlightPass(t *testing.T) {
	store := newTestStore(t)
	topo := testTopology(t)
	mem := scheduler.NewMemory()
	mem.SetNode("node01", types.NodeReport{State: "free"})
	gated := &gatedScheduler{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	lock := tracker.NewLock()

	rec := NewReconciler(Config{Interval: time.Hour}, Deps{
		Store:     store,
		Scheduler: gated,
		Topology:  topo,
		Tracker:   tracker.New(store, gated, topo),
		Lock:      lock,
		Sink:      &notify.Recorder{},
	})
	rec.Start(context.Background())

	select {
	case <-gated.entered:
	case <-time.After(time.Second):
		t.Fatal("pass never queried the scheduler")
	}

	stopped := make(chan struct{})
	go func() {
		rec.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	_, err := store.GetTargetByName(context.Background(), "node01")
	require.ErrorIs(t, err, storage.ErrNotFound)

	close(gated.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}

	target, err := store.GetTargetByName(context.Background(), "node01")
	require.NoError(t, err, "pass finished before Stop returned")
	assert.Equal(t, types.TargetStatusOnline, target.Status)
	assert.True(t, lock.TryAcquire())
	lock.Release()
}
