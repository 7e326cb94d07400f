package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/metrics"
	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/scheduler"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/topology"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/rs/zerolog"
)

// ResolvedComment is left on issues closed because their node came back
const ResolvedComment = "node found up, assuming issue is resolved"

var (
	// ErrNotRealNode is returned when an operation names a node outside the topology
	ErrNotRealNode = errors.New("not a real node")
	// ErrInvalid is returned for malformed requests
	ErrInvalid = errors.New("invalid request")
)

// NewIssue is a request to open an issue
type NewIssue struct {
	Target      string          `json:"target"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	ToOffline   types.ToOffline `json:"to_offline,omitempty"`
	EnforceDown bool            `json:"enforce_down,omitempty"`
}

// Validate checks required fields
func (n NewIssue) Validate() error {
	if strings.TrimSpace(n.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalid)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if _, err := types.ParseToOffline(string(n.ToOffline)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Tracker implements the ticket and node operations shared by the
// reconciler and the operator API. Callers hold Lock around any sequence
// that must not interleave with a reconciliation pass.
type Tracker struct {
	store  storage.Store
	sched  scheduler.Scheduler
	topo   topology.Topology
	logger zerolog.Logger
}

// New creates a Tracker
func New(store storage.Store, sched scheduler.Scheduler, topo topology.Topology) *Tracker {
	return &Tracker{
		store:  store,
		sched:  sched,
		topo:   topo,
		logger: log.WithComponent("tracker"),
	}
}

// Store returns the underlying store
func (t *Tracker) Store() storage.Store {
	return t.store
}

// IsRealNode reports whether name is part of the cluster topology
func (t *Tracker) IsRealNode(name string) bool {
	return t.topo.IsRealNode(name)
}

// Reach returns name followed by the peers an issue with scope takes out of
// service along with it
func (t *Tracker) Reach(name string, scope types.ToOffline) []string {
	nodes := []string{name}
	switch scope {
	case types.ToOfflineSiblings:
		nodes = append(nodes, t.topo.Siblings(name)...)
	case types.ToOfflineCousins:
		nodes = append(nodes, t.topo.Cousins(name)...)
	}
	return nodes
}

// EnsureTarget returns the named target, creating it with status if it is a
// real node that has no record yet
func (t *Tracker) EnsureTarget(ctx context.Context, name string, status types.TargetStatus) (*types.Target, error) {
	target, err := t.store.GetTargetByName(ctx, name)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if !t.topo.IsRealNode(name) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotRealNode)
	}

	target = &types.Target{Name: name, Status: status}
	if err := t.store.CreateTarget(ctx, target); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return t.store.GetTargetByName(ctx, name)
		}
		return nil, fmt.Errorf("failed to create target %s: %w", name, err)
	}
	t.logger.Info().Str("target", name).Str("status", string(status)).Msg("created target")
	return target, nil
}

// OpenIssue opens an issue against a node. If an open issue with the same
// title already exists on the node it is returned unchanged and no
// notification is sent.
func (t *Tracker) OpenIssue(ctx context.Context, req NewIssue, operator string, n notify.Notifier) (*types.Issue, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !t.topo.IsRealNode(req.Target) {
		return nil, fmt.Errorf("%s: %w", req.Target, ErrNotRealNode)
	}
	// "None" and "" are the same scope
	scope, _ := types.ParseToOffline(string(req.ToOffline))

	target, err := t.EnsureTarget(ctx, req.Target, types.TargetStatusUnknown)
	if err != nil {
		return nil, err
	}

	open, err := t.store.ListIssues(ctx, storage.IssueFilter{TargetID: target.ID, Status: types.IssueStatusOpen})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for %s: %w", target.Name, err)
	}
	for _, existing := range open {
		if existing.Title == req.Title {
			return existing, nil
		}
	}

	issue := &types.Issue{
		TargetID:    target.ID,
		Title:       req.Title,
		Description: req.Description,
		Status:      types.IssueStatusOpen,
		CreatedBy:   operator,
		AssignedTo:  req.AssignedTo,
		ToOffline:   scope,
		EnforceDown: req.EnforceDown,
	}
	if err := t.store.CreateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("failed to create issue for %s: %w", target.Name, err)
	}
	metrics.IssuesOpened.Inc()

	t.logger.Info().
		Str("target", target.Name).
		Str("issue", issue.ID).
		Str("to_offline", string(issue.ToOffline)).
		Msg(issue.Title)
	n.Notify(fmt.Sprintf("%s opened issue for %s: %s", operator, target.Name, issue.Title))
	return issue, nil
}

// AddComment appends a comment to an issue
func (t *Tracker) AddComment(ctx context.Context, issueID, operator, text string) (*types.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: comment is required", ErrInvalid)
	}
	c := &types.Comment{IssueID: issueID, CreatedBy: operator, Text: text}
	if err := t.store.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Tracker) close(ctx context.Context, issue *types.Issue, operator, comment string) error {
	issue.Status = types.IssueStatusClosed
	if err := t.store.UpdateIssue(ctx, issue); err != nil {
		return fmt.Errorf("failed to close issue %s: %w", issue.ID, err)
	}
	metrics.IssuesClosed.Inc()
	if comment == "" {
		return nil
	}
	if _, err := t.AddComment(ctx, issue.ID, operator, comment); err != nil {
		return fmt.Errorf("failed to comment on issue %s: %w", issue.ID, err)
	}
	return nil
}

// CloseIssue closes one issue, recording comment on it when non-empty.
// Closing an already closed issue is a no-op.
func (t *Tracker) CloseIssue(ctx context.Context, issueID, operator, comment string, n notify.Notifier) (*types.Issue, error) {
	issue, err := t.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !issue.IsOpen() {
		return issue, nil
	}
	target, err := t.store.GetTarget(ctx, issue.TargetID)
	if err != nil {
		return nil, err
	}
	if err := t.close(ctx, issue, operator, comment); err != nil {
		return nil, err
	}
	n.Notify(fmt.Sprintf("%s closed issue for %s: %s", operator, target.Name, issue.Title))
	return issue, nil
}

// CloseOpenIssues closes every open issue on a node, appending comment to
// each, and returns how many were closed
func (t *Tracker) CloseOpenIssues(ctx context.Context, name, operator, comment string, n notify.Notifier) (int, error) {
	target, err := t.store.GetTargetByName(ctx, name)
	if err != nil {
		return 0, err
	}
	open, err := t.store.ListIssues(ctx, storage.IssueFilter{TargetID: target.ID, Status: types.IssueStatusOpen})
	if err != nil {
		return 0, fmt.Errorf("failed to list issues for %s: %w", name, err)
	}

	closed := 0
	for _, issue := range open {
		if err := t.close(ctx, issue, operator, comment); err != nil {
			return closed, err
		}
		closed++
	}
	if closed > 0 {
		n.Notify(fmt.Sprintf("%s: closing issues for %s, node found online", operator, name))
	}
	return closed, nil
}

// OfflineNode takes a node out of service in the scheduler. Names outside
// the topology are accepted so stale scheduler entries can be parked.
func (t *Tracker) OfflineNode(ctx context.Context, name, comment, operator string, n notify.Notifier) error {
	t.logger.Info().Str("target", name).Str("operator", operator).Msgf("offlining: %s", comment)
	err := t.sched.OfflineNode(ctx, name, comment)
	metrics.SchedulerCommands.WithLabelValues("offline", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to offline %s: %w", name, err)
	}
	n.Notify(fmt.Sprintf("%s offlining: %s, %s", operator, name, comment))
	return nil
}

// OnlineNode returns a node to service in the scheduler
func (t *Tracker) OnlineNode(ctx context.Context, name, operator string, n notify.Notifier) error {
	t.logger.Info().Str("target", name).Str("operator", operator).Msg("resuming node")
	err := t.sched.OnlineNode(ctx, name)
	metrics.SchedulerCommands.WithLabelValues("online", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to online %s: %w", name, err)
	}
	n.Notify(fmt.Sprintf("%s onlining node: %s", operator, name))
	return nil
}
