package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/topology"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/rs/zerolog"
)

// NotRealNode is the comment given for names outside the topology
const NotRealNode = "not a real node"

// Resolver derives the status a node should have from open issues on the
// node and on its topology peers. It only reads the store.
type Resolver struct {
	store  storage.Store
	topo   topology.Topology
	logger zerolog.Logger
}

// NewResolver creates a Resolver
func NewResolver(store storage.Store, topo topology.Topology) *Resolver {
	return &Resolver{
		store:  store,
		topo:   topo,
		logger: log.WithComponent("resolver"),
	}
}

// Desired returns the desired status for name and a comment explaining it.
// The most specific scope wins: node-wide offlining, then sibling, then
// cousin, then plain node issues. Draining is never returned.
func (r *Resolver) Desired(ctx context.Context, name string) (types.TargetStatus, string, error) {
	logger := log.WithTarget(r.logger, name)
	if !r.topo.IsRealNode(name) {
		return types.TargetStatusOffline, NotRealNode, nil
	}

	own, _, err := r.openIssues(ctx, name)
	if err != nil {
		return "", "", err
	}
	for _, issue := range own {
		if issue.ToOffline != types.ToOfflineNone {
			logger.Debug().Str("issue", issue.ID).Msg("offline due to node issue")
			return types.TargetStatusOffline, issue.Title, nil
		}
	}

	scopes := []struct {
		kind  string
		peers []string
		scope types.ToOffline
	}{
		{"sibling", r.topo.Siblings(name), types.ToOfflineSiblings},
		{"cousin", r.topo.Cousins(name), types.ToOfflineCousins},
	}
	for _, s := range scopes {
		for _, peer := range s.peers {
			issues, found, err := r.openIssues(ctx, peer)
			if err != nil {
				return "", "", err
			}
			if !found {
				logger.Warn().Str("peer", peer).Msgf("expected %s doesn't exist", s.kind)
				continue
			}
			for _, issue := range issues {
				if issue.ToOffline == s.scope {
					logger.Debug().Str("peer", peer).Str("issue", issue.ID).Msgf("offline due to %s issue", s.kind)
					return types.TargetStatusOffline, fmt.Sprintf("%s %s: %s", s.kind, peer, issue.Title), nil
				}
			}
		}
	}

	if len(own) > 0 {
		logger.Debug().Str("issue", own[0].ID).Msg("down due to node issue")
		return types.TargetStatusDown, own[0].Title, nil
	}
	return types.TargetStatusOnline, "", nil
}

// openIssues lists open issues on the named target. found is false when the
// target has no record, which is not an error.
func (r *Resolver) openIssues(ctx context.Context, name string) (issues []*types.Issue, found bool, err error) {
	target, err := r.store.GetTargetByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up %s: %w", name, err)
	}
	issues, err = r.store.ListIssues(ctx, storage.IssueFilter{TargetID: target.ID, Status: types.IssueStatusOpen})
	if err != nil {
		return nil, true, fmt.Errorf("failed to list issues for %s: %w", name, err)
	}
	return issues, true, nil
}
