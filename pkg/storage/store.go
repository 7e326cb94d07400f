package storage

import (
	"context"
	"errors"

	"github.com/ctt-hpc/ctt/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create would violate a uniqueness constraint
	ErrConflict = errors.New("already exists")
)

// IssueFilter narrows ListIssues. Zero fields match everything.
type IssueFilter struct {
	TargetID string
	Status   types.IssueStatus
}

func (f IssueFilter) matches(i *types.Issue) bool {
	if f.TargetID != "" && i.TargetID != f.TargetID {
		return false
	}
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	return true
}

// Store defines the interface for target, issue and comment storage
type Store interface {
	// Targets
	CreateTarget(ctx context.Context, target *types.Target) error
	GetTarget(ctx context.Context, id string) (*types.Target, error)
	GetTargetByName(ctx context.Context, name string) (*types.Target, error)
	ListTargets(ctx context.Context) ([]*types.Target, error)
	UpdateTargetStatus(ctx context.Context, id string, status types.TargetStatus) error

	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]*types.Issue, error)
	UpdateIssue(ctx context.Context, issue *types.Issue) error

	// Comments
	CreateComment(ctx context.Context, comment *types.Comment) error
	ListComments(ctx context.Context, issueID string) ([]*types.Comment, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}
