package types

import (
	"fmt"
	"time"
)

// Target represents one managed cluster node
type Target struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"` // Scheduler hostname
	Status TargetStatus `json:"status"`
}

// TargetStatus represents the lifecycle status of a target
type TargetStatus string

const (
	TargetStatusOnline   TargetStatus = "Online"
	TargetStatusDraining TargetStatus = "Draining" // Being removed from service, still running work
	TargetStatusOffline  TargetStatus = "Offline"
	TargetStatusDown     TargetStatus = "Down"
	TargetStatusUnknown  TargetStatus = "Unknown" // Never observed by the scheduler
)

// TargetStatuses lists every status in display order
var TargetStatuses = []TargetStatus{
	TargetStatusOnline,
	TargetStatusDraining,
	TargetStatusOffline,
	TargetStatusDown,
	TargetStatusUnknown,
}

// ParseTargetStatus converts a string into a TargetStatus
func ParseTargetStatus(s string) (TargetStatus, error) {
	for _, st := range TargetStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown target status %q", s)
}

// Issue is a ticket recording a problem against a target
type Issue struct {
	ID          string      `json:"id"`
	TargetID    string      `json:"target_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      IssueStatus `json:"status"`
	CreatedBy   string      `json:"created_by"`
	AssignedTo  string      `json:"assigned_to,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ToOffline   ToOffline   `json:"to_offline,omitempty"`

	// EnforceDown is stored and returned but not consulted when computing desired state.
	EnforceDown bool `json:"enforce_down"`
}

// IsOpen reports whether the issue is still open
func (i *Issue) IsOpen() bool {
	return i.Status == IssueStatusOpen
}

// IssueStatus represents the state of an issue
type IssueStatus string

const (
	IssueStatusOpen   IssueStatus = "Open"
	IssueStatusClosed IssueStatus = "Closed"
)

// ParseIssueStatus converts a string into an IssueStatus
func ParseIssueStatus(s string) (IssueStatus, error) {
	switch IssueStatus(s) {
	case IssueStatusOpen, IssueStatusClosed:
		return IssueStatus(s), nil
	}
	return "", fmt.Errorf("unknown issue status %q", s)
}

// ToOffline is the topology scope an issue forces offline
type ToOffline string

const (
	ToOfflineNone     ToOffline = ""
	ToOfflineNode     ToOffline = "Node"
	ToOfflineSiblings ToOffline = "Siblings"
	ToOfflineCousins  ToOffline = "Cousins"
)

// ParseToOffline converts a string into a ToOffline scope.
// The empty string and "None" both mean no offlining.
func ParseToOffline(s string) (ToOffline, error) {
	switch s {
	case "", "None":
		return ToOfflineNone, nil
	case string(ToOfflineNode), string(ToOfflineSiblings), string(ToOfflineCousins):
		return ToOffline(s), nil
	}
	return "", fmt.Errorf("unknown offline scope %q", s)
}

// Comment is an append-only note attached to an issue
type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	CreatedBy string    `json:"created_by"`
	Text      string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// NodeReport is one node's raw state as reported by the batch scheduler
type NodeReport struct {
	State   string // Free-form scheduler state, e.g. "free", "down,offline"
	HasJobs bool   // Whether work is currently running on the node
	Comment string
}

// Observation is a node's interpreted scheduler state
type Observation struct {
	Status  TargetStatus
	Comment string
}
