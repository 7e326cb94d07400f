package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctt-hpc/ctt/pkg/types"
)

// Scheduler is the capability set ctt needs from a batch scheduler backend
type Scheduler interface {
	// QueryNodeStatus returns the raw state of every node the scheduler knows about
	QueryNodeStatus(ctx context.Context) (map[string]types.NodeReport, error)
	// OfflineNode removes a node from service, recording comment on it
	OfflineNode(ctx context.Context, name, comment string) error
	// OnlineNode returns a node to service and clears its comment
	OnlineNode(ctx context.Context, name string) error
}

// CommandError is returned when a scheduler command fails
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
