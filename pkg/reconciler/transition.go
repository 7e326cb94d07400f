package reconciler

import (
	"fmt"

	"github.com/ctt-hpc/ctt/pkg/types"
)

// Action is the side effect a transition requires
type Action int

const (
	ActionNone        Action = iota
	ActionOpenIssue          // open an issue titled with the scheduler comment
	ActionOffline            // offline the node with the resolver comment
	ActionCloseIssues        // close every open issue on the node
)

func (a Action) String() string {
	switch a {
	case ActionOpenIssue:
		return "open-issue"
	case ActionOffline:
		return "offline"
	case ActionCloseIssues:
		return "close-issues"
	}
	return "none"
}

// Transition decides the final status of a node from its desired and
// observed status, and the action needed to get there. The stored status
// is deliberately not an input: things may have changed since it was
// written, so only the fresh observation counts.
//
// It panics if desired is not Online, Offline or Down.
func Transition(desired, observed types.TargetStatus) (types.TargetStatus, Action) {
	switch desired {
	case types.TargetStatusOnline:
		if observed == types.TargetStatusOnline {
			return types.TargetStatusOnline, ActionNone
		}
		// desired Online means no issue is open yet
		return observed, ActionOpenIssue

	case types.TargetStatusOffline:
		switch observed {
		case types.TargetStatusDraining, types.TargetStatusOffline:
			return observed, ActionNone
		case types.TargetStatusOnline:
			// may still be running work
			return types.TargetStatusDraining, ActionOffline
		default:
			return types.TargetStatusOffline, ActionOffline
		}

	case types.TargetStatusDown:
		if observed == types.TargetStatusOnline {
			// any issue with a to_offline scope would have made desired Offline
			return types.TargetStatusOnline, ActionCloseIssues
		}
		return observed, ActionNone
	}
	panic(fmt.Sprintf("InvalidDesiredState: desired status is never %q", desired))
}
