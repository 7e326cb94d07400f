/*
Package reconciler keeps stored target status and the batch scheduler in line
with the issues open against each node.

# Architecture

Each pass runs under the tracker lock:

	┌────────────────────────────────────────────────────────────┐
	│                  Reconciliation Pass                       │
	│                 (every poll_interval)                      │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	   query scheduler, classify states      (scheduler.Interpreter)
	                 │
	                 ▼
	   snapshot targets, add new real nodes as Online
	                 │
	    ┌────────────┴────────────┐
	    │                         │
	    ▼                         ▼
	reported by scheduler     missing from scheduler
	    │                         │
	    ▼                         ▼
	Resolver.Desired         ensure "Node not found in pbs" issue
	    │
	    ▼
	Transition(desired, observed)
	    │
	    ▼
	side effect, then persist status only if it changed

Notifications produced during a pass are batched and sent as one message
after the lock is released.

# Desired state

The Resolver looks at open issues, most specific scope first:

  - not in the topology: Offline
  - issue on the node with a to_offline scope: Offline
  - sibling with a Siblings-scoped issue: Offline
  - cousin with a Cousins-scoped issue: Offline
  - any other open issue on the node: Down
  - otherwise: Online

Peers without a target record are logged and skipped.

# Transitions

	desired  observed               final           action
	Online   Online                 Online          -
	Online   Draining/Offline/Down  observed        open issue
	Offline  Draining/Offline       observed        -
	Offline  Online                 Draining        offline node
	Offline  Down                   Offline         offline node
	Down     Online                 Online          close open issues
	Down     other                  observed        -

A failed offline command leaves the node at its observed status so the next
pass retries. A desired status of Draining is a programming error and panics.
*/
package reconciler
