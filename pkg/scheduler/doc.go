/*
Package scheduler abstracts the batch scheduler that owns the cluster's nodes.

Backends implement Scheduler:

	QueryNodeStatus  raw state, has-jobs flag and comment for every node
	OfflineNode      remove a node from service with a comment
	OnlineNode       return a node to service

PBS shells out to pbsnodes (`-av -F json`, `-o -C`, `-r -C ""`) with a
per-command timeout. Memory keeps state in process and is used for testing
and for dry runs against a fixed node list.

# State interpretation

Interpreter.NodesStatus classifies each raw state, first match wins:

	contains "offline"                   Offline, or Draining with running jobs
	contains "down"                      Down, or Draining with running jobs
	contains "exclusive", "job-busy", "free"   Online
	anything else                        Down, or Draining with running jobs

The last case is a fail-safe. The node is offlined immediately with its
scheduler comment and one notification is emitted. Unknown is never
produced here; it is reserved for targets the scheduler did not report.
*/
package scheduler
