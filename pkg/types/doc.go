/*
Package types defines the data model shared by every ctt component.

The three durable records are:

  - Target: a cluster node tracked by name, with its last persisted status
  - Issue: a ticket against a target, optionally scoped to force a wider
    topology group offline (ToOffline)
  - Comment: an append-only audit note on an issue

A Target owns zero or more Issues and an Issue owns zero or more Comments.
Records are created lazily: a target appears the first time the scheduler
reports it or an issue references it, and is never deleted.

NodeReport and Observation are transient, per-tick values. NodeReport is the
raw scheduler output for one node; Observation is what the state interpreter
made of it.

# Statuses

	Online    accepting work
	Draining  being removed from service but still running work (observed only)
	Offline   removed from service by the scheduler
	Down      unhealthy, not accepting work
	Unknown   never observed by the scheduler
*/
package types
