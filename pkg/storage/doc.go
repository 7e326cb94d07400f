/*
Package storage persists targets, issues and comments.

Store is the single source of truth for the reconciler and the operator
API. Two backends are provided:

  - BoltStore: embedded BoltDB file <dataDir>/ctt.db, JSON values in the
    buckets targets, target_names (name index), issues and comments
  - PostgresStore: target/issue/comment tables created on first connect,
    for sites that already run PostgreSQL

Both return wrapped ErrNotFound for missing records and ErrConflict for a
duplicate target name; check them with errors.Is. Neither offers optimistic
concurrency control. Callers that read then write (the reconciler, the
API's scheduler-affecting handlers) serialize through tracker.Lock.

IDs are random UUIDs assigned on create when left empty.
*/
package storage
