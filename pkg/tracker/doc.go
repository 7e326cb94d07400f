/*
Package tracker holds the operations that change issues and scheduler state
on behalf of both the reconciliation loop and human operators, so that a
ticket opened by the loop and one opened through the API follow the same
path and produce the same changelog notifications.

It also provides Lock, the single process-wide lock serializing anything
that issues scheduler commands. The reconciler holds it for a whole pass;
API handlers hold it around offline, online and close requests.

	lock.Acquire(ctx)
	defer lock.Release()
	tracker.OfflineNode(ctx, "dec0042", "bad dimm", "alice", batch)
*/
package tracker
