/*
Package api implements the ctt operator REST API.

Routes, all JSON:

	GET  /v1/targets                  list tracked nodes
	GET  /v1/targets/{name}           one node with its issues
	POST /v1/targets/{name}/offline   {"comment": "..."}
	POST /v1/targets/{name}/online
	GET  /v1/issues?target=&status=   list issues
	POST /v1/issues                   open an issue
	GET  /v1/issues/{id}              one issue with its comments
	POST /v1/issues/{id}/close        {"comment": "..."} optional
	POST /v1/issues/{id}/comments     {"comment": "..."}

	GET  /health  /ready  /metrics

Requests that touch the scheduler or open and close issues take the tracker
lock, so they never interleave with a reconciliation pass. Closing an issue
resumes its node, and the siblings or cousins a scoped issue took down with
it, straight away when nothing else keeps them out of service.

The acting operator is read from the X-CTT-Operator header. There is no
authentication; a server started read-only rejects every POST with 403.

Errors are returned as {"error": "..."}: 400 for invalid input or unknown
nodes, 404 for missing records, 409 for conflicts, 500 otherwise.
*/
package api
