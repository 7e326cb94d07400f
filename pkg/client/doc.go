// Package client is a Go client for the ctt operator API, used by the ctt
// issue and target subcommands.
package client
