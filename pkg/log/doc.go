/*
Package log provides structured logging for ctt using zerolog.

Call Init once at startup; until then the global Logger discards output.
Components take a child logger at construction time:

	logger := log.WithComponent("reconciler")
	logger.Info().Str("target", name).Msg("opening issue")

Per-node decisions use log.WithTarget(logger, name) so every line emitted
while reconciling a node carries a target field.

Console output is the default; set Config.JSONOutput for log shippers.
*/
package log
