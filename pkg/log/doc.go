/*
Package log provides structured logging built on zerolog.

Logs use the console format by default (JSON when Config.JSONOutput is set), carry a
timestamp on every line, and are tagged by component (WithComponent),
replica (WithReplica), module (WithModule), or reducer (WithReducer) so
that a replica's logs can be filtered along one of those dimensions
without threading a logger through every call site by hand.

The global Logger is initialized once via Init and is safe for
concurrent use from every goroutine a host worker pool or replica
context spawns.
*/
package log
