// Package manager owns the set of MCP clients, one per source kind.
// It drives their lifecycle (start, stop, reconfigure), publishes
// status transitions on the event bus, caches tool catalogs, and
// implements the fan-out search across every connected source.
//
// The manager is the single writer for its maps; readers get snapshot
// copies and observe changes through the bus, never through shared
// mutable state.
package manager
