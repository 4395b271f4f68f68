// Package mcp implements MCP (Model Context Protocol) client support:
// spawning a server as a child process and speaking newline-delimited
// JSON-RPC 2.0 over its standard streams.
//
// The client performs the MCP handshake, discovers tools via tools/list
// and invokes them via tools/call. Concurrent requests are multiplexed
// over the single stdio pair: a background reader drains stdout and
// completes per-request awaiters by response id, so calls may complete
// out of order.
//
// This implementation covers the client/host side only — Spyglass does
// not act as an MCP server.
package mcp
