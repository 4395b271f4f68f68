package mcp

import "context"

// Transport is the interface for MCP server communication.
// Implementations handle framing, encoding, and response correlation
// over a specific transport.
type Transport interface {
	// Send sends a JSON-RPC request and returns the matching response.
	// Requests are written in call order; responses may arrive and
	// complete out of order.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}
