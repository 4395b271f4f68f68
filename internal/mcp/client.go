package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"spyglass/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// Tool is an MCP tool as returned by tools/list. Names are unique
// within one server but not globally.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolResult is the flattened outcome of a tools/call. Content joins
// the text of every "text" content item with newlines; other item
// types are dropped. IsError marks a tool-level failure, which is data
// rather than a protocol error.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

// ToolsCapability is the tools entry of the server capability map.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Capabilities describes what an MCP server supports. Only tools is
// consumed; resources and prompts are retained opaquely.
type Capabilities struct {
	Tools     *ToolsCapability `json:"tools,omitempty"`
	Resources json.RawMessage  `json:"resources,omitempty"`
	Prompts   json.RawMessage  `json:"prompts,omitempty"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      serverInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

// contentBlock is a single content item in a tools/call response.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// clientState tracks the single-use lifecycle: a client is created,
// initialized at most once, and cannot be reused after Close.
type clientState int

const (
	stateNew clientState = iota
	stateReady
	stateClosed
)

// Client connects to a single MCP server and provides typed access to
// the protocol operations (initialize, tools/list, tools/call, ping).
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu            sync.RWMutex
	state         clientState
	initAttempted bool
	serverName    string
	serverVer     string
	caps          Capabilities
}

// NewClient creates an MCP client for the given server. The transport
// determines how messages are delivered.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
	}
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// Initialize performs the MCP handshake: it sends an initialize request
// and then the notifications/initialized notification, and marks the
// client ready. It runs at most once per client; a client whose
// handshake failed is discarded, never retried.
func (c *Client) Initialize(ctx context.Context) (Capabilities, error) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return Capabilities{}, ErrNotConnected
	}
	if c.initAttempted {
		c.mu.Unlock()
		return Capabilities{}, fmt.Errorf("initialize already attempted on %s", c.name)
	}
	c.initAttempted = true
	c.mu.Unlock()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "spyglass",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		return Capabilities{}, fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return Capabilities{}, fmt.Errorf("unmarshal initialize result: %w", err)
	}

	// Complete the handshake before accepting calls.
	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return Capabilities{}, fmt.Errorf("send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.state = stateReady
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.caps = result.Capabilities
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	return result.Capabilities, nil
}

// ListTools calls tools/list and returns the advertised tool
// definitions. An absent tools array yields an empty slice.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	return result.Tools, nil
}

// CallTool invokes a tool by name with the given arguments. A JSON-RPC
// error response surfaces as *RPCError; a tool-level failure comes back
// as IsError on the result. A response with neither result nor error
// yields an empty error result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	if err := c.requireReady(); err != nil {
		return ToolResult{}, err
	}

	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.send(ctx, "tools/call", params)
	if err != nil {
		return ToolResult{}, fmt.Errorf("tools/call %s: %w", name, err)
	}

	if len(resp.Result) == 0 {
		return ToolResult{Content: "", IsError: true}, nil
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ToolResult{}, fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	return ToolResult{
		Content: flattenText(result.Content),
		IsError: result.IsError,
	}, nil
}

// Ping checks whether the MCP server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Capabilities returns the server capabilities captured during the
// handshake.
func (c *Client) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

// ServerInfo returns the peer's advertised name and version.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, c.serverVer
}

// Close terminates the child via the transport. Idempotent; the client
// cannot be reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.mu.Unlock()

	c.logger.Info("closing MCP client")
	return c.transport.Close()
}

// requireReady gates RPCs on a completed handshake.
func (c *Client) requireReady() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != stateReady {
		return ErrNotConnected
	}
	return nil
}

// send issues a JSON-RPC request and checks for protocol-level errors.
// Request ids are strictly increasing and never reused within a client.
func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	req := NewRequest(id, method, params)

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp, nil
}

// flattenText joins the text of every "text" content block with
// newlines. Non-text blocks are dropped.
func flattenText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
