package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockTransport is a test double for the Transport interface.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]*Response // method -> canned response
	sent      []Request            // captured requests
	notifs    []Notification       // captured notifications
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]*Response),
	}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	}
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *req)
	resp, ok := m.responses[req.Method]
	if !ok {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

func initReadyClient(t *testing.T, mt *mockTransport) *Client {
	t.Helper()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo:      serverInfo{Name: "test-server", Version: "1.0.0"},
		Capabilities:    Capabilities{Tools: &ToolsCapability{}},
	})

	client := NewClient("test", mt, nil)
	if _, err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return client
}

func TestClientInitialize(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo:      serverInfo{Name: "x", Version: "1"},
		Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: false}},
	})

	client := NewClient("test", mt, nil)
	caps, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if caps.Tools == nil {
		t.Error("Capabilities.Tools is nil, want non-nil")
	}

	if len(mt.sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(mt.sent))
	}
	if mt.sent[0].Method != "initialize" {
		t.Errorf("method = %q, want initialize", mt.sent[0].Method)
	}

	params, ok := mt.sent[0].Params.(map[string]any)
	if !ok {
		t.Fatalf("params have type %T", mt.sent[0].Params)
	}
	if params["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v, want 2024-11-05", params["protocolVersion"])
	}
	if _, ok := params["clientInfo"]; !ok {
		t.Error("clientInfo missing from initialize params")
	}

	// The initialized notification completes the handshake.
	if len(mt.notifs) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(mt.notifs))
	}
	if mt.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notification method = %q", mt.notifs[0].Method)
	}

	name, ver := client.ServerInfo()
	if name != "x" || ver != "1" {
		t.Errorf("ServerInfo() = %q, %q", name, ver)
	}
}

func TestClientInitializeOnlyOnce(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	if _, err := client.Initialize(context.Background()); err == nil {
		t.Fatal("second Initialize succeeded, want error")
	}
}

func TestClientNotConnectedBeforeInitialize(t *testing.T) {
	mt := newMockTransport()
	client := NewClient("test", mt, nil)

	if _, err := client.ListTools(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListTools error = %v, want ErrNotConnected", err)
	}
	if _, err := client.CallTool(context.Background(), "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CallTool error = %v, want ErrNotConnected", err)
	}
	if err := client.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping error = %v, want ErrNotConnected", err)
	}
}

func TestClientSingleUse(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mt.closed {
		t.Error("transport was not closed")
	}

	// Closing again is a no-op.
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := client.CallTool(context.Background(), "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CallTool after Close = %v, want ErrNotConnected", err)
	}

	fresh := NewClient("fresh", newMockTransport(), nil)
	if err := fresh.Close(); err != nil {
		t.Fatalf("Close before Initialize: %v", err)
	}
	if _, err := fresh.Initialize(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Initialize after Close = %v, want ErrNotConnected", err)
	}
}

func TestClientListTools(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	mt.addResponse("tools/list", toolsListResult{
		Tools: []Tool{
			{Name: "notion-search", Description: "Search pages", InputSchema: map[string]any{"type": "object"}},
			{Name: "notion-create", Description: "Create a page"},
		},
	})

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Name != "notion-search" {
		t.Errorf("tools[0].Name = %q", tools[0].Name)
	}
}

func TestClientListToolsAbsent(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	mt.addResponse("tools/list", map[string]any{})

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("got %d tools, want 0", len(tools))
	}
}

func TestClientCallToolFlattensText(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	mt.addResponse("tools/call", callToolResult{
		Content: []contentBlock{
			{Type: "text", Text: "line 1"},
			{Type: "image"},
			{Type: "text", Text: "line 2"},
		},
	})

	result, err := client.CallTool(context.Background(), "search", map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	// Non-text blocks are dropped, text blocks joined with newlines.
	if result.Content != "line 1\nline 2" {
		t.Errorf("Content = %q, want %q", result.Content, "line 1\nline 2")
	}
	if result.IsError {
		t.Error("IsError = true, want false")
	}
}

func TestClientCallToolIsError(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	mt.addResponse("tools/call", callToolResult{
		Content: []contentBlock{{Type: "text", Text: "index unavailable"}},
		IsError: true,
	})

	result, err := client.CallTool(context.Background(), "search", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Error("IsError = false, want true")
	}
	if result.Content != "index unavailable" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestClientCallToolMissingResult(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	// Neither result nor error in the response.
	mt.responses["tools/call"] = &Response{JSONRPC: jsonrpcVersion}

	result, err := client.CallTool(context.Background(), "search", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError || result.Content != "" {
		t.Errorf("result = %+v, want empty error result", result)
	}
}

func TestClientCallToolRPCError(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	mt.addError("tools/call", -32601, "Method not found")

	_, err := client.CallTool(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("Code = %d, want -32601", rpcErr.Code)
	}
}

func TestClientRequestIDsStrictlyIncrease(t *testing.T) {
	mt := newMockTransport()
	client := initReadyClient(t, mt)

	mt.addResponse("tools/call", callToolResult{})
	mt.addResponse("ping", map[string]any{})

	for i := 0; i < 5; i++ {
		if _, err := client.CallTool(context.Background(), "x", nil); err != nil {
			t.Fatalf("CallTool %d: %v", i, err)
		}
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	var prev int64
	for i, req := range mt.sent {
		if req.ID <= prev {
			t.Errorf("request %d has id %d, not greater than %d", i, req.ID, prev)
		}
		prev = req.ID
	}
	if mt.sent[0].ID != 1 {
		t.Errorf("first id = %d, want 1", mt.sent[0].ID)
	}
}
