package manager

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"spyglass/internal/config"
	"spyglass/internal/events"
	"spyglass/internal/mcp"
	"spyglass/internal/sources"
)

// startTimeout bounds each handshake RPC during StartServer.
const startTimeout = 30 * time.Second

// client is the surface of *mcp.Client the manager drives. Tests
// substitute scripted fakes.
type client interface {
	Initialize(ctx context.Context) (mcp.Capabilities, error)
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// newStdioClient spawns the source's MCP server as a child process and
// wraps it in a client. This is the production clientFactory.
func newStdioClient(cfg config.SourceConfig, logger *slog.Logger) (client, error) {
	tr, err := mcp.SpawnStdio(mcp.StdioConfig{
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewClient(string(cfg.Kind), tr, logger), nil
}

type clientFactory func(cfg config.SourceConfig, logger *slog.Logger) (client, error)

// Manager owns one optional MCP client per source kind and the status,
// config, and tool-catalog maps keyed by kind.
type Manager struct {
	logger    *slog.Logger
	bus       *events.Bus
	newClient clientFactory

	mu       sync.RWMutex
	configs  map[sources.Kind]config.SourceConfig
	clients  map[sources.Kind]client
	statuses map[sources.Kind]Status
	tools    map[sources.Kind][]mcp.Tool
	// gen invalidates an in-flight StartServer when StopServer (or a
	// newer start) intervenes: stale completions are discarded.
	gen     map[sources.Kind]uint64
	cancels map[sources.Kind]context.CancelFunc
}

// New creates a manager with every kind Disconnected. Events are
// published on bus, which may be nil.
func New(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:    logger,
		bus:       bus,
		newClient: newStdioClient,
		configs:   make(map[sources.Kind]config.SourceConfig),
		clients:   make(map[sources.Kind]client),
		statuses:  make(map[sources.Kind]Status),
		tools:     make(map[sources.Kind][]mcp.Tool),
		gen:       make(map[sources.Kind]uint64),
		cancels:   make(map[sources.Kind]context.CancelFunc),
	}
	for _, k := range sources.All() {
		m.statuses[k] = Disconnected()
	}
	return m
}

// UpdateConfig replaces the config for cfg.Kind. A running client is
// left untouched; the new config takes effect on the next StartServer.
func (m *Manager) UpdateConfig(cfg config.SourceConfig) {
	m.mu.Lock()
	m.configs[cfg.Kind] = cfg
	m.mu.Unlock()

	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceManager,
		Kind:      events.KindConfigUpdated,
		Data: map[string]any{
			"source":  string(cfg.Kind),
			"enabled": cfg.Enabled,
		},
	})
}

// Config returns the stored config for a kind.
func (m *Manager) Config(kind sources.Kind) (config.SourceConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[kind]
	return cfg, ok
}

// Statuses returns a snapshot of every kind's status.
func (m *Manager) Statuses() map[sources.Kind]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[sources.Kind]Status, len(m.statuses))
	for k, s := range m.statuses {
		out[k] = s
	}
	return out
}

// Status returns one kind's status.
func (m *Manager) Status(kind sources.Kind) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[kind]
}

// Tools returns a snapshot of the cached tool catalogs.
func (m *Manager) Tools() map[sources.Kind][]mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[sources.Kind][]mcp.Tool, len(m.tools))
	for k, ts := range m.tools {
		out[k] = slices.Clone(ts)
	}
	return out
}

// StartServer launches the kind's MCP server and performs the
// handshake. On return the kind's status is Connected or Error, never
// Connecting. A kind that is already Connecting or Connected is left
// alone.
func (m *Manager) StartServer(ctx context.Context, kind sources.Kind) error {
	m.mu.Lock()
	cfg, ok := m.configs[kind]
	if !ok || !cfg.Enabled || !cfg.Configured() {
		m.setStatusLocked(kind, Errored("Not configured"))
		m.mu.Unlock()
		return fmt.Errorf("%s is not configured", kind.DisplayName())
	}
	if st := m.statuses[kind].State; st == StateConnecting || st == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.gen[kind]++
	gen := m.gen[kind]
	startCtx, cancel := context.WithCancel(ctx)
	m.cancels[kind] = cancel
	m.setStatusLocked(kind, Connecting())
	m.mu.Unlock()
	defer cancel()

	c, err := m.newClient(cfg, m.logger.With("source", kind))
	if err != nil {
		return m.failStart(kind, gen, err)
	}

	initCtx, initCancel := context.WithTimeout(startCtx, startTimeout)
	_, err = c.Initialize(initCtx)
	initCancel()
	if err != nil {
		c.Close()
		return m.failStart(kind, gen, err)
	}

	listCtx, listCancel := context.WithTimeout(startCtx, startTimeout)
	tools, err := c.ListTools(listCtx)
	listCancel()
	if err != nil {
		c.Close()
		return m.failStart(kind, gen, err)
	}

	m.mu.Lock()
	if m.gen[kind] != gen {
		// StopServer intervened mid-handshake; it already owns the
		// status. Discard this client.
		m.mu.Unlock()
		c.Close()
		return startCtx.Err()
	}
	m.clients[kind] = c
	m.tools[kind] = tools
	m.setStatusLocked(kind, Connected(len(tools)))
	m.mu.Unlock()

	m.logger.Info("source connected", "source", kind, "tools", len(tools))
	return nil
}

// failStart records a handshake failure unless a concurrent
// StopServer/StartServer already superseded this attempt.
func (m *Manager) failStart(kind sources.Kind, gen uint64, err error) error {
	m.mu.Lock()
	if m.gen[kind] == gen {
		m.setStatusLocked(kind, Errored(err.Error()))
	}
	m.mu.Unlock()

	m.logger.Error("source start failed", "source", kind, "error", err)
	return err
}

// StopServer disconnects the kind's client (cancelling an in-flight
// handshake), clears its cached tools, and leaves it Disconnected.
func (m *Manager) StopServer(ctx context.Context, kind sources.Kind) error {
	m.mu.Lock()
	m.gen[kind]++
	if cancel, ok := m.cancels[kind]; ok {
		cancel()
		delete(m.cancels, kind)
	}
	c := m.clients[kind]
	delete(m.clients, kind)
	delete(m.tools, kind)
	m.setStatusLocked(kind, Disconnected())
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	m.logger.Info("source stopped", "source", kind)
	return c.Close()
}

// StartAllEnabled starts every enabled source concurrently. Individual
// failures land in that kind's status and are not returned.
func (m *Manager) StartAllEnabled(ctx context.Context) {
	m.mu.RLock()
	var kinds []sources.Kind
	for k, cfg := range m.configs {
		if cfg.Enabled {
			kinds = append(kinds, k)
		}
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, kind := range kinds {
		g.Go(func() error {
			if err := m.StartServer(ctx, kind); err != nil {
				m.logger.Warn("start skipped", "source", kind, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// StopAll disconnects every running client concurrently.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	kinds := make([]sources.Kind, 0, len(m.clients))
	for k := range m.clients {
		kinds = append(kinds, k)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, kind := range kinds {
		g.Go(func() error {
			if err := m.StopServer(ctx, kind); err != nil {
				m.logger.Warn("stop failed", "source", kind, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// CallTool dispatches a tool invocation to the kind's client.
func (m *Manager) CallTool(ctx context.Context, kind sources.Kind, name string, args map[string]any) (mcp.ToolResult, error) {
	m.mu.RLock()
	c := m.clients[kind]
	m.mu.RUnlock()

	if c == nil {
		return mcp.ToolResult{}, &ServerNotFoundError{Name: kind.DisplayName()}
	}
	return c.CallTool(ctx, name, args)
}

// searchLeg pairs one connected source with its client for the fan-out.
type searchLeg struct {
	kind   sources.Kind
	client client
}

// SearchAcrossSources runs the query against every connected source
// concurrently, parses and scores each source's payload, and returns
// the merged list ordered by descending relevance. Per-source failures
// are logged and swallowed; ties keep completion order.
func (m *Manager) SearchAcrossSources(ctx context.Context, query string) ([]sources.Result, error) {
	m.mu.RLock()
	var legs []searchLeg
	for k, c := range m.clients {
		if m.statuses[k].State == StateConnected {
			legs = append(legs, searchLeg{kind: k, client: c})
		}
	}
	m.mu.RUnlock()

	start := time.Now()
	m.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceSearch,
		Kind:      events.KindSearchStarted,
		Data:      map[string]any{"query": query, "sources": len(legs)},
	})

	var (
		resultsMu sync.Mutex
		results   []sources.Result
	)

	var g errgroup.Group
	for _, leg := range legs {
		g.Go(func() error {
			adapter, ok := sources.ForKind(leg.kind)
			if !ok {
				return nil
			}

			tool, args := adapter.BuildQuery(query)
			res, err := leg.client.CallTool(ctx, tool, args)
			if err != nil {
				m.sourceFailed(leg.kind, err.Error())
				return nil
			}
			if res.IsError {
				m.sourceFailed(leg.kind, res.Content)
				return nil
			}

			parsed := adapter.Parse(res.Content, query)
			resultsMu.Lock()
			results = append(results, parsed...)
			resultsMu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSearch,
		Kind:      events.KindSearchComplete,
		Data: map[string]any{
			"query":      query,
			"results":    len(results),
			"elapsed_ms": time.Since(start).Milliseconds(),
		},
	})

	return results, ctx.Err()
}

// sourceFailed logs and publishes one swallowed search-leg failure.
func (m *Manager) sourceFailed(kind sources.Kind, msg string) {
	m.logger.Warn("source search failed", "source", kind, "error", msg)
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSearch,
		Kind:      events.KindSourceFailed,
		Data:      map[string]any{"source": string(kind), "error": msg},
	})
}

// setStatusLocked records and publishes a status transition. Caller
// holds m.mu.
func (m *Manager) setStatusLocked(kind sources.Kind, st Status) {
	m.statuses[kind] = st
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceManager,
		Kind:      events.KindStatusChanged,
		Data: map[string]any{
			"source":     string(kind),
			"state":      string(st.State),
			"tool_count": st.ToolCount,
			"error":      st.Err,
		},
	})
}
