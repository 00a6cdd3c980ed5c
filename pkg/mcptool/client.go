// Package mcptool implements the tool dispatcher (spec.md §4.6, component
// C6): a thin MCP session manager plus allow-list resolution and
// execution-time re-validation over it.
//
// Grounded on the teacher's pkg/mcp/client.go: per-server
// *mcpsdk.ClientSession map guarded by a mutex, a tool-name cache populated
// on first ListTools. CallTool makes a single attempt: it neither retries
// nor recreates the session on failure (this module's Non-goals exclude
// the teacher's broader MCP reliability surface — see DESIGN.md). Transport is
// github.com/modelcontextprotocol/go-sdk, carried straight from the
// teacher's go.mod.
package mcptool

import (
	"context"
	"fmt"
	"io"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-run/tarsy/pkg/config"
)

// appName/appVersion identify this process to MCP servers during the
// initialize handshake (teacher's version.AppName/GitCommit, simplified to
// static constants since this module has no build-stamped version
// package).
const (
	appName    = "tarsy"
	appVersion = "dev"
)

// Client manages MCP sessions for every server configured in the registry.
// One Client is created per session (alert processing), matching the
// teacher's per-session scoping.
type Client struct {
	registry *config.MCPServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	failedServers map[string]string

	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool
}

// NewClient creates an unconnected Client bound to registry.
func NewClient(registry *config.MCPServerRegistry) *Client {
	return &Client{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
	}
}

// Initialize connects to every named server. A server that fails to
// connect is recorded in FailedServers rather than aborting the others
// (teacher's client.go: "partial initialization is acceptable" for
// per-session use).
func (c *Client) Initialize(ctx context.Context, serverIDs []string) {
	for _, id := range serverIDs {
		if err := c.connect(ctx, id); err != nil {
			c.mu.Lock()
			c.failedServers[id] = err.Error()
			c.mu.Unlock()
		}
	}
}

func (c *Client) connect(ctx context.Context, serverID string) error {
	c.mu.RLock()
	_, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return nil
	}

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("mcptool: server %q not found in registry: %w", serverID, err)
	}

	transport, err := newTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("mcptool: transport for %q: %w", serverID, err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: appName, Version: appVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("mcptool: connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	delete(c.failedServers, serverID)
	c.mu.Unlock()
	return nil
}

// ListTools returns a server's tools, using the cache after the first call.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverID]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("mcptool: no session for server %q", serverID)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptool: list tools from %q: %w", serverID, err)
	}
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}

	c.toolCacheMu.Lock()
	c.toolCache[serverID] = tools
	c.toolCacheMu.Unlock()
	return tools, nil
}

// CallTool invokes one tool on one server. Errors are returned to the
// caller as Go errors; the dispatcher (dispatcher.go) is responsible for
// converting them into the non-raising error records spec.md §4.6
// requires at execution time.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("mcptool: no session for server %q", serverID)
	}
	return session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
}

// ToolSchema returns a cached tool's InputSchema, or nil if the tool or
// its server hasn't been listed yet.
func (c *Client) ToolSchema(serverID, toolName string) any {
	c.toolCacheMu.RLock()
	defer c.toolCacheMu.RUnlock()
	for _, t := range c.toolCache[serverID] {
		if t.Name == toolName {
			return t.InputSchema
		}
	}
	return nil
}

// InjectSession wires a pre-connected session into the Client, bypassing
// the real transport/Initialize path. Test-only (teacher's
// pkg/mcp/testing.go InjectSession).
func (c *Client) InjectSession(serverID string, session *mcpsdk.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[serverID] = session
}

// FailedServers reports servers that failed to connect during Initialize.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		out[k] = v
	}
	return out
}

// Close tears down every open session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptool: close session %q: %w", id, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}
