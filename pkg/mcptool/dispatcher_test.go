package mcptool

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// emptySchema is a minimal valid JSON Schema for test tools (teacher's
// pkg/mcp/client_test.go emptySchema).
var emptySchema = json.RawMessage(`{"type":"object"}`)

// startTestServer spins up an in-memory MCP server and returns the client
// side of the transport, grounded on the teacher's pkg/mcp/client_test.go
// startTestServer.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *mcpsdk.InMemoryTransport {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{Name: toolName, Description: "test tool: " + toolName, InputSchema: emptySchema}, handler)
	}
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() { _ = server.Run(context.Background(), serverTransport) }()
	return clientTransport
}

func newTestDispatcher(t *testing.T, servers map[string]map[string]mcpsdk.ToolHandler, selection *models.MCPSelectionConfig) *Dispatcher {
	t.Helper()
	registry := config.NewMCPServerRegistry(nil)
	client := NewClient(registry)
	var serverIDs []string

	for serverID, tools := range servers {
		transport := startTestServer(t, serverID, tools)
		serverIDs = append(serverIDs, serverID)

		sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "tarsy-test", Version: "test"}, nil)
		session, err := sdkClient.Connect(context.Background(), transport, nil)
		require.NoError(t, err)
		client.InjectSession(serverID, session)
	}
	t.Cleanup(func() { _ = client.Close() })

	mgr := hooks.NewManager()
	d, err := NewDispatcher(client, mgr, "session-1", "stage-1", serverIDs, selection)
	require.NoError(t, err)
	return d
}

func TestDispatcher_Dispatch_Success(t *testing.T) {
	d := newTestDispatcher(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes-server": {
			"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pod-1, pod-2"}}}, nil
			},
		},
	}, nil)

	result := d.Dispatch(context.Background(), ToolCall{ID: "call-1", Name: "kubernetes-server.get_pods"})
	assert.False(t, result.IsError)
	assert.Equal(t, "pod-1, pod-2", result.Content)
	assert.Equal(t, "call-1", result.CallID)
}

func TestDispatcher_Dispatch_UnknownServer_YieldsErrorRecordNotGoError(t *testing.T) {
	d := newTestDispatcher(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes-server": {
			"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{}, nil
			},
		},
	}, nil)

	result := d.Dispatch(context.Background(), ToolCall{ID: "call-1", Name: "unknown-server.get_pods"})
	assert.True(t, result.IsError)
	assert.Equal(t, "tool_execution_failure", result.ErrorType)
}

func TestNewDispatcher_SessionSelectionNotSubsetOfAgentServers(t *testing.T) {
	registry := config.NewMCPServerRegistry(nil)
	client := NewClient(registry)
	mgr := hooks.NewManager()

	_, err := NewDispatcher(client, mgr, "session-1", "stage-1",
		[]string{"kubernetes-server"},
		&models.MCPSelectionConfig{Servers: []models.MCPServerSelection{{Name: "other-server"}}},
	)

	var selErr *MCPServerSelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, []string{"other-server"}, selErr.Requested)
}

func TestDispatcher_DispatchAll_GroupsByServer(t *testing.T) {
	d := newTestDispatcher(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes-server": {
			"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil
			},
		},
	}, nil)

	grouped := d.DispatchAll(context.Background(), []ToolCall{
		{ID: "1", Name: "kubernetes-server.get_pods"},
		{ID: "2", Name: "kubernetes-server.get_pods"},
	})

	assert.Len(t, grouped["kubernetes-server"], 2)
}
