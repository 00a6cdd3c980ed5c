package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/metrics"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// ToolCall is one structured tool invocation asked for by an iteration
// controller (spec.md §4.5, §4.6). Name is server-qualified,
// "<server>.<tool>".
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult is what Dispatch returns for one call. IsError distinguishes
// an execution-time failure (still a valid record, per spec.md §4.6 "does
// not raise") from a genuine success.
type ToolResult struct {
	CallID    string
	Name      string
	Content   string
	IsError   bool
	ErrorType string // "tool_execution_failure" when IsError, else ""
}

// ToolDefinition is one tool offered to the LLM, filtered through the
// allow-list (spec.md §4.6 "Tool listing").
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string
}

// MCPServerSelectionError reports a session's mcp selection naming a
// server the agent isn't configured to use (spec.md §4.6).
type MCPServerSelectionError struct {
	Requested []string
	Available []string
}

func (e *MCPServerSelectionError) Error() string {
	return fmt.Sprintf("mcptool: requested MCP servers %v not a subset of agent's available servers %v", e.Requested, e.Available)
}

// MCPToolSelectionError reports a session's mcp selection naming a tool
// unknown to the selected server (spec.md §4.6).
type MCPToolSelectionError struct {
	Server    string
	Requested []string
	Available []string
}

func (e *MCPToolSelectionError) Error() string {
	return fmt.Sprintf("mcptool: requested tools %v for server %q not a subset of available tools %v", e.Requested, e.Server, e.Available)
}

// Dispatcher resolves allow-lists and executes tool calls through a
// Client, recording every call and listing via the hook fabric (spec.md
// §4.6, component C6). Grounded on the teacher's pkg/mcp/executor.go:
// normalize-resolve-parse-execute-convert pipeline, errors returned as
// ToolResult content rather than Go errors, and server-prefixed tool
// names in ListTools.
type Dispatcher struct {
	client           *Client
	mgr              *hooks.Manager
	sessionID        string
	stageExecutionID string

	// serverIDs is the effective, already-resolved allow-list: either the
	// agent's default servers, or the session's mcp selection narrowed to a
	// subset of them (spec.md §4.6 allow-list resolution, run once when the
	// Dispatcher is constructed for a stage).
	serverIDs []string
	// toolFilter maps server -> allowed tools; absent or empty means "all
	// tools this server advertises".
	toolFilter map[string][]string

	schemas *schemaValidator

	// Metrics records tool-call latency. Nil disables recording; callers
	// set it after construction (scheduler wiring sets it from the shared
	// collector alongside Hub.Metrics/Scheduler.Metrics).
	Metrics *metrics.Metrics
}

// NewDispatcher resolves the effective allow-list for one agent execution
// and returns a ready-to-use Dispatcher, or an MCPServerSelectionError /
// MCPToolSelectionError if the session's mcp selection can't be
// satisfied (spec.md §4.6 resolution rules).
func NewDispatcher(
	client *Client,
	mgr *hooks.Manager,
	sessionID, stageExecutionID string,
	agentServers []string,
	sessionSelection *models.MCPSelectionConfig,
) (*Dispatcher, error) {
	if sessionSelection == nil || len(sessionSelection.Servers) == 0 {
		return &Dispatcher{
			client:           client,
			mgr:              mgr,
			sessionID:        sessionID,
			stageExecutionID: stageExecutionID,
			serverIDs:        agentServers,
			schemas:          newSchemaValidator(),
		}, nil
	}

	requested := sessionSelection.ServerNames()
	for _, r := range requested {
		if !contains(agentServers, r) {
			return nil, &MCPServerSelectionError{Requested: requested, Available: agentServers}
		}
	}

	filter := make(map[string][]string, len(requested))
	for _, serverID := range requested {
		if tools, ok := sessionSelection.ToolsFor(serverID); ok {
			filter[serverID] = tools
		}
	}

	return &Dispatcher{
		client:           client,
		mgr:              mgr,
		sessionID:        sessionID,
		stageExecutionID: stageExecutionID,
		serverIDs:        requested,
		toolFilter:       filter,
		schemas:          newSchemaValidator(),
	}, nil
}

// ValidateToolSelection re-checks requested tool names against a server's
// actually-advertised tools, surfacing MCPToolSelectionError at session
// start rather than at first call (spec.md §4.6: unknown tools in the
// session's mcp selection are rejected with the requested/available
// sets). Called once per selected server after the client has connected.
func (d *Dispatcher) ValidateToolSelection(ctx context.Context, serverID string) error {
	filter, ok := d.toolFilter[serverID]
	if !ok || len(filter) == 0 {
		return nil
	}
	tools, err := d.client.ListTools(ctx, serverID)
	if err != nil {
		return err
	}
	available := make([]string, 0, len(tools))
	for _, t := range tools {
		available = append(available, t.Name)
	}
	for _, want := range filter {
		if !contains(available, want) {
			return &MCPToolSelectionError{Server: serverID, Requested: filter, Available: available}
		}
	}
	return nil
}

// resolve re-validates a call's server.tool name against the effective
// allow-list at execution time (spec.md §4.6: "every individual tool call
// is re-validated... does not raise — it yields an error record").
func (d *Dispatcher) resolve(name string) (serverID, toolName string, err error) {
	serverID, toolName, err = splitToolName(name)
	if err != nil {
		return "", "", err
	}
	if !contains(d.serverIDs, serverID) {
		return "", "", fmt.Errorf("server %q is not available for this execution (available: %s)", serverID, strings.Join(d.serverIDs, ", "))
	}
	if filter, ok := d.toolFilter[serverID]; ok && len(filter) > 0 {
		if !contains(filter, toolName) {
			return "", "", fmt.Errorf("tool %q is not available on server %q (available: %s)", toolName, serverID, strings.Join(filter, ", "))
		}
	}
	return serverID, toolName, nil
}

// Dispatch executes one tool call, entering an MCP hook scope so timing
// and audit are captured exactly once (spec.md §4.1, §4.6).
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	serverID, toolName, err := d.resolve(call.Name)
	if err != nil {
		return ToolResult{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true, ErrorType: "tool_execution_failure"}
	}

	argsJSON, _ := json.Marshal(call.Arguments)
	scope := d.mgr.NewMCPCallScope(d.sessionID, d.stageExecutionID, serverID, toolName, string(argsJSON), "")
	start := time.Now()

	if schema := d.client.ToolSchema(serverID, toolName); schema != nil {
		if err := d.schemas.validate(call.Name, schema, call.Arguments); err != nil {
			valErr := fmt.Errorf("tool arguments failed schema validation: %w", err)
			scope.CompleteError(ctx, valErr)
			d.observeToolCall(serverID, toolName, "error", start)
			return ToolResult{CallID: call.ID, Name: call.Name, Content: valErr.Error(), IsError: true, ErrorType: "tool_execution_failure"}
		}
	}

	result, err := d.client.CallTool(ctx, serverID, toolName, call.Arguments)
	if err != nil {
		scope.CompleteError(ctx, err)
		d.observeToolCall(serverID, toolName, "error", start)
		return ToolResult{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true, ErrorType: "tool_execution_failure"}
	}

	content := extractText(result)
	scope.CompleteSuccess(ctx, content)
	d.observeToolCall(serverID, toolName, "success", start)
	res := ToolResult{CallID: call.ID, Name: call.Name, Content: content, IsError: result.IsError}
	if result.IsError {
		res.ErrorType = "tool_execution_failure"
	}
	return res
}

func (d *Dispatcher) observeToolCall(serverID, toolName, status string, start time.Time) {
	if d.Metrics == nil {
		return
	}
	metrics.ObserveSeconds(d.Metrics.MCPToolDuration.WithLabelValues(serverID, toolName, status), start)
}

// DispatchAll runs every call and groups the results by server name
// (spec.md §4.6: "Results are grouped by server name in the returned
// map").
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []ToolCall) map[string][]ToolResult {
	grouped := make(map[string][]ToolResult)
	for _, call := range calls {
		serverID, _, err := splitToolName(call.Name)
		if err != nil {
			serverID = "unknown"
		}
		grouped[serverID] = append(grouped[serverID], d.Dispatch(ctx, call))
	}
	return grouped
}

// ListTools returns tools from the effective server set, filtered through
// the allow-list, entering a tool-list hook scope per server (spec.md
// §4.6 "Tool listing").
func (d *Dispatcher) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var out []ToolDefinition
	for _, serverID := range d.serverIDs {
		scope := d.mgr.NewMCPListScope(d.sessionID, d.stageExecutionID, serverID, "")
		tools, err := d.client.ListTools(ctx, serverID)
		if err != nil {
			scope.CompleteError(ctx, err)
			continue
		}

		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
		}
		scope.CompleteSuccess(ctx, names)

		filter, hasFilter := d.toolFilter[serverID]
		for _, t := range tools {
			if hasFilter && len(filter) > 0 && !contains(filter, t.Name) {
				continue
			}
			out = append(out, ToolDefinition{
				Name:             serverID + "." + t.Name,
				Description:      t.Description,
				ParametersSchema: marshalSchema(t.InputSchema),
			})
		}
	}
	return out, nil
}

func splitToolName(name string) (serverID, toolName string, err error) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", fmt.Errorf("mcptool: malformed tool name %q, expected \"server.tool\"", name)
	}
	return name[:idx], name[idx+1:], nil
}

func extractText(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(data)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
