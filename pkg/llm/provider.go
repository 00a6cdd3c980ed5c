// Package llm defines the LLM capability boundary (spec.md §4.5, §9
// "Reflection-based provider selection" redesign flag) and a static
// provider registry keyed by provider type string. Concrete wire
// protocols are out of scope (spec.md §1); this package only defines the
// interface a controller calls against and the construction registry, plus
// one reference implementation wired to anthropic-sdk-go so the interface
// has at least one real binding to compile against (grounded on the
// goa-ai example's Anthropic wiring).
package llm

import "context"

// ToolCall is one structured tool invocation the LLM asked for.
type ToolCall struct {
	ID        string
	ToolName  string
	Arguments map[string]any
}

// Message is one turn of the conversation sent to or received from the
// provider.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Response is what one provider call returns: either a final answer, a
// set of tool calls to dispatch, or a ReAct-style structured thought.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	IsComplete   bool
	InputTokens  int
	OutputTokens int
}

// StreamChunkKind distinguishes the lazy finite sequence of typed chunks
// spec.md §9 redesigns "coroutine-style streaming chunks" into.
type StreamChunkKind string

const (
	ChunkThinking     StreamChunkKind = "thinking"
	ChunkResponse     StreamChunkKind = "response"
	ChunkFunctionCall StreamChunkKind = "function_call"
)

// StreamChunk is one element of a streamed response.
type StreamChunk struct {
	Kind  StreamChunkKind
	Delta string
	Call  *ToolCall
}

// StreamEmitter publishes one StreamChunk as a controller consumes it off
// a provider's Stream channel (spec.md §6 enable_llm_streaming: "an
// emitter writes them to the broadcast fabric with intermediate_response
// and exactly one final_answer marker at the end"). marker is
// "intermediate_response" for every chunk as it streams and
// "final_answer" for the one synthetic chunk sent after the provider's
// channel closes. Defined here, not in package events, so this package
// does not need to import events.
type StreamEmitter interface {
	EmitChunk(ctx context.Context, sessionID, stageExecutionID, marker string, chunk StreamChunk)
}

// Provider is the capability boundary a controller calls against. Concrete
// wire formats (HTTP bodies, SDK-specific types) live entirely behind an
// implementation; the controller only sees Message/Response.
type Provider interface {
	// Name identifies this provider instance for logging/audit (not
	// necessarily the provider type — callers may have several
	// differently-configured instances of the same type).
	Name() string

	// Complete sends the full conversation and returns one Response. Used
	// by both iteration strategies (spec.md §4.5) and the forced-
	// conclusion call, which must reuse the same Provider instance.
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error)

	// Stream is Complete's streaming counterpart (spec.md §6
	// enable_llm_streaming), yielding a finite sequence of typed chunks.
	// The end of the response is signaled by the chunk channel closing; the
	// error channel then carries at most one error.
	Stream(ctx context.Context, messages []Message, tools []ToolSpec) (<-chan StreamChunk, <-chan error)

	// MaxToolResultTokens is this provider's configured cap (spec.md §6).
	MaxToolResultTokens() int
}

// ToolSpec describes one tool the LLM may call, filtered through the
// tool-dispatcher's allow-list (component C6) before being offered here.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Constructor builds a Provider from a config.LLMProviderConfig-shaped
// value (kept as `any` here to avoid an import cycle with package config;
// callers type-assert or pass a closure capturing their own config type).
type Constructor func(name string, cfg any) (Provider, error)

// registry is the static map[provider_type]Constructor spec.md §9
// prescribes in place of reflection-based selection.
var registry = map[string]Constructor{}

// Register adds a Constructor for providerType. Called from each
// provider implementation's init(), mirroring a static registry rather
// than a reflection-driven one.
func Register(providerType string, ctor Constructor) {
	registry[providerType] = ctor
}

// New builds a Provider of providerType by name, or reports
// ErrUnknownProviderType. A construction failure yields an error, never a
// panic (spec.md §9: "initialization failure yields an unavailable
// provider marker, not a panic").
func New(providerType, name string, cfg any) (Provider, error) {
	ctor, ok := registry[providerType]
	if !ok {
		return nil, &UnknownProviderTypeError{Type: providerType}
	}
	return ctor(name, cfg)
}

// UnknownProviderTypeError reports an unregistered provider type string.
type UnknownProviderTypeError struct{ Type string }

func (e *UnknownProviderTypeError) Error() string {
	return "llm: unknown provider type: " + e.Type
}
