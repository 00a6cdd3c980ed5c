package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// anthropicProvider implements Provider on top of Anthropic's Messages
// API. Grounded on the goa-ai example's features/model/anthropic client:
// a MessagesClient seam for testability, request/response translation
// split into small helpers, and tool-call/thinking-block extraction from
// the response content blocks.
type anthropicProvider struct {
	name      string
	client    messagesClient
	model     string
	maxTokens int
	maxToolResultTokens int
}

// messagesClient captures the subset of *sdk.MessageService this package
// calls, so tests can substitute a fake (goa-ai's MessagesClient seam).
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicConfig is the subset of config.LLMProviderConfig an Anthropic
// provider needs, passed as `any` through the Constructor seam to avoid a
// package cycle with config.
type AnthropicConfig struct {
	Model               string
	APIKey              string
	MaxTokens           int
	MaxToolResultTokens int
}

func init() {
	Register("anthropic", func(name string, rawCfg any) (Provider, error) {
		cfg, ok := rawCfg.(AnthropicConfig)
		if !ok {
			return nil, fmt.Errorf("llm: anthropic provider %q: expected AnthropicConfig, got %T", name, rawCfg)
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider %q: empty API key disables this provider", name)
		}
		client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		return &anthropicProvider{
			name:                name,
			client:              &client.Messages,
			model:               cfg.Model,
			maxTokens:           maxTokens,
			maxToolResultTokens: cfg.MaxToolResultTokens,
		}, nil
	})
}

func (p *anthropicProvider) Name() string                { return p.name }
func (p *anthropicProvider) MaxToolResultTokens() int     { return p.maxToolResultTokens }

func (p *anthropicProvider) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return Response{}, err
	}
	msg, err := p.client.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

// Stream invokes Messages.NewStreaming and adapts Anthropic's incremental
// SSE events into typed StreamChunks (spec.md §6 enable_llm_streaming,
// §9 "coroutine-style streaming chunks" redesign), grounded on the
// goa-ai example's features/model/anthropic/stream.go chunk processor.
// A provider that cannot build the request at all (e.g. no messages)
// reports that synchronously on errs rather than opening the stream;
// callers fall back to Complete only on ErrStreamingUnsupported, which
// this provider never returns since it always attempts the real stream.
func (p *anthropicProvider) Stream(ctx context.Context, messages []Message, tools []ToolSpec) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk)
	errs := make(chan error, 1)

	params, err := p.buildParams(messages, tools)
	if err != nil {
		close(chunks)
		errs <- err
		close(errs)
		return chunks, errs
	}

	stream := p.client.NewStreaming(ctx, params)
	go p.pumpStream(stream, chunks, errs)
	return chunks, errs
}

// pumpStream drains one Anthropic SSE stream, translating content-block
// events into StreamChunks. Tool-call arguments arrive as successive
// input_json_delta fragments and are only emitted, joined, once the block
// closes — mirroring goa-ai's toolBuffer accumulation.
func (p *anthropicProvider) pumpStream(stream *ssestream.Stream[sdk.MessageStreamEventUnion], chunks chan<- StreamChunk, errs chan<- error) {
	defer close(chunks)
	defer close(errs)
	defer stream.Close()

	toolBlocks := make(map[int64]*pendingToolCall)
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &pendingToolCall{id: toolUse.ID, name: toolUse.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					chunks <- StreamChunk{Kind: ChunkResponse, Delta: delta.Text}
				}
			case sdk.ThinkingDelta:
				if delta.Thinking != "" {
					chunks <- StreamChunk{Kind: ChunkThinking, Delta: delta.Thinking}
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[ev.Index]; tb != nil && delta.PartialJSON != "" {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb := toolBlocks[ev.Index]; tb != nil {
				delete(toolBlocks, ev.Index)
				chunks <- StreamChunk{
					Kind: ChunkFunctionCall,
					Call: &ToolCall{ID: tb.id, ToolName: tb.name, Arguments: decodeToolArgs(strings.Join(tb.fragments, ""))},
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errs <- fmt.Errorf("anthropic messages.new stream: %w", err)
	}
}

type pendingToolCall struct {
	id, name  string
	fragments []string
}

func decodeToolArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// ErrStreamingUnsupported is returned by Stream implementations that have
// no incremental transport wired in yet; the controller falls back to
// Complete when it sees this on a provider's error channel.
var ErrStreamingUnsupported = fmt.Errorf("llm: streaming not implemented by this provider")

func (p *anthropicProvider) buildParams(messages []Message, toolSpecs []ToolSpec) (sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return sdk.MessageNewParams{}, fmt.Errorf("anthropic: messages are required")
	}

	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "user":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			return sdk.MessageNewParams{}, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolSpecs) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(toolSpecs))
		for _, t := range toolSpecs {
			schema := sdk.ToolInputSchemaParam{ExtraFields: t.InputSchema}
			u := sdk.ToolUnionParamOfTool(schema, t.Name)
			if u.OfTool != nil {
				u.OfTool.Description = sdk.String(t.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	return params, nil
}

func translateMessage(msg *sdk.Message) Response {
	var resp Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				ToolName:  block.Name,
				Arguments: anyMap(block.Input),
			})
		}
	}
	resp.IsComplete = len(resp.ToolCalls) == 0
	resp.InputTokens = int(msg.Usage.InputTokens)
	resp.OutputTokens = int(msg.Usage.OutputTokens)
	return resp
}

func anyMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
