package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// fakeDecoder feeds a fixed sequence of SSE events to an ssestream.Stream,
// grounded on the goa-ai example's features/model/anthropic/stream_test.go
// testDecoder.
type fakeDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *fakeDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *fakeDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *fakeDecoder) Close() error { return nil }
func (d *fakeDecoder) Err() error   { return nil }

type fakeMessagesClient struct {
	events []ssestream.Event
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	return &sdk.Message{}, nil
}

func (f *fakeMessagesClient) NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	dec := &fakeDecoder{events: f.events}
	return ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
}

func mustEvent(t *testing.T, typ string, jsonBody string) ssestream.Event {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(jsonBody), &ev))
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return ssestream.Event{Type: typ, Data: data}
}

func TestAnthropicProvider_Stream_TextAndToolCall(t *testing.T) {
	events := []ssestream.Event{
		mustEvent(t, "content_block_delta", `{
			"type": "content_block_delta", "index": 0,
			"delta": {"type": "text_delta", "text": "investigating "}
		}`),
		mustEvent(t, "content_block_start", `{
			"type": "content_block_start", "index": 1,
			"content_block": {"type": "tool_use", "id": "t1", "name": "get_pods"}
		}`),
		mustEvent(t, "content_block_delta", `{
			"type": "content_block_delta", "index": 1,
			"delta": {"type": "input_json_delta", "partial_json": "{\"namespace\":"}
		}`),
		mustEvent(t, "content_block_delta", `{
			"type": "content_block_delta", "index": 1,
			"delta": {"type": "input_json_delta", "partial_json": "\"default\"}"}
		}`),
		mustEvent(t, "content_block_stop", `{"type": "content_block_stop", "index": 1}`),
		mustEvent(t, "message_stop", `{"type": "message_stop"}`),
	}

	p := &anthropicProvider{name: "anthropic", client: &fakeMessagesClient{events: events}, model: "claude", maxTokens: 1024}

	chunks, errs := p.Stream(context.Background(), []Message{{Role: "user", Content: "go"}}, nil)

	var got []StreamChunk
	for c := range chunks {
		got = append(got, c)
	}
	assert.NoError(t, <-errs)

	require.Len(t, got, 2)
	assert.Equal(t, ChunkResponse, got[0].Kind)
	assert.Equal(t, "investigating ", got[0].Delta)
	assert.Equal(t, ChunkFunctionCall, got[1].Kind)
	require.NotNil(t, got[1].Call)
	assert.Equal(t, "t1", got[1].Call.ID)
	assert.Equal(t, "get_pods", got[1].Call.ToolName)
	assert.Equal(t, "default", got[1].Call.Arguments["namespace"])
}

func TestAnthropicProvider_Stream_BuildParamsError(t *testing.T) {
	p := &anthropicProvider{name: "anthropic", client: &fakeMessagesClient{}, model: "claude", maxTokens: 1024}

	chunks, errs := p.Stream(context.Background(), nil, nil)

	_, ok := <-chunks
	assert.False(t, ok, "chunks should be closed immediately on a build error")
	assert.Error(t, <-errs)
}
