package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChatModel struct {
	reply    string
	err      error
	lastMsgs []*schema.Message
	lastOpts *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.lastMsgs = input
	f.lastOpts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.err != nil {
		return nil, f.err
	}
	msg := schema.AssistantMessage(f.reply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
		PromptTokens:     30,
		CompletionTokens: 70,
		TotalTokens:      100,
	}}
	return msg, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoCompleterComplete(t *testing.T) {
	fake := &fakeChatModel{reply: `[{"claim":"c"}]`}
	c := NewEinoCompleter(fake, ProviderXAI, "grok-beta", nil, zaptest.NewLogger(t))

	out, err := c.Complete(context.Background(), CompletionRequest{
		System:      "You are a news analyst",
		Prompt:      "Research X",
		MaxTokens:   4000,
		Temperature: Float32(0.7),
	})
	require.NoError(t, err)

	assert.Equal(t, `[{"claim":"c"}]`, out.Text)
	assert.Equal(t, 100, out.TotalTokens())
	require.Len(t, fake.lastMsgs, 2)
	assert.Equal(t, schema.System, fake.lastMsgs[0].Role)
	assert.Equal(t, schema.User, fake.lastMsgs[1].Role)
	require.NotNil(t, fake.lastOpts.MaxTokens)
	assert.Equal(t, 4000, *fake.lastOpts.MaxTokens)
	require.NotNil(t, fake.lastOpts.Temperature)
	assert.InDelta(t, 0.7, *fake.lastOpts.Temperature, 1e-6)
}

func TestEinoCompleterNoSystemMessage(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	c := NewEinoCompleter(fake, ProviderOllama, "llama3.1", nil, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, fake.lastMsgs, 1)
	assert.Nil(t, fake.lastOpts.MaxTokens)
}

func TestEinoCompleterError(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("503 upstream")}
	c := NewEinoCompleter(fake, ProviderXAI, "grok-beta", nil, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	assert.ErrorContains(t, err, "503 upstream")
}

func TestNewChatModelRequiresKey(t *testing.T) {
	_, err := NewChatModel(context.Background(), ChatConfig{Provider: ProviderXAI, Model: "grok-beta"})
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = NewChatModel(context.Background(), ChatConfig{Provider: "bogus"})
	assert.ErrorContains(t, err, "unsupported chat provider")
}

func TestNewChatModelXAI(t *testing.T) {
	m, err := NewChatModel(context.Background(), ChatConfig{Provider: ProviderXAI, Model: "grok-beta", APIKey: "xai-test"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func newClaudeCompleter(t *testing.T, baseURL string) *EinoCompleter {
	t.Helper()
	chat, err := NewChatModel(context.Background(), ChatConfig{
		Provider: ProviderAnthropic,
		APIKey:   "test-key",
		BaseURL:  baseURL,
	})
	require.NoError(t, err)
	return NewEinoCompleter(chat, ProviderAnthropic, DefaultAnthropicModel, nil, zaptest.NewLogger(t))
}

func TestEinoCompleterClaudeThinking(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "thinking", "thinking": "let me plan", "signature": "sig"},
				{"type": "text", "text": "{\"clarified_query\": \"q\"}"}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 120, "output_tokens": 45}
		}`))
	}))
	defer srv.Close()

	out, err := newClaudeCompleter(t, srv.URL).Complete(context.Background(), CompletionRequest{
		System:         "You plan research",
		Prompt:         "plan this",
		MaxTokens:      16000,
		ThinkingBudget: 10000,
		Temperature:    Float32(0.7),
	})
	require.NoError(t, err)

	assert.Equal(t, `{"clarified_query": "q"}`, out.Text)
	assert.Equal(t, 120, out.InputTokens)
	assert.Equal(t, 45, out.OutputTokens)
	assert.Equal(t, ProviderAnthropic, out.Provider)

	assert.Equal(t, DefaultAnthropicModel, got["model"])
	assert.EqualValues(t, 16000, got["max_tokens"])
	thinking, ok := got["thinking"].(map[string]interface{})
	require.True(t, ok, "thinking block missing: %v", got)
	assert.Equal(t, "enabled", thinking["type"])
	assert.EqualValues(t, 10000, thinking["budget_tokens"])
	assert.NotContains(t, got, "temperature")
}

func TestEinoCompleterClaudeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	_, err := newClaudeCompleter(t, srv.URL).Complete(context.Background(), CompletionRequest{Prompt: "x", MaxTokens: 100})
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.False(t, se.Retryable())
	assert.Contains(t, se.Error(), "authentication_error")
}

func TestEinoCompleterThinkingOnlyForAnthropic(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	c := NewEinoCompleter(fake, ProviderXAI, "grok-beta", nil, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), CompletionRequest{
		Prompt: "hi", MaxTokens: 8000, ThinkingBudget: 4000, Temperature: Float32(0.3),
	})
	require.NoError(t, err)
	require.NotNil(t, fake.lastOpts.Temperature)

	fake = &fakeChatModel{reply: "ok"}
	c = NewEinoCompleter(fake, ProviderAnthropic, DefaultAnthropicModel, nil, zaptest.NewLogger(t))
	_, err = c.Complete(context.Background(), CompletionRequest{
		Prompt: "hi", MaxTokens: 8000, ThinkingBudget: 4000, Temperature: Float32(0.3),
	})
	require.NoError(t, err)
	assert.Nil(t, fake.lastOpts.Temperature)
}

func TestClampThinkingBudget(t *testing.T) {
	assert.Equal(t, 0, clampThinkingBudget(0, 16000))
	assert.Equal(t, 10000, clampThinkingBudget(10000, 16000))
	assert.Equal(t, 1024, clampThinkingBudget(200, 16000))
	assert.Equal(t, 7999, clampThinkingBudget(10000, 8000))
	assert.Equal(t, 0, clampThinkingBudget(5000, 1000))
}

func TestStatusErrorRetryable(t *testing.T) {
	assert.False(t, (&StatusError{Code: http.StatusUnauthorized}).Retryable())
	assert.False(t, (&StatusError{Code: http.StatusBadRequest}).Retryable())
	assert.True(t, (&StatusError{Code: http.StatusTooManyRequests}).Retryable())
	assert.True(t, (&StatusError{Code: http.StatusBadGateway}).Retryable())
}
