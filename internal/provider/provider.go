package provider

import (
	"context"

	"ankicli/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Tools       []chat.ToolDef
	Temperature *float64
	MaxTokens   int
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses
type StreamCallbacks struct {
	OnTextChunk      func(chunk string)
	OnReasoningChunk func(chunk string)
	OnToolCall       func(call chat.ToolCall)
	OnUsage          func(usage Usage)
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the sum of two usage reports.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ChatResponse 完整响应
// ChatResponse is the complete response
type ChatResponse struct {
	Content      string
	Reasoning    string
	ToolCalls    []chat.ToolCall
	FinishReason string
	Usage        Usage
}

// Provider 模型提供方接口
// Provider is the language-model backend used by the orchestration loop.
type Provider interface {
	// Chat sends a request and streams the reply through cb (which may be nil).
	Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error)

	// Complete runs a single tool-less exchange and returns the reply text.
	// Delegates and the LLM compaction strategy use it.
	Complete(ctx context.Context, model, system, user string) (string, Usage, error)

	Name() string
	CurrentModel() string
	SetModel(model string) error
}
