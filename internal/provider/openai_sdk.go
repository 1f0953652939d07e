package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"ankicli/internal/chat"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultMaxRetries bounds transient-failure retries of one model call.
const DefaultMaxRetries = 3

// OpenAIProvider 使用 go-openai SDK 的 Provider 实现
// OpenAIProvider implements Provider against any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client     *openai.Client
	httpClient *http.Client
	model      string
	cfg        OpenAIConfig
	logger     *slog.Logger
	mu         sync.RWMutex

	// backoff returns the wait before retry attempt n (n >= 1).
	backoff func(n int) time.Duration
}

// OpenAIConfig SDK provider 配置
// OpenAIConfig is the SDK provider configuration
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutMS  int
	MaxRetries int
	// SDKOnly skips the raw SSE path and streams through go-openai directly.
	SDKOnly bool
}

// NewOpenAIProvider 创建基于 SDK 的 provider
// NewOpenAIProvider creates an SDK-based provider
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(config),
		httpClient: httpClient,
		model:      cfg.Model,
		cfg:        cfg,
		logger:     logger,
		backoff:    exponentialBackoff,
	}
}

func exponentialBackoff(n int) time.Duration {
	return time.Duration(150*(1<<(n-1))) * time.Millisecond
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is empty")
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
	return nil
}

// Chat streams one completion, retrying transient failures with exponential
// backoff. Cancellation of ctx returns immediately with ctx.Err().
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.CurrentModel()
	}

	var out ChatResponse
	err := p.retry(ctx, func() error {
		var compatErr error
		if !p.cfg.SDKOnly {
			resp, err := p.chatStreamCompat(ctx, compatChatRequest{
				Model:         model,
				Messages:      toCompatMessages(req.Messages),
				Stream:        true,
				StreamOptions: &compatStreamOptions{IncludeUsage: true},
				Tools:         req.Tools,
				Temperature:   req.Temperature,
				MaxTokens:     req.MaxTokens,
			}, cb)
			if err == nil {
				out = resp
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Debug("compat stream failed, trying sdk stream", "model", model, "error", err)
			compatErr = err
		}
		// 兼容实现失败时，回退到 SDK 实现
		// Fall back to the SDK stream when the compat stream fails.
		resp, err := p.chatStream(ctx, buildSDKRequest(model, req), cb)
		if err == nil {
			out = resp
			return nil
		}
		if compatErr != nil {
			return compatErr
		}
		return err
	})
	if err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// Complete runs a tool-less, non-streaming completion.
func (p *OpenAIProvider) Complete(ctx context.Context, model, system, user string) (string, Usage, error) {
	if model == "" {
		model = p.CurrentModel()
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	var (
		text  string
		usage Usage
	)
	err := p.retry(ctx, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
		})
		if err != nil {
			return fmt.Errorf("create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion has no choices")
		}
		text = resp.Choices[0].Message.Content
		usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		return nil
	})
	return text, usage, err
}

// retry runs fn up to MaxRetries+1 times. Context errors are never retried.
func (p *OpenAIProvider) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
			p.logger.Debug("retrying model call", "attempt", attempt, "error", lastErr)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if isCancel(err) || ctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	p.logger.Warn("model call failed", "retries", p.cfg.MaxRetries, "error", lastErr)
	return fmt.Errorf("provider chat failed after %d retries: %w", p.cfg.MaxRetries, lastErr)
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isRetryable rejects client errors that a retry cannot fix.
func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// --- OpenAI-compatible streaming (compat) ---

type compatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// compatMessage is the request shape of a turn. Local bookkeeping fields of
// chat.Message (reasoning, timestamps) stay out of the request.
type compatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []chat.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

func toCompatMessages(msgs []chat.Message) []compatMessage {
	out := make([]compatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = compatMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

type compatChatRequest struct {
	Model         string               `json:"model"`
	Messages      []compatMessage      `json:"messages"`
	Stream        bool                 `json:"stream"`
	StreamOptions *compatStreamOptions `json:"stream_options,omitempty"`
	Tools         []chat.ToolDef       `json:"tools,omitempty"`
	ToolChoice    any                  `json:"tool_choice,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
}

type compatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content,omitempty"`
			Reasoning        string `json:"reasoning,omitempty"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
			ToolCalls        []struct {
				Index    *int   `json:"index,omitempty"`
				ID       string `json:"id,omitempty"`
				Type     string `json:"type,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function,omitempty"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func (p *OpenAIProvider) chatStreamCompat(ctx context.Context, req compatChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(p.cfg.BaseURL), "/")
	if baseURL == "" {
		return ChatResponse{}, fmt.Errorf("base_url is empty")
	}
	if len(req.Tools) > 0 && req.ToolChoice == nil {
		req.ToolChoice = "auto"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(p.cfg.APIKey); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	client := p.httpClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return ChatResponse{}, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	acc := newStreamAccumulator(cb)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		var chunk compatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil {
				acc.finish(*choice.FinishReason)
			}
			acc.text(choice.Delta.Content)
			if choice.Delta.ReasoningContent != "" {
				acc.reasoning(choice.Delta.ReasoningContent)
			} else {
				acc.reasoning(choice.Delta.Reasoning)
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc.toolDelta(idx, tc.ID, tc.Type, tc.Function.Name, tc.Function.Arguments)
			}
		}
		if chunk.Usage != nil {
			acc.usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		// Partial output is kept; an empty stream is an error.
		if acc.empty() {
			return ChatResponse{}, fmt.Errorf("stream scan: %w", err)
		}
	}
	return acc.done(), nil
}

func buildSDKRequest(model string, req ChatRequest) openai.ChatCompletionRequest {
	sdkReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      convertMessages(req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(req.Tools) > 0 {
		sdkReq.Tools = convertTools(req.Tools)
		sdkReq.ToolChoice = "auto"
	}
	if req.Temperature != nil {
		sdkReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		sdkReq.MaxTokens = req.MaxTokens
	}
	return sdkReq
}

func (p *OpenAIProvider) chatStream(ctx context.Context, req openai.ChatCompletionRequest, cb *StreamCallbacks) (ChatResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	acc := newStreamAccumulator(cb)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ChatResponse{}, ctx.Err()
			}
			// 如果已经收到部分内容，返回已有的而不是报错
			// If we already have partial content, return what we have
			if !acc.empty() {
				break
			}
			return ChatResponse{}, fmt.Errorf("recv stream: %w", err)
		}

		for _, choice := range resp.Choices {
			acc.finish(string(choice.FinishReason))
			acc.text(choice.Delta.Content)
			acc.reasoning(choice.Delta.ReasoningContent)
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc.toolDelta(idx, tc.ID, string(tc.Type), tc.Function.Name, tc.Function.Arguments)
			}
		}
		if resp.Usage != nil {
			acc.usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
	}
	return acc.done(), nil
}

// --- Message / Tool Conversion ---

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolType(tc.Type),
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(tools []chat.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}
