package orchestrator

import (
	"context"
	"io"

	"ankicli/internal/provider"
)

// chatRound sends the working copy to the model, streaming answer and
// reasoning text to out. Tool calls written inline in the answer text are
// recovered when the model returned no structured ones.
func (o *Orchestrator) chatRound(ctx context.Context, out io.Writer) (provider.ChatResponse, error) {
	definitions := o.registry.Definitions()
	req := provider.ChatRequest{
		Model:    o.CurrentModel(),
		Messages: o.buildProviderMessages(),
		Tools:    definitions,
	}

	answer := newStreamRenderer(out, "ANSWER", ansiCyan, false)
	thinking := newStreamRenderer(out, "THINK", ansiGray, true)
	cb := &provider.StreamCallbacks{
		OnTextChunk: func(chunk string) {
			if chunk == "" {
				return
			}
			answer.Append(chunk)
			if o.onTextChunk != nil {
				o.onTextChunk(chunk)
			}
		},
		OnReasoningChunk: thinking.Append,
	}
	resp, err := o.provider.Chat(ctx, req, cb)
	thinking.Finish()
	answer.Finish()
	if err != nil {
		return provider.ChatResponse{}, err
	}
	if out != nil {
		if resp.Reasoning != "" && !thinking.started {
			renderThinkingBlock(out, resp.Reasoning)
		}
		if resp.Content != "" && !answer.started {
			renderAssistantBlock(out, resp.Content, len(resp.ToolCalls) == 0)
		}
	}
	if len(resp.ToolCalls) == 0 {
		if recovered, cleaned := recoverToolCalls(resp.Content, o.registry.Has); len(recovered) > 0 {
			o.logger.Debug("recovered inline tool calls", "count", len(recovered))
			resp.ToolCalls = recovered
			resp.Content = cleaned
		}
	}
	return resp, nil
}
