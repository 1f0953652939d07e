package provider

import (
	"strings"

	"ankicli/internal/chat"

	"github.com/google/uuid"
)

// streamAccumulator folds stream deltas into one ChatResponse and forwards
// text and reasoning chunks to the callbacks as they arrive.
type streamAccumulator struct {
	cb           *StreamCallbacks
	content      strings.Builder
	reasoningBuf strings.Builder
	calls        map[int]*toolCallAccumulator
	finishReason string
	usage        Usage
}

func newStreamAccumulator(cb *StreamCallbacks) *streamAccumulator {
	return &streamAccumulator{cb: cb, calls: map[int]*toolCallAccumulator{}}
}

func (a *streamAccumulator) text(chunk string) {
	if chunk == "" {
		return
	}
	a.content.WriteString(chunk)
	if a.cb != nil && a.cb.OnTextChunk != nil {
		a.cb.OnTextChunk(chunk)
	}
}

func (a *streamAccumulator) reasoning(chunk string) {
	if chunk == "" {
		return
	}
	a.reasoningBuf.WriteString(chunk)
	if a.cb != nil && a.cb.OnReasoningChunk != nil {
		a.cb.OnReasoningChunk(chunk)
	}
}

func (a *streamAccumulator) finish(reason string) {
	if r := strings.TrimSpace(reason); r != "" {
		a.finishReason = r
	}
}

func (a *streamAccumulator) toolDelta(idx int, id, typ, name, args string) {
	acc, ok := a.calls[idx]
	if !ok {
		acc = &toolCallAccumulator{}
		a.calls[idx] = acc
	}
	if id != "" {
		acc.id = id
	}
	if typ != "" {
		acc.typ = typ
	}
	if name != "" {
		acc.name += name
	}
	if args != "" {
		acc.args.WriteString(args)
	}
}

func (a *streamAccumulator) empty() bool {
	return a.content.Len() == 0 && a.reasoningBuf.Len() == 0 && len(a.calls) == 0
}

func (a *streamAccumulator) done() ChatResponse {
	toolCalls := assembleToolCalls(a.calls)
	if a.cb != nil && a.cb.OnToolCall != nil {
		for _, tc := range toolCalls {
			a.cb.OnToolCall(tc)
		}
	}
	if a.cb != nil && a.cb.OnUsage != nil {
		a.cb.OnUsage(a.usage)
	}
	return ChatResponse{
		Content:      a.content.String(),
		Reasoning:    a.reasoningBuf.String(),
		ToolCalls:    toolCalls,
		FinishReason: a.finishReason,
		Usage:        a.usage,
	}
}

type toolCallAccumulator struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// assembleToolCalls orders calls by stream index. Calls the server sent
// without an id get a generated one so tool turns can reference them.
func assembleToolCalls(byIdx map[int]*toolCallAccumulator) []chat.ToolCall {
	if len(byIdx) == 0 {
		return nil
	}
	maxIdx := 0
	for idx := range byIdx {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	calls := make([]chat.ToolCall, 0, len(byIdx))
	for i := 0; i <= maxIdx; i++ {
		acc, ok := byIdx[i]
		if !ok {
			continue
		}
		id := strings.TrimSpace(acc.id)
		if id == "" {
			id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		typ := strings.TrimSpace(acc.typ)
		if typ == "" {
			typ = "function"
		}
		args := acc.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		calls = append(calls, chat.ToolCall{
			ID:   id,
			Type: typ,
			Function: chat.ToolCallFunction{
				Name:      strings.TrimSpace(acc.name),
				Arguments: args,
			},
		})
	}
	return calls
}
