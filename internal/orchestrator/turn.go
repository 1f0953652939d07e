package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ankicli/internal/chat"
	"ankicli/internal/storage"
	"ankicli/internal/tools"
)

// RunTurn 执行一次用户回合：模型请求、工具调用、逐轮提交
// RunTurn runs one user turn to completion. Each round lives in a working
// copy and is committed (and saved) once its tool calls have all run, so
// finished rounds survive a later failure. A model error or cancellation
// drops only the round in flight.
func (o *Orchestrator) RunTurn(ctx context.Context, userInput string, out io.Writer) (string, error) {
	if o.provider == nil {
		return "", fmt.Errorf("provider unavailable")
	}
	o.working = append(chat.CloneMessages(o.conv.Messages), o.newMessage(chat.Message{Role: chat.RoleUser, Content: userInput}))
	o.workingSummary = o.conv.LastSummary
	defer func() {
		o.working = nil
		o.workingSummary = ""
	}()

	var (
		finalText string
		usage     turnUsage
		used      []storage.ToolUse
		// kept is the number of tool uses in committed rounds.
		kept int
	)
	for round := 0; round < o.opts.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", o.abandon(userInput, used[:kept], err)
		}
		o.maybeCompact(ctx)
		o.emitContextUpdate()

		resp, err := o.chatRound(ctx, out)
		if err != nil {
			if isContextCancellationErr(ctx, err) {
				return "", o.abandon(userInput, used[:kept], contextErrOr(ctx, err))
			}
			return "", o.abandon(userInput, used[:kept], fmt.Errorf("provider chat: %w", err))
		}
		usage.add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		o.working = append(o.working, o.newMessage(chat.Message{
			Role:      chat.RoleAssistant,
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
		}))
		if resp.Content != "" {
			finalText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			if err := o.persist(usage); err != nil {
				return finalText, err
			}
			return finalText, o.logExchange(userInput, finalText, used)
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return "", o.abandon(userInput, used[:kept], err)
			}
			use, err := o.runToolCall(ctx, call, out)
			if err != nil {
				return "", o.abandon(userInput, used[:kept], err)
			}
			used = append(used, use)
		}
		if err := o.persist(usage); err != nil {
			return "", err
		}
		usage = turnUsage{}
		kept = len(used)
	}

	degraded := fmt.Sprintf("I stopped after %d tool rounds without finishing. The work done so far is kept in the conversation; ask me to continue if needed.", o.opts.MaxRounds)
	o.working = append(o.working, o.newMessage(chat.Message{Role: chat.RoleAssistant, Content: degraded}))
	if out != nil {
		renderAssistantBlock(out, degraded, true)
	}
	o.logger.Warn("round limit reached", "rounds", o.opts.MaxRounds)
	limitErr := fmt.Errorf("%w (%d)", ErrRoundLimit, o.opts.MaxRounds)
	if err := o.persist(usage); err != nil {
		return degraded, fmt.Errorf("%w; %v", limitErr, err)
	}
	if err := o.logExchange(userInput, degraded, used); err != nil {
		return degraded, fmt.Errorf("%w; %v", limitErr, err)
	}
	return degraded, limitErr
}

// abandon drops the round in flight. When earlier rounds of the turn were
// committed, their tool uses still go to the chat log.
func (o *Orchestrator) abandon(userInput string, kept []storage.ToolUse, cause error) error {
	if len(kept) == 0 {
		return cause
	}
	o.logger.Info("turn interrupted after committed rounds", "tools", len(kept), "error", cause)
	if err := o.logExchange(userInput, "(interrupted: "+summarizeForLog(cause.Error())+")", kept); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// runToolCall executes one call and appends its tool turn. Only context
// cancellation is returned as an error; every other failure is reported to
// the model in the tool turn.
func (o *Orchestrator) runToolCall(ctx context.Context, call chat.ToolCall, out io.Writer) (storage.ToolUse, error) {
	name := call.Function.Name
	startSummary := formatToolStart(name, call.Function.Arguments)
	if out != nil {
		renderToolStart(out, startSummary)
	}
	if o.onToolEvent != nil {
		o.onToolEvent(name, startSummary, false)
	}

	args := json.RawMessage(call.Function.Arguments)
	if strings.TrimSpace(call.Function.Arguments) == "" {
		args = json.RawMessage("{}")
	}
	result, execErr := o.registry.Execute(ctx, name, args)
	if execErr != nil && isContextCancellationErr(ctx, execErr) {
		return storage.ToolUse{}, contextErrOr(ctx, execErr)
	}
	if op, ok := tools.ParseOp(name); ok {
		if execErr == nil && o.opts.RequireDuplicateCheck {
			o.noteChecked(op, args)
		}
		if execErr == nil {
			result = o.guardDuplicates(op, args, result)
		}
	}

	resultSummary := summarizeToolResult(name, result)
	if execErr != nil {
		resultSummary = summarizeForLog(execErr.Error())
		if out != nil {
			renderToolError(out, resultSummary)
		}
	} else if out != nil {
		renderToolResult(out, resultSummary)
	}
	if o.onToolEvent != nil {
		o.onToolEvent(name, resultSummary, true)
	}
	o.working = append(o.working, o.newMessage(chat.Message{
		Role:       chat.RoleTool,
		Name:       name,
		ToolCallID: call.ID,
		Content:    result,
	}))
	return storage.ToolUse{Name: name, Summary: resultSummary}, nil
}

type turnUsage struct {
	input, output int
}

func (u *turnUsage) add(in, out int) {
	u.input += in
	u.output += out
}

// persist makes the working copy the committed state and saves it.
func (o *Orchestrator) persist(usage turnUsage) error {
	next := o.conv
	next.Messages = chat.CloneMessages(o.working)
	next.LastSummary = o.workingSummary
	next.InputTokens += usage.input
	next.OutputTokens += usage.output
	if err := o.save(next); err != nil {
		o.logger.Error("commit failed", "error", err)
		return err
	}
	o.logger.Debug("round committed", "messages", len(next.Messages))
	o.emitContextUpdate()
	return nil
}

// logExchange appends the turn to the chat log. A failure is returned
// wrapped in ErrChatLog; the conversation itself is already saved.
func (o *Orchestrator) logExchange(userInput, answer string, used []storage.ToolUse) error {
	progressUpdated := false
	for _, u := range used {
		if u.Name == tools.OpUpdateLearningSummary.String() {
			progressUpdated = true
		}
	}
	o.logger.Info("turn committed", "messages", len(o.conv.Messages), "tools", len(used), "progress_updated", progressUpdated)
	if o.opts.Store == nil {
		return nil
	}
	ex := storage.Exchange{
		Timestamp: o.opts.Now().UTC().Format(time.RFC3339),
		User:      userInput,
		Assistant: answer,
		Tools:     append([]storage.ToolUse(nil), used...),
	}
	if err := o.opts.Store.AppendExchange(ex); err != nil {
		o.logger.Error("append chat log", "error", err)
		return fmt.Errorf("%w: %v", ErrChatLog, err)
	}
	return nil
}

func (o *Orchestrator) newMessage(m chat.Message) chat.Message {
	m.CreatedAt = o.opts.Now().UTC().Format(time.RFC3339)
	return m
}
