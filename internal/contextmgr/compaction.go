package contextmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ankicli/internal/chat"
)

// Tools whose results are carried verbatim through compaction.
var progressTools = map[string]bool{
	"update_learning_summary": true,
	"get_learning_summary":    true,
}

const progressFactsHeader = "Progress facts:"

// CompactionStrategy 上下文压缩策略接口
// CompactionStrategy defines the context compaction interface.
type CompactionStrategy interface {
	Summarize(ctx context.Context, messages []chat.Message) (string, error)
}

// LLMSummarizer 使用 LLM 进行摘要的函数类型
// LLMSummarizer is a function that calls an LLM for summarization.
type LLMSummarizer func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// LLMCompaction 使用 LLM 生成摘要的策略
// LLMCompaction uses the model to generate summaries.
type LLMCompaction struct {
	summarize LLMSummarizer
	maxTokens int
}

func NewLLMCompaction(summarize LLMSummarizer, maxTokens int) *LLMCompaction {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &LLMCompaction{summarize: summarize, maxTokens: maxTokens}
}

const summarySystemPrompt = `You are a precise summarizer for a conversation between a language learner and an assistant that manages their Anki flashcards.
Summarize the conversation preserving:
1. Decks and cards discussed (deck names, note ids when given)
2. Words and phrases added, updated or deleted, and which deck they went to
3. The learner's stated preferences (card format, tags, levels, topics)
4. Learning progress mentioned (levels, coverage, gaps)
5. The current task and anything left unfinished

Be concise but complete. Output plain text, no markdown formatting.
Respond in the same language as the conversation content.`

func (c *LLMCompaction) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	if c.summarize == nil {
		return "", fmt.Errorf("LLM summarizer not configured")
	}
	userPrompt := buildSummaryInput(messages)
	if strings.TrimSpace(userPrompt) == "" {
		return "", fmt.Errorf("no content to summarize")
	}
	userPrompt += fmt.Sprintf("\nKeep the summary under %d tokens.", c.maxTokens)
	summary, err := c.summarize(ctx, summarySystemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("LLM summarize: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// RegexCompaction 确定性的提取策略
// RegexCompaction extracts decks, words and requests deterministically.
type RegexCompaction struct{}

func (c *RegexCompaction) Summarize(_ context.Context, messages []chat.Message) (string, error) {
	summary := summarizeMessages(messages)
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("regex summarize: empty result")
	}
	return summary, nil
}

// FallbackCompaction 带回退的策略: 先 LLM，失败则 regex
// FallbackCompaction tries the primary strategy and falls back on failure.
type FallbackCompaction struct {
	primary  CompactionStrategy
	fallback CompactionStrategy
}

func NewFallbackCompaction(primary, fallback CompactionStrategy) *FallbackCompaction {
	return &FallbackCompaction{primary: primary, fallback: fallback}
}

func (c *FallbackCompaction) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	if c.primary != nil {
		summary, err := c.primary.Summarize(ctx, messages)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	if c.fallback != nil {
		return c.fallback.Summarize(ctx, messages)
	}
	return "", fmt.Errorf("all compaction strategies failed")
}

// Result is the outcome of Compact.
type Result struct {
	Messages []chat.Message
	Summary  string
	Changed  bool
	// Removed is the number of original turns folded into the summary.
	Removed int
}

// MinKeepRecent is the smallest protected tail.
const MinKeepRecent = 4

// Compact 把较早的回合折叠为一条摘要回合
// Compact replaces the turns before the protected tail of keepRecent turns
// with one summary turn. It is a no-op when the history, not counting a
// leading summary turn, already fits in keepRecent, so compacting twice
// changes nothing the second time. The tail never starts with a tool turn.
// Results of progress tools in the folded prefix are kept verbatim.
func Compact(ctx context.Context, messages []chat.Message, keepRecent int, pruneToolOutputs bool, strategy CompactionStrategy) Result {
	if keepRecent < MinKeepRecent {
		keepRecent = MinKeepRecent
	}
	unchanged := Result{Messages: messages}

	start := 0
	if len(messages) > 0 && messages[0].IsSummary() {
		start = 1
	}
	if len(messages)-start <= keepRecent {
		return unchanged
	}

	split := len(messages) - keepRecent
	for split > start && messages[split].Role == chat.RoleTool {
		split--
	}
	if split <= start {
		return unchanged
	}

	head := messages[:split]
	facts := progressFacts(head)

	toSummarize := chat.CloneMessages(head)
	if pruneToolOutputs {
		for i := range toSummarize {
			if toSummarize[i].Role == chat.RoleTool {
				toSummarize[i].Content = pruneToolOutput(toSummarize[i].Content)
			}
		}
	}

	var summary string
	if strategy != nil {
		s, err := strategy.Summarize(ctx, toSummarize)
		if err == nil && strings.TrimSpace(s) != "" {
			summary = strings.TrimSpace(s)
		}
	}
	if summary == "" {
		summary = summarizeMessages(toSummarize)
	}
	if summary == "" {
		return unchanged
	}
	if len(facts) > 0 {
		summary += "\n\n" + progressFactsHeader + "\n" + strings.Join(facts, "\n")
	}

	tail := chat.CloneMessages(messages[split:])
	if pruneToolOutputs {
		for i := range tail {
			if tail[i].Role == chat.RoleTool && !progressTools[tail[i].Name] {
				tail[i].Content = pruneToolOutput(tail[i].Content)
			}
		}
	}

	out := make([]chat.Message, 0, len(tail)+1)
	out = append(out, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   chat.SummaryPrefix + "\n" + summary,
		CreatedAt: head[len(head)-1].CreatedAt,
	})
	out = append(out, tail...)
	return Result{Messages: out, Summary: summary, Changed: true, Removed: split - start}
}

// progressFacts collects verbatim progress-tool results in order, including
// facts already carried by an earlier summary turn.
func progressFacts(head []chat.Message) []string {
	var facts []string
	seen := map[string]bool{}
	add := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			return
		}
		seen[line] = true
		facts = append(facts, line)
	}
	for _, m := range head {
		if m.IsSummary() {
			if idx := strings.Index(m.Content, progressFactsHeader); idx >= 0 {
				for _, line := range strings.Split(m.Content[idx+len(progressFactsHeader):], "\n") {
					add(line)
				}
			}
			continue
		}
		if m.Role == chat.RoleTool && progressTools[m.Name] {
			add(m.Name + ": " + strings.Join(strings.Fields(m.Content), " "))
		}
	}
	return facts
}

// buildSummaryInput 从消息列表构建摘要输入文本
// buildSummaryInput builds summarization input from messages.
func buildSummaryInput(messages []chat.Message) string {
	var b strings.Builder
	b.WriteString("Conversation to summarize:\n\n")
	for _, m := range messages {
		switch m.Role {
		case chat.RoleUser:
			b.WriteString("User: ")
			b.WriteString(short(m.Content, 500))
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			if content := strings.TrimSpace(m.Content); content != "" {
				b.WriteString("Assistant: ")
				b.WriteString(short(content, 300))
				b.WriteString("\n\n")
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "Tool call: %s(%s)\n", tc.Function.Name, short(tc.Function.Arguments, 160))
			}
		case chat.RoleTool:
			if m.Name != "" {
				fmt.Fprintf(&b, "Tool result [%s]: %s\n\n", m.Name, short(m.Content, 200))
			}
		}
	}
	return b.String()
}

func pruneToolOutput(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		r := []rune(raw)
		if len(r) <= 2000 {
			return raw
		}
		return string(r[:2000]) + "...(truncated)"
	}
	changed := false
	for key, v := range obj {
		switch val := v.(type) {
		case string:
			if r := []rune(val); len(r) > 1200 {
				obj[key] = string(r[:1200]) + "...(truncated)"
				changed = true
			}
		case []any:
			if len(val) > 20 {
				obj[key] = val[:20]
				obj[key+"_truncated"] = len(val) - 20
				changed = true
			}
		}
	}
	if !changed {
		return raw
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return string(data)
}

// summarizeMessages extracts requests, decks and card fronts from the turns.
func summarizeMessages(msgs []chat.Message) string {
	objective := ""
	requests := []string{}
	decks := map[string]struct{}{}
	added := map[string]struct{}{}
	problems := map[string]struct{}{}
	prior := ""

	for _, m := range msgs {
		switch m.Role {
		case chat.RoleUser:
			if objective == "" {
				objective = short(m.Content, 200)
			}
			requests = append(requests, short(m.Content, 140))
		case chat.RoleAssistant:
			if m.IsSummary() {
				prior = strings.TrimSpace(strings.TrimPrefix(m.Content, chat.SummaryPrefix))
				if idx := strings.Index(prior, progressFactsHeader); idx >= 0 {
					prior = strings.TrimSpace(prior[:idx])
				}
				continue
			}
			for _, tc := range m.ToolCalls {
				collectArgs(tc.Function.Name, tc.Function.Arguments, decks, added)
			}
		case chat.RoleTool:
			var env struct {
				OK    *bool  `json:"ok"`
				Error string `json:"error"`
			}
			if json.Unmarshal([]byte(m.Content), &env) == nil && env.OK != nil && !*env.OK && env.Error != "" {
				problems[short(m.Name+": "+env.Error, 120)] = struct{}{}
			}
		}
	}
	if objective == "" && prior == "" {
		return ""
	}
	if objective == "" {
		objective = "continue the current task"
	}

	var b strings.Builder
	if prior != "" {
		b.WriteString("- earlier: ")
		b.WriteString(short(strings.Join(strings.Fields(prior), " "), 400))
		b.WriteString("\n")
	}
	b.WriteString("- first request: ")
	b.WriteString(objective)
	b.WriteString("\n- decks: ")
	b.WriteString(joinOrNone(mapKeys(decks, 10), ", "))
	b.WriteString("\n- cards added: ")
	b.WriteString(joinOrNone(mapKeys(added, 30), ", "))
	b.WriteString("\n- problems: ")
	b.WriteString(joinOrNone(mapKeys(problems, 5), " | "))
	b.WriteString("\n- recent requests: ")
	b.WriteString(joinOrNone(lastUnique(requests, 4), " -> "))
	return b.String()
}

func collectArgs(tool, raw string, decks, added map[string]struct{}) {
	var args struct {
		Deck     string `json:"deck"`
		DeckName string `json:"deck_name"`
		Front    string `json:"front"`
		Cards    []struct {
			Front string `json:"front"`
		} `json:"cards"`
	}
	if json.Unmarshal([]byte(raw), &args) != nil {
		return
	}
	for _, d := range []string{args.Deck, args.DeckName} {
		if d = strings.TrimSpace(d); d != "" {
			decks[d] = struct{}{}
		}
	}
	if tool != "add_card" && tool != "add_multiple_cards" {
		return
	}
	if f := stripTags(args.Front); f != "" {
		added[f] = struct{}{}
	}
	for _, c := range args.Cards {
		if f := stripTags(c.Front); f != "" {
			added[f] = struct{}{}
		}
	}
}

// stripTags drops HTML markup from a card field.
func stripTags(s string) string {
	var b strings.Builder
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>':
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func joinOrNone(items []string, sep string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, sep)
}

func mapKeys(m map[string]struct{}, limit int) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func lastUnique(items []string, limit int) []string {
	out := make([]string, 0, limit)
	seen := map[string]struct{}{}
	for i := len(items) - 1; i >= 0 && len(out) < limit; i-- {
		item := strings.TrimSpace(items[i])
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func short(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "..."
}
