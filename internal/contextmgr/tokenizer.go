package contextmgr

import (
	"strings"
	"sync"

	"ankicli/internal/chat"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Estimator 估算消息列表的 token 数
// Estimator estimates the token count of a message list.
type Estimator interface {
	Count(messages []chat.Message) int
}

// HeuristicEstimator counts runes; it never needs network access and grows
// monotonically with content length.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += countMessage(msg, heuristicTokenCount)
	}
	return total
}

// NewEstimator returns the estimator named by kind ("heuristic" or "tiktoken").
func NewEstimator(kind, model string) Estimator {
	if strings.EqualFold(strings.TrimSpace(kind), "tiktoken") {
		return NewTokenizerForModel(model)
	}
	return HeuristicEstimator{}
}

// Tokenizer 精确 token 计数器，支持 tiktoken 和启发式回退
// Tokenizer provides precise token counting with tiktoken and heuristic fallback.
type Tokenizer struct {
	encoder      *tiktoken.Tiktoken
	encodingName string
	fallback     bool
	mu           sync.RWMutex
}

// NewTokenizer 创建 tokenizer，如果 tiktoken 初始化失败则回退到启发式
// NewTokenizer creates a tokenizer and falls back to the heuristic if tiktoken init fails.
func NewTokenizer(encodingName string) *Tokenizer {
	t := &Tokenizer{encodingName: encodingName}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		// 离线环境可能没有 BPE 缓存 / Offline environments may lack the BPE cache
		t.fallback = true
		return t
	}
	t.encoder = enc
	return t
}

func NewTokenizerForModel(model string) *Tokenizer {
	return NewTokenizer(modelToEncoding(model))
}

func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += countMessage(msg, t.CountText)
	}
	return total
}

func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.fallback {
		return heuristicTokenCount(text)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// IsPrecise reports whether tiktoken loaded.
func (t *Tokenizer) IsPrecise() bool { return !t.fallback }

func (t *Tokenizer) EncodingName() string { return t.encodingName }

func countMessage(msg chat.Message, count func(string) int) int {
	// ~4 tokens per message overhead
	tokens := 4
	tokens += count(msg.Content)
	tokens += count(msg.Role)
	if msg.Name != "" {
		tokens += count(msg.Name) + 1
	}
	if msg.Reasoning != "" {
		tokens += count(msg.Reasoning)
	}
	for _, tc := range msg.ToolCalls {
		tokens += count(tc.Function.Name)
		tokens += count(tc.Function.Arguments)
		tokens += 8
	}
	return tokens
}

// heuristicTokenCount: CJK ~1.5 tokens per rune, everything else ~4 runes per token.
func heuristicTokenCount(text string) int {
	if text == "" {
		return 0
	}
	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	estimate := int(float64(cjk)*1.5 + float64(other)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}

func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"), strings.HasPrefix(m, "gpt-5"), strings.HasPrefix(m, "chatgpt-4o"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
