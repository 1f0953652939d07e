// Package delegate fans per-card and per-item work out to sub-agent model
// calls on a bounded worker pool.
package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ankicli/internal/provider"

	"github.com/sourcegraph/conc/pool"
)

const (
	// MaxWorkers caps parallel sub-agent calls regardless of what is requested.
	MaxWorkers       = 10
	DefaultWorkers   = 5
	DefaultRateLimit = 100 * time.Millisecond
)

// Completer is the single-shot model call a sub-agent makes.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, provider.Usage, error)
}

type Options struct {
	// Model overrides the completer's current model for sub-agent calls.
	Model      string
	MaxWorkers int
	// RateLimit is the wait before each sub-agent call.
	RateLimit time.Duration
	Logger    *slog.Logger
}

// Progress is reported after each item finishes.
type Progress struct {
	Completed int
	Total     int
	Current   string
	OK        bool
	Err       string
}

// Processor runs sub-agent calls in parallel. Results always come back in input order.
type Processor struct {
	llm    Completer
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	usage provider.Usage
}

func New(llm Completer, opts Options) *Processor {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultWorkers
	}
	opts.MaxWorkers = min(opts.MaxWorkers, MaxWorkers)
	if opts.RateLimit < 0 {
		opts.RateLimit = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{llm: llm, opts: opts, logger: logger}
}

// Usage returns the tokens consumed by sub-agents so far.
func (p *Processor) Usage() provider.Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

func (p *Processor) workers(requested int) int {
	if requested <= 0 {
		return p.opts.MaxWorkers
	}
	return min(requested, MaxWorkers)
}

// run calls fn for each index on a pool of n workers. fn must record its own
// outcome; the pool never cancels siblings on a failed item.
func (p *Processor) run(ctx context.Context, total, n int, fn func(ctx context.Context, i int) (label string, errMsg string), onProgress func(Progress)) {
	var (
		mu        sync.Mutex
		completed int
	)
	wp := pool.New().WithMaxGoroutines(n).WithContext(ctx)
	for i := 0; i < total; i++ {
		wp.Go(func(ctx context.Context) error {
			if p.opts.RateLimit > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(p.opts.RateLimit):
				}
			}
			label, errMsg := fn(ctx, i)
			if onProgress != nil {
				mu.Lock()
				completed++
				ev := Progress{Completed: completed, Total: total, Current: label, OK: errMsg == "", Err: errMsg}
				onProgress(ev)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = wp.Wait()
}

func (p *Processor) complete(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, usage, err := p.llm.Complete(ctx, p.opts.Model, system, user)
	p.mu.Lock()
	p.usage = p.usage.Add(usage)
	p.mu.Unlock()
	return strings.TrimSpace(text), err
}

// extractJSON strips a markdown fence and returns the outermost JSON object.
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
				lines = lines[:len(lines)-1]
			}
		}
		text = strings.Join(lines, "\n")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

func decodeObject(text string, v any) error {
	raw, ok := extractJSON(text)
	if !ok {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func label(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50])
	}
	return s
}

var _ Completer = (*provider.OpenAIProvider)(nil)
