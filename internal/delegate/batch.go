package delegate

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ItemPlaceholder is replaced by each item in a batch prompt template.
const ItemPlaceholder = "{item}"

// Templates are the built-in batch prompts keyed by delegate type.
var Templates = map[string]string{
	"cognate_scan": `Classify the following Spanish word by cognate type relative to English.

Word: {item}

Respond ONLY with valid JSON:
{"word": "{item}", "cognate_type": "perfect|near|false|none", "english_cognate": "the English cognate or empty string", "confidence": 0.0-1.0, "reasoning": "brief explanation"}`,
	"network_update": `Generate word connections for the Spanish word below. List synonyms, antonyms, and semantically related words.

Word: {item}

Respond ONLY with valid JSON:
{"word": "{item}", "synonyms": ["..."], "antonyms": ["..."], "related": ["..."], "category": "theme category"}`,
	"difficulty_score": `Rate the difficulty of this Spanish word for an English speaker learning Spanish.

Word: {item}

Consider: cognate similarity, pronunciation, irregularity, usage frequency, false-friend risk.

Respond ONLY with valid JSON:
{"word": "{item}", "difficulty": 1-5, "factors": {"cognate_ease": 1-5, "pronunciation": 1-5, "irregularity": 1-5, "frequency": 1-5}, "reasoning": "brief explanation"}`,
	"context_generation": `Generate 3 natural example sentences in Spanish using this word/phrase. Vary the tenses and include English translations.

Word: {item}

Respond ONLY with valid JSON:
{"word": "{item}", "sentences": [{"spanish": "...", "english": "...", "tense": "..."}]}`,
}

// TemplateNames returns the built-in delegate types, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(Templates))
	for k := range Templates {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BatchResult is the parsed sub-agent reply for one item.
type BatchResult struct {
	Item   string         `json:"item"`
	Result map[string]any `json:"result,omitempty"`
	Raw    string         `json:"-"`
	Err    string         `json:"error,omitempty"`
}

// ProcessBatch formats each item into the template for kind (or override,
// when set) and collects the JSON replies. Results are in input order.
func (p *Processor) ProcessBatch(ctx context.Context, items []string, kind, override string, workers int, onProgress func(Progress)) ([]BatchResult, error) {
	template := strings.TrimSpace(override)
	if template == "" {
		template = Templates[kind]
	}
	if template == "" {
		return nil, fmt.Errorf("unknown delegate type %q (want one of %s)", kind, strings.Join(TemplateNames(), ", "))
	}
	results := make([]BatchResult, len(items))
	p.run(ctx, len(items), p.workers(workers), func(ctx context.Context, i int) (string, string) {
		res := BatchResult{Item: items[i]}
		text, err := p.complete(ctx, "", strings.ReplaceAll(template, ItemPlaceholder, items[i]))
		res.Raw = text
		switch {
		case err != nil:
			res.Err = err.Error()
		default:
			var parsed map[string]any
			if err := decodeObject(text, &parsed); err != nil {
				res.Err = err.Error()
			} else {
				res.Result = parsed
			}
		}
		results[i] = res
		return label(items[i]), res.Err
	}, onProgress)
	p.logger.Info("batch delegate finished", "type", kind, "items", len(items))
	return results, nil
}
