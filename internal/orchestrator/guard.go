package orchestrator

import (
	"encoding/json"
	"strings"

	"ankicli/internal/tools"

	"golang.org/x/net/html"
)

// noteChecked records the words a duplicate lookup covered.
func (o *Orchestrator) noteChecked(op tools.Op, args json.RawMessage) {
	for _, term := range tools.CheckedTerms(op, args) {
		if key := normalizeTerm(term); key != "" {
			o.checked[key] = struct{}{}
		}
	}
}

// guardDuplicates annotates a bulk-add result with the fronts that no
// duplicate lookup in this session covered. A card counts as covered when
// its word:: tag, its front or the bold word of its back was checked.
func (o *Orchestrator) guardDuplicates(op tools.Op, args json.RawMessage, result string) string {
	if !o.opts.RequireDuplicateCheck || op != tools.OpAddMultipleCards {
		return result
	}
	var in struct {
		Cards []struct {
			Front string   `json:"front"`
			Back  string   `json:"back"`
			Tags  []string `json:"tags"`
		} `json:"cards"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return result
	}
	unchecked := []string{}
	for _, card := range in.Cards {
		if !o.covered(card.Front, card.Back, card.Tags) {
			unchecked = append(unchecked, stripHTML(card.Front))
		}
	}
	if len(unchecked) == 0 {
		return result
	}
	payload := parseJSONObject(result)
	if payload == nil {
		return result
	}
	payload["unchecked"] = unchecked
	o.logger.Warn("bulk add without duplicate check", "unchecked", len(unchecked))
	return mustJSON(payload)
}

func (o *Orchestrator) covered(front, back string, tags []string) bool {
	keys := []string{front}
	for _, tag := range tags {
		if word, ok := strings.CutPrefix(strings.TrimSpace(tag), "word::"); ok {
			keys = append(keys, strings.ReplaceAll(word, "_", " "))
		}
	}
	_, bold := fieldText(back)
	keys = append(keys, bold...)
	for _, k := range keys {
		if _, ok := o.checked[normalizeTerm(k)]; ok {
			return true
		}
	}
	return false
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(stripHTML(s)), " "))
}

func stripHTML(s string) string {
	text, _ := fieldText(s)
	return text
}

// fieldText returns the text of a card field and the text of each <b> or
// <strong> element in it.
func fieldText(s string) (string, []string) {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s), nil
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s), nil
	}
	var all strings.Builder
	var bold []string
	var walk func(n *html.Node, out *strings.Builder)
	walk = func(n *html.Node, out *strings.Builder) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			case "br":
				out.WriteByte(' ')
			case "b", "strong":
				var inner strings.Builder
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c, &inner)
				}
				if t := strings.TrimSpace(inner.String()); t != "" {
					bold = append(bold, t)
				}
				out.WriteString(inner.String())
				return
			}
		}
		if n.Type == html.TextNode {
			out.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, out)
		}
	}
	walk(doc, &all)
	return strings.TrimSpace(all.String()), bold
}
