package main

import (
	"strings"

	"ankicli/internal/anki"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/net/html"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

func noteTable(notes []anki.Note) string {
	rows := make([][]string, 0, len(notes))
	for _, n := range notes {
		rows = append(rows, []string{preview(n.Front, 40), preview(n.Back, 40), strings.Join(n.Tags, ", ")})
	}
	return renderTable([]string{"Front", "Back", "Tags"}, rows)
}

// plainText renders card field HTML as one line of text: entities decoded,
// breaks and block elements turned into spaces, whitespace collapsed.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			case "br", "p", "div", "li", "tr", "td":
				b.WriteByte(' ')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(b.String()), " ")
}

func preview(s string, n int) string {
	r := []rune(plainText(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
