package errors

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Report is the JSON report printed by `elm make --report=json` and
// `elm-review --report=json`.
type Report struct {
	Type string `json:"type"`

	// Set for "error" reports (a problem not tied to one module).
	Path    string          `json:"path,omitempty"`
	Title   string          `json:"title,omitempty"`
	Message []MessageChunk  `json:"message,omitempty"`
	Errors  []ModuleProblem `json:"errors,omitempty"`
}

// ModuleProblem groups the problems of one module.
type ModuleProblem struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Problems []Problem `json:"problems,omitempty"`

	// elm-review reports nest their findings under "errors".
	Errors []ReviewFinding `json:"errors,omitempty"`
}

// Problem is one compiler diagnostic.
type Problem struct {
	Title   string         `json:"title"`
	Message []MessageChunk `json:"message"`
}

// ReviewFinding is one elm-review diagnostic.
type ReviewFinding struct {
	Rule      string         `json:"rule"`
	Message   string         `json:"message"`
	Formatted []MessageChunk `json:"formatted"`
}

// MessageChunk is either plain text or a styled span.
type MessageChunk struct {
	Text      string
	Styled    bool
	Bold      bool
	Underline bool
	Color     string
}

// UnmarshalJSON accepts both chunk shapes.
func (c *MessageChunk) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageChunk{Text: s}
		return nil
	}
	var styled struct {
		String    string  `json:"string"`
		Bold      bool    `json:"bold"`
		Underline bool    `json:"underline"`
		Color     *string `json:"color"`
	}
	if err := json.Unmarshal(data, &styled); err != nil {
		return err
	}
	*c = MessageChunk{
		Text:      styled.String,
		Styled:    true,
		Bold:      styled.Bold,
		Underline: styled.Underline,
	}
	if styled.Color != nil {
		c.Color = *styled.Color
	}
	return nil
}

// MarshalJSON writes the chunk back in the shape it was read.
func (c MessageChunk) MarshalJSON() ([]byte, error) {
	if !c.Styled {
		return json.Marshal(c.Text)
	}
	var color any
	if c.Color != "" {
		color = c.Color
	}
	return json.Marshal(map[string]any{
		"string":    c.Text,
		"bold":      c.Bold,
		"underline": c.Underline,
		"color":     color,
	})
}

var chunkColors = map[string]lipgloss.Color{
	"black":   "0",
	"red":     "1",
	"green":   "2",
	"yellow":  "3",
	"blue":    "4",
	"magenta": "5",
	"cyan":    "6",
	"white":   "7",
}

func (c MessageChunk) render() string {
	if !c.Styled || !colorEnabled {
		return c.Text
	}
	style := lipgloss.NewStyle().Bold(c.Bold).Underline(c.Underline)
	if col, ok := chunkColors[strings.ToLower(c.Color)]; ok {
		style = style.Foreground(col)
	}
	return style.Render(c.Text)
}

// ParseReport decodes a compiler or linter JSON report.
func ParseReport(payload []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}

// FormatReport renders a JSON report as terminal text. Payloads that are not
// a report are returned unchanged.
func FormatReport(payload []byte) string {
	r, err := ParseReport(payload)
	if err != nil || r.Type == "" {
		return string(payload)
	}

	var b strings.Builder
	switch r.Type {
	case "error":
		writeHeader(&b, r.Title, r.Path)
		writeChunks(&b, r.Message)
	default:
		for _, mod := range r.Errors {
			for _, p := range mod.Problems {
				writeHeader(&b, p.Title, mod.Path)
				writeChunks(&b, p.Message)
			}
			for _, f := range mod.Errors {
				writeHeader(&b, f.Rule, mod.Path)
				if len(f.Formatted) > 0 {
					writeChunks(&b, f.Formatted)
				} else {
					b.WriteString(f.Message)
					b.WriteString("\n\n")
				}
			}
		}
	}
	return b.String()
}

func writeHeader(b *strings.Builder, title, path string) {
	header := "-- " + title + " "
	if path != "" {
		header += strings.Repeat("-", max(1, 60-len(header)-len(path))) + " " + path
	}
	b.WriteString(render(cyanStyle, header))
	b.WriteString("\n\n")
}

func writeChunks(b *strings.Builder, chunks []MessageChunk) {
	for _, c := range chunks {
		b.WriteString(c.render())
	}
	b.WriteString("\n\n")
}
