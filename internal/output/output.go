// Package output renders command results as tables, markdown or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// render emits value as JSON, or the table built by fill.
func render(format Format, value any, fill func(t table.Writer)) (string, error) {
	if format == FormatJSON {
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	fill(t)
	if format == FormatMarkdown {
		return t.RenderMarkdown(), nil
	}
	return t.Render(), nil
}

// MaskCredential keeps enough of a token to tell entries apart.
func MaskCredential(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) <= 10 {
		return strings.Repeat("*", len(credential))
	}
	return credential[:6] + "…" + credential[len(credential)-4:]
}
