package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/kalambet/redactor/internal/textstats"
)

// Export formats.
const (
	FormatText     = "txt"
	FormatJSON     = "json"
	FormatMarkdown = "md"
	FormatHTML     = "html"
)

var contentTypes = map[string]string{
	FormatText:     "text/plain; charset=utf-8",
	FormatJSON:     "application/json",
	FormatMarkdown: "text/markdown; charset=utf-8",
	FormatHTML:     "text/html; charset=utf-8",
}

// Export renders a stored record in the given format and returns the bytes
// together with their content type.
func (s *Store) Export(id, format string) ([]byte, string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatText
	}
	ct, ok := contentTypes[format]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	r, found := s.Get(id)
	if !found {
		return nil, "", ErrNotFound
	}

	var (
		out []byte
		err error
	)
	switch format {
	case FormatText:
		out = []byte(r.Output)
	case FormatJSON:
		out, err = recordJSON(r)
	case FormatMarkdown:
		out = []byte(recordMarkdown(r))
	case FormatHTML:
		out, err = recordHTML(r)
	}
	if err != nil {
		return nil, "", fmt.Errorf("exporting %s as %s: %w", id, format, err)
	}
	return out, ct, nil
}

func recordJSON(r Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func recordMarkdown(r Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", textstats.ShortTitle(r.Topic, 60))
	fmt.Fprintf(&sb, "- **ID:** %s\n", r.ID)
	fmt.Fprintf(&sb, "- **Acción:** %s\n", r.Action)
	fmt.Fprintf(&sb, "- **Modelo:** %s\n", r.Model)
	fmt.Fprintf(&sb, "- **Palabras:** %d\n", r.Words)
	fmt.Fprintf(&sb, "- **Feedback:** %s\n", feedbackLabel(r.Feedback))
	if r.Feedback.Comment != "" {
		fmt.Fprintf(&sb, "- **Comentario:** %s\n", r.Feedback.Comment)
	}
	sb.WriteString("\n---\n\n")
	sb.WriteString(strings.TrimSpace(r.Output))
	sb.WriteString("\n")
	return sb.String()
}

func recordHTML(r Record) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(recordMarkdown(r)), &body); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>")
	buf.WriteString(r.ID)
	buf.WriteString("</title></head>\n<body>\n")
	buf.Write(body.Bytes())
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

func feedbackLabel(f Feedback) string {
	switch f.Status() {
	case StatusApproved:
		return "aprobado"
	case StatusRejected:
		return "rechazado"
	case StatusPending:
		return "pendiente"
	default:
		return "sin feedback"
	}
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ExportFilename builds a download name such as "generar_2024-05-01T10-00-00.txt".
func ExportFilename(r Record, format string) string {
	name := unsafeFilename.ReplaceAllString(string(r.Action)+"_"+r.ID, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "resultado"
	}
	if format == "" {
		format = FormatText
	}
	return name + "." + format
}
