package reference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	xhtml "golang.org/x/net/html"
)

// jsonTextKeys are checked in order; the first one present wins.
var jsonTextKeys = []string{"texto", "contenido", "resultado", "textos"}

// ExtractJSON turns the raw text of a JSON reference file into one
// reference text. Lists are kept whole, objects contribute the first known
// text key, and unparseable input is returned trimmed. Anything serialized
// back keeps the file's own key order and number text.
func ExtractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !json.Valid([]byte(trimmed)) {
		return trimmed
	}

	switch trimmed[0] {
	case '[':
		return indentJSON(json.RawMessage(trimmed))
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return trimmed
		}
		for _, key := range jsonTextKeys {
			val, ok := obj[key]
			if !ok {
				continue
			}
			var list []json.RawMessage
			if json.Unmarshal(val, &list) == nil && list != nil {
				parts := make([]string, 0, len(list))
				for _, item := range list {
					parts = append(parts, stringify(item))
				}
				return strings.Join(parts, "\n")
			}
			return stringify(val)
		}
		return indentJSON(json.RawMessage(trimmed))
	default:
		return stringify(json.RawMessage(trimmed))
	}
}

// stringify renders one JSON value as reference text: strings unquoted,
// null empty, containers indented, scalars as written.
func stringify(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return ""
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return string(v)
		}
		return s
	case 'n':
		return ""
	case '{', '[':
		return indentJSON(v)
	default:
		return string(v)
	}
}

func indentJSON(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return string(v)
	}
	return buf.String()
}

// ExtractHTML returns the visible text of an HTML document, one block per
// line.
func ExtractHTML(raw []byte) (string, error) {
	doc, err := xhtml.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var lines []string
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		switch n.Type {
		case xhtml.TextNode:
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				lines = append(lines, s)
			}
			return
		case xhtml.ElementNode:
			switch strings.ToLower(n.Data) {
			case "script", "style", "noscript", "head":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n"), nil
}

// ExtractPDF returns the plain text layer of a PDF document. The pdf reader
// panics on some malformed inputs; those are reported as errors.
func ExtractPDF(raw []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// extract converts file content of the given kind into reference text.
func extract(k Kind, raw []byte) (string, error) {
	switch k {
	case KindText, KindMarkdown:
		return strings.TrimSpace(string(raw)), nil
	case KindJSON:
		return ExtractJSON(string(raw)), nil
	case KindHTML:
		return ExtractHTML(raw)
	case KindPDF:
		return ExtractPDF(raw)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, k)
}
