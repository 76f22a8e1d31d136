// Package reference manages the exemplar texts uploaded by the user to steer
// the style of generated content.
package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// DirName is the directory under the data dir that holds reference files.
const DirName = "archivos_referencia"

var (
	ErrInvalidName     = errors.New("invalid reference name")
	ErrUnsupportedKind = errors.New("unsupported reference kind")
)

// Kind is the file type of a reference, taken from its extension.
type Kind string

const (
	KindText     Kind = "txt"
	KindMarkdown Kind = "md"
	KindJSON     Kind = "json"
	KindHTML     Kind = "html"
	KindPDF      Kind = "pdf"
)

// KindOf returns the kind for a file name, or "" when unsupported.
func KindOf(name string) Kind {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "txt":
		return KindText
	case "md", "markdown":
		return KindMarkdown
	case "json":
		return KindJSON
	case "html", "htm":
		return KindHTML
	case "pdf":
		return KindPDF
	}
	return ""
}

// Text describes one stored reference file.
type Text struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Kind     Kind      `json:"kind"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Content  string    `json:"content"`
}

// Store keeps reference files in a flat directory.
type Store struct {
	dir string
}

// Open creates the reference directory under dataDir if needed.
func Open(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating reference directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory holding the reference files.
func (s *Store) Dir() string { return s.dir }

// SanitizeName keeps Unicode letters (with their combining marks), digits,
// '.', '_', '-' and spaces, then turns spaces into underscores. Path
// components are dropped.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			sb.WriteRune(r)
		case r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('_')
		}
	}
	return strings.Trim(sb.String(), ".")
}

// Save writes content under the sanitized filename, overwriting any file
// with the same name, and returns the stored name.
func (s *Store) Save(filename string, content []byte) (string, error) {
	name := SanitizeName(filename)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	if KindOf(name) == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, filepath.Ext(name))
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), content, 0o644); err != nil {
		return "", fmt.Errorf("saving reference %s: %w", name, err)
	}
	return name, nil
}

// List returns every stored reference, most recently modified first.
// Files that cannot be read are skipped.
func (s *Store) List() ([]Text, error) {
	return s.load(context.Background())
}

// LoadAll returns one reference text per stored file, in List order.
// Files whose extraction is empty or fails are left out.
func (s *Store) LoadAll(ctx context.Context) ([]string, error) {
	texts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if c := strings.TrimSpace(t.Content); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// load stats the directory, then extracts file contents concurrently.
func (s *Store) load(ctx context.Context) ([]Text, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	texts := make([]Text, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind := KindOf(e.Name())
		if kind == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		texts = append(texts, Text{
			Name:     e.Name(),
			Path:     filepath.Join(s.dir, e.Name()),
			Kind:     kind,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.SliceStable(texts, func(i, j int) bool {
		return texts[i].Modified.After(texts[j].Modified)
	})

	ok := make([]bool, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range texts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			content, err := readText(texts[i].Path, texts[i].Kind)
			if err != nil {
				slog.Warn("skipping unreadable reference", "path", texts[i].Path, "error", err)
				return nil
			}
			texts[i].Content = content
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading references: %w", err)
	}

	kept := texts[:0]
	for i, t := range texts {
		if ok[i] {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

// Delete removes a stored reference. It reports false when none matched.
func (s *Store) Delete(name string) (bool, error) {
	clean := SanitizeName(name)
	if clean == "" || clean != name {
		return false, nil
	}
	err := os.Remove(filepath.Join(s.dir, clean))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting reference %s: %w", clean, err)
	}
	return true, nil
}

func readText(path string, kind Kind) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return extract(kind, raw)
}
