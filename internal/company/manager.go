// Package company loads the company profile and renders it as a prompt
// context block.
package company

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileName is the default profile file name inside the data directory.
const FileName = "empresa_config.json"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached access to the profile file.
type Manager struct {
	path  string
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager for the profile at path with a 60-second
// cache TTL.
func NewManager(path string) *Manager {
	return NewManagerWithClock(path, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(path string, clock Clock, ttl time.Duration) *Manager {
	return &Manager{path: path, clock: clock, ttl: ttl}
}

// Path returns the profile file location.
func (m *Manager) Path() string { return m.path }

// Profile returns the parsed profile, reading the file at most once per TTL.
func (m *Manager) Profile() (Profile, error) {
	m.mu.RLock()
	if m.fresh() {
		p := copyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh() {
		return copyProfile(m.cached), nil
	}

	p, err := readProfile(m.path)
	if err != nil {
		return Profile{}, err
	}
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return copyProfile(&p), nil
}

func (m *Manager) fresh() bool {
	return m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl))
}

// Invalidate drops the cached profile so the next read hits the file.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Context renders the profile as a prompt block. A missing or broken
// profile yields "".
func (m *Manager) Context() string {
	p, err := m.Profile()
	if err != nil {
		slog.Warn("company profile unavailable", "path", m.path, "error", err)
		return ""
	}
	return Format(p)
}

// Watch invalidates the cache whenever the profile file changes. It returns
// once the watcher is registered; the watcher stops when ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating profile watcher: %w", err)
	}
	// Editors replace files on save, so the directory is watched instead.
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(m.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				slog.Debug("company profile changed", "path", ev.Name, "op", ev.Op.String())
				m.Invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("company profile watcher error", "error", err)
			}
		}
	}()
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func readProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading company profile: %w", err)
	}
	var p Profile
	if isYAML(path) {
		err = yaml.Unmarshal(data, &p)
	} else {
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("parsing company profile %s: %w", path, err)
	}
	return p, nil
}

// EnsureDefault writes the starter profile to path unless a file already
// exists there. It reports whether a file was created.
func EnsureDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking company profile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating profile directory: %w", err)
	}

	var data []byte
	if isYAML(path) {
		b, err := yaml.Marshal(DefaultProfile())
		if err != nil {
			return false, fmt.Errorf("encoding default profile: %w", err)
		}
		data = b
	} else {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(DefaultProfile()); err != nil {
			return false, fmt.Errorf("encoding default profile: %w", err)
		}
		data = buf.Bytes()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing default profile: %w", err)
	}
	return true, nil
}

// maxContextChars keeps the block at roughly 1000 tokens.
const maxContextChars = 4000

// Format renders p in the labelled layout used inside prompts.
func Format(p Profile) string {
	var parts []string
	add := func(s string) { parts = append(parts, s) }
	list := func(items []string) {
		for _, it := range items {
			add("  - " + it)
		}
	}

	if p.Description != "" {
		add("CONTEXTO: " + p.Description)
	}
	if p.Mission != "" {
		add("\nMISIÓN: " + p.Mission)
	}
	if p.Vision != "" {
		add("VISIÓN: " + p.Vision)
	}
	if len(p.Values) > 0 {
		vals := make([]string, len(p.Values))
		for i, v := range p.Values {
			vals[i] = "- " + v
		}
		add("\nVALORES DE LA EMPRESA:\n" + strings.Join(vals, "\n"))
	}
	if p.Tone.Style != "" {
		add("\nTONO DE COMUNICACIÓN: " + p.Tone.Style)
	}
	if len(p.Tone.Traits) > 0 {
		add("Características del tono:")
		list(p.Tone.Traits)
	}
	if len(p.Extra.Services) > 0 {
		add("\nSERVICIOS PRINCIPALES:")
		list(p.Extra.Services)
	}
	if len(p.Extra.Highlights) > 0 {
		add("\nPUNTOS DESTACADOS:")
		list(p.Extra.Highlights)
	}
	if p.Extra.Focus != "" {
		add("\nENFOQUE: " + p.Extra.Focus)
	}
	if len(p.Messages) > 0 {
		add("\nMENSAJES FRECUENTES:")
		list(p.Messages)
	}

	return capText(strings.Join(parts, "\n"), maxContextChars)
}

// capText cuts s to at most max bytes on a line (or word) boundary without
// splitting a UTF-8 sequence.
func capText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
		return s[:idx]
	}
	if idx := strings.LastIndex(s[:end], " "); idx > 0 {
		return s[:idx]
	}
	return s[:end]
}
