package company

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func writeProfile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}
}

const sampleProfile = `{
  "nombre_empresa": "Aceros del Sur",
  "descripcion": "Fabricante de estructuras metálicas",
  "mision": "Construir con seguridad",
  "vision": "Ser referentes en la región",
  "valores": ["Seguridad", "Calidad"],
  "tono_comunicacion": {"estilo": "Cercano", "caracteristicas": ["Claro", "Positivo"]},
  "contexto_adicional": {
    "servicios_principales": ["Naves industriales"],
    "puntos_destacados": ["30 años de experiencia"],
    "enfoque": "Clientes industriales"
  },
  "mensajes_frecuentes": ["Gracias por su confianza"]
}`

func TestFormat_FullProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	writeProfile(t, path, sampleProfile)

	got := NewManager(path).Context()
	want := strings.Join([]string{
		"CONTEXTO: Fabricante de estructuras metálicas",
		"",
		"MISIÓN: Construir con seguridad",
		"VISIÓN: Ser referentes en la región",
		"",
		"VALORES DE LA EMPRESA:",
		"- Seguridad",
		"- Calidad",
		"",
		"TONO DE COMUNICACIÓN: Cercano",
		"Características del tono:",
		"  - Claro",
		"  - Positivo",
		"",
		"SERVICIOS PRINCIPALES:",
		"  - Naves industriales",
		"",
		"PUNTOS DESTACADOS:",
		"  - 30 años de experiencia",
		"",
		"ENFOQUE: Clientes industriales",
		"",
		"MENSAJES FRECUENTES:",
		"  - Gracias por su confianza",
	}, "\n")
	if got != want {
		t.Errorf("Context =\n%s\nwant\n%s", got, want)
	}
}

func TestFormat_EmptyProfile(t *testing.T) {
	if got := Format(Profile{}); got != "" {
		t.Errorf("Format(empty) = %q", got)
	}
}

func TestFormat_CappedOnRuneBoundary(t *testing.T) {
	p := Profile{Description: strings.Repeat("ñ", 5000)}
	got := Format(p)
	if len(got) > maxContextChars {
		t.Errorf("len = %d, want <= %d", len(got), maxContextChars)
	}
	if !utf8.ValidString(got) {
		t.Error("capped context is not valid UTF-8")
	}
}

func TestContext_MissingFileIsEmpty(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.json"))
	if got := m.Context(); got != "" {
		t.Errorf("Context = %q, want empty", got)
	}
}

func TestContext_BrokenFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeProfile(t, path, "{broken")
	if got := NewManager(path).Context(); got != "" {
		t.Errorf("Context = %q, want empty", got)
	}
}

func TestProfile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empresa.yaml")
	writeProfile(t, path, "nombre_empresa: Demo\nvalores:\n  - Uno\ntono_comunicacion:\n  estilo: Formal\n")

	p, err := NewManager(path).Profile()
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Name != "Demo" || len(p.Values) != 1 || p.Tone.Style != "Formal" {
		t.Errorf("Profile = %+v", p)
	}
}

func TestProfile_CacheHonorsTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeProfile(t, path, `{"descripcion":"v1"}`)

	clock := &mockClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManagerWithClock(path, clock, time.Minute)

	if got := m.Context(); got != "CONTEXTO: v1" {
		t.Fatalf("Context = %q", got)
	}

	writeProfile(t, path, `{"descripcion":"v2"}`)
	if got := m.Context(); got != "CONTEXTO: v1" {
		t.Errorf("within TTL: Context = %q, want cached v1", got)
	}

	clock.Advance(2 * time.Minute)
	if got := m.Context(); got != "CONTEXTO: v2" {
		t.Errorf("after TTL: Context = %q, want v2", got)
	}
}

func TestProfile_ReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeProfile(t, path, sampleProfile)
	m := NewManager(path)

	p, _ := m.Profile()
	p.Values[0] = "mutated"

	again, _ := m.Profile()
	if again.Values[0] != "Seguridad" {
		t.Error("caller mutation leaked into cache")
	}
}

func TestInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeProfile(t, path, `{"descripcion":"v1"}`)
	clock := &mockClock{now: time.Now()}
	m := NewManagerWithClock(path, clock, time.Hour)
	m.Context()

	writeProfile(t, path, `{"descripcion":"v2"}`)
	m.Invalidate()
	if got := m.Context(); got != "CONTEXTO: v2" {
		t.Errorf("Context = %q, want v2", got)
	}
}

func TestWatch_InvalidatesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeProfile(t, path, `{"descripcion":"v1"}`)
	clock := &mockClock{now: time.Now()}
	m := NewManagerWithClock(path, clock, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got := m.Context(); got != "CONTEXTO: v1" {
		t.Fatalf("Context = %q", got)
	}

	writeProfile(t, path, `{"descripcion":"v2"}`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.Context() == "CONTEXTO: v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("profile change was not picked up")
}

func TestEnsureDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)

	created, err := EnsureDefault(path)
	if err != nil || !created {
		t.Fatalf("EnsureDefault = %v, %v", created, err)
	}
	p, err := NewManager(path).Profile()
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Name != "Mi Empresa" || p.Tone.Style != "Profesional" {
		t.Errorf("default profile = %+v", p)
	}

	writeProfile(t, path, `{"descripcion":"custom"}`)
	created, err = EnsureDefault(path)
	if err != nil || created {
		t.Errorf("second EnsureDefault = %v, %v", created, err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "custom") {
		t.Error("existing profile was overwritten")
	}
}
