package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Create != CreateCheckIn || s.Update != UpdateOrDeleteCheckIn {
		t.Fatal("expected built-in prompts")
	}
	for _, kw := range []string{"check-in", "health"} {
		if !strings.Contains(strings.ToLower(s.Create), kw) {
			t.Errorf("create prompt should mention %q", kw)
		}
	}
	for _, kw := range []string{"update", "delete", "none"} {
		if !strings.Contains(s.Update, kw) {
			t.Errorf("update prompt should mention %q", kw)
		}
	}
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "create.md")
	if err := os.WriteFile(path, []byte("  custom create prompt\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Create != "custom create prompt" {
		t.Fatalf("expected trimmed override, got %q", s.Create)
	}
	if s.Update != UpdateOrDeleteCheckIn {
		t.Fatal("update prompt should keep its default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "nope.md")); err == nil {
		t.Fatal("expected error for missing prompt file")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.md")
	_ = os.WriteFile(path, []byte("\n\n"), 0o644)
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for empty prompt file")
	}
}
