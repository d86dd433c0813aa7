package persona

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	for _, good := range []string{"toast", "Toast-2", "a_b"} {
		if err := Validate(good); err != nil {
			t.Errorf("Validate(%q) = %v", good, err)
		}
	}
	for _, bad := range []string{"", "../evil", "a b", "-lead", ".hidden"} {
		if err := Validate(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidName", bad, err)
		}
	}
}

func TestHandoffArtifactPath(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)

	path, err := HandoffArtifactPath(root, "toast", at)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "personas", "toast", "handoff-20260825-103000.md")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("persona dir not created: %v", err)
	}
}

func TestVerifyArtifact(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.md")
	if err := VerifyArtifact(missing); err == nil {
		t.Error("missing artifact verified")
	}

	empty := filepath.Join(dir, "empty.md")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := VerifyArtifact(empty); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("empty artifact: %v", err)
	}

	good := filepath.Join(dir, "good.md")
	if err := os.WriteFile(good, []byte("# context\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := VerifyArtifact(good); err != nil {
		t.Errorf("good artifact: %v", err)
	}
}
