package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeDumpWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.toml")

	err := SafeDump(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "a = 1\n")
		return err
	})
	if err != nil {
		t.Fatalf("SafeDump failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read result: %v", err)
	}
	if string(content) != "a = 1\n" {
		t.Errorf("unexpected content: %q", content)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the destination file, found %d entries", len(entries))
	}
}

func TestSafeDumpReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.toml")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := SafeDump(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "new")
		return err
	}); err != nil {
		t.Fatalf("SafeDump failed: %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "new" {
		t.Errorf("content = %q, want new", content)
	}
}

func TestSafeDumpFailureLeavesDestinationUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.toml")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := SafeDump(path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "old" {
		t.Errorf("destination changed to %q", content)
	}

	var leftovers []string
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "index.toml.") && strings.HasSuffix(e.Name(), ".dat") {
			leftovers = append(leftovers, e.Name())
		}
	}
	if len(leftovers) != 1 {
		t.Errorf("expected the temp file to remain, found %v", leftovers)
	}
}
