package relocate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLocalCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "papers", "a.pdf")
	dst := filepath.Join(dir, "zotero", "deep", "a.pdf")
	writeFile(t, src, "content")

	m := NewLocal(false, nil)
	if !m.Move(context.Background(), src, dst) {
		t.Fatal("Move() = false, want true")
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != "content" {
		t.Errorf("destination content = %q, want %q", got, "content")
	}

	// Copy mode keeps the source.
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source removed in copy mode: %v", err)
	}
}

func TestLocalMoveDeletesSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	dst := filepath.Join(dir, "out", "a.pdf")
	writeFile(t, src, "content")

	m := NewLocal(true, nil)
	if !m.Move(context.Background(), src, dst) {
		t.Fatal("Move() = false, want true")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("source still present after move, stat err = %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination missing after move: %v", err)
	}
}

func TestLocalMissingSource(t *testing.T) {
	dir := t.TempDir()
	m := NewLocal(false, nil)
	if m.Move(context.Background(), filepath.Join(dir, "absent.pdf"), filepath.Join(dir, "out.pdf")) {
		t.Error("Move() = true for missing source, want false")
	}
}
