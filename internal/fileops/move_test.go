package fileops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func failing(name string) Layer {
	return Layer{Name: name, Move: func(context.Context, string, string) error {
		return errors.New(name + " unavailable")
	}}
}

func TestMoveRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dstDir := filepath.Join(dir, "folder")
	writeFile(t, src, "hello")
	if err := os.Mkdir(dstDir, 0o755); err != nil {
		t.Fatal(err)
	}

	m := &Mover{Layers: []Layer{{Name: "rename", Move: renameMove}}}
	dst, err := m.Move(context.Background(), src, dstDir)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if data, _ := os.ReadFile(dst); string(data) != "hello" {
		t.Fatalf("moved content = %q", data)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source still exists")
	}
}

func TestMoveFallsBackToCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tree")
	writeFile(t, filepath.Join(src, "one.txt"), "1")
	writeFile(t, filepath.Join(src, "nested", "two.txt"), "2")
	dstDir := filepath.Join(dir, "folder")
	if err := os.Mkdir(dstDir, 0o755); err != nil {
		t.Fatal(err)
	}

	m := &Mover{Layers: []Layer{failing("shell"), failing("rename"), {Name: "copy", Move: copyMove}}}
	dst, err := m.Move(context.Background(), src, dstDir)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if data, _ := os.ReadFile(filepath.Join(dst, "nested", "two.txt")); string(data) != "2" {
		t.Fatalf("nested file not copied: %q", data)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source should be deleted after copy")
	}
}

func TestMoveReportsOnlyLastLayerError(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dstDir := filepath.Join(dir, "folder")
	writeFile(t, src, "x")
	if err := os.Mkdir(dstDir, 0o755); err != nil {
		t.Fatal(err)
	}

	m := &Mover{Layers: []Layer{failing("shell"), failing("rename"), failing("copy")}}
	_, err := m.Move(context.Background(), src, dstDir)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.HasPrefix(err.Error(), "copy:") || strings.Contains(err.Error(), "shell") {
		t.Fatalf("err = %v, want only the copy layer error", err)
	}
}

func TestMoveRejectsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dstDir := filepath.Join(dir, "folder")
	writeFile(t, src, "new")
	writeFile(t, filepath.Join(dstDir, "a.txt"), "old")

	if _, err := DefaultMover().Move(context.Background(), src, dstDir); err == nil {
		t.Fatalf("expected existing destination to be rejected")
	}
	if data, _ := os.ReadFile(filepath.Join(dstDir, "a.txt")); string(data) != "old" {
		t.Fatalf("destination overwritten")
	}
}

func TestMoveAll(t *testing.T) {
	dir := t.TempDir()
	dstDir := filepath.Join(dir, "folder")
	if err := os.Mkdir(dstDir, 0o755); err != nil {
		t.Fatal(err)
	}
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "a")

	m := &Mover{Layers: []Layer{{Name: "rename", Move: renameMove}}}
	moved, err := m.MoveAll(context.Background(), []string{a, filepath.Join(dir, "missing.txt")}, dstDir)
	if moved != 1 || err == nil {
		t.Fatalf("moved = %d, err = %v", moved, err)
	}
}
