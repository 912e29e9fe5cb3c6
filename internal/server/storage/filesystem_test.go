package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("saves payload to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		data := bytes.NewReader([]byte("test content"))
		n, err := store.Save(context.Background(), "abc123.mp4", data, 12)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		content, err := os.ReadFile(filepath.Join(dir, "abc123.mp4"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		data := bytes.NewReader([]byte(largeContent))
		n, err := store.Save(context.Background(), "large.mp4", data, int64(len(largeContent)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})

	t.Run("rejects keys with path separators", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if _, err := store.Save(context.Background(), "../escape.mp4", strings.NewReader("x"), 1); err == nil {
			t.Error("expected error for traversal key")
		}
		if _, err := store.Save(context.Background(), "a/b.mp4", strings.NewReader("x"), 1); err == nil {
			t.Error("expected error for nested key")
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	t.Run("returns reader and size for existing payload", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		os.WriteFile(filepath.Join(dir, "test123.mp4"), []byte("data"), 0644)

		r, size, err := store.Open(context.Background(), "test123.mp4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer r.Close()

		if size != 4 {
			t.Errorf("expected size 4, got %d", size)
		}
		content, _ := io.ReadAll(r)
		if string(content) != "data" {
			t.Errorf("expected 'data', got %q", content)
		}
	})

	t.Run("returns error for missing payload", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if _, _, err := store.Open(context.Background(), "nonexistent.mp4"); err == nil {
			t.Error("expected error for nonexistent payload")
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing payload", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, "del123.mp4")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Delete(context.Background(), "del123.mp4"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing payload", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Delete(context.Background(), "nonexistent.mp4"); err != nil {
			t.Errorf("expected no error for missing payload, got: %v", err)
		}
	})
}

func TestFileSystemStore_List(t *testing.T) {
	t.Run("lists payloads sorted by key", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		os.WriteFile(filepath.Join(dir, "b.mp4"), []byte("bb"), 0644)
		os.WriteFile(filepath.Join(dir, "a.mp4"), []byte("a"), 0644)

		objects, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(objects) != 2 {
			t.Fatalf("expected 2 objects, got %d", len(objects))
		}
		if objects[0].Key != "a.mp4" || objects[1].Key != "b.mp4" {
			t.Errorf("unexpected order: %v", objects)
		}
		if objects[1].Size != 2 {
			t.Errorf("expected size 2 for b.mp4, got %d", objects[1].Size)
		}
	})

	t.Run("empty for missing directory", func(t *testing.T) {
		store := NewFileSystemStore(filepath.Join(t.TempDir(), "missing"))

		objects, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(objects) != 0 {
			t.Errorf("expected no objects, got %d", len(objects))
		}
	})
}

func TestFileSystemStore_Ensure(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.Ensure(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Ensure(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestCleanupService(t *testing.T) {
	t.Run("removes stale unreferenced payloads only", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		old := time.Now().Add(-2 * time.Hour)
		for _, name := range []string{"stale.mp4", "held.mp4"} {
			path := filepath.Join(dir, name)
			os.WriteFile(path, []byte("x"), 0644)
			os.Chtimes(path, old, old)
		}
		os.WriteFile(filepath.Join(dir, "fresh.mp4"), []byte("x"), 0644)

		cs := NewCleanupService(store, func() map[string]bool {
			return map[string]bool{"held.mp4": true}
		}, time.Hour, time.Hour)
		cs.runCleanup(context.Background())

		if _, err := os.Stat(filepath.Join(dir, "stale.mp4")); !os.IsNotExist(err) {
			t.Error("stale payload must be removed")
		}
		if _, err := os.Stat(filepath.Join(dir, "held.mp4")); err != nil {
			t.Error("referenced payload must survive")
		}
		if _, err := os.Stat(filepath.Join(dir, "fresh.mp4")); err != nil {
			t.Error("fresh payload must survive")
		}
	})
}
