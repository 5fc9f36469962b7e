package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteReadRemove(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key, err := store.Write(ctx, "/generated//image/job-1/./image.png", []byte("png"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "generated/image/job-1/image.png" {
		t.Fatalf("key = %q", key)
	}
	data, err := store.Read(ctx, key)
	if err != nil || string(data) != "png" {
		t.Fatalf("read = %q, %v", data, err)
	}

	entries, err := os.ReadDir(filepath.Join(store.BasePath(), "generated", "image", "job-1"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want only the committed file", len(entries))
	}

	if err := store.RemovePrefix(ctx, "generated/image/job-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Read(ctx, key); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read after remove err = %v", err)
	}
	if err := store.RemovePrefix(ctx, "generated/image/job-1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "  ", ".", "..", "../etc/passwd", "a/../../b", "..\\windows"} {
		if _, err := sanitizeKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("sanitizeKey(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestFileStoreHonoursContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "a.txt", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
