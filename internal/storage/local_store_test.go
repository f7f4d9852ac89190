package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore_SaveWritesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	name, err := store.Save(context.Background(), "123_avatar.png", "image/png", bytes.NewReader([]byte("fake png bytes")))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != "123_avatar.png" {
		t.Fatalf("expected stored name preserved, got %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "fake png bytes" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestLocalStore_SaveStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	name, err := store.Save(context.Background(), "../../etc/passwd.png", "image/png", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != "passwd.png" {
		t.Fatalf("expected base name only, got %q", name)
	}
	if _, err := os.Stat(filepath.Join(dir, "passwd.png")); err != nil {
		t.Fatalf("expected file inside upload dir: %v", err)
	}
}
