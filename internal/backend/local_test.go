package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"tulip/internal/digest"
)

func TestLocalWriteReadDelete(t *testing.T) {
	b, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	n, err := b.Write(ctx, "sha256/ab/cd/abcdef", bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}

	exists, err := b.Exists(ctx, "sha256/ab/cd/abcdef")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected object to exist")
	}

	rc, err := b.Read(ctx, "sha256/ab/cd/abcdef")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", string(data))
	}

	if err := b.Delete(ctx, "sha256/ab/cd/abcdef"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(ctx, "sha256/ab/cd/abcdef"); err != nil {
		t.Fatalf("delete missing should be noop: %v", err)
	}
	exists, err = b.Exists(ctx, "sha256/ab/cd/abcdef")
	if err != nil {
		t.Fatalf("exists after delete: %v", err)
	}
	if exists {
		t.Fatal("expected object gone after delete")
	}
}

func TestLocalReadMissingIsNotFound(t *testing.T) {
	b, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	_, err = b.Read(context.Background(), "sha256/no/pe/nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalWriteLeavesNoPartials(t *testing.T) {
	root := t.TempDir()
	b, err := NewLocal(root)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	failing := io.MultiReader(bytes.NewBufferString("partial"), &failingReader{})
	if _, err := b.Write(context.Background(), "sha256/aa/bb/aabb", failing); err == nil {
		t.Fatal("expected write failure")
	}

	if _, err := os.Stat(filepath.Join(root, "sha256", "aa", "bb", "aabb")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no visible object after failed write, stat err=%v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, localTempDirName))
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no staged leftovers, got %d entries", len(entries))
	}
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	b, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	for _, path := range []string{"", "/abs", "../escape", "..", "tmp"} {
		if _, err := b.Read(context.Background(), path); err == nil {
			t.Fatalf("expected rejection for path %q", path)
		}
	}
}

func TestLocalList(t *testing.T) {
	b, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	for _, path := range []string{"sha256/aa/00/aa00", "sha256/bb/00/bb00", "blake2b/cc/00/cc00"} {
		if _, err := b.Write(ctx, path, bytes.NewBufferString("x")); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	paths, err := b.List(ctx, "sha256/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(paths)
	want := []string{"sha256/aa/00/aa00", "sha256/bb/00/bb00"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, paths)
		}
	}
}

func TestPathForShards(t *testing.T) {
	address, err := digest.FromBytes(digest.AlgorithmSHA256, []byte("hello"))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	path := PathFor(address)
	hex := address.Hex()
	want := "sha256/" + hex[0:2] + "/" + hex[2:4] + "/" + hex
	if path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
}

func TestRegistry(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	registry := NewRegistry(map[string]Backend{"local-1": local})

	if _, err := registry.Get("local-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := registry.Get("s3-1"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	ids := registry.IDs()
	if len(ids) != 1 || ids[0] != "local-1" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("source failed mid-stream")
}
