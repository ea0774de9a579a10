package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const localTempDirName = "tmp"

// Local stores bytes under a root directory on the local filesystem.
// Writes stage into root/tmp and rename into place, so a partially written
// object is never visible at its final path.
type Local struct {
	root string
}

// NewLocal creates a local backend rooted at root.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local backend root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, localTempDirName), 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Write stages the stream to a temp file, fsyncs, and renames to path.
func (l *Local) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst, err := l.resolve(path)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, localTempDirName), "write-*")
	if err != nil {
		return 0, classifyLocal(err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, classifyLocal(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, classifyLocal(err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return 0, classifyLocal(err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return 0, classifyLocal(err)
	}
	return n, nil
}

// Read opens the bytes at path.
func (l *Local) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, classifyLocal(err)
	}
	return f, nil
}

// Exists checks whether path holds bytes.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	src, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, classifyLocal(err)
	}
	return !info.IsDir(), nil
}

// Delete removes the bytes at path. Missing paths are ignored.
func (l *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return classifyLocal(err)
	}
	return nil
}

// List returns the paths under prefix, in slash form relative to the root.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths := []string{}
	err := filepath.WalkDir(l.root, func(walked string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			if walked == filepath.Join(l.root, localTempDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(l.root, walked)
		if err != nil {
			return err
		}
		slashed := filepath.ToSlash(rel)
		if strings.HasPrefix(slashed, prefix) {
			paths = append(paths, slashed)
		}
		return nil
	})
	if err != nil {
		return nil, classifyLocal(err)
	}
	return paths, nil
}

// resolve maps a storage path to an absolute filesystem path, refusing
// anything that would escape the root.
func (l *Local) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("backend path is required")
	}
	if strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("backend path must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || clean == localTempDirName || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid backend path: %s", path)
	}
	return filepath.Join(l.root, clean), nil
}
