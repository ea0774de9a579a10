package backend

import (
	"context"
	"io"
	"sync/atomic"
)

// Counting wraps a backend and counts operations. The ingestion tests and
// the CLI's verbose stats use it to assert that re-ingesting existing
// content performs no second write.
type Counting struct {
	inner Backend

	writes  atomic.Int64
	reads   atomic.Int64
	deletes atomic.Int64
}

// NewCounting wraps inner with operation counters.
func NewCounting(inner Backend) *Counting {
	return &Counting{inner: inner}
}

func (c *Counting) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	c.writes.Add(1)
	return c.inner.Write(ctx, path, r)
}

func (c *Counting) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	c.reads.Add(1)
	return c.inner.Read(ctx, path)
}

func (c *Counting) Exists(ctx context.Context, path string) (bool, error) {
	return c.inner.Exists(ctx, path)
}

func (c *Counting) Delete(ctx context.Context, path string) error {
	c.deletes.Add(1)
	return c.inner.Delete(ctx, path)
}

func (c *Counting) List(ctx context.Context, prefix string) ([]string, error) {
	return c.inner.List(ctx, prefix)
}

// Writes returns the number of Write calls observed.
func (c *Counting) Writes() int64 { return c.writes.Load() }

// Reads returns the number of Read calls observed.
func (c *Counting) Reads() int64 { return c.reads.Load() }

// Deletes returns the number of Delete calls observed.
func (c *Counting) Deletes() int64 { return c.deletes.Load() }
