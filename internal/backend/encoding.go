package backend

import (
	"context"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Zstd wraps a backend with transparent zstd compression at rest. Content
// addresses stay defined over the raw bytes: Write compresses on the way
// in and reports the raw byte count, Read decompresses on the way out.
// Exists/Delete/List pass through untouched.
type Zstd struct {
	inner Backend
}

// NewZstd wraps inner with zstd encoding.
func NewZstd(inner Backend) *Zstd {
	return &Zstd{inner: inner}
}

// Write compresses the stream into the inner backend and returns the
// number of raw bytes consumed.
func (z *Zstd) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	pr, pw := io.Pipe()

	var rawBytes int64
	var encodeErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc, err := zstd.NewWriter(pw)
		if err != nil {
			encodeErr = err
			pw.CloseWithError(err)
			return
		}
		n, err := io.Copy(enc, r)
		rawBytes = n
		if err != nil {
			encodeErr = err
			_ = enc.Close()
			pw.CloseWithError(err)
			return
		}
		if err := enc.Close(); err != nil {
			encodeErr = err
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	if _, err := z.inner.Write(ctx, path, pr); err != nil {
		_ = pr.CloseWithError(err)
		<-done
		return 0, err
	}
	<-done
	if encodeErr != nil {
		return 0, encodeErr
	}
	return rawBytes, nil
}

// Read returns a reader over the decompressed bytes.
func (z *Zstd) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := z.inner.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return &zstdReadCloser{dec: dec, underlying: rc}, nil
}

func (z *Zstd) Exists(ctx context.Context, path string) (bool, error) {
	return z.inner.Exists(ctx, path)
}

func (z *Zstd) Delete(ctx context.Context, path string) error {
	return z.inner.Delete(ctx, path)
}

func (z *Zstd) List(ctx context.Context, prefix string) ([]string, error) {
	return z.inner.List(ctx, prefix)
}

type zstdReadCloser struct {
	dec        *zstd.Decoder
	underlying io.ReadCloser
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.underlying.Close()
}
