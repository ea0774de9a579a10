package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tulip/internal/backend"
	"tulip/internal/catalog"
	"tulip/internal/digest"
	"tulip/internal/models"
)

const (
	defaultMaxRetries    = 4
	defaultRetryInterval = 500 * time.Millisecond
)

// Options tunes a Repository.
type Options struct {
	// Algorithm picks the content digest algorithm. Default sha256.
	Algorithm digest.Algorithm
	// StagingDir holds temp files while streams are hashed. Defaults to
	// the system temp dir. Content-addressed paths are only known after
	// the full stream is consumed, so every ingestion stages first.
	StagingDir string
	// Encodings records the at-rest encoding per backend id, for the
	// location rows. Backends absent from the map store identity bytes.
	Encodings map[string]models.Encoding
	// MaxRetries bounds retry attempts for transient backend failures.
	MaxRetries int
	// RetryInterval is the initial backoff interval.
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Repository is the ingestion engine: it drives bytes from a source stream
// through content addressing into a backend and commits the result to the
// catalog. Safe for concurrent use; the catalog transaction is the only
// serialization point.
type Repository struct {
	catalog  *catalog.Catalog
	backends *backend.Registry

	algorithm     digest.Algorithm
	stagingDir    string
	encodings     map[string]models.Encoding
	maxRetries    int
	retryInterval time.Duration
	logger        *slog.Logger
}

// New builds a Repository over an open catalog and backend registry.
func New(cat *catalog.Catalog, backends *backend.Registry, opts Options) (*Repository, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if backends == nil {
		return nil, fmt.Errorf("backend registry is required")
	}

	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = digest.DefaultAlgorithm
	}
	if _, err := digest.New(algorithm); err != nil {
		return nil, err
	}

	stagingDir := opts.StagingDir
	if stagingDir == "" {
		stagingDir = os.TempDir()
	} else if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, err
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Repository{
		catalog:       cat,
		backends:      backends,
		algorithm:     algorithm,
		stagingDir:    stagingDir,
		encodings:     opts.Encodings,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		logger:        logger,
	}, nil
}

// Ingest streams src into backendID and records the object in the catalog.
// Idempotent: identical bytes yield the same content address, and a backend
// already holding those bytes is not written again. On success the returned
// object is Verified (read back and re-hashed after the write).
func (r *Repository) Ingest(ctx context.Context, src io.Reader, backendID string, metadata map[string]any) (*models.Object, error) {
	if src == nil {
		return nil, newError(KindSourceUnreadable, backendID, "", fmt.Errorf("source stream is required"))
	}
	b, err := r.backends.Get(backendID)
	if err != nil {
		return nil, newError(KindBackendPermanent, backendID, "", err)
	}

	// Reading/Addressed: hash while staging. The final path derives from
	// the digest, which needs the whole stream.
	staged, address, size, err := r.stage(src)
	if err != nil {
		return nil, newError(KindSourceUnreadable, backendID, "", err)
	}
	defer func() {
		_ = os.Remove(staged)
	}()

	path := backend.PathFor(address)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Writing: skip when the catalog already records this backend holding
	// the address.
	hasLocation, err := r.catalog.HasLocation(ctx, address, backendID)
	if err != nil {
		return nil, newError(KindCatalogUnavailable, backendID, path, err)
	}
	wrote := false
	if !hasLocation {
		if err := r.writeWithRetry(ctx, b, backendID, path, staged); err != nil {
			return nil, err
		}
		wrote = true
	}

	// Cataloging: upsert object then add location; the catalog provides
	// the per-address serialization.
	object, err := r.catalog.UpsertObject(ctx, &models.Object{
		ContentAddress: address,
		SizeBytes:      size,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, r.catalogError(backendID, path, err)
	}
	if err := r.catalog.AddLocation(ctx, models.Location{
		ContentAddress: address,
		BackendID:      backendID,
		BackendPath:    path,
		Encoding:       r.encodingFor(backendID),
	}); err != nil {
		return nil, r.catalogError(backendID, path, err)
	}

	// Verified: re-read and re-hash what just landed, catching silent
	// write corruption before declaring success.
	if wrote {
		if err := r.verifyWritten(ctx, b, backendID, path, address); err != nil {
			return nil, err
		}
		// A degraded object stays degraded: the new location checked out,
		// but the locations that made it missing or corrupt have not, and
		// only the verifier clears them.
		switch object.Status {
		case models.StatusCorrupt, models.StatusMissing:
			r.logger.Warn("object keeps degraded status after replica write",
				"address", address, "status", object.Status, "backend", backendID)
		default:
			if err := r.catalog.SetStatus(ctx, address, models.StatusVerified); err != nil {
				return nil, r.catalogError(backendID, path, err)
			}
		}
		r.logger.Debug("ingested object", "address", address, "backend", backendID, "size", size)
	} else {
		r.logger.Debug("re-ingest deduplicated", "address", address, "backend", backendID)
	}

	return r.catalog.GetObject(ctx, address)
}

// stage copies src to a temp file while hashing, returning the staged path,
// content address, and byte count.
func (r *Repository) stage(src io.Reader) (string, digest.Address, int64, error) {
	tmp, err := os.CreateTemp(r.stagingDir, "tulip-stage-*")
	if err != nil {
		return "", "", 0, err
	}
	tmpPath := tmp.Name()

	d, err := digest.New(r.algorithm)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", "", 0, err
	}
	n, err := io.Copy(io.MultiWriter(tmp, d), src)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", "", 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", 0, err
	}
	return tmpPath, d.Address(), n, nil
}

// writeWithRetry moves staged bytes to the backend path, retrying transient
// failures with bounded exponential backoff.
func (r *Repository) writeWithRetry(ctx context.Context, b backend.Backend, backendID, path, staged string) error {
	attempt := 0
	operation := func() error {
		attempt++
		f, err := os.Open(staged)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		_, err = b.Write(ctx, path, f)
		if err == nil {
			return nil
		}
		if backend.IsTransient(err) {
			r.logger.Warn("transient backend write failure", "backend", backendID, "path", path, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInterval
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxRetries)), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if backend.IsTransient(err) {
		return newError(KindBackendUnavailable, backendID, path, err)
	}
	return newError(KindBackendPermanent, backendID, path, err)
}

// verifyWritten reads the just-written bytes back and compares digests.
func (r *Repository) verifyWritten(ctx context.Context, b backend.Backend, backendID, path string, want digest.Address) error {
	rc, err := b.Read(ctx, path)
	if err != nil {
		return newError(KindBackendPermanent, backendID, path, err)
	}
	defer rc.Close()

	got, _, err := digest.FromReader(want.Algorithm(), rc)
	if err != nil {
		return newError(KindBackendPermanent, backendID, path, err)
	}
	if got != want {
		return newError(KindDigestMismatch, backendID, path, fmt.Errorf("read-back digest %s does not match %s", got, want))
	}
	return nil
}

// Get returns a reader over the raw bytes of an object. Objects marked
// corrupt are never served. Locations are tried in order; a location whose
// backend no longer holds the bytes is skipped.
func (r *Repository) Get(ctx context.Context, address digest.Address) (io.ReadCloser, error) {
	object, err := r.catalog.GetObject(ctx, address)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		return nil, newError(KindCatalogUnavailable, "", "", err)
	}
	if object.Status == models.StatusCorrupt {
		return nil, fmt.Errorf("object %s is marked corrupt and cannot be served", address)
	}
	if len(object.Locations) == 0 {
		return nil, fmt.Errorf("object %s has no backend locations", address)
	}

	var lastErr error
	for _, location := range object.Locations {
		b, err := r.backends.Get(location.BackendID)
		if err != nil {
			lastErr = err
			continue
		}
		rc, err := b.Read(ctx, location.BackendPath)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				r.logger.Warn("catalogued bytes missing from backend", "address", address, "backend", location.BackendID, "path", location.BackendPath)
				lastErr = err
				continue
			}
			lastErr = err
			continue
		}
		return rc, nil
	}
	return nil, newError(KindBackendPermanent, "", "", fmt.Errorf("no readable location for %s: %w", address, lastErr))
}

// Delete removes an object's bytes from every backend, then its location
// rows, then the object row.
func (r *Repository) Delete(ctx context.Context, address digest.Address) error {
	object, err := r.catalog.GetObject(ctx, address)
	if err != nil {
		return err
	}
	for _, location := range object.Locations {
		b, err := r.backends.Get(location.BackendID)
		if err != nil {
			return newError(KindBackendPermanent, location.BackendID, location.BackendPath, err)
		}
		if err := b.Delete(ctx, location.BackendPath); err != nil {
			return newError(KindBackendPermanent, location.BackendID, location.BackendPath, err)
		}
		if err := r.catalog.RemoveLocation(ctx, address, location.BackendID, location.BackendPath); err != nil {
			return r.catalogError(location.BackendID, location.BackendPath, err)
		}
	}
	return r.catalog.DeleteObject(ctx, address)
}

// Catalog exposes the underlying catalog for queries.
func (r *Repository) Catalog() *catalog.Catalog {
	return r.catalog
}

// Backends exposes the backend registry.
func (r *Repository) Backends() *backend.Registry {
	return r.backends
}

// Algorithm returns the configured digest algorithm.
func (r *Repository) Algorithm() digest.Algorithm {
	return r.algorithm
}

func (r *Repository) encodingFor(backendID string) models.Encoding {
	if encoding, ok := r.encodings[backendID]; ok && encoding != "" {
		return encoding
	}
	return models.EncodingIdentity
}

func (r *Repository) catalogError(backendID, path string, err error) error {
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrLocationsExist) {
		return err
	}
	if isConflictError(err) {
		return newError(KindCatalogConflict, backendID, path, err)
	}
	return newError(KindCatalogUnavailable, backendID, path, err)
}

func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
