package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tulip/internal/backend"
	"tulip/internal/catalog"
	"tulip/internal/config"
	"tulip/internal/digest"
	"tulip/internal/models"
	"tulip/internal/repo"
)

// buildRegistry connects every configured backend. Zstd-encoded backends are
// wrapped so callers only ever see raw bytes.
func buildRegistry(ctx context.Context, cfg *config.Config) (*backend.Registry, map[string]models.Encoding, error) {
	backends := make(map[string]backend.Backend, len(cfg.Backends))
	encodings := make(map[string]models.Encoding, len(cfg.Backends))

	for id, bc := range cfg.Backends {
		var b backend.Backend
		var err error
		switch bc.Type {
		case "local":
			b, err = backend.NewLocal(bc.Root)
		case "s3":
			b, err = backend.NewS3(ctx, backend.S3Config{
				Bucket:   bc.Bucket,
				Region:   bc.Region,
				Endpoint: bc.Endpoint,
				Prefix:   bc.Prefix,
			})
		default:
			err = fmt.Errorf("unknown type %q", bc.Type)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("backend %s: %w", id, err)
		}

		encoding, err := models.ParseEncoding(bc.Encoding)
		if err != nil {
			return nil, nil, fmt.Errorf("backend %s: %w", id, err)
		}
		if encoding == models.EncodingZstd {
			b = backend.NewZstd(b)
		}
		backends[id] = b
		encodings[id] = encoding
	}

	return backend.NewRegistry(backends), encodings, nil
}

// withRepository opens the catalog and backends, runs fn, and closes the
// catalog afterwards.
func withRepository(ctx context.Context, cfg *config.Config, fn func(*repo.Repository) error) error {
	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	registry, encodings, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	algorithm, err := digest.ParseAlgorithm(cfg.DigestAlgorithm)
	if err != nil {
		return err
	}

	r, err := repo.New(cat, registry, repo.Options{
		Algorithm:     algorithm,
		StagingDir:    cfg.Ingest.StagingDir,
		Encodings:     encodings,
		MaxRetries:    cfg.Ingest.MaxRetries,
		RetryInterval: time.Duration(cfg.Ingest.RetryIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	return fn(r)
}

// resolveBackendID picks the backend for write operations: explicit flag,
// then default_backend, then a sole configured backend.
func resolveBackendID(cfg *config.Config, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.DefaultBackend != "" {
		return cfg.DefaultBackend, nil
	}
	if ids := cfg.BackendIDs(); len(ids) == 1 {
		return ids[0], nil
	}
	return "", errors.New("no backend selected: pass --backend or set default_backend")
}
