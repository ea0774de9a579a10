package backend

import (
	"context"
	"fmt"
	"io"
	"sort"

	"tulip/internal/digest"
)

// Backend is the byte-storage abstraction over heterogeneous physical
// stores. Callers never branch on the concrete variant. Implementations are
// stateless per call and safe for concurrent use; they classify failures
// (see errors.go) but never retry.
type Backend interface {
	// Write stores the full stream at path atomically: either all bytes
	// land or no partial object is visible.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	// Read opens the bytes at path. A missing path yields ErrNotFound.
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes the bytes at path. Missing paths are a no-op.
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// PathFor maps a content address to its storage path. Two shard levels keep
// directory fanout bounded on filesystem-backed stores.
func PathFor(address digest.Address) string {
	hex := address.Hex()
	return fmt.Sprintf("%s/%s/%s/%s", address.Algorithm(), hex[0:2], hex[2:4], hex)
}

// Registry maps backend ids to configured backends.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds a registry from an id-to-backend map.
func NewRegistry(backends map[string]Backend) *Registry {
	copied := make(map[string]Backend, len(backends))
	for id, b := range backends {
		copied[id] = b
	}
	return &Registry{backends: copied}
}

// Get returns the backend registered under id.
func (r *Registry) Get(id string) (Backend, error) {
	if r == nil {
		return nil, fmt.Errorf("backend registry is not configured")
	}
	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", id)
	}
	return b, nil
}

// IDs returns the registered backend ids, sorted.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
