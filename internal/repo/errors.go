package repo

import (
	"errors"
	"fmt"
)

// Kind classifies ingestion and retrieval failures. Callers branch on the
// kind, not on error strings.
type Kind string

const (
	// KindSourceUnreadable: the caller's source stream failed. Never
	// retried automatically.
	KindSourceUnreadable Kind = "source_unreadable"
	// KindBackendUnavailable: transient backend failures exhausted the
	// retry budget.
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindBackendPermanent: the backend refused definitively (not found,
	// permission denied, unknown backend id).
	KindBackendPermanent Kind = "backend_permanent"
	// KindCatalogConflict: a concurrent-write race survived the catalog's
	// own single retry.
	KindCatalogConflict Kind = "catalog_conflict"
	// KindDigestMismatch: post-write read-back hashed to a different
	// address than the staged bytes.
	KindDigestMismatch Kind = "digest_mismatch"
	// KindCatalogUnavailable: the catalog database failed.
	KindCatalogUnavailable Kind = "catalog_unavailable"
)

// Error is the structured failure result of repository operations. It
// carries enough context (backend id, path, cause) to diagnose without
// re-running.
type Error struct {
	Kind      Kind
	BackendID string
	Path      string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.BackendID != "" {
		msg += " backend=" + e.BackendID
	}
	if e.Path != "" {
		msg += " path=" + e.Path
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == kind
}

func newError(kind Kind, backendID, path string, err error) *Error {
	return &Error{Kind: kind, BackendID: backendID, Path: path, Err: err}
}
