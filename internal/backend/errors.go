package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
)

var (
	// ErrNotFound marks a permanent failure: the path holds no bytes.
	ErrNotFound = errors.New("object not found")
	// ErrPermissionDenied marks a permanent failure: access refused.
	ErrPermissionDenied = errors.New("permission denied")
)

// transientError wraps a failure that is expected to clear on retry
// (timeouts, throttling, server-side 5xx). The retry policy belongs to the
// caller, not the backend.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return "transient backend failure: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient tags err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was classified as retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// classifyLocal maps filesystem errors to the backend taxonomy.
func classifyLocal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return errors.Join(ErrNotFound, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return errors.Join(ErrPermissionDenied, err)
	}
	return err
}

// classifyS3 maps AWS SDK errors to the backend taxonomy. Throttling and
// server errors are transient; 404 and 403 are permanent.
func classifyS3(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var responseError *awshttp.ResponseError
	if errors.As(err, &responseError) {
		switch code := responseError.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return errors.Join(ErrNotFound, err)
		case code == http.StatusForbidden:
			return errors.Join(ErrPermissionDenied, err)
		case code == http.StatusTooManyRequests || code >= 500:
			return Transient(err)
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(err)
	}

	return err
}
