package models

import (
	"fmt"
	"strings"
	"time"

	"tulip/internal/digest"
)

// Status tracks an object's integrity state in the catalog.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusMissing  Status = "missing"
	StatusCorrupt  Status = "corrupt"
)

var validStatuses = map[Status]struct{}{
	StatusPending:  {},
	StatusVerified: {},
	StatusMissing:  {},
	StatusCorrupt:  {},
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	value := Status(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("status is required")
	}
	if _, ok := validStatuses[value]; !ok {
		return "", fmt.Errorf("invalid status: %s", value)
	}
	return value, nil
}

// Encoding describes how bytes are encoded at rest at one location.
// Content addresses are always computed over the raw (identity) bytes.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingZstd     Encoding = "zstd"
)

var validEncodings = map[Encoding]struct{}{
	EncodingIdentity: {},
	EncodingZstd:     {},
}

// ParseEncoding validates a raw encoding value. Empty means identity.
func ParseEncoding(raw string) (Encoding, error) {
	value := Encoding(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return EncodingIdentity, nil
	}
	if _, ok := validEncodings[value]; !ok {
		return "", fmt.Errorf("invalid encoding: %s", value)
	}
	return value, nil
}

// Object is one catalog row per distinct content address. Identity fields
// (address, size) are immutable after creation; only Status and Metadata
// change.
type Object struct {
	ContentAddress digest.Address `json:"content_address"`
	SizeBytes      int64          `json:"size_bytes"`
	Status         Status         `json:"status"`
	IngestedAt     time.Time      `json:"ingested_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Locations      []Location     `json:"locations,omitempty"`
}

// Validate checks the immutable identity fields.
func (o *Object) Validate() error {
	if o == nil {
		return fmt.Errorf("object is required")
	}
	if _, err := digest.Parse(string(o.ContentAddress)); err != nil {
		return err
	}
	if o.SizeBytes < 0 {
		return fmt.Errorf("size_bytes must be >= 0")
	}
	if o.Status != "" {
		if _, err := ParseStatus(string(o.Status)); err != nil {
			return err
		}
	}
	return nil
}

// Location records that one backend holds the bytes for a content address.
type Location struct {
	ContentAddress digest.Address `json:"content_address"`
	BackendID      string         `json:"backend_id"`
	BackendPath    string         `json:"backend_path"`
	Encoding       Encoding       `json:"encoding"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks the location triple.
func (l *Location) Validate() error {
	if l == nil {
		return fmt.Errorf("location is required")
	}
	if _, err := digest.Parse(string(l.ContentAddress)); err != nil {
		return err
	}
	if strings.TrimSpace(l.BackendID) == "" {
		return fmt.Errorf("backend_id is required")
	}
	if strings.TrimSpace(l.BackendPath) == "" {
		return fmt.Errorf("backend_path is required")
	}
	if l.Encoding != "" {
		if _, err := ParseEncoding(string(l.Encoding)); err != nil {
			return err
		}
	}
	return nil
}
