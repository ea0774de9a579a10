package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tulip/internal/digest"
	"tulip/internal/models"
)

const objectColumns = "content_address, size_bytes, status, ingested_at, user_metadata"
const locationColumns = "content_address, backend_id, backend_path, encoding, created_at"

// UpsertObject inserts the object row if absent and merges user metadata
// key-wise (new keys added, existing keys overwritten). Identity fields of
// an existing row are untouched. Returns the canonical row. Two concurrent
// upserts of the same address serialize on the database; exactly one
// insert wins and the other degenerates to a metadata merge.
func (c *Catalog) UpsertObject(ctx context.Context, object *models.Object) (*models.Object, error) {
	if err := object.Validate(); err != nil {
		return nil, err
	}
	if object.Status == "" {
		object.Status = models.StatusPending
	}
	if object.IngestedAt.IsZero() {
		object.IngestedAt = time.Now().UTC()
	}

	// A conflicting concurrent commit is expected under concurrency;
	// retry once before surfacing.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = c.upsertObjectOnce(ctx, object)
		if err == nil || !isConflict(err) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return c.GetObject(ctx, object.ContentAddress)
}

func (c *Catalog) upsertObjectOnce(ctx context.Context, object *models.Object) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	metadataJSON, err := metadataToJSON(object.Metadata)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO objects (content_address, size_bytes, status, ingested_at, user_metadata)
		VALUES (?, ?, ?, ?, ?)
	`, string(object.ContentAddress), object.SizeBytes, string(object.Status), formatTime(object.IngestedAt), metadataJSON)
	if err != nil {
		return err
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 && len(object.Metadata) > 0 {
		if err := mergeMetadataTx(ctx, tx, object.ContentAddress, object.Metadata); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// mergeMetadataTx applies last-writer-wins per-key metadata merge inside tx.
func mergeMetadataTx(ctx context.Context, tx *sql.Tx, address digest.Address, incoming map[string]any) error {
	var existingJSON sql.NullString
	err := tx.QueryRowContext(ctx, "SELECT user_metadata FROM objects WHERE content_address = ?", string(address)).Scan(&existingJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	merged := map[string]any{}
	if existingJSON.Valid && existingJSON.String != "" {
		if err := json.Unmarshal([]byte(existingJSON.String), &merged); err != nil {
			return fmt.Errorf("corrupt user_metadata for %s: %w", address, err)
		}
	}
	for key, value := range incoming {
		merged[key] = value
	}

	mergedJSON, err := metadataToJSON(merged)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE objects SET user_metadata = ? WHERE content_address = ?", mergedJSON, string(address))
	return err
}

// GetObject returns one object with its locations, or ErrNotFound.
func (c *Catalog) GetObject(ctx context.Context, address digest.Address) (*models.Object, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE content_address = ?`, string(address))
	object, err := scanObject(row)
	if err != nil {
		return nil, err
	}

	locations, err := c.ListLocations(ctx, address)
	if err != nil {
		return nil, err
	}
	object.Locations = locations
	return object, nil
}

// AddLocation records that backend_id holds the bytes at backend_path.
// Idempotent on the (address, backend, path) triple. The object row must
// exist; the foreign key enforces it.
func (c *Catalog) AddLocation(ctx context.Context, location models.Location) error {
	if err := location.Validate(); err != nil {
		return err
	}
	if location.Encoding == "" {
		location.Encoding = models.EncodingIdentity
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO locations (content_address, backend_id, backend_path, encoding, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(location.ContentAddress), location.BackendID, location.BackendPath, string(location.Encoding), formatTime(location.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("no object record for %s: %w", location.ContentAddress, ErrNotFound)
	}
	return err
}

// RemoveLocation deletes one location triple. Missing rows are a no-op.
func (c *Catalog) RemoveLocation(ctx context.Context, address digest.Address, backendID, backendPath string) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM locations WHERE content_address = ? AND backend_id = ? AND backend_path = ?
	`, string(address), backendID, backendPath)
	return err
}

// HasLocation reports whether any location exists for (address, backend).
func (c *Catalog) HasLocation(ctx context.Context, address digest.Address, backendID string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1 FROM locations WHERE content_address = ? AND backend_id = ? LIMIT 1
	`, string(address), backendID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListLocations returns all locations for an address, oldest first.
func (c *Catalog) ListLocations(ctx context.Context, address digest.Address) ([]models.Location, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+locationColumns+` FROM locations WHERE content_address = ? ORDER BY created_at, backend_id
	`, string(address))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

// ScanLocations pages through every location record in rowid order. Pass
// the returned cursor back in to continue; a short page means the scan is
// done. Keeps verifier memory bounded on large catalogs.
func (c *Catalog) ScanLocations(ctx context.Context, cursor int64, limit int) ([]models.Location, int64, error) {
	if limit <= 0 {
		return nil, cursor, fmt.Errorf("scan limit must be > 0")
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT rowid, `+locationColumns+` FROM locations WHERE rowid > ? ORDER BY rowid LIMIT ?
	`, cursor, limit)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()

	locations := []models.Location{}
	last := cursor
	for rows.Next() {
		var rowID int64
		var address, backendID, backendPath, encoding, createdAt string
		if err := rows.Scan(&rowID, &address, &backendID, &backendPath, &encoding, &createdAt); err != nil {
			return nil, cursor, err
		}
		location, err := buildLocation(address, backendID, backendPath, encoding, createdAt)
		if err != nil {
			return nil, cursor, err
		}
		locations = append(locations, location)
		last = rowID
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, err
	}
	return locations, last, nil
}

// SetStatus updates the object's integrity status.
func (c *Catalog) SetStatus(ctx context.Context, address digest.Address, status models.Status) error {
	if _, err := models.ParseStatus(string(status)); err != nil {
		return err
	}
	result, err := c.db.ExecContext(ctx, `
		UPDATE objects SET status = ? WHERE content_address = ?
	`, string(status), string(address))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteObject removes the object row. Fails with ErrLocationsExist while
// any location record remains; referential integrity demands locations go
// first.
func (c *Catalog) DeleteObject(ctx context.Context, address digest.Address) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM locations WHERE content_address = ?", string(address)).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrLocationsExist
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE content_address = ?", string(address))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func metadataToJSON(metadata map[string]any) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode user_metadata: %w", err)
	}
	return string(data), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*models.Object, error) {
	var address, status, ingestedAt string
	var sizeBytes int64
	var metadataJSON sql.NullString

	err := row.Scan(&address, &sizeBytes, &status, &ingestedAt, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	object := &models.Object{
		ContentAddress: digest.Address(address),
		SizeBytes:      sizeBytes,
		Status:         models.Status(status),
	}
	object.IngestedAt, err = parseTime(ingestedAt)
	if err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &object.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt user_metadata for %s: %w", address, err)
		}
	}
	return object, nil
}

func collectLocations(rows *sql.Rows) ([]models.Location, error) {
	locations := []models.Location{}
	for rows.Next() {
		var address, backendID, backendPath, encoding, createdAt string
		if err := rows.Scan(&address, &backendID, &backendPath, &encoding, &createdAt); err != nil {
			return nil, err
		}
		location, err := buildLocation(address, backendID, backendPath, encoding, createdAt)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, rows.Err()
}

func buildLocation(address, backendID, backendPath, encoding, createdAt string) (models.Location, error) {
	location := models.Location{
		ContentAddress: digest.Address(address),
		BackendID:      backendID,
		BackendPath:    backendPath,
		Encoding:       models.Encoding(encoding),
	}
	var err error
	location.CreatedAt, err = parseTime(createdAt)
	return location, err
}
