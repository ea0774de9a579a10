package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"tulip/internal/digest"
	"tulip/internal/models"
)

// testCatalog creates a temporary catalog for testing.
func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("open test catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testAddress(t *testing.T, payload string) digest.Address {
	t.Helper()
	address, err := digest.FromBytes(digest.AlgorithmSHA256, []byte(payload))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return address
}

func TestUpsertAndGetObject(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	address := testAddress(t, "hello-tulip")

	stored, err := c.UpsertObject(ctx, &models.Object{
		ContentAddress: address,
		SizeBytes:      11,
		Metadata:       map[string]any{"source": "unit-test"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored.Status != models.StatusPending {
		t.Fatalf("expected pending status, got %s", stored.Status)
	}
	if stored.IngestedAt.IsZero() {
		t.Fatal("expected ingested_at to be set")
	}

	got, err := c.GetObject(ctx, address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SizeBytes != 11 {
		t.Fatalf("expected size 11, got %d", got.SizeBytes)
	}
	if got.Metadata["source"] != "unit-test" {
		t.Fatalf("unexpected metadata: %#v", got.Metadata)
	}
}

func TestGetObjectMissing(t *testing.T) {
	c := testCatalog(t)
	_, err := c.GetObject(context.Background(), testAddress(t, "nope"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertIsIdempotentAndMergesMetadata(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	address := testAddress(t, "payload")

	first, err := c.UpsertObject(ctx, &models.Object{
		ContentAddress: address,
		SizeBytes:      7,
		Metadata:       map[string]any{"a": "1", "b": "1"},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Second upsert must not touch identity fields and must merge
	// metadata last-writer-wins per key.
	second, err := c.UpsertObject(ctx, &models.Object{
		ContentAddress: address,
		SizeBytes:      7,
		Metadata:       map[string]any{"b": "2", "c": "3"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !second.IngestedAt.Equal(first.IngestedAt) {
		t.Fatalf("ingested_at changed: %v -> %v", first.IngestedAt, second.IngestedAt)
	}
	if second.Metadata["a"] != "1" || second.Metadata["b"] != "2" || second.Metadata["c"] != "3" {
		t.Fatalf("unexpected merged metadata: %#v", second.Metadata)
	}
}

func TestConcurrentUpsertsSingleObject(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	address := testAddress(t, "contended")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.UpsertObject(ctx, &models.Object{ContentAddress: address, SizeBytes: 9})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert: %v", err)
		}
	}

	objects, err := c.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected exactly one object row, got %d", len(objects))
	}
}

func TestLocations(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	address := testAddress(t, "located")

	location := models.Location{
		ContentAddress: address,
		BackendID:      "local-1",
		BackendPath:    "sha256/aa/bb/aabb",
	}

	// FK: no object row yet.
	if err := c.AddLocation(ctx, location); err == nil {
		t.Fatal("expected failure adding location without object row")
	}

	if _, err := c.UpsertObject(ctx, &models.Object{ContentAddress: address, SizeBytes: 7}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := c.AddLocation(ctx, location); err != nil {
		t.Fatalf("add location: %v", err)
	}
	// Idempotent on the triple.
	if err := c.AddLocation(ctx, location); err != nil {
		t.Fatalf("re-add location: %v", err)
	}

	has, err := c.HasLocation(ctx, address, "local-1")
	if err != nil || !has {
		t.Fatalf("has location: %v %v", has, err)
	}
	has, err = c.HasLocation(ctx, address, "s3-1")
	if err != nil || has {
		t.Fatalf("unexpected location on s3-1: %v %v", has, err)
	}

	locations, err := c.ListLocations(ctx, address)
	if err != nil {
		t.Fatalf("list locations: %v", err)
	}
	if len(locations) != 1 {
		t.Fatalf("expected 1 location, got %d", len(locations))
	}
	if locations[0].Encoding != models.EncodingIdentity {
		t.Fatalf("expected identity encoding default, got %s", locations[0].Encoding)
	}

	// Referential integrity: object delete blocked while locations remain.
	if err := c.DeleteObject(ctx, address); !errors.Is(err, ErrLocationsExist) {
		t.Fatalf("expected ErrLocationsExist, got %v", err)
	}
	if err := c.RemoveLocation(ctx, address, "local-1", "sha256/aa/bb/aabb"); err != nil {
		t.Fatalf("remove location: %v", err)
	}
	if err := c.DeleteObject(ctx, address); err != nil {
		t.Fatalf("delete object: %v", err)
	}
	if _, err := c.GetObject(ctx, address); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	address := testAddress(t, "status")

	if err := c.SetStatus(ctx, address, models.StatusVerified); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := c.UpsertObject(ctx, &models.Object{ContentAddress: address, SizeBytes: 6}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := c.SetStatus(ctx, address, models.StatusCorrupt); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err := c.GetObject(ctx, address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusCorrupt {
		t.Fatalf("expected corrupt, got %s", got.Status)
	}

	if err := c.SetStatus(ctx, address, models.Status("bogus")); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestScanLocationsPagination(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		address := testAddress(t, string(rune('a'+i)))
		if _, err := c.UpsertObject(ctx, &models.Object{ContentAddress: address, SizeBytes: 1}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if err := c.AddLocation(ctx, models.Location{
			ContentAddress: address,
			BackendID:      "local-1",
			BackendPath:    "sha256/x/y/" + address.Hex(),
		}); err != nil {
			t.Fatalf("add location %d: %v", i, err)
		}
	}

	seen := 0
	cursor := int64(0)
	for {
		page, next, err := c.ScanLocations(ctx, cursor, 2)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		seen += len(page)
		cursor = next
		if len(page) < 2 {
			break
		}
	}
	if seen != 5 {
		t.Fatalf("expected to scan 5 locations, got %d", seen)
	}

	if _, _, err := c.ScanLocations(ctx, 0, 0); err == nil {
		t.Fatal("expected error for non-positive limit")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty db path")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	c, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()

	var version int
	if err := c.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected schema version 1, got %d", version)
	}
}

func TestUpsertRejectsInvalidObjects(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	if _, err := c.UpsertObject(ctx, &models.Object{ContentAddress: "not-an-address", SizeBytes: 1}); err == nil {
		t.Fatal("expected error for invalid address")
	}
	if _, err := c.UpsertObject(ctx, &models.Object{ContentAddress: testAddress(t, "x"), SizeBytes: -1}); err == nil {
		t.Fatal("expected error for negative size")
	}
	var nilObject *models.Object
	if _, err := c.UpsertObject(ctx, nilObject); err == nil {
		t.Fatal("expected error for nil object")
	}
}
