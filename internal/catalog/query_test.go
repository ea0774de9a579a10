package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"tulip/internal/digest"
	"tulip/internal/models"
)

func seedObject(t *testing.T, c *Catalog, payload string, status models.Status, metadata map[string]any, backendID string) digest.Address {
	t.Helper()
	ctx := context.Background()
	address := testAddress(t, payload)
	if _, err := c.UpsertObject(ctx, &models.Object{
		ContentAddress: address,
		SizeBytes:      int64(len(payload)),
		Metadata:       metadata,
	}); err != nil {
		t.Fatalf("seed upsert %q: %v", payload, err)
	}
	if err := c.SetStatus(ctx, address, status); err != nil {
		t.Fatalf("seed status %q: %v", payload, err)
	}
	if backendID != "" {
		if err := c.AddLocation(ctx, models.Location{
			ContentAddress: address,
			BackendID:      backendID,
			BackendPath:    "sha256/" + address.Hex()[:2] + "/" + address.Hex()[2:4] + "/" + address.Hex(),
		}); err != nil {
			t.Fatalf("seed location %q: %v", payload, err)
		}
	}
	return address
}

func TestQueryByStatus(t *testing.T) {
	c := testCatalog(t)
	seedObject(t, c, "one", models.StatusVerified, nil, "")
	seedObject(t, c, "two", models.StatusCorrupt, nil, "")
	seedObject(t, c, "three", models.StatusVerified, nil, "")

	objects, err := c.Query(context.Background(), Filter{Statuses: []models.Status{models.StatusVerified}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 verified objects, got %d", len(objects))
	}
	for _, object := range objects {
		if object.Status != models.StatusVerified {
			t.Fatalf("unexpected status %s", object.Status)
		}
	}
}

func TestQueryByMetadata(t *testing.T) {
	c := testCatalog(t)
	want := seedObject(t, c, "tagged", models.StatusVerified, map[string]any{"project": "tulip", "tier": "gold"}, "")
	seedObject(t, c, "other", models.StatusVerified, map[string]any{"project": "rose"}, "")
	seedObject(t, c, "untagged", models.StatusVerified, nil, "")

	objects, err := c.Query(context.Background(), Filter{
		MetadataEquals: map[string]string{"project": "tulip", "tier": "gold"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objects))
	}
	if objects[0].ContentAddress != want {
		t.Fatalf("expected %s, got %s", want, objects[0].ContentAddress)
	}
}

func TestQueryByBackend(t *testing.T) {
	c := testCatalog(t)
	onLocal := seedObject(t, c, "on-local", models.StatusVerified, nil, "local-1")
	seedObject(t, c, "on-s3", models.StatusVerified, nil, "s3-1")

	objects, err := c.Query(context.Background(), Filter{BackendID: "local-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(objects) != 1 || objects[0].ContentAddress != onLocal {
		t.Fatalf("expected only %s, got %#v", onLocal, objects)
	}
}

func TestQueryByAddressPrefix(t *testing.T) {
	c := testCatalog(t)
	address := seedObject(t, c, "prefixed", models.StatusVerified, nil, "")
	seedObject(t, c, "unrelated-payload", models.StatusVerified, nil, "")

	prefix := string(address)[:len("sha256:")+8]
	objects, err := c.Query(context.Background(), Filter{AddressPrefix: prefix})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(objects) != 1 || objects[0].ContentAddress != address {
		t.Fatalf("expected %s for prefix %s, got %#v", address, prefix, objects)
	}
}

func TestQueryTimeWindowAndPagination(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	for _, payload := range []string{"p1", "p2", "p3", "p4"} {
		seedObject(t, c, payload, models.StatusVerified, nil, "")
	}

	future := time.Now().UTC().Add(time.Hour)
	objects, err := c.Query(ctx, Filter{IngestedAfter: &future})
	if err != nil {
		t.Fatalf("query after future: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected no objects ingested after the future, got %d", len(objects))
	}

	page, err := c.Query(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("query limit: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	rest, err := c.Query(ctx, Filter{Limit: 10, Offset: 2})
	if err != nil {
		t.Fatalf("query offset: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(rest))
	}
}

func TestBuildObjectQueryShape(t *testing.T) {
	query, args := buildObjectQuery(Filter{
		Statuses:      []models.Status{models.StatusMissing, models.StatusCorrupt},
		AddressPrefix: "sha256:",
		Limit:         10,
	})
	if !strings.Contains(query, "status IN (?,?)") {
		t.Fatalf("missing status clause in %q", query)
	}
	if !strings.Contains(query, "LIKE ?") {
		t.Fatalf("missing prefix clause in %q", query)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d: %#v", len(args), args)
	}
}
