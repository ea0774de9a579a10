package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tulip/internal/models"
)

// Filter selects objects for Query.
type Filter struct {
	Statuses       []models.Status
	AddressPrefix  string
	// MetadataEquals matches string equality on user_metadata keys.
	MetadataEquals map[string]string
	BackendID      string
	IngestedAfter  *time.Time
	IngestedBefore *time.Time
	Limit          int
	Offset         int
}

// Query returns the objects matching filter, most recently ingested first.
// Locations are not attached; use GetObject for one object with locations.
func (c *Catalog) Query(ctx context.Context, filter Filter) ([]models.Object, error) {
	query, args := buildObjectQuery(filter)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objects := []models.Object{}
	for rows.Next() {
		object, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, *object)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return objects, nil
}

type objectQueryBuilder struct {
	filter Filter
	query  string
	args   []any
	where  []string
}

func buildObjectQuery(filter Filter) (string, []any) {
	builder := &objectQueryBuilder{filter: filter}
	builder.buildSelect()
	builder.buildWhere()
	builder.buildOrder()
	builder.buildPagination()
	return builder.query, builder.args
}

func (b *objectQueryBuilder) buildSelect() {
	b.query = "SELECT " + objectColumns + " FROM objects"
	if b.filter.BackendID != "" {
		b.query = "SELECT DISTINCT objects.content_address, objects.size_bytes, objects.status, objects.ingested_at, objects.user_metadata" +
			" FROM objects JOIN locations ON objects.content_address = locations.content_address"
	}
}

func (b *objectQueryBuilder) buildWhere() {
	b.appendStatuses()
	b.appendAddressPrefix()
	b.appendBackend()
	b.appendMetadata()
	b.appendTimeFilters()

	if len(b.where) == 0 {
		return
	}
	b.query += " WHERE " + strings.Join(b.where, " AND ")
}

func (b *objectQueryBuilder) buildOrder() {
	b.query += " ORDER BY objects.ingested_at DESC, objects.content_address"
}

func (b *objectQueryBuilder) buildPagination() {
	hasLimit := false
	if b.filter.Limit > 0 {
		b.query += " LIMIT ?"
		b.args = append(b.args, b.filter.Limit)
		hasLimit = true
	}
	if b.filter.Offset > 0 {
		if !hasLimit {
			b.query += " LIMIT -1"
		}
		b.query += " OFFSET ?"
		b.args = append(b.args, b.filter.Offset)
	}
}

func (b *objectQueryBuilder) appendStatuses() {
	if len(b.filter.Statuses) == 0 {
		return
	}
	b.where = append(b.where, fmt.Sprintf("objects.status IN (%s)", placeholders(len(b.filter.Statuses))))
	for _, status := range b.filter.Statuses {
		b.args = append(b.args, string(status))
	}
}

func (b *objectQueryBuilder) appendAddressPrefix() {
	if b.filter.AddressPrefix == "" {
		return
	}
	b.where = append(b.where, "objects.content_address LIKE ? ESCAPE '\\'")
	b.args = append(b.args, escapeLike(b.filter.AddressPrefix)+"%")
}

func (b *objectQueryBuilder) appendBackend() {
	if b.filter.BackendID == "" {
		return
	}
	b.where = append(b.where, "locations.backend_id = ?")
	b.args = append(b.args, b.filter.BackendID)
}

func (b *objectQueryBuilder) appendMetadata() {
	if len(b.filter.MetadataEquals) == 0 {
		return
	}
	keys := make([]string, 0, len(b.filter.MetadataEquals))
	for key := range b.filter.MetadataEquals {
		keys = append(keys, key)
	}
	// Deterministic clause order keeps query plans stable.
	sort.Strings(keys)
	for _, key := range keys {
		b.where = append(b.where, "json_extract(objects.user_metadata, ?) = ?")
		b.args = append(b.args, "$."+key, b.filter.MetadataEquals[key])
	}
}

func (b *objectQueryBuilder) appendTimeFilters() {
	if b.filter.IngestedAfter != nil {
		b.where = append(b.where, "objects.ingested_at > ?")
		b.args = append(b.args, formatTime(*b.filter.IngestedAfter))
	}
	if b.filter.IngestedBefore != nil {
		b.where = append(b.where, "objects.ingested_at < ?")
		b.args = append(b.args, formatTime(*b.filter.IngestedBefore))
	}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
