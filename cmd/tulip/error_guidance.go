package main

import (
	"context"
	"errors"

	"tulip/internal/catalog"
	"tulip/internal/repo"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var repoErr *repo.Error
	if errors.As(err, &repoErr) {
		switch repoErr.Kind {
		case repo.KindSourceUnreadable:
			lines = append(lines, "hint: check that the source file exists and is readable.")
		case repo.KindBackendUnavailable:
			lines = append(lines, "hint: retries exhausted; check backend connectivity and retry the ingestion.")
		case repo.KindBackendPermanent:
			lines = append(lines, "hint: check backend configuration and permissions with: tulip backends")
		case repo.KindDigestMismatch:
			lines = append(lines, "hint: the backend corrupted the write; retry the ingestion and run: tulip verify")
		case repo.KindCatalogUnavailable:
			lines = append(lines, "hint: check db_path and that no other process holds the catalog open.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, catalog.ErrNotFound) {
		lines = append(lines, "hint: the address is not in the catalog; list known objects with: tulip list")
		return uniqueLines(lines)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: operation timed out; check backend health.")
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
