package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"tulip/internal/format"
	"tulip/internal/models"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeObjectList(objects []models.Object) error {
	for _, object := range objects {
		if err := writePlain("%s\n", formatObjectLine(object)); err != nil {
			return err
		}
	}
	return nil
}

func writeObjectDetail(object *models.Object) error {
	lines := []string{
		fmt.Sprintf("address: %s", object.ContentAddress),
		fmt.Sprintf("size_bytes: %d", object.SizeBytes),
		fmt.Sprintf("status: %s", object.Status),
		fmt.Sprintf("ingested_at: %s", formatTime(object.IngestedAt)),
	}

	if len(object.Metadata) > 0 {
		keys := make([]string, 0, len(object.Metadata))
		for key := range object.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		lines = append(lines, "metadata:")
		for _, key := range keys {
			lines = append(lines, fmt.Sprintf("  %s: %v", key, object.Metadata[key]))
		}
	}

	if len(object.Locations) > 0 {
		lines = append(lines, "locations:")
		for _, location := range object.Locations {
			lines = append(lines, fmt.Sprintf("  - %s: %s (%s)", location.BackendID, location.BackendPath, location.Encoding))
		}
	}

	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatObjectLine(object models.Object) string {
	return fmt.Sprintf("%s  %10d  [%s]  %s", object.ContentAddress, object.SizeBytes, object.Status, formatTime(object.IngestedAt))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
