package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	regionColumns = "id, name, center_lat, center_lon, size_km, geometry, created_at"
	entryColumns  = "p.id, p.region_id, p.external_id, p.acquired_at, p.cloud_cover_pct, p.geometry, p.created_at, " +
		"r.name, d.status, d.local_path, d.file_size, d.last_error, d.attempts, d.requested_at, d.completed_at, d.updated_at"
	entryFrom   = "products p JOIN regions r ON r.id = p.region_id JOIN download_states d ON d.product_id = p.id"
	maskColumns = "id, product_id, threshold, snow_pixels, total_pixels, snow_pct, mask_path, created_at"
)

type scanner interface{ Scan(dest ...any) error }

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func scanRegion(row scanner) (*Region, error) {
	var (
		region  Region
		created string
	)
	if err := row.Scan(&region.ID, &region.Name, &region.CenterLat, &region.CenterLon,
		&region.SizeKm, &region.Geometry, &created); err != nil {
		return nil, err
	}
	var err error
	if region.CreatedAt, err = parseTimeString(created); err != nil {
		return nil, err
	}
	return &region, nil
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry       Entry
		acquired    string
		geometry    sql.NullString
		created     string
		status      string
		localPath   sql.NullString
		fileSize    sql.NullInt64
		lastError   sql.NullString
		requestedAt sql.NullString
		completedAt sql.NullString
		updated     string
	)
	if err := row.Scan(
		&entry.Product.ID,
		&entry.Product.RegionID,
		&entry.Product.ExternalID,
		&acquired,
		&entry.Product.CloudCoverPct,
		&geometry,
		&created,
		&entry.RegionName,
		&status,
		&localPath,
		&fileSize,
		&lastError,
		&entry.State.Attempts,
		&requestedAt,
		&completedAt,
		&updated,
	); err != nil {
		return nil, err
	}

	parsed, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("product %d has unknown status %q", entry.Product.ID, status)
	}

	var err error
	if entry.Product.AcquiredAt, err = parseTimeString(acquired); err != nil {
		return nil, err
	}
	if entry.Product.CreatedAt, err = parseTimeString(created); err != nil {
		return nil, err
	}
	if entry.State.UpdatedAt, err = parseTimeString(updated); err != nil {
		return nil, err
	}
	if entry.State.RequestedAt, err = parseNullTime(requestedAt); err != nil {
		return nil, err
	}
	if entry.State.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	entry.Product.Geometry = geometry.String
	entry.State.ProductID = entry.Product.ID
	entry.State.Status = parsed
	entry.State.LocalPath = localPath.String
	entry.State.FileSize = fileSize.Int64
	entry.State.LastError = lastError.String
	return &entry, nil
}

func scanMaskResult(row scanner) (*MaskResult, error) {
	var (
		result   MaskResult
		maskPath sql.NullString
		created  string
	)
	if err := row.Scan(&result.ID, &result.ProductID, &result.Threshold, &result.SnowPixels,
		&result.TotalPixels, &result.SnowPct, &maskPath, &created); err != nil {
		return nil, err
	}
	var err error
	if result.CreatedAt, err = parseTimeString(created); err != nil {
		return nil, err
	}
	result.MaskPath = maskPath.String
	return &result, nil
}
