package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats returns a count of products grouped by download status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM download_states GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Summary aggregates the products recorded for a region.
func (s *Store) Summary(ctx context.Context, regionID int64) (ProductSummary, error) {
	var (
		summary  ProductSummary
		first    sql.NullString
		last     sql.NullString
		minCloud sql.NullFloat64
		avgCloud sql.NullFloat64
		maxCloud sql.NullFloat64
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1), MIN(acquired_at), MAX(acquired_at),
                MIN(cloud_cover_pct), AVG(cloud_cover_pct), MAX(cloud_cover_pct)
         FROM products WHERE region_id = ?`, regionID,
	).Scan(&summary.Count, &first, &last, &minCloud, &avgCloud, &maxCloud)
	if err != nil {
		return ProductSummary{}, fmt.Errorf("summarize products: %w", err)
	}
	if summary.FirstAcquired, err = parseNullTime(first); err != nil {
		return ProductSummary{}, err
	}
	if summary.LastAcquired, err = parseNullTime(last); err != nil {
		return ProductSummary{}, err
	}
	summary.MinCloudCover = minCloud.Float64
	summary.AvgCloudCover = avgCloud.Float64
	summary.MaxCloudCover = maxCloud.Float64
	return summary, nil
}
