package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// RecordMaskResult stores the classification outcome for a product at a
// threshold. Each (product, threshold) pair is written once; a second write
// returns ErrDuplicate and leaves the first untouched.
func (s *Store) RecordMaskResult(ctx context.Context, productID int64, threshold float64, stats MaskStats, maskPath string) (*MaskResult, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold must be finite", ErrInvalidInput)
	}
	if stats.TotalPixels <= 0 || stats.SnowPixels < 0 || stats.SnowPixels > stats.TotalPixels {
		return nil, fmt.Errorf("%w: pixel counts %d/%d", ErrInvalidInput, stats.SnowPixels, stats.TotalPixels)
	}
	if math.IsNaN(stats.SnowPct) || stats.SnowPct < 0 || stats.SnowPct > 100 {
		return nil, fmt.Errorf("%w: snow percentage %v outside 0..100", ErrInvalidInput, stats.SnowPct)
	}

	now := time.Now().UTC()
	result := &MaskResult{
		ProductID: productID,
		Threshold: threshold,
		MaskStats: stats,
		MaskPath:  maskPath,
		CreatedAt: now,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM products WHERE id = ?`, productID).Scan(&exists); err != nil {
			return fmt.Errorf("check product: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: product %d", ErrNotFound, productID)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO mask_results (product_id, threshold, snow_pixels, total_pixels, snow_pct, mask_path, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(product_id, threshold) DO NOTHING`,
			productID, threshold, stats.SnowPixels, stats.TotalPixels, stats.SnowPct, nullableString(maskPath), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("insert mask result: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: mask result for product %d at threshold %v", ErrDuplicate, productID, threshold)
		}
		result.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MaskResult fetches the result for a product at a threshold.
func (s *Store) MaskResult(ctx context.Context, productID int64, threshold float64) (*MaskResult, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+maskColumns+` FROM mask_results WHERE product_id = ? AND threshold = ?`, productID, threshold)
	result, err := scanMaskResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mask result for product %d at threshold %v", ErrNotFound, productID, threshold)
	}
	if err != nil {
		return nil, fmt.Errorf("get mask result: %w", err)
	}
	return result, nil
}

// MaskResults lists every result recorded for a product, lowest threshold first.
func (s *Store) MaskResults(ctx context.Context, productID int64) ([]*MaskResult, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+maskColumns+` FROM mask_results WHERE product_id = ? ORDER BY threshold`, productID)
	if err != nil {
		return nil, fmt.Errorf("list mask results: %w", err)
	}
	defer rows.Close()

	var results []*MaskResult
	for rows.Next() {
		result, err := scanMaskResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
