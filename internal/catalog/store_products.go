package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// RecordProducts stores newly discovered products for a region, creating a
// pending download state for each. Products whose external id is already
// known are skipped. The whole batch commits or nothing does.
func (s *Store) RecordProducts(ctx context.Context, regionID int64, products []ProductInput) (RecordResult, error) {
	for i, p := range products {
		if strings.TrimSpace(p.ExternalID) == "" {
			return RecordResult{}, fmt.Errorf("%w: product %d has no external id", ErrInvalidInput, i)
		}
		if p.AcquiredAt.IsZero() {
			return RecordResult{}, fmt.Errorf("%w: product %s has no acquisition time", ErrInvalidInput, p.ExternalID)
		}
		if math.IsNaN(p.CloudCoverPct) || p.CloudCoverPct < 0 || p.CloudCoverPct > 100 {
			return RecordResult{}, fmt.Errorf("%w: product %s cloud cover %v outside 0..100", ErrInvalidInput, p.ExternalID, p.CloudCoverPct)
		}
	}

	var result RecordResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = RecordResult{}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM regions WHERE id = ?`, regionID).Scan(&exists); err != nil {
			return fmt.Errorf("check region: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: region %d", ErrNotFound, regionID)
		}

		now := formatTime(time.Now())
		for _, p := range products {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO products (region_id, external_id, acquired_at, cloud_cover_pct, geometry, created_at)
                 VALUES (?, ?, ?, ?, ?, ?)
                 ON CONFLICT(external_id) DO NOTHING`,
				regionID, strings.TrimSpace(p.ExternalID), formatTime(p.AcquiredAt), p.CloudCoverPct,
				nullableString(p.Geometry), now,
			)
			if err != nil {
				return fmt.Errorf("insert product %s: %w", p.ExternalID, err)
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				result.Skipped++
				continue
			}
			productID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("product id: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO download_states (product_id, status, attempts, updated_at) VALUES (?, ?, 0, ?)`,
				productID, StatusPending, now,
			); err != nil {
				return fmt.Errorf("insert download state for %s: %w", p.ExternalID, err)
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return RecordResult{}, err
	}
	return result, nil
}

// Entry returns a product joined with its region and download state.
func (s *Store) Entry(ctx context.Context, productID int64) (*Entry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+entryColumns+` FROM `+entryFrom+` WHERE p.id = ?`, productID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return entry, nil
}

// EntryByExternalID looks a product up by the provider's identifier.
func (s *Store) EntryByExternalID(ctx context.Context, externalID string) (*Entry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+entryColumns+` FROM `+entryFrom+` WHERE p.external_id = ?`, strings.TrimSpace(externalID))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %q", ErrNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return entry, nil
}

// List returns entries ordered by acquisition time then id.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.RegionID > 0 {
		clauses = append(clauses, "p.region_id = ?")
		args = append(args, filter.RegionID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "d.status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + entryColumns + ` FROM ` + entryFrom
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY p.acquired_at, p.id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListByStatus returns up to limit entries in the given status. A limit of
// zero returns all of them.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*Entry, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.List(ctx, Filter{Statuses: []Status{status}, Limit: limit})
}
