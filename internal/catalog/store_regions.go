package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateRegion inserts a region. A name already in use returns ErrDuplicate.
func (s *Store) CreateRegion(ctx context.Context, in RegionInput) (*Region, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: region name is required", ErrInvalidInput)
	}
	if in.SizeKm <= 0 {
		return nil, fmt.Errorf("%w: region size must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Geometry) == "" {
		return nil, fmt.Errorf("%w: region geometry is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO regions (name, center_lat, center_lon, size_km, geometry, created_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(name) DO NOTHING`,
		name, in.CenterLat, in.CenterLon, in.SizeKm, in.Geometry, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert region: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%w: region %q already exists", ErrDuplicate, name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("region id: %w", err)
	}
	return &Region{
		ID:        id,
		Name:      name,
		CenterLat: in.CenterLat,
		CenterLon: in.CenterLon,
		SizeKm:    in.SizeKm,
		Geometry:  in.Geometry,
		CreatedAt: now,
	}, nil
}

// RegionByName fetches a region by its unique name.
func (s *Store) RegionByName(ctx context.Context, name string) (*Region, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+regionColumns+` FROM regions WHERE name = ?`, strings.TrimSpace(name))
	region, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: region %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get region: %w", err)
	}
	return region, nil
}

// Regions lists every region ordered by name.
func (s *Store) Regions(ctx context.Context) ([]*Region, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+regionColumns+` FROM regions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var regions []*Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}
