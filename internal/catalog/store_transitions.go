package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClaimDownload stamps requested_at on a pending product so only one worker
// fetches it. A claim older than leaseCutoff is considered abandoned and may
// be taken over. It returns false when another worker holds the claim or the
// product is no longer pending.
func (s *Store) ClaimDownload(ctx context.Context, productID int64, leaseCutoff time.Time) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE download_states
         SET requested_at = ?, updated_at = ?
         WHERE product_id = ? AND status = ? AND (requested_at IS NULL OR requested_at < ?)`,
		now, now, productID, StatusPending, formatTime(leaseCutoff),
	)
	if err != nil {
		return false, fmt.Errorf("claim download: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim download: %w", err)
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := s.currentStatus(ctx, productID); err != nil {
		return false, err
	}
	return false, nil
}

// Transition moves a product from one status to another if and only if it is
// currently in from. The fields written with the change depend on the target:
//
//	downloaded: local path, file size, completion time, attempts; clears last error
//	failed:     last error and attempts
//	processing, processed: status only
func (s *Store) Transition(ctx context.Context, productID int64, from, to Status, meta TransitionMeta) error {
	if !from.Valid() || !to.Valid() || !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{to, formatTime(now)}

	switch to {
	case StatusDownloaded:
		if strings.TrimSpace(meta.LocalPath) == "" {
			return fmt.Errorf("%w: downloaded transition requires a local path", ErrInvalidInput)
		}
		completed := meta.CompletedAt
		if completed.IsZero() {
			completed = now
		}
		sets = append(sets, "local_path = ?", "file_size = ?", "completed_at = ?", "last_error = NULL", "attempts = ?")
		args = append(args, meta.LocalPath, meta.FileSize, formatTime(completed), meta.Attempts)
	case StatusFailed:
		lastError := strings.TrimSpace(meta.LastError)
		if lastError == "" {
			lastError = "unknown error"
		}
		sets = append(sets, "last_error = ?")
		args = append(args, lastError)
		if meta.Attempts > 0 {
			sets = append(sets, "attempts = ?")
			args = append(args, meta.Attempts)
		}
	case StatusProcessing, StatusProcessed:
	case StatusPending:
		// unreachable: CanTransition never targets pending
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	args = append(args, productID, from)
	res, err := s.execWithRetry(ctx,
		`UPDATE download_states SET `+strings.Join(sets, ", ")+` WHERE product_id = ? AND status = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	if affected == 1 {
		return nil
	}

	current, err := s.currentStatus(ctx, productID)
	if err != nil {
		return err
	}
	return &ConflictError{ProductID: productID, Expected: from, Actual: current}
}

func (s *Store) currentStatus(ctx context.Context, productID int64) (Status, error) {
	var status string
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT status FROM download_states WHERE product_id = ?`, productID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return Status(status), nil
}

// ResetFailed returns failed products to pending so the next download batch
// picks them up again. With no ids every failed product is reset.
func (s *Store) ResetFailed(ctx context.Context, productIDs ...int64) (int64, error) {
	query := `UPDATE download_states
        SET status = ?, local_path = NULL, file_size = NULL, last_error = NULL, attempts = 0,
            requested_at = NULL, completed_at = NULL, updated_at = ?
        WHERE status = ?`
	args := []any{StatusPending, formatTime(time.Now()), StatusFailed}
	if len(productIDs) > 0 {
		query += ` AND product_id IN (` + makePlaceholders(len(productIDs)) + `)`
		for _, id := range productIDs {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset failed products: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleProcessing returns processing units last touched before cutoff
// to downloaded. These belong to workers that died mid-classification.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE download_states SET status = ?, updated_at = ?
         WHERE status = ? AND updated_at < ?`,
		StatusDownloaded, formatTime(time.Now()), StatusProcessing, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale processing: %w", err)
	}
	return res.RowsAffected()
}
