package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unirate/internal/domain"
)

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) RecordView(ctx context.Context, v domain.AuthenticatedViewRecord, staleBefore time.Time) error {
	if v.UserID == "" || v.ReviewID == "" {
		return domain.ErrInvalidID
	}
	viewedAt := v.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, insertViewSQL, v.UserID, v.ReviewID, viewedAt.UTC(), staleBefore.UTC())
	if err != nil {
		return fmt.Errorf("record view %s/%s: %w", v.UserID, v.ReviewID, err)
	}
	return nil
}

func (r *Repo) CountDistinctSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countDistinctSinceSQL, userID, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count views for %s: %w", userID, err)
	}
	return n, nil
}

func (r *Repo) HasViewedSince(ctx context.Context, userID, reviewID string, since time.Time) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, hasViewedSinceSQL, userID, reviewID, since.UTC()).Scan(&ok); err != nil {
		return false, fmt.Errorf("lookup view %s/%s: %w", userID, reviewID, err)
	}
	return ok, nil
}

// HasUnlimitedAccess treats a missing profile or NULL flag as false.
func (r *Repo) HasUnlimitedAccess(ctx context.Context, userID string) (bool, error) {
	var flag sql.NullBool
	err := r.db.QueryRowContext(ctx, getUnlimitedSQL, userID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read profile %s: %w", userID, err)
	}
	return flag.Valid && flag.Bool, nil
}

func (r *Repo) SetUnlimitedAccess(ctx context.Context, userID string, unlimited bool) error {
	if userID == "" {
		return domain.ErrInvalidID
	}
	if _, err := r.db.ExecContext(ctx, upsertUnlimitedSQL, userID, unlimited); err != nil {
		return fmt.Errorf("write profile %s: %w", userID, err)
	}
	return nil
}
