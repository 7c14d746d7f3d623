package domain

import (
	"context"
	"time"
)

// QuotaMutation computes the next quota from the stored one. It returns the
// quota to store and whether anything changed; unchanged quotas are not
// written. It may run more than once when a concurrent writer wins.
type QuotaMutation func(q AnonymousQuota, found bool) (next AnonymousQuota, changed bool)

// AnonQuotaStore persists AnonymousQuota per device install.
// Load returns found=false when nothing is stored for the device.
// Update applies fn as one atomic read-modify-write and returns the quota
// that is stored afterwards.
type AnonQuotaStore interface {
	Load(ctx context.Context, deviceID string) (q AnonymousQuota, found bool, err error)
	Save(ctx context.Context, deviceID string, q AnonymousQuota) error
	Update(ctx context.Context, deviceID string, fn QuotaMutation) (AnonymousQuota, error)
	Clear(ctx context.Context, deviceID string) error
}

// SessionStore binds a device install to the signed-in user, if any.
type SessionStore interface {
	Get(ctx context.Context, deviceID string) (userID string, err error)
	Set(ctx context.Context, deviceID, userID string) error
	Delete(ctx context.Context, deviceID string) error
}

type ViewRecordRepository interface {
	// RecordView is an idempotent upsert keyed by (user, review). An existing
	// row keeps its viewed_at unless that is at or before staleBefore, in
	// which case it moves to v.ViewedAt and counts in the current window.
	// "Since" queries only count views strictly after since.
	RecordView(ctx context.Context, v AuthenticatedViewRecord, staleBefore time.Time) error
	CountDistinctSince(ctx context.Context, userID string, since time.Time) (int, error)
	HasViewedSince(ctx context.Context, userID, reviewID string, since time.Time) (bool, error)
}

type ProfileRepository interface {
	HasUnlimitedAccess(ctx context.Context, userID string) (bool, error)
	SetUnlimitedAccess(ctx context.Context, userID string, unlimited bool) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
