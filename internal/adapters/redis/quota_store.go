package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"unirate/internal/domain"
)

// QuotaStore keeps an AnonymousQuota as three plain string keys per device:
//
//	anon:{device}:window_start  RFC3339 timestamp
//	anon:{device}:count         integer
//	anon:{device}:seen          JSON array of review IDs
type QuotaStore struct {
	c   *redis.Client
	ttl time.Duration
}

// NewQuotaStore expires idle records after ttl; zero keeps them forever.
func NewQuotaStore(c *redis.Client, ttl time.Duration) *QuotaStore {
	return &QuotaStore{c: c, ttl: ttl}
}

func anonKeys(deviceID string) (ws, count, seen string) {
	p := "anon:" + deviceID
	return p + ":window_start", p + ":count", p + ":seen"
}

// maxUpdateAttempts bounds the WATCH retry loop.
const maxUpdateAttempts = 100

// ErrUpdateConflict is returned when Update keeps losing to concurrent writers.
var ErrUpdateConflict = errors.New("anon quota: too many concurrent updates")

func (s *QuotaStore) Load(ctx context.Context, deviceID string) (domain.AnonymousQuota, bool, error) {
	return loadQuota(ctx, s.c, deviceID)
}

// mgetter is satisfied by both *redis.Client and the *redis.Tx of a WATCH.
type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func loadQuota(ctx context.Context, c mgetter, deviceID string) (domain.AnonymousQuota, bool, error) {
	wsKey, countKey, seenKey := anonKeys(deviceID)
	vals, err := c.MGet(ctx, wsKey, countKey, seenKey).Result()
	if err != nil {
		return domain.AnonymousQuota{}, false, fmt.Errorf("load anon quota %s: %w", deviceID, err)
	}
	if vals[0] == nil && vals[1] == nil && vals[2] == nil {
		return domain.AnonymousQuota{}, false, nil
	}

	var q domain.AnonymousQuota
	if v, ok := vals[0].(string); ok && v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return domain.AnonymousQuota{}, false, fmt.Errorf("parse window_start for %s: %w", deviceID, err)
		}
		q.WindowStart = ts
	}
	if v, ok := vals[1].(string); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.AnonymousQuota{}, false, fmt.Errorf("parse count for %s: %w", deviceID, err)
		}
		q.Count = n
	}
	if v, ok := vals[2].(string); ok && v != "" {
		if err := json.Unmarshal([]byte(v), &q.Seen); err != nil {
			return domain.AnonymousQuota{}, false, fmt.Errorf("parse seen set for %s: %w", deviceID, err)
		}
	}
	return q, true, nil
}

// Save writes all three keys in one MULTI/EXEC so readers never observe a
// count that disagrees with the seen set.
func (s *QuotaStore) Save(ctx context.Context, deviceID string, q domain.AnonymousQuota) error {
	_, err := s.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return s.queueWrite(ctx, p, deviceID, q)
	})
	if err != nil {
		return fmt.Errorf("save anon quota %s: %w", deviceID, err)
	}
	return nil
}

func (s *QuotaStore) queueWrite(ctx context.Context, p redis.Pipeliner, deviceID string, q domain.AnonymousQuota) error {
	wsKey, countKey, seenKey := anonKeys(deviceID)
	seen := q.Seen
	if seen == nil {
		seen = []string{}
	}
	seenJSON, err := json.Marshal(seen)
	if err != nil {
		return err
	}
	p.Set(ctx, wsKey, q.WindowStart.UTC().Format(time.RFC3339Nano), s.ttl)
	p.Set(ctx, countKey, strconv.Itoa(len(seen)), s.ttl)
	p.Set(ctx, seenKey, seenJSON, s.ttl)
	return nil
}

// Update WATCHes the device's keys, applies fn and commits the result in
// MULTI/EXEC. A commit that loses to another writer is retried with a fresh
// read.
func (s *QuotaStore) Update(ctx context.Context, deviceID string, fn domain.QuotaMutation) (domain.AnonymousQuota, error) {
	wsKey, countKey, seenKey := anonKeys(deviceID)
	var out domain.AnonymousQuota
	txf := func(tx *redis.Tx) error {
		q, found, err := loadQuota(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		next, changed := fn(q, found)
		out = next
		if !changed {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			return s.queueWrite(ctx, p, deviceID, next)
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.c.Watch(ctx, txf, wsKey, countKey, seenKey)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return domain.AnonymousQuota{}, fmt.Errorf("update anon quota %s: %w", deviceID, err)
		}
		if err := ctx.Err(); err != nil {
			return domain.AnonymousQuota{}, fmt.Errorf("update anon quota %s: %w", deviceID, err)
		}
	}
	return domain.AnonymousQuota{}, fmt.Errorf("update anon quota %s: %w", deviceID, ErrUpdateConflict)
}

func (s *QuotaStore) Clear(ctx context.Context, deviceID string) error {
	wsKey, countKey, seenKey := anonKeys(deviceID)
	if err := s.c.Del(ctx, wsKey, countKey, seenKey).Err(); err != nil {
		return fmt.Errorf("clear anon quota %s: %w", deviceID, err)
	}
	return nil
}
