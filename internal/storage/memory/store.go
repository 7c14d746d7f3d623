// Package memory keeps gate state in process memory. Intended for local
// development and tests; nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"unirate/internal/domain"
)

// QuotaStore implements domain.AnonQuotaStore and domain.SessionStore.
type QuotaStore struct {
	mu       sync.RWMutex
	quotas   map[string]domain.AnonymousQuota // key: device ID
	sessions map[string]string                // device ID -> user ID
}

func NewQuotaStore() *QuotaStore {
	return &QuotaStore{
		quotas:   make(map[string]domain.AnonymousQuota),
		sessions: make(map[string]string),
	}
}

func (m *QuotaStore) Load(ctx context.Context, deviceID string) (domain.AnonymousQuota, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotas[deviceID]
	if !ok {
		return domain.AnonymousQuota{}, false, nil
	}
	q.Seen = append([]string(nil), q.Seen...)
	return q, true, nil
}

func (m *QuotaStore) Save(ctx context.Context, deviceID string, q domain.AnonymousQuota) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Seen = append([]string(nil), q.Seen...)
	m.quotas[deviceID] = q
	return nil
}

// Update runs fn under the store lock.
func (m *QuotaStore) Update(ctx context.Context, deviceID string, fn domain.QuotaMutation) (domain.AnonymousQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, found := m.quotas[deviceID]
	q.Seen = append([]string(nil), q.Seen...)
	next, changed := fn(q, found)
	next.Seen = append([]string(nil), next.Seen...)
	if changed {
		m.quotas[deviceID] = next
	}
	return next, nil
}

func (m *QuotaStore) Clear(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotas, deviceID)
	return nil
}

func (m *QuotaStore) Get(ctx context.Context, deviceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[deviceID], nil
}

func (m *QuotaStore) Set(ctx context.Context, deviceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[deviceID] = userID
	return nil
}

func (m *QuotaStore) Delete(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, deviceID)
	return nil
}

type viewKey struct{ user, review string }

// ViewStore implements domain.ViewRecordRepository and domain.ProfileRepository.
type ViewStore struct {
	mu        sync.RWMutex
	views     map[viewKey]time.Time
	unlimited map[string]bool
}

func NewViewStore() *ViewStore {
	return &ViewStore{
		views:     make(map[viewKey]time.Time),
		unlimited: make(map[string]bool),
	}
}

// RecordView keeps the first viewed_at for a pair until it ages out.
func (m *ViewStore) RecordView(ctx context.Context, v domain.AuthenticatedViewRecord, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := viewKey{v.UserID, v.ReviewID}
	if at, ok := m.views[k]; !ok || !at.After(staleBefore) {
		m.views[k] = v.ViewedAt
	}
	return nil
}

func (m *ViewStore) CountDistinctSince(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k, at := range m.views {
		if k.user == userID && at.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *ViewStore) HasViewedSince(ctx context.Context, userID, reviewID string, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.views[viewKey{userID, reviewID}]
	return ok && at.After(since), nil
}

func (m *ViewStore) HasUnlimitedAccess(ctx context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlimited[userID], nil
}

func (m *ViewStore) SetUnlimitedAccess(ctx context.Context, userID string, unlimited bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlimited[userID] = unlimited
	return nil
}
