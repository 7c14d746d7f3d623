package domain

import "time"

// Policy caps distinct review views per rolling window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicy is 3 distinct reviews per 24h.
var DefaultPolicy = Policy{Limit: 3, Window: 24 * time.Hour}

// AnonymousQuota is the per-device counter for visitors that are not signed in.
// Count must always equal len(Seen).
type AnonymousQuota struct {
	WindowStart time.Time
	Count       int
	Seen        []string
}

func (q AnonymousQuota) HasSeen(reviewID string) bool {
	for _, id := range q.Seen {
		if id == reviewID {
			return true
		}
	}
	return false
}

// Expired reports whether the window that started at WindowStart is over.
func (q AnonymousQuota) Expired(now time.Time, window time.Duration) bool {
	return !q.WindowStart.IsZero() && now.Sub(q.WindowStart) >= window
}

// Normalize repairs a record whose count drifted from its seen set.
func (q AnonymousQuota) Normalize() AnonymousQuota {
	seen := make([]string, 0, len(q.Seen))
	dup := make(map[string]struct{}, len(q.Seen))
	for _, id := range q.Seen {
		if _, ok := dup[id]; ok || id == "" {
			continue
		}
		dup[id] = struct{}{}
		seen = append(seen, id)
	}
	q.Seen = seen
	q.Count = len(seen)
	return q
}

// AuthenticatedViewRecord is one row per (user, review), never deleted.
// ViewedAt only moves forward once the previous view has left the window.
type AuthenticatedViewRecord struct {
	UserID   string
	ReviewID string
	ViewedAt time.Time
}

type QuotaState string

const (
	UnderLimit QuotaState = "UNDER_LIMIT"
	AtLimit    QuotaState = "AT_LIMIT"
)

func StateFor(count, limit int) QuotaState {
	if count >= limit {
		return AtLimit
	}
	return UnderLimit
}

// Unlock options offered to a visitor who hit the limit.
const (
	UnlockSignIn      = "sign_in"
	UnlockWriteReview = "write_review"
)

// Read models returned to the presentation layer.
type AccessResult struct {
	Allowed       bool     `json:"allowed"`
	Remaining     int      `json:"remaining"`
	Unlimited     bool     `json:"unlimited,omitempty"`
	UnlockOptions []string `json:"unlock_options,omitempty"`
}

type ViewResult struct {
	Count     int `json:"count"`
	Remaining int `json:"remaining"`
}

type QuotaStatus struct {
	DeviceID    string     `json:"device_id"`
	UserID      string     `json:"user_id,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	Count       int        `json:"count"`
	Remaining   int        `json:"remaining"`
	Seen        []string   `json:"seen"`
	State       QuotaState `json:"state"`
}
