package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"unirate/internal/adapters/observability"
	"unirate/internal/domain"
)

// UnlimitedAccessReader reports the per-user unlimited access flag.
type UnlimitedAccessReader interface {
	HasUnlimitedAccess(ctx context.Context, userID string) (bool, error)
}

// GateOptions configures a Gate. Zero values fall back to DefaultPolicy, a
// private Bus and time.Now.
type GateOptions struct {
	AnonPolicy domain.Policy
	AuthPolicy domain.Policy
	Bus        *Bus
	Now        func() time.Time
}

// Gate decides whether a visitor may open one more distinct review.
// None of its check/register methods return errors: store failures are
// logged and resolved in the visitor's favour.
type Gate struct {
	anon     domain.AnonQuotaStore
	sessions domain.SessionStore
	views    domain.ViewRecordRepository
	profiles UnlimitedAccessReader

	anonPolicy domain.Policy
	authPolicy domain.Policy
	bus        *Bus
	now        func() time.Time
}

// NewGate wires a Gate over its stores.
func NewGate(anon domain.AnonQuotaStore, sessions domain.SessionStore, views domain.ViewRecordRepository,
	profiles UnlimitedAccessReader, opts GateOptions) *Gate {
	if opts.AnonPolicy.Limit <= 0 || opts.AnonPolicy.Window <= 0 {
		opts.AnonPolicy = domain.DefaultPolicy
	}
	if opts.AuthPolicy.Limit <= 0 || opts.AuthPolicy.Window <= 0 {
		opts.AuthPolicy = domain.DefaultPolicy
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		anon:       anon,
		sessions:   sessions,
		views:      views,
		profiles:   profiles,
		anonPolicy: opts.AnonPolicy,
		authPolicy: opts.AuthPolicy,
		bus:        opts.Bus,
		now:        opts.Now,
	}
}

// Events is the bus the gate publishes quota and session events on.
func (g *Gate) Events() *Bus { return g.bus }

// AnonPolicy is the limit applied to anonymous devices.
func (g *Gate) AnonPolicy() domain.Policy { return g.anonPolicy }

// AuthPolicy is the limit applied to signed-in users.
func (g *Gate) AuthPolicy() domain.Policy { return g.authPolicy }

func remaining(limit, count int) int {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}

func decide(count, limit int) domain.AccessResult {
	if count < limit {
		return domain.AccessResult{Allowed: true, Remaining: remaining(limit, count)}
	}
	return domain.AccessResult{
		Allowed:       false,
		Remaining:     0,
		UnlockOptions: []string{domain.UnlockSignIn, domain.UnlockWriteReview},
	}
}

func outcome(r domain.AccessResult) string {
	switch {
	case r.Unlimited:
		return "unlimited"
	case r.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

// ---- anonymous track ----

// touchAnon returns the device's quota for the current window as one atomic
// store update. The quota is created on first use and restarted once the
// window has run out; a non-empty reviewID not yet seen is counted.
func (g *Gate) touchAnon(ctx context.Context, deviceID, reviewID string) (q domain.AnonymousQuota, added bool, err error) {
	now := g.now()
	expired := false
	q, err = g.anon.Update(ctx, deviceID, func(cur domain.AnonymousQuota, found bool) (domain.AnonymousQuota, bool) {
		added, expired = false, false
		changed := false
		switch {
		case !found || cur.WindowStart.IsZero():
			cur = domain.AnonymousQuota{WindowStart: now}
			changed = true
		case cur.Expired(now, g.anonPolicy.Window):
			cur = domain.AnonymousQuota{WindowStart: now}
			changed, expired = true, true
		}
		cur = cur.Normalize()
		if reviewID != "" && !cur.HasSeen(reviewID) {
			cur.Seen = append(cur.Seen, reviewID)
			cur.Count = len(cur.Seen)
			changed, added = true, true
		}
		return cur, changed
	})
	if err != nil {
		return domain.AnonymousQuota{}, false, err
	}
	if expired {
		g.publish(ctx, Event{Kind: EventQuotaReset, Visitor: Visitor{DeviceID: deviceID}})
	}
	return q.Normalize(), added, nil
}

// lastKnown reads whatever is stored for the device, for reporting after a
// failed update.
func (g *Gate) lastKnown(ctx context.Context, deviceID string) domain.ViewResult {
	limit := g.anonPolicy.Limit
	q, found, err := g.anon.Load(ctx, deviceID)
	if err != nil || !found || q.Expired(g.now(), g.anonPolicy.Window) {
		return domain.ViewResult{Count: 0, Remaining: limit}
	}
	q = q.Normalize()
	return domain.ViewResult{Count: q.Count, Remaining: remaining(limit, q.Count)}
}

// CanViewAnother reports whether the device may open reviewID. Re-opening a
// review already counted in the window is always allowed.
func (g *Gate) CanViewAnother(ctx context.Context, deviceID, reviewID string) domain.AccessResult {
	limit := g.anonPolicy.Limit
	q, _, err := g.touchAnon(ctx, deviceID, "")
	if err != nil {
		observability.ObserveStoreError("anon", "update")
		observability.ObserveDecision("anon", "fail_open")
		log.Warn().Err(err).Str("device", deviceID).Msg("anon quota unavailable, allowing")
		return domain.AccessResult{Allowed: true, Remaining: limit}
	}

	res := decide(q.Count, limit)
	if q.HasSeen(reviewID) {
		res = domain.AccessResult{Allowed: true, Remaining: remaining(limit, q.Count)}
	}
	observability.ObserveDecision("anon", outcome(res))
	return res
}

// RegisterView counts reviewID against the device's window. It does not
// enforce the limit; callers check with CanViewAnother first.
func (g *Gate) RegisterView(ctx context.Context, deviceID, reviewID string) domain.ViewResult {
	limit := g.anonPolicy.Limit
	q, added, err := g.touchAnon(ctx, deviceID, reviewID)
	if err != nil {
		observability.ObserveStoreError("anon", "update")
		log.Warn().Err(err).Str("device", deviceID).Str("review", reviewID).Msg("anon view not recorded")
		return g.lastKnown(ctx, deviceID)
	}

	if added {
		v := Visitor{DeviceID: deviceID}
		g.publish(ctx, Event{Kind: EventReviewViewed, Visitor: v, ReviewID: reviewID, Count: q.Count})
		if q.Count == limit {
			g.publish(ctx, Event{Kind: EventQuotaExhausted, Visitor: v, ReviewID: reviewID, Count: q.Count})
		}
	}
	return domain.ViewResult{Count: q.Count, Remaining: remaining(limit, q.Count)}
}

// ResetAnonCounters drops the device's quota entirely.
func (g *Gate) ResetAnonCounters(ctx context.Context, deviceID string) {
	if err := g.anon.Clear(ctx, deviceID); err != nil {
		observability.ObserveStoreError("anon", "clear")
		log.Warn().Err(err).Str("device", deviceID).Msg("anon quota reset failed")
		return
	}
	g.publish(ctx, Event{Kind: EventQuotaReset, Visitor: Visitor{DeviceID: deviceID}})
}

// ---- authenticated track ----

func (g *Gate) unlimited(ctx context.Context, userID string) bool {
	ok, err := g.profiles.HasUnlimitedAccess(ctx, userID)
	if err != nil {
		observability.ObserveStoreError("profile", "read")
		log.Warn().Err(err).Str("user", userID).Msg("profile flag unavailable, assuming limited")
		return false
	}
	return ok
}

func (g *Gate) authedDecision(ctx context.Context, userID string) domain.AccessResult {
	limit := g.authPolicy.Limit
	n, err := g.views.CountDistinctSince(ctx, userID, g.now().Add(-g.authPolicy.Window))
	if err != nil {
		observability.ObserveStoreError("views", "count")
		observability.ObserveDecision("authed", "fail_open")
		log.Warn().Err(err).Str("user", userID).Msg("view count unavailable, allowing")
		return domain.AccessResult{Allowed: true, Remaining: limit}
	}
	res := decide(n, limit)
	observability.ObserveDecision("authed", outcome(res))
	return res
}

func (g *Gate) unlimitedResult() domain.AccessResult {
	observability.ObserveDecision("authed", "unlimited")
	return domain.AccessResult{Allowed: true, Remaining: g.authPolicy.Limit, Unlimited: true}
}

// CanAuthedViewAnother reports whether the user may open one more distinct
// review in the current window.
func (g *Gate) CanAuthedViewAnother(ctx context.Context, userID string) domain.AccessResult {
	if g.unlimited(ctx, userID) {
		return g.unlimitedResult()
	}
	return g.authedDecision(ctx, userID)
}

// CanAuthedViewReview is CanAuthedViewAnother with re-views of reviewID free.
func (g *Gate) CanAuthedViewReview(ctx context.Context, userID, reviewID string) domain.AccessResult {
	if g.unlimited(ctx, userID) {
		return g.unlimitedResult()
	}
	since := g.now().Add(-g.authPolicy.Window)
	seen, err := g.views.HasViewedSince(ctx, userID, reviewID, since)
	if err != nil {
		observability.ObserveStoreError("views", "has_viewed")
		log.Warn().Err(err).Str("user", userID).Str("review", reviewID).Msg("view lookup failed")
	}
	res := g.authedDecision(ctx, userID)
	if seen && !res.Allowed {
		res = domain.AccessResult{Allowed: true, Remaining: 0}
	}
	return res
}

// RegisterAuthedReviewView records (userID, reviewID) once.
func (g *Gate) RegisterAuthedReviewView(ctx context.Context, userID, reviewID string) domain.ViewResult {
	limit := g.authPolicy.Limit
	now := g.now()
	since := now.Add(-g.authPolicy.Window)

	seen, err := g.views.HasViewedSince(ctx, userID, reviewID, since)
	if err != nil {
		observability.ObserveStoreError("views", "has_viewed")
		log.Warn().Err(err).Str("user", userID).Str("review", reviewID).Msg("view lookup failed")
	}
	if !seen {
		rec := domain.AuthenticatedViewRecord{UserID: userID, ReviewID: reviewID, ViewedAt: now}
		if err := g.views.RecordView(ctx, rec, since); err != nil {
			observability.ObserveStoreError("views", "record")
			log.Warn().Err(err).Str("user", userID).Str("review", reviewID).Msg("authed view not recorded")
			seen = true // nothing new to announce
		}
	}

	n, err := g.views.CountDistinctSince(ctx, userID, since)
	if err != nil {
		observability.ObserveStoreError("views", "count")
		log.Warn().Err(err).Str("user", userID).Msg("view count unavailable")
		return domain.ViewResult{Count: 0, Remaining: limit}
	}
	if !seen {
		v := Visitor{UserID: userID}
		g.publish(ctx, Event{Kind: EventReviewViewed, Visitor: v, ReviewID: reviewID, Count: n})
		if n == limit {
			g.publish(ctx, Event{Kind: EventQuotaExhausted, Visitor: v, ReviewID: reviewID, Count: n})
		}
	}
	return domain.ViewResult{Count: n, Remaining: remaining(limit, n)}
}

// ---- session transitions ----

// SignIn binds deviceID to userID. On the anonymous to authenticated
// transition the device's anonymous counters are reset exactly once.
// It reports whether a reset happened.
func (g *Gate) SignIn(ctx context.Context, deviceID, userID string) bool {
	prev, err := g.sessions.Get(ctx, deviceID)
	if err != nil {
		observability.ObserveStoreError("session", "get")
		log.Warn().Err(err).Str("device", deviceID).Msg("session lookup failed, treating device as anonymous")
		prev = ""
	}
	if prev == userID {
		return false
	}
	if err := g.sessions.Set(ctx, deviceID, userID); err != nil {
		observability.ObserveStoreError("session", "set")
		log.Warn().Err(err).Str("device", deviceID).Str("user", userID).Msg("session bind failed")
	}

	reset := false
	if prev == "" {
		g.ResetAnonCounters(ctx, deviceID)
		reset = true
	}
	g.publish(ctx, Event{Kind: EventSignedIn, Visitor: Visitor{DeviceID: deviceID, UserID: userID}})
	return reset
}

// SignOut unbinds the device. Anonymous counters start from whatever the
// device has now, which after a sign-in reset is an empty window.
func (g *Gate) SignOut(ctx context.Context, deviceID string) {
	prev, err := g.sessions.Get(ctx, deviceID)
	if err != nil {
		observability.ObserveStoreError("session", "get")
		log.Warn().Err(err).Str("device", deviceID).Msg("session lookup failed on sign-out")
	}
	if err := g.sessions.Delete(ctx, deviceID); err != nil {
		observability.ObserveStoreError("session", "delete")
		log.Warn().Err(err).Str("device", deviceID).Msg("session unbind failed")
		return
	}
	g.publish(ctx, Event{Kind: EventSignedOut, Visitor: Visitor{DeviceID: deviceID, UserID: prev}})
}

// Status is a read-only snapshot of the device's anonymous quota. Unlike the
// gate checks it reports store failures.
func (g *Gate) Status(ctx context.Context, deviceID string) (domain.QuotaStatus, error) {
	limit := g.anonPolicy.Limit
	st := domain.QuotaStatus{DeviceID: deviceID, Seen: []string{}, Remaining: limit, State: domain.UnderLimit}

	userID, err := g.sessions.Get(ctx, deviceID)
	if err != nil {
		return st, err
	}
	st.UserID = userID

	q, found, err := g.anon.Load(ctx, deviceID)
	if err != nil {
		return st, err
	}
	if !found || q.WindowStart.IsZero() || q.Expired(g.now(), g.anonPolicy.Window) {
		return st, nil
	}
	q = q.Normalize()
	ws := q.WindowStart
	st.WindowStart = &ws
	st.Count = q.Count
	st.Seen = q.Seen
	st.Remaining = remaining(limit, q.Count)
	st.State = domain.StateFor(q.Count, limit)
	return st, nil
}

func (g *Gate) publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = g.now()
	}
	observability.ObserveEvent(string(e.Kind))
	g.bus.Publish(ctx, e)
}
