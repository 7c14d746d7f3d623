// Package supabase talks to the hosted Postgres through its PostgREST API.
package supabase

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"unirate/internal/adapters/observability"
	"unirate/internal/domain"
)

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

// New returns a client for the project at base (https://<ref>.supabase.co).
func New(base, key string, rps int) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		base: strings.TrimRight(base, "/") + "/rest/v1",
		hc:   &http.Client{Timeout: 10 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

var (
	ErrUnauthorized = errors.New("supabase: unauthorized")
	ErrForbidden    = errors.New("supabase: forbidden")
)

// ---- review_views ----

type viewRow struct {
	UserID   string    `json:"user_id"`
	ReviewID string    `json:"review_id"`
	ViewedAt time.Time `json:"viewed_at"`
}

// RecordView inserts the pair, leaving an existing row untouched, then
// moves an aged-out row (viewed_at <= staleBefore) to v.ViewedAt.
// PostgREST has no conditional upsert, so the refresh is a filtered PATCH.
func (c *Client) RecordView(ctx context.Context, v domain.AuthenticatedViewRecord, staleBefore time.Time) error {
	if v.UserID == "" || v.ReviewID == "" {
		return domain.ErrInvalidID
	}
	viewedAt := v.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = time.Now()
	}
	body, err := json.Marshal([]viewRow{{UserID: v.UserID, ReviewID: v.ReviewID, ViewedAt: viewedAt.UTC()}})
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("on_conflict", "user_id,review_id")
	if err := c.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "review_views.upsert",
		url:      c.base + "/review_views?" + q.Encode(),
		body:     body,
		prefer:   "resolution=ignore-duplicates,return=minimal",
	}, nil); err != nil {
		return err
	}

	patch, err := json.Marshal(map[string]time.Time{"viewed_at": viewedAt.UTC()})
	if err != nil {
		return err
	}
	q = url.Values{}
	q.Set("user_id", "eq."+v.UserID)
	q.Set("review_id", "eq."+v.ReviewID)
	q.Set("viewed_at", "lte."+staleBefore.UTC().Format(time.RFC3339Nano))
	return c.do(ctx, request{
		method:   http.MethodPatch,
		endpoint: "review_views.refresh",
		url:      c.base + "/review_views?" + q.Encode(),
		body:     patch,
		prefer:   "return=minimal",
	}, nil)
}

func (c *Client) CountDistinctSince(ctx context.Context, userID string, since time.Time) (int, error) {
	q := url.Values{}
	q.Set("select", "review_id")
	q.Set("user_id", "eq."+userID)
	q.Set("viewed_at", "gt."+since.UTC().Format(time.RFC3339Nano))
	var rows []viewRow
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "review_views.count",
		url:      c.base + "/review_views?" + q.Encode(),
	}, &rows); err != nil {
		return 0, err
	}
	distinct := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		distinct[r.ReviewID] = struct{}{}
	}
	return len(distinct), nil
}

func (c *Client) HasViewedSince(ctx context.Context, userID, reviewID string, since time.Time) (bool, error) {
	q := url.Values{}
	q.Set("select", "review_id")
	q.Set("user_id", "eq."+userID)
	q.Set("review_id", "eq."+reviewID)
	q.Set("viewed_at", "gt."+since.UTC().Format(time.RFC3339Nano))
	q.Set("limit", "1")
	var rows []viewRow
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "review_views.lookup",
		url:      c.base + "/review_views?" + q.Encode(),
	}, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// ---- profiles ----

type profileRow struct {
	HasUnlimitedAccess *bool `json:"has_unlimited_access"`
}

// HasUnlimitedAccess reads a missing profile or null flag as false.
func (c *Client) HasUnlimitedAccess(ctx context.Context, userID string) (bool, error) {
	q := url.Values{}
	q.Set("select", "has_unlimited_access")
	q.Set("id", "eq."+userID)
	var rows []profileRow
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "profiles.get",
		url:      c.base + "/profiles?" + q.Encode(),
	}, &rows); err != nil {
		return false, err
	}
	if len(rows) == 0 || rows[0].HasUnlimitedAccess == nil {
		return false, nil
	}
	return *rows[0].HasUnlimitedAccess, nil
}

func (c *Client) SetUnlimitedAccess(ctx context.Context, userID string, unlimited bool) error {
	if userID == "" {
		return domain.ErrInvalidID
	}
	body, err := json.Marshal(map[string]bool{"has_unlimited_access": unlimited})
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("id", "eq."+userID)
	return c.do(ctx, request{
		method:   http.MethodPatch,
		endpoint: "profiles.update",
		url:      c.base + "/profiles?" + q.Encode(),
		body:     body,
		prefer:   "return=minimal",
	}, nil)
}

// ---- Internals ----

type request struct {
	method   string
	endpoint string // metrics label
	url      string
	body     []byte
	prefer   string
}

// do performs the request with client-side rate limiting and retries, and
// decodes a JSON response into out when out is non-nil.
// Retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) do(ctx context.Context, r request, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		// build a fresh request each attempt so the body is re-readable
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
		if err != nil {
			return err
		}
		req.Header.Set("apikey", c.key)
		req.Header.Set("Authorization", "Bearer "+c.key)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "unirate-gate/1.0")
		if r.body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r.prefer != "" {
			req.Header.Set("Prefer", r.prefer)
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("supabase", r.endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("supabase", r.endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			defer resp.Body.Close()
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode %s: %w", r.endpoint, err)
			}
			return nil

		case http.StatusNoContent:
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return domain.ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 100ms per attempt with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 100 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
