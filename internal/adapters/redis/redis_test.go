package redisad_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	redisad "unirate/internal/adapters/redis"
	"unirate/internal/app"
	"unirate/internal/domain"
	"unirate/internal/storage/memory"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisad.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestQuotaStore_SaveLoadClear(t *testing.T) {
	mr, c := newClient(t)
	s := redisad.NewQuotaStore(c, time.Hour)
	ctx := context.Background()

	if _, found, err := s.Load(ctx, "dev-1"); err != nil || found {
		t.Fatalf("empty load: found=%v err=%v", found, err)
	}

	ws := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	in := domain.AnonymousQuota{WindowStart: ws, Count: 2, Seen: []string{"a", "b"}}
	if err := s.Save(ctx, "dev-1", in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// three plain string keys
	if v, _ := mr.Get("anon:dev-1:count"); v != "2" {
		t.Fatalf("count key = %q", v)
	}
	if v, _ := mr.Get("anon:dev-1:seen"); v != `["a","b"]` {
		t.Fatalf("seen key = %q", v)
	}
	if v, _ := mr.Get("anon:dev-1:window_start"); v != "2026-10-01T12:00:00Z" {
		t.Fatalf("window_start key = %q", v)
	}
	if ttl := mr.TTL("anon:dev-1:seen"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	out, found, err := s.Load(ctx, "dev-1")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if !out.WindowStart.Equal(ws) || out.Count != 2 || len(out.Seen) != 2 || out.Seen[1] != "b" {
		t.Fatalf("unexpected quota: %+v", out)
	}

	if err := s.Clear(ctx, "dev-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mr.Exists("anon:dev-1:count") || mr.Exists("anon:dev-1:seen") || mr.Exists("anon:dev-1:window_start") {
		t.Fatalf("keys survived Clear")
	}
}

func TestQuotaStore_CountFollowsSeenSet(t *testing.T) {
	mr, c := newClient(t)
	s := redisad.NewQuotaStore(c, 0)
	ctx := context.Background()

	// caller passes a stale count; the stored count must match the set
	if err := s.Save(ctx, "dev-2", domain.AnonymousQuota{WindowStart: time.Now(), Count: 7, Seen: []string{"x"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if v, _ := mr.Get("anon:dev-2:count"); v != "1" {
		t.Fatalf("count key = %q", v)
	}
}

func TestQuotaStore_CorruptValue(t *testing.T) {
	mr, c := newClient(t)
	s := redisad.NewQuotaStore(c, 0)
	_ = mr.Set("anon:dev-3:seen", "not json")

	if _, _, err := s.Load(context.Background(), "dev-3"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestQuotaStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	c := redisad.NewClient(mr.Addr(), "", 0)
	defer c.Close()
	s := redisad.NewQuotaStore(c, 0)
	mr.Close()

	if _, _, err := s.Load(context.Background(), "dev-4"); err == nil {
		t.Fatalf("expected error from closed server")
	}
}

func TestQuotaStore_Update(t *testing.T) {
	mr, c := newClient(t)
	s := redisad.NewQuotaStore(c, time.Hour)
	ctx := context.Background()
	ws := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	// unchanged result is not written
	if _, err := s.Update(ctx, "dev-5", func(q domain.AnonymousQuota, found bool) (domain.AnonymousQuota, bool) {
		return q, false
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if mr.Exists("anon:dev-5:count") {
		t.Fatalf("unchanged quota was written")
	}

	out, err := s.Update(ctx, "dev-5", func(q domain.AnonymousQuota, found bool) (domain.AnonymousQuota, bool) {
		if found {
			t.Fatalf("expected no stored quota")
		}
		return domain.AnonymousQuota{WindowStart: ws, Seen: []string{"a"}, Count: 1}, true
	})
	if err != nil || out.Count != 1 {
		t.Fatalf("Update = %+v, %v", out, err)
	}
	if v, _ := mr.Get("anon:dev-5:seen"); v != `["a"]` {
		t.Fatalf("seen key = %q", v)
	}
	if ttl := mr.TTL("anon:dev-5:count"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestQuotaStore_ConcurrentRegistrationsKeepEverySeenID(t *testing.T) {
	_, c := newClient(t)
	q := redisad.NewQuotaStore(c, time.Hour)
	sessions := redisad.NewSessionStore(c)
	views := memory.NewViewStore()
	g := app.NewGate(q, sessions, views, views, app.GateOptions{
		AnonPolicy: domain.Policy{Limit: 100, Window: time.Hour},
	})
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g.RegisterView(ctx, "dev-6", fmt.Sprintf("r-%d", i))
		}(i)
	}
	wg.Wait()

	got, found, err := q.Load(ctx, "dev-6")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if got.Count != n || len(got.Seen) != n {
		t.Fatalf("%d distinct concurrent registrations -> count %d, seen %d", n, got.Count, len(got.Seen))
	}
}

func TestSessionStore(t *testing.T) {
	_, c := newClient(t)
	s := redisad.NewSessionStore(c)
	ctx := context.Background()

	if u, err := s.Get(ctx, "dev-1"); err != nil || u != "" {
		t.Fatalf("empty Get = %q, %v", u, err)
	}
	if err := s.Set(ctx, "dev-1", "user-9"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if u, _ := s.Get(ctx, "dev-1"); u != "user-9" {
		t.Fatalf("Get = %q", u)
	}
	if err := s.Delete(ctx, "dev-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if u, _ := s.Get(ctx, "dev-1"); u != "" {
		t.Fatalf("Get after Delete = %q", u)
	}
}

func TestCache_RoundTripAndMiss(t *testing.T) {
	_, c := newClient(t)
	cache := redisad.NewCache(c)
	ctx := context.Background()

	var flag bool
	if ok, err := cache.Get(ctx, "profile:u:unlimited", &flag); ok || err != nil {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, "profile:u:unlimited", true, 60); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, err := cache.Get(ctx, "profile:u:unlimited", &flag); !ok || err != nil || !flag {
		t.Fatalf("hit: ok=%v err=%v flag=%v", ok, err, flag)
	}
	if err := cache.Del(ctx, "profile:u:unlimited"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if ok, _ := cache.Get(ctx, "profile:u:unlimited", &flag); ok {
		t.Fatalf("expected miss after Del")
	}
}
