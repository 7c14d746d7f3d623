package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"unirate/internal/domain"
	"unirate/internal/storage/memory"
)

func TestQuotaStore_LoadReturnsCopy(t *testing.T) {
	s := memory.NewQuotaStore()
	ctx := context.Background()
	_ = s.Save(ctx, "dev", domain.AnonymousQuota{WindowStart: time.Now(), Count: 1, Seen: []string{"a"}})

	q, found, _ := s.Load(ctx, "dev")
	if !found {
		t.Fatalf("expected stored quota")
	}
	q.Seen[0] = "mutated"
	again, _, _ := s.Load(ctx, "dev")
	if again.Seen[0] != "a" {
		t.Fatalf("store aliased caller slice")
	}
}

func TestViewStore_FirstViewWinsInsideWindow(t *testing.T) {
	s := memory.NewViewStore()
	ctx := context.Background()
	t0 := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	_ = s.RecordView(ctx, domain.AuthenticatedViewRecord{UserID: "u", ReviewID: "r", ViewedAt: t0}, t0.Add(-24*time.Hour))
	_ = s.RecordView(ctx, domain.AuthenticatedViewRecord{UserID: "u", ReviewID: "r", ViewedAt: t0.Add(2 * time.Hour)},
		t0.Add(-22*time.Hour))

	// the row is still inside the window, so the duplicate must not move it
	if ok, _ := s.HasViewedSince(ctx, "u", "r", t0.Add(time.Hour)); ok {
		t.Fatalf("duplicate registration mutated viewed_at")
	}
	if n, _ := s.CountDistinctSince(ctx, "u", t0.Add(-time.Hour)); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestViewStore_StaleRowIsRefreshed(t *testing.T) {
	s := memory.NewViewStore()
	ctx := context.Background()
	t0 := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	later := t0.Add(25 * time.Hour)

	_ = s.RecordView(ctx, domain.AuthenticatedViewRecord{UserID: "u", ReviewID: "r", ViewedAt: t0}, t0.Add(-24*time.Hour))
	_ = s.RecordView(ctx, domain.AuthenticatedViewRecord{UserID: "u", ReviewID: "r", ViewedAt: later}, later.Add(-24*time.Hour))

	if ok, _ := s.HasViewedSince(ctx, "u", "r", later.Add(-24*time.Hour)); !ok {
		t.Fatalf("aged-out row was not refreshed")
	}
}

func TestQuotaStore_UpdateIsSerialised(t *testing.T) {
	s := memory.NewQuotaStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Update(ctx, "dev", func(q domain.AnonymousQuota, found bool) (domain.AnonymousQuota, bool) {
				q.Seen = append(q.Seen, fmt.Sprintf("r-%d", i))
				q.Count = len(q.Seen)
				return q, true
			})
		}(i)
	}
	wg.Wait()

	q, _, _ := s.Load(ctx, "dev")
	if q.Count != 50 || len(q.Seen) != 50 {
		t.Fatalf("lost updates: count=%d seen=%d", q.Count, len(q.Seen))
	}
}

func TestQuotaStore_UpdateUnchangedIsNotWritten(t *testing.T) {
	s := memory.NewQuotaStore()
	ctx := context.Background()

	_, _ = s.Update(ctx, "dev", func(q domain.AnonymousQuota, found bool) (domain.AnonymousQuota, bool) {
		return domain.AnonymousQuota{WindowStart: time.Now()}, false
	})
	if _, found, _ := s.Load(ctx, "dev"); found {
		t.Fatalf("unchanged quota was stored")
	}
}
