package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finsight-backend/internal/docstore"
)

func services(t *testing.T, now *time.Time) map[string]*Service {
	t.Helper()
	clock := func() time.Time { return *now }
	mem := NewService()
	mem.Now = clock
	doc := NewDocService(&DocStore{Store: docstore.NewMemoryStore()})
	doc.Now = clock
	return map[string]*Service{"default": mem, "docstore": doc}
}

func TestConsumeUntilLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, svc := range services(t, &now) {
		ctx := context.Background()
		limit := LimitFor("free")
		for i := 0; i < limit; i++ {
			if _, err := svc.Consume(ctx, "u1", 1); err != nil {
				t.Fatalf("%s: consume %d: %v", name, i, err)
			}
		}
		ok, u, err := svc.CanConsume(ctx, "u1", 1)
		if err != nil {
			t.Fatalf("%s: can consume: %v", name, err)
		}
		if ok || u.Used != limit || u.Remaining() != 0 {
			t.Fatalf("%s: expected exhausted allowance, got ok=%v usage=%+v", name, ok, u)
		}
		if _, err := svc.Consume(ctx, "u1", 1); !errors.Is(err, ErrLimitReached) {
			t.Fatalf("%s: expected ErrLimitReached, got %v", name, err)
		}
	}
}

func TestPeriodRollsOver(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, svc := range services(t, &now) {
		ctx := context.Background()
		if _, err := svc.Consume(ctx, "u1", 3); err != nil {
			t.Fatalf("%s: consume: %v", name, err)
		}
		now = now.Add(Period + time.Minute)
		u, err := svc.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if u.Used != 0 {
			t.Fatalf("%s: expected reset usage, got %d", name, u.Used)
		}
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

func TestPlanLookupSetsLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, svc := range services(t, &now) {
		svc.Plans = func(ctx context.Context, userID string) (string, error) { return "pro", nil }
		u, err := svc.Get(context.Background(), "u1")
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if u.Plan != "pro" || u.Limit != LimitFor("pro") {
			t.Fatalf("%s: expected pro plan, got %+v", name, u)
		}
	}
}

func TestConcurrentConsumeNeverOverspends(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewDocService(&DocStore{Store: docstore.NewMemoryStore()})
	svc.Now = func() time.Time { return now }
	limit := LimitFor("free")

	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount := 0
	for i := 0; i < limit+10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := svc.Consume(context.Background(), "u1", 1)
				if err == nil {
					mu.Lock()
					okCount++
					mu.Unlock()
					return
				}
				if errors.Is(err, ErrLimitReached) {
					return
				}
			}
		}()
	}
	wg.Wait()
	if okCount != limit {
		t.Fatalf("expected %d successful consumes, got %d", limit, okCount)
	}
}

func TestUnknownPlanFallsBackToFree(t *testing.T) {
	if LimitFor("platinum") != LimitFor("free") {
		t.Fatalf("expected unknown plan to use free limit")
	}
}
