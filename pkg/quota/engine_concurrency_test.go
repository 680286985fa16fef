package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Many goroutines race ConsumeOne against a nearly exhausted allowance.
// Exactly the remaining headroom may succeed, never more.
func TestConsumeOne_ConcurrentNeverOvershoots(t *testing.T) {
	const (
		workers   = 50
		remaining = 5
	)

	store := newFakeStore()
	seedSubscription(t, store, func(sub *Subscription) {
		sub.DailyLimit = 1000
		sub.MonthlyUsed = sub.MonthlyLimit - remaining
	})
	engine := newTestEngine(t, store, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.ConsumeOne(context.Background(), "tenant-1")
			if err != nil {
				t.Errorf("ConsumeOne failed: %v", err)
				return
			}
			if res.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != remaining {
		t.Errorf("successes = %d, want exactly %d", got, remaining)
	}

	sub, err := store.GetSubscription(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if sub.MonthlyUsed != sub.MonthlyLimit {
		t.Errorf("MonthlyUsed = %d, want %d (never past the limit)", sub.MonthlyUsed, sub.MonthlyLimit)
	}
}

// Concurrent requests straddling a local midnight must produce one reset,
// not several, and the day must not be reset twice.
func TestCheckLimits_ConcurrentDailyResetAppliesOnce(t *testing.T) {
	const workers = 20

	store := newFakeStore()
	seedSubscription(t, store, func(sub *Subscription) {
		sub.DailyUsed = 50
		sub.LastDailyReset = time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)
	})
	engine := newTestEngine(t, store, time.Date(2025, 6, 15, 0, 5, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.CheckLimits(context.Background(), "tenant-1"); err != nil {
				t.Errorf("CheckLimits failed: %v", err)
			}
		}()
	}
	wg.Wait()

	sub, err := store.GetSubscription(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if sub.DailyUsed != 0 {
		t.Errorf("DailyUsed = %d, want 0", sub.DailyUsed)
	}
	want := time.Date(2025, 6, 15, 0, 5, 0, 0, time.UTC)
	if !sub.LastDailyReset.Equal(want) {
		t.Errorf("LastDailyReset = %v, want %v", sub.LastDailyReset, want)
	}
}
