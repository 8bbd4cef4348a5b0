package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 0, 0)
}

func payload(s string) json.RawMessage {
	return json.RawMessage(s)
}

func countingFetch(calls *int32, p json.RawMessage, err error) FetchFunc {
	return func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(calls, 1)
		return p, err
	}
}

func TestGetOrFetch_FreshHitSkipsFetch(t *testing.T) {
	m := newTestManager(t)
	key := Key{Class: ClassBalance, Platform: "deepseek"}

	var calls int32
	fetch := countingFetch(&calls, payload(`{"balance": "1.20"}`), nil)

	r, err := m.GetOrFetch(context.Background(), key, TTLBalance, fetch)
	if err != nil {
		t.Fatalf("First GetOrFetch failed: %v", err)
	}
	if r.Stale {
		t.Error("Fresh fetch should not be stale")
	}

	r, err = m.GetOrFetch(context.Background(), key, TTLBalance, fetch)
	if err != nil {
		t.Fatalf("Second GetOrFetch failed: %v", err)
	}
	if string(r.Payload) != `{"balance": "1.20"}` {
		t.Errorf("Unexpected payload %s", r.Payload)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 fetch, got %d", got)
	}
}

func TestGetOrFetch_StaleFallbackOnError(t *testing.T) {
	m := newTestManager(t)
	key := Key{Class: ClassBalance, Platform: "kimi"}

	var calls int32
	if _, err := m.GetOrFetch(context.Background(), key, TTLBalance, countingFetch(&calls, payload(`{"v": 1}`), nil)); err != nil {
		t.Fatalf("Seed fetch failed: %v", err)
	}

	// Force the entry past its TTL and outside the minimum interval.
	base := time.Now()
	m.now = func() time.Time { return base.Add(TTLBalance + time.Minute) }

	failing := countingFetch(&calls, nil, errors.New("upstream down"))
	r, err := m.GetOrFetch(context.Background(), key, TTLBalance, failing)
	if err != nil {
		t.Fatalf("Expected stale fallback, got error: %v", err)
	}
	if !r.Stale {
		t.Error("Fallback result should be marked stale")
	}
	if string(r.Payload) != `{"v": 1}` {
		t.Errorf("Unexpected stale payload %s", r.Payload)
	}
	if r.Age < TTLBalance {
		t.Errorf("Stale age %v should exceed the TTL", r.Age)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 fetches, got %d", got)
	}
}

func TestGetOrFetch_UnavailableWithoutHistory(t *testing.T) {
	m := newTestManager(t)
	key := Key{Class: ClassBalance, Platform: "siliconflow"}

	_, err := m.GetOrFetch(context.Background(), key, TTLBalance, func(ctx context.Context) (json.RawMessage, error) {
		return nil, errors.New("connection refused")
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestGetOrFetch_MinIntervalSuppressesFetch(t *testing.T) {
	m := NewManager(t.TempDir(), 30*time.Second, 0)
	key := Key{Class: ClassBalance, Platform: "gaccode"}

	// Stale entry whose last attempt was 5 seconds ago.
	base := time.Now()
	m.now = func() time.Time { return base }
	m.remember(key.String(), &entry{
		Payload:     payload(`{"n": 1}`),
		FetchedAt:   base.Add(-10 * time.Minute),
		TTLSeconds:  300,
		LastAttempt: base.Add(-5 * time.Second),
	})

	var calls int32
	r, err := m.GetOrFetch(context.Background(), key, TTLBalance, countingFetch(&calls, payload(`{"n": 2}`), nil))
	if err != nil {
		t.Fatalf("GetOrFetch inside interval failed: %v", err)
	}
	if string(r.Payload) != `{"n": 1}` {
		t.Errorf("Expected cached payload served, got %s", r.Payload)
	}
	if !r.Stale {
		t.Error("Interval-gated result should be marked stale")
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("Fetch should be suppressed inside minimum interval, got %d calls", got)
	}

	// Outside the interval the fetch runs again.
	m.now = func() time.Time { return base.Add(26 * time.Second) }
	r, err = m.GetOrFetch(context.Background(), key, TTLBalance, countingFetch(&calls, payload(`{"n": 2}`), nil))
	if err != nil {
		t.Fatalf("GetOrFetch after interval failed: %v", err)
	}
	if string(r.Payload) != `{"n": 2}` {
		t.Errorf("Expected refreshed payload, got %s", r.Payload)
	}
}

func TestGetOrFetch_ImmediateTierNotGated(t *testing.T) {
	m := NewManager(t.TempDir(), 30*time.Second, 0)
	key := Key{Class: ClassUIState, Platform: "gaccode", Sub: "s1"}

	var calls int32
	if _, err := m.GetOrFetch(context.Background(), key, TTLUIState, countingFetch(&calls, payload(`{"n": 1}`), nil)); err != nil {
		t.Fatalf("Seed fetch failed: %v", err)
	}

	// Past the 1s TTL and inside the 30s window. Tiers shorter than the
	// interval must refresh anyway.
	base := time.Now()
	m.now = func() time.Time { return base.Add(5 * time.Second) }

	r, err := m.GetOrFetch(context.Background(), key, TTLUIState, countingFetch(&calls, payload(`{"n": 2}`), nil))
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if string(r.Payload) != `{"n": 2}` {
		t.Errorf("Expected refreshed payload, got %s", r.Payload)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 fetches for the immediate tier, got %d", got)
	}
}

func TestGetOrFetch_FailedAttemptBacksOff(t *testing.T) {
	m := NewManager(t.TempDir(), 30*time.Second, 0)
	key := Key{Class: ClassBalance, Platform: "deepseek"}

	var calls int32
	if _, err := m.GetOrFetch(context.Background(), key, TTLBalance, countingFetch(&calls, payload(`{}`), nil)); err != nil {
		t.Fatalf("Seed fetch failed: %v", err)
	}

	base := time.Now()
	m.now = func() time.Time { return base.Add(TTLBalance + time.Minute) }
	if _, err := m.GetOrFetch(context.Background(), key, TTLBalance, countingFetch(&calls, nil, errors.New("boom"))); err != nil {
		t.Fatalf("Expected stale fallback, got %v", err)
	}

	// A second try right after the failure is absorbed by the interval
	// gate; the fetch function must not run.
	m.now = func() time.Time { return base.Add(TTLBalance + time.Minute + 2*time.Second) }
	if _, err := m.GetOrFetch(context.Background(), key, TTLBalance, countingFetch(&calls, nil, errors.New("boom"))); err != nil {
		t.Fatalf("Expected stale fallback, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected backoff after failed attempt, got %d calls", got)
	}
}

func TestGetOrFetch_ConcurrentStaleFallback(t *testing.T) {
	m := NewManager(t.TempDir(), 30*time.Second, 0)
	key := Key{Class: ClassBalance, Platform: "deepseek"}

	if _, err := m.GetOrFetch(context.Background(), key, TTLBalance, countingFetch(new(int32), payload(`{"v": 1}`), nil)); err != nil {
		t.Fatalf("Seed fetch failed: %v", err)
	}

	// Entry is stale, upstream is down: the first caller's failed
	// attempt stamps the backoff while the others are reading the
	// interval gate. All of them must see the stale payload.
	base := time.Now()
	m.now = func() time.Time { return base.Add(TTLBalance + time.Minute) }
	failing := func(ctx context.Context) (json.RawMessage, error) {
		return nil, errors.New("upstream down")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				r, err := m.GetOrFetch(context.Background(), key, TTLBalance, failing)
				if err != nil {
					t.Errorf("Expected stale fallback, got error: %v", err)
					return
				}
				if string(r.Payload) != `{"v": 1}` {
					t.Errorf("Unexpected payload %s", r.Payload)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestGetOrFetch_KeysAreIndependent(t *testing.T) {
	m := newTestManager(t)

	var dsCalls, kimiCalls int32
	ctx := context.Background()
	if _, err := m.GetOrFetch(ctx, Key{Class: ClassBalance, Platform: "deepseek"}, TTLBalance, countingFetch(&dsCalls, payload(`{"p": "ds"}`), nil)); err != nil {
		t.Fatalf("deepseek fetch failed: %v", err)
	}
	r, err := m.GetOrFetch(ctx, Key{Class: ClassBalance, Platform: "kimi"}, TTLBalance, countingFetch(&kimiCalls, payload(`{"p": "kimi"}`), nil))
	if err != nil {
		t.Fatalf("kimi fetch failed: %v", err)
	}
	if string(r.Payload) != `{"p": "kimi"}` {
		t.Errorf("kimi key returned wrong payload %s", r.Payload)
	}
	if dsCalls != 1 || kimiCalls != 1 {
		t.Errorf("Each platform key should fetch once, got ds=%d kimi=%d", dsCalls, kimiCalls)
	}

	// Class also partitions: subscription for deepseek is a separate entry.
	var subCalls int32
	if _, err := m.GetOrFetch(ctx, Key{Class: ClassSubscription, Platform: "deepseek"}, TTLSubscription, countingFetch(&subCalls, payload(`{}`), nil)); err != nil {
		t.Fatalf("subscription fetch failed: %v", err)
	}
	if subCalls != 1 {
		t.Errorf("Subscription class should fetch independently, got %d calls", subCalls)
	}
}

func TestGetOrFetch_DiskTierSharedAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	key := Key{Class: ClassSubscription, Platform: "gaccode"}

	first := NewManager(dir, 0, 0)
	var calls int32
	if _, err := first.GetOrFetch(context.Background(), key, TTLSubscription, countingFetch(&calls, payload(`{"plan": "pro"}`), nil)); err != nil {
		t.Fatalf("Seed fetch failed: %v", err)
	}

	// A second manager (a separate invocation in practice) reads the
	// same file and never reaches the network.
	second := NewManager(dir, 0, 0)
	r, err := second.GetOrFetch(context.Background(), key, TTLSubscription, countingFetch(&calls, nil, errors.New("must not run")))
	if err != nil {
		t.Fatalf("Disk-tier read failed: %v", err)
	}
	if string(r.Payload) != `{"plan": "pro"}` {
		t.Errorf("Unexpected payload from disk tier: %s", r.Payload)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 fetch total, got %d", got)
	}

	if _, err := filepath.Glob(filepath.Join(dir, "cache_subscription_gaccode.json")); err != nil {
		t.Fatalf("glob failed: %v", err)
	}
}

func TestGetOrFetch_SingleflightDedupes(t *testing.T) {
	m := newTestManager(t)
	key := Key{Class: ClassBalance, Platform: "local_proxy"}

	var calls int32
	slow := func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return payload(`{"ok": true}`), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetOrFetch(context.Background(), key, TTLBalance, slow); err != nil {
				t.Errorf("Concurrent GetOrFetch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected concurrent calls to share one fetch, got %d", got)
	}
}

func TestGetOrFetch_FetchTimeout(t *testing.T) {
	m := NewManager(t.TempDir(), 0, 30*time.Millisecond)
	key := Key{Class: ClassBalance, Platform: "gaccode"}

	_, err := m.GetOrFetch(context.Background(), key, TTLBalance, func(ctx context.Context) (json.RawMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return payload(`{}`), nil
		}
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable after timeout, got %v", err)
	}
}

func TestJitteredTTL(t *testing.T) {
	if got := jitteredTTL(TTLUIState); got != 1 {
		t.Errorf("Sub-minute TTL must not jitter, got %d", got)
	}
	for i := 0; i < 100; i++ {
		got := jitteredTTL(TTLBalance)
		if got < 270 || got > 330 {
			t.Fatalf("jitteredTTL(5m) = %d, outside ±10%% band", got)
		}
	}
}

func TestKeyFilename(t *testing.T) {
	k := Key{Class: ClassBalance, Platform: "deepseek"}
	if got := k.filename(); got != "cache_balance_deepseek.json" {
		t.Errorf("Unexpected filename %q", got)
	}
	k.Sub = "abc"
	if got := k.filename(); got != "cache_balance_deepseek_abc.json" {
		t.Errorf("Unexpected sub filename %q", got)
	}
}
