package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-qbexport/core"
)

func fixedPolicy(now time.Time) (*AdaptivePolicy, *MemoryStateStore, *[]time.Duration) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	policy.Now = func() time.Time { return now }
	slept := []time.Duration{}
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return policy, store, &slept
}

func TestAdaptivePolicy_BeforeCallAllowsWhenNoState(t *testing.T) {
	policy, _, slept := fixedPolicy(time.Unix(1_700_000_000, 0).UTC())
	if err := policy.BeforeCall(context.Background(), "realm-1"); err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no wait")
	}
}

func TestAdaptivePolicy_RetryAfterHeaderSetsWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store, slept := fixedPolicy(now)

	if err := policy.AfterCall(context.Background(), "realm-1", 429, map[string]string{"Retry-After": "12"}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, err := store.Get(context.Background(), "realm-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.ThrottledUntil == nil || !state.ThrottledUntil.Equal(now.Add(12*time.Second)) {
		t.Fatalf("expected throttle window of 12s, got %+v", state.ThrottledUntil)
	}
	if state.Attempts != 1 || state.LastStatus != 429 {
		t.Fatalf("unexpected state %+v", state)
	}

	if err := policy.BeforeCall(context.Background(), "realm-1"); err != nil {
		t.Fatalf("expected short window to be waited out, got %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 12*time.Second {
		t.Fatalf("expected a 12s wait, got %v", *slept)
	}
	if err := policy.BeforeCall(context.Background(), "realm-2"); err != nil {
		t.Fatalf("expected other realms unaffected, got %v", err)
	}
}

func TestAdaptivePolicy_LongWindowFailsFast(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, _, slept := fixedPolicy(now)

	if err := policy.AfterCall(context.Background(), "realm-1", 429, map[string]string{"retry-after": "120"}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	err := policy.BeforeCall(context.Background(), "realm-1")
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter != 120*time.Second {
		t.Fatalf("unexpected retry after %s", throttled.RetryAfter)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no wait for long windows")
	}
	mapped := core.MapError(err)
	if mapped.TextCode != core.ErrorRateLimited || mapped.Code != 429 {
		t.Fatalf("unexpected envelope %q/%d", mapped.TextCode, mapped.Code)
	}
}

func TestAdaptivePolicy_BackoffDoublesWithoutRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store, _ := fixedPolicy(now)

	for i := 0; i < 3; i++ {
		if err := policy.AfterCall(context.Background(), "realm-1", 429, nil); err != nil {
			t.Fatalf("after call: %v", err)
		}
	}
	state, _ := store.Get(context.Background(), "realm-1")
	if state.ThrottledUntil == nil || !state.ThrottledUntil.Equal(now.Add(4*time.Second)) {
		t.Fatalf("expected third backoff of 4s, got %+v", state.ThrottledUntil)
	}
}

func TestAdaptivePolicy_SuccessClearsWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store, _ := fixedPolicy(now)

	_ = policy.AfterCall(context.Background(), "realm-1", 429, nil)
	if err := policy.AfterCall(context.Background(), "realm-1", 200, nil); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, _ := store.Get(context.Background(), "realm-1")
	if state.ThrottledUntil != nil || state.Attempts != 0 {
		t.Fatalf("expected throttle cleared, got %+v", state)
	}
}

func TestAdaptivePolicy_WaitHonoursContext(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	policy.Now = func() time.Time { return now }
	_ = policy.AfterCall(context.Background(), "realm-1", 429, map[string]string{"Retry-After": "5"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := policy.BeforeCall(ctx, "realm-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
