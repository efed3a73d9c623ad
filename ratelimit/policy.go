package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-qbexport/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what the policy remembers about one realm.
type State struct {
	RealmID        string
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, realmID string) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	RealmID    string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: realm %q throttled for %s", strings.TrimSpace(e.RealmID), e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"realm_id": strings.TrimSpace(e.RealmID)}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy backs off a realm after the API answers 429. Calls made
// inside a throttle window wait when the remaining window is at most
// MaxWait and fail with ThrottledError otherwise.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxWait        time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		Sleep:          sleepContext,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		MaxWait:        30 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, realmID string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	realmID = strings.TrimSpace(realmID)
	state, err := p.Store.Get(ctx, realmID)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	until := state.ThrottledUntil
	if until == nil || !now.Before(*until) {
		return nil
	}
	wait := until.Sub(now)
	if p.MaxWait <= 0 || wait > p.MaxWait {
		return ThrottledError{RealmID: realmID, RetryAfter: wait}
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, wait)
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, realmID string, status int, headers map[string]string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	realmID = strings.TrimSpace(realmID)
	now := p.now()
	state, err := p.Store.Get(ctx, realmID)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{RealmID: realmID}
	}
	state.LastStatus = status
	state.UpdatedAt = now

	retryAfter, hasRetryAfter := parseRetryAfter(headers, now)
	if hasRetryAfter {
		state.RetryAfter = &retryAfter
	} else {
		state.RetryAfter = nil
	}

	if status == http.StatusTooManyRequests {
		state.Attempts++
		delay := retryAfter
		if !hasRetryAfter {
			delay = p.nextBackoff(state.Attempts)
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts = 0
	state.ThrottledUntil = nil
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// nextBackoff doubles from InitialBackoff for each consecutive 429 and
// caps at MaxBackoff.
func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	base, ceiling := p.InitialBackoff, p.MaxBackoff
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 || base<<(attempt-1) > ceiling {
		return ceiling
	}
	return base << (attempt - 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRetryAfter accepts delta seconds or an HTTP date. Intuit sends
// seconds; the date form is kept for proxies in front of the API.
func parseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	var raw string
	for name, value := range headers {
		if strings.EqualFold(strings.TrimSpace(name), "Retry-After") {
			raw = strings.TrimSpace(value)
			break
		}
	}
	switch {
	case raw == "":
		return 0, false
	case isDigits(raw):
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds == 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	at, err := http.ParseTime(raw)
	if err != nil || !at.After(now) {
		return 0, false
	}
	return at.Sub(now), true
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, realmID string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[strings.TrimSpace(realmID)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.RealmID = strings.TrimSpace(state.RealmID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.RealmID] = state
	return nil
}
