// Package credentials rotates a pool of interchangeable upstream API keys.
//
// Each credential is either available or cooling down after a rate-limit
// signal. Cooldowns expire lazily: a credential becomes selectable again the
// first time Next observes now >= expiry. There is no timer.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
)

var (
	// ErrNoCredentials is returned by New for an empty pool.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrAllCredentialsExhausted means every credential was rate-limited
	// within one call. Callers should surface it as "try again shortly".
	ErrAllCredentialsExhausted = errors.New("all API keys are rate-limited, please try again shortly")

	// ErrRateLimited is wrapped by provider adapters when the upstream
	// answers with a rate-limit signal such as HTTP 429.
	ErrRateLimited = errors.New("rate limited")
)

// DefaultCooldown is how long a rate-limited credential is skipped.
const DefaultCooldown = time.Minute

// Credential is one selected pool entry. Index identifies it in Stats.
type Credential struct {
	Index  int
	Secret string
}

// Rotator selects credentials round-robin and skips those in cooldown.
// All state is guarded by mu; upstream calls run outside the lock.
type Rotator struct {
	name          string
	cooldown      time.Duration
	now           func() time.Time
	isRateLimited func(error) bool
	logger        *zap.Logger

	mu        sync.Mutex
	keys      []string
	cursor    int
	cooldowns map[int]time.Time
	usage     []int
}

// Option customises a Rotator.
type Option func(*Rotator)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(r *Rotator) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

// WithClock injects the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Rotator) { r.now = now }
}

// WithClassifier replaces the rate-limit detector used by Do and Call.
func WithClassifier(fn func(error) bool) Option {
	return func(r *Rotator) { r.isRateLimited = fn }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rotator) { r.logger = l }
}

// WithName labels the pool in logs and stats.
func WithName(name string) Option {
	return func(r *Rotator) { r.name = name }
}

// New builds a Rotator over keys. The order of keys is the rotation order.
func New(keys []string, opts ...Option) (*Rotator, error) {
	if len(keys) == 0 {
		return nil, ErrNoCredentials
	}
	r := &Rotator{
		name:          "default",
		cooldown:      DefaultCooldown,
		now:           time.Now,
		isRateLimited: IsRateLimited,
		keys:          append([]string(nil), keys...),
		cooldowns:     make(map[int]time.Time),
		usage:         make([]int, len(keys)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrNop(r.logger).With(zap.String("pool", r.name))
	return r, nil
}

// IsRateLimited reports whether err carries ErrRateLimited.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// Len returns the pool size.
func (r *Rotator) Len() int { return len(r.keys) }

// ─── Selection ────────────────────────────────────────────────────────────────

// Next walks the pool from the cursor and returns the first credential not in
// cooldown, moving the cursor past it. If every credential is cooling down it
// returns the one whose cooldown ends soonest; the caller may be rate-limited
// again and must handle that.
func (r *Rotator) Next() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.keys)
	now := r.now()
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		expiry, cooling := r.cooldowns[idx]
		if cooling && now.Before(expiry) {
			continue
		}
		if cooling {
			delete(r.cooldowns, idx)
		}
		r.cursor = (idx + 1) % n
		return Credential{Index: idx, Secret: r.keys[idx]}
	}

	soonest := -1
	for idx, expiry := range r.cooldowns {
		if soonest < 0 || expiry.Before(r.cooldowns[soonest]) ||
			(expiry.Equal(r.cooldowns[soonest]) && idx < soonest) {
			soonest = idx
		}
	}
	r.cursor = (soonest + 1) % n
	r.logger.Warn("all credentials cooling down, using the one that expires first",
		zap.Int("key_index", soonest),
		zap.Duration("remaining", r.cooldowns[soonest].Sub(now)),
	)
	return Credential{Index: soonest, Secret: r.keys[soonest]}
}

// MarkSuccess counts a successful call, clears any cooldown on c and moves
// the cursor past it.
func (r *Rotator) MarkSuccess(c Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid(c) {
		return
	}
	r.usage[c.Index]++
	delete(r.cooldowns, c.Index)
	r.cursor = (c.Index + 1) % len(r.keys)
}

// MarkRateLimited puts c into cooldown from now and moves the cursor past it.
func (r *Rotator) MarkRateLimited(c Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid(c) {
		return
	}
	until := r.now().Add(r.cooldown)
	r.cooldowns[c.Index] = until
	r.cursor = (c.Index + 1) % len(r.keys)
	r.logger.Warn("credential rate limited, cooling down",
		zap.Int("key_index", c.Index),
		zap.Time("until", until),
	)
}

func (r *Rotator) valid(c Credential) bool {
	return c.Index >= 0 && c.Index < len(r.keys)
}

// ─── Call wrapping ────────────────────────────────────────────────────────────

// Do runs fn with up to Len credentials. A rate-limited attempt puts the
// credential in cooldown and moves on; any other error is returned at once
// without rotating. After Len rate-limited attempts it returns
// ErrAllCredentialsExhausted.
func (r *Rotator) Do(ctx context.Context, fn func(ctx context.Context, secret string) error) error {
	_, err := Call(ctx, r, func(ctx context.Context, secret string) (struct{}, error) {
		return struct{}{}, fn(ctx, secret)
	})
	return err
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, r *Rotator, fn func(ctx context.Context, secret string) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < r.Len(); attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		c := r.Next()
		out, err := fn(ctx, c.Secret)
		if err == nil {
			r.MarkSuccess(c)
			return out, nil
		}
		if !r.isRateLimited(err) {
			return zero, err
		}
		r.MarkRateLimited(c)
		lastErr = err
	}
	return zero, fmt.Errorf("%w (%s pool, last error: %v)", ErrAllCredentialsExhausted, r.name, lastErr)
}

// ─── Stats ────────────────────────────────────────────────────────────────────

// Stats is a snapshot of the pool. Secrets are never included.
type Stats struct {
	Pool            string         `json:"pool"`
	TotalKeys       int            `json:"total_keys"`
	CurrentKeyIndex int            `json:"current_key_index"`
	KeysInCooldown  int            `json:"keys_in_cooldown"`
	KeyUsage        map[string]int `json:"key_usage"`
	ActiveCooldowns map[string]int `json:"active_cooldowns"` // seconds remaining
}

// Stats returns a snapshot of usage counts and unexpired cooldowns.
func (r *Rotator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := Stats{
		Pool:            r.name,
		TotalKeys:       len(r.keys),
		CurrentKeyIndex: r.cursor,
		KeyUsage:        make(map[string]int, len(r.keys)),
		ActiveCooldowns: make(map[string]int),
	}
	for i, n := range r.usage {
		s.KeyUsage[keyLabel(i)] = n
	}
	for idx, expiry := range r.cooldowns {
		if now.Before(expiry) {
			s.KeysInCooldown++
			s.ActiveCooldowns[keyLabel(idx)] = int(expiry.Sub(now).Seconds())
		}
	}
	return s
}

func keyLabel(idx int) string { return fmt.Sprintf("key_%d", idx+1) }
