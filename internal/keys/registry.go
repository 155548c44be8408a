// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stagegate/stagegate/internal/metrics"
)

const (
	// DefaultTTL is how long an issued key stays redeemable.
	DefaultTTL = 3 * time.Second

	// DefaultLength is the number of characters in an issued key.
	DefaultLength = 16

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// maxUnbiased is the largest multiple of len(alphabet) that fits in
	// a byte. Random bytes at or above it are discarded so that every
	// symbol is equally likely.
	maxUnbiased = 256 - 256%len(alphabet)
)

// ErrKeyInvalid is returned when a one-time key is missing,
// expired or already redeemed.
var ErrKeyInvalid = errors.New("one-time key invalid")

type options struct {
	ttl    time.Duration
	length int
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*options)

// WithTTL sets the redemption window of issued keys.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLength sets the number of characters of issued keys.
func WithLength(n int) Option {
	return func(o *options) {
		o.length = n
	}
}

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Registry stores single-use, time-bounded opaque keys.
// Expired keys are purged lazily on every Issue and Redeem.
type Registry struct {
	mu     sync.Mutex
	issued map[string]time.Time
	opts   options
}

// NewRegistry returns an empty key registry.
func NewRegistry(opts ...Option) *Registry {
	o := options{
		ttl:    DefaultTTL,
		length: DefaultLength,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.length <= 0 {
		o.length = DefaultLength
	}
	return &Registry{
		issued: make(map[string]time.Time),
		opts:   o,
	}
}

// TTL returns the redemption window.
func (r *Registry) TTL() time.Duration {
	return r.opts.ttl
}

// Issue generates a new key and records its issuance time.
func (r *Registry) Issue() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.now()
	r.purgeLocked(now)

	for {
		key, err := randomKey(r.opts.length)
		if err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		if _, exists := r.issued[key]; exists {
			continue
		}
		r.issued[key] = now
		metrics.RecordKey(metrics.KeyIssued)
		return key, nil
	}
}

// Redeem reports whether key was issued, is unexpired and has not been
// redeemed before. A successful redemption removes the key.
func (r *Registry) Redeem(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeLocked(r.opts.now())

	if _, ok := r.issued[key]; !ok || key == "" {
		metrics.RecordKey(metrics.KeyRejected)
		return false
	}
	delete(r.issued, key)
	metrics.RecordKey(metrics.KeyRedeemed)
	return true
}

// Len returns the number of keys currently held, including ones that
// have expired but were not purged yet.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issued)
}

func (r *Registry) purgeLocked(now time.Time) {
	for key, issuedAt := range r.issued {
		if now.Sub(issuedAt) > r.opts.ttl {
			delete(r.issued, key)
			metrics.RecordKey(metrics.KeyExpired)
		}
	}
}

func randomKey(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
