// Copyright 2025 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package testutils

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

// ParseTime parses a time string in RFC3339 format and returns a time.Time object.
func ParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	g := NewWithT(t)
	tm, err := time.Parse(time.RFC3339, s)
	g.Expect(err).NotTo(HaveOccurred())
	return tm
}

// FakeClock is a manually advanced clock for code that accepts
// a func() time.Time. It is safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock set to the given time.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
