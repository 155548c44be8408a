// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package keys

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/stagegate/stagegate/internal/testutils"
)

func TestIssue(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry()
	key, err := r.Issue()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(key).To(HaveLen(DefaultLength))
	g.Expect(key).To(MatchRegexp(`^[A-Za-z0-9]{16}$`))
	g.Expect(r.Len()).To(Equal(1))

	other, err := r.Issue()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(other).NotTo(Equal(key))
}

func TestIssue_Length(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry(WithLength(40))
	key, err := r.Issue()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(key).To(HaveLen(40))
}

func TestRedeem_SingleUse(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry()
	key, err := r.Issue()
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(r.Redeem(key)).To(BeTrue())
	g.Expect(r.Redeem(key)).To(BeFalse())
	g.Expect(r.Len()).To(BeZero())
}

func TestRedeem_Unknown(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry()
	g.Expect(r.Redeem("")).To(BeFalse())
	g.Expect(r.Redeem("AAAAAAAAAAAAAAAA")).To(BeFalse())
}

func TestRedeem_Expiry(t *testing.T) {
	for _, tt := range []struct {
		name     string
		elapsed  time.Duration
		expected bool
	}{
		{name: "within ttl", elapsed: 2 * time.Second, expected: true},
		{name: "exactly ttl", elapsed: DefaultTTL, expected: true},
		{name: "after ttl", elapsed: DefaultTTL + time.Millisecond, expected: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			clock := testutils.NewFakeClock(testutils.ParseTime(t, "2026-01-02T15:04:05Z"))
			r := NewRegistry(WithClock(clock.Now))

			key, err := r.Issue()
			g.Expect(err).NotTo(HaveOccurred())

			clock.Advance(tt.elapsed)
			g.Expect(r.Redeem(key)).To(Equal(tt.expected))
		})
	}
}

func TestIssue_PurgesExpired(t *testing.T) {
	g := NewWithT(t)

	clock := testutils.NewFakeClock(testutils.ParseTime(t, "2026-01-02T15:04:05Z"))
	r := NewRegistry(WithClock(clock.Now), WithTTL(time.Second))

	_, err := r.Issue()
	g.Expect(err).NotTo(HaveOccurred())
	_, err = r.Issue()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.Len()).To(Equal(2))

	clock.Advance(2 * time.Second)
	_, err = r.Issue()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.Len()).To(Equal(1))
}

func TestRedeem_Concurrent(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry()
	key, err := r.Issue()
	g.Expect(err).NotTo(HaveOccurred())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Redeem(key) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	g.Expect(wins.Load()).To(Equal(int32(1)))
}
