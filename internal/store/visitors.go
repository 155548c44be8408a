// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package store

import (
	"errors"
	"path/filepath"
	"time"
)

// AttemptKind identifies which secret a recorded attempt was for.
type AttemptKind string

const (
	// AttemptLogin is a dashboard login secret submission.
	AttemptLogin AttemptKind = "login"
	// AttemptCaptcha is a captcha submission over the real-time channel.
	AttemptCaptcha AttemptKind = "captcha"
)

// VisitorCounter holds the global and daily visit statistics.
type VisitorCounter struct {
	TotalVisits    int                    `json:"totalVisits"`
	UniqueVisitors int                    `json:"uniqueVisitors"`
	VisitorIPs     map[string]*Visitor    `json:"visitorIPs"`
	DailyStats     map[string]*DailyStats `json:"dailyStats"`
}

// NewVisitorCounter returns an empty counter.
func NewVisitorCounter() VisitorCounter {
	return VisitorCounter{
		VisitorIPs: map[string]*Visitor{},
		DailyStats: map[string]*DailyStats{},
	}
}

// Visitor is the history of one client IP.
type Visitor struct {
	FirstVisit      string            `json:"firstVisit"`
	LastVisit       string            `json:"lastVisit,omitempty"`
	VisitCount      int               `json:"visitCount"`
	LoginAttempts   []Attempt         `json:"loginAttempts"`
	CaptchaAttempts []Attempt         `json:"captchaAttempts"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// Attempt is one recorded secret submission.
type Attempt struct {
	Secret  string `json:"secret"`
	Correct bool   `json:"correct"`
	Time    string `json:"time"`
}

// DailyStats is the visit statistics of one UTC day.
type DailyStats struct {
	Visits         int             `json:"visits"`
	UniqueVisitors int             `json:"uniqueVisitors"`
	VisitorIPs     map[string]bool `json:"visitorIPs"`
}

// Stats is the summary returned to the analytics endpoint.
type Stats struct {
	TotalVisits         int `json:"totalVisits"`
	UniqueVisitors      int `json:"uniqueVisitors"`
	TodayVisits         int `json:"todayVisits"`
	TodayUniqueVisitors int `json:"todayUniqueVisitors"`
}

// VisitorStore persists the VisitorCounter.
type VisitorStore struct {
	file *JSONFile[VisitorCounter]
	now  func() time.Time
}

// Visit counts a visit from ip. The headers are kept only for the
// first visit of an address.
func (s *VisitorStore) Visit(ip string, headers map[string]string) (Stats, error) {
	if ip == "" {
		return Stats{}, errors.New("visitor address is empty")
	}

	var stats Stats
	err := s.file.Update(func(c *VisitorCounter) (bool, error) {
		c.normalize()
		now := s.now().UTC()
		stamp := now.Format(time.RFC3339)
		today := now.Format(time.DateOnly)

		day, ok := c.DailyStats[today]
		if !ok {
			day = &DailyStats{VisitorIPs: map[string]bool{}}
			c.DailyStats[today] = day
		}
		if day.VisitorIPs == nil {
			day.VisitorIPs = map[string]bool{}
		}

		c.TotalVisits++
		day.Visits++

		v, ok := c.VisitorIPs[ip]
		if !ok {
			v = &Visitor{
				FirstVisit:      stamp,
				LoginAttempts:   []Attempt{},
				CaptchaAttempts: []Attempt{},
				Headers:         headers,
			}
			c.VisitorIPs[ip] = v
			c.UniqueVisitors++
		}
		if !day.VisitorIPs[ip] {
			day.VisitorIPs[ip] = true
			day.UniqueVisitors++
		}
		v.LastVisit = stamp
		v.VisitCount++

		stats = Stats{
			TotalVisits:         c.TotalVisits,
			UniqueVisitors:      c.UniqueVisitors,
			TodayVisits:         day.Visits,
			TodayUniqueVisitors: day.UniqueVisitors,
		}
		return true, nil
	})
	return stats, err
}

// RecordAttempt appends a secret submission to the history of a known
// visitor. Unknown addresses are ignored and reported as not recorded.
func (s *VisitorStore) RecordAttempt(kind AttemptKind, ip, secret string, correct bool) (bool, error) {
	recorded := false
	err := s.file.Update(func(c *VisitorCounter) (bool, error) {
		c.normalize()
		v, ok := c.VisitorIPs[ip]
		if !ok {
			return false, nil
		}
		a := Attempt{
			Secret:  secret,
			Correct: correct,
			Time:    s.now().UTC().Format(time.RFC3339),
		}
		switch kind {
		case AttemptLogin:
			v.LoginAttempts = append(v.LoginAttempts, a)
		case AttemptCaptcha:
			v.CaptchaAttempts = append(v.CaptchaAttempts, a)
		default:
			return false, nil
		}
		recorded = true
		return true, nil
	})
	return recorded, err
}

// Read returns the full counter.
func (s *VisitorStore) Read() (VisitorCounter, error) {
	c, err := s.file.Read()
	if err != nil {
		return VisitorCounter{}, err
	}
	c.normalize()
	return c, nil
}

// ReadVisitors returns the counter stored in dir without creating
// the directory or the file. A missing file yields an empty counter.
func ReadVisitors(dir string) (VisitorCounter, error) {
	c, err := NewJSONFile(filepath.Join(dir, visitorsFile), NewVisitorCounter).Read()
	if err != nil {
		return VisitorCounter{}, err
	}
	c.normalize()
	return c, nil
}

func (c *VisitorCounter) normalize() {
	if c.VisitorIPs == nil {
		c.VisitorIPs = map[string]*Visitor{}
	}
	if c.DailyStats == nil {
		c.DailyStats = map[string]*DailyStats{}
	}
	for ip, v := range c.VisitorIPs {
		if v == nil {
			delete(c.VisitorIPs, ip)
		}
	}
}
