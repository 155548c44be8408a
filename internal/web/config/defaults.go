// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	DefaultPublicURL      = "http://localhost:3000"
	DefaultAllowedCountry = "TW"
	DefaultCountryHeader  = "X-Sigsci-Client-Geo-Country-Code"
	DefaultDataDir        = "data"
	DefaultKeyTTL         = 3 * time.Second

	DefaultStage1Content   = "content/stage1.js"
	DefaultTerminalContent = "content/terminal.js"
	DefaultLoginContent    = "content/login.js"
	DefaultTokenContent    = "content/token.js"

	DefaultRateLimitRPS   = 10
	DefaultRateLimitBurst = 20

	DefaultNotificationTimeout = 10 * time.Second
	DefaultNotificationRetries = 2

	DefaultProxyTimeout = 15 * time.Second

	DefaultHubWriteTimeout       = 5 * time.Second
	DefaultHubReadLimit    int64 = 1 << 20
)

// ApplyDefaults applies default values to the ConfigSpec.
func (c *ConfigSpec) ApplyDefaults() {
	if c.PublicURL == "" {
		c.PublicURL = DefaultPublicURL
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{}
	}
	if c.AllowedCountry == "" {
		c.AllowedCountry = DefaultAllowedCountry
	}
	if c.CountryHeader == "" {
		c.CountryHeader = DefaultCountryHeader
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.KeyTTL == nil {
		c.KeyTTL = &metav1.Duration{Duration: DefaultKeyTTL}
	}
	c.Content.ApplyDefaults()
	c.RateLimit.ApplyDefaults()
	c.Notifications.ApplyDefaults()
	c.Proxy.ApplyDefaults()
	c.Hub.ApplyDefaults()
}

// ApplyDefaults applies default values to the ContentSpec.
func (c *ContentSpec) ApplyDefaults() {
	if c.Stage1 == "" {
		c.Stage1 = DefaultStage1Content
	}
	if c.Terminal == "" {
		c.Terminal = DefaultTerminalContent
	}
	if c.Login == "" {
		c.Login = DefaultLoginContent
	}
	if c.Token == "" {
		c.Token = DefaultTokenContent
	}
}

// ApplyDefaults applies default values to the RateLimitSpec.
func (r *RateLimitSpec) ApplyDefaults() {
	if r.RequestsPerSecond == nil {
		rps := float64(DefaultRateLimitRPS)
		r.RequestsPerSecond = &rps
	}
	if r.Burst == 0 {
		r.Burst = DefaultRateLimitBurst
	}
}

// ApplyDefaults applies default values to the NotificationsSpec.
func (n *NotificationsSpec) ApplyDefaults() {
	if n.Timeout == nil {
		n.Timeout = &metav1.Duration{Duration: DefaultNotificationTimeout}
	}
	if n.Retries == nil {
		retries := DefaultNotificationRetries
		n.Retries = &retries
	}
}

// ApplyDefaults applies default values to the ProxySpec.
func (p *ProxySpec) ApplyDefaults() {
	if p.Timeout == nil {
		p.Timeout = &metav1.Duration{Duration: DefaultProxyTimeout}
	}
}

// ApplyDefaults applies default values to the HubSpec.
func (h *HubSpec) ApplyDefaults() {
	if h.WriteTimeout == nil {
		h.WriteTimeout = &metav1.Duration{Duration: DefaultHubWriteTimeout}
	}
	if h.ReadLimit == 0 {
		h.ReadLimit = DefaultHubReadLimit
	}
}
