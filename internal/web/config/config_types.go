// Copyright 2025 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// ConfigKind is the kind of the stagegate configuration API.
	ConfigKind = "Config"
)

// GroupVersion is the API group and version of the configuration file.
var GroupVersion = schema.GroupVersion{Group: "web.stagegate.io", Version: "v1"}

// Config is the stagegate server configuration.
type Config struct {
	metav1.TypeMeta `json:",inline"`

	// Spec holds the server configuration.
	Spec ConfigSpec `json:"spec"`
}

// Validate validates the Config configuration.
func (c Config) Validate() error {
	if c.GroupVersionKind() != GroupVersion.WithKind(ConfigKind) {
		return fmt.Errorf("expected apiVersion '%s' and kind '%s', got '%s' and '%s'",
			GroupVersion.String(), ConfigKind, c.APIVersion, c.Kind)
	}
	return c.Spec.Validate()
}

// ConfigSpec holds the server configuration.
type ConfigSpec struct {
	// Version is set internally when the configuration
	// is loaded and is not part of the API.
	Version string `json:"-"`

	// PublicURL is the externally reachable base URL used to build
	// the redirect-fetch payloads.
	// +optional
	PublicURL string `json:"publicURL"`

	// AllowedOrigins is the exact-match origin allow-list of the
	// gated endpoints and the real-time channel.
	// +optional
	AllowedOrigins []string `json:"allowedOrigins"`

	// DashboardOrigin is the single origin granted CORS on the
	// dashboard endpoints.
	// +optional
	DashboardOrigin string `json:"dashboardOrigin"`

	// AllowedCountry is the country code required by the token flow.
	// +optional
	AllowedCountry string `json:"allowedCountry"`

	// CountryHeader is the edge header carrying the client country code.
	// +optional
	CountryHeader string `json:"countryHeader"`

	// DataDir holds the JSON stores.
	// +optional
	DataDir string `json:"dataDir"`

	// Content holds the paths of the served scripts.
	// +optional
	Content ContentSpec `json:"content"`

	// KeyTTL is the lifetime of one-time keys.
	// +optional
	KeyTTL *metav1.Duration `json:"keyTTL,omitempty"`

	// RateLimit configures the per-client request limiter.
	// +optional
	RateLimit RateLimitSpec `json:"rateLimit"`

	// Notifications configures the outbound webhooks.
	// +optional
	Notifications NotificationsSpec `json:"notifications"`

	// Proxy configures the fetch-and-relay endpoint.
	// +optional
	Proxy ProxySpec `json:"proxy"`

	// Hub configures the real-time connections.
	// +optional
	Hub HubSpec `json:"hub"`
}

// ContentSpec holds the script file locations.
type ContentSpec struct {
	Stage1   string `json:"stage1"`
	Terminal string `json:"terminal"`
	Login    string `json:"login"`
	Token    string `json:"token"`
}

// RateLimitSpec configures a token bucket per client identity.
// A zero RequestsPerSecond disables limiting.
type RateLimitSpec struct {
	RequestsPerSecond *float64 `json:"requestsPerSecond,omitempty"`
	Burst             int      `json:"burst"`
}

// Enabled reports whether requests are limited.
func (r RateLimitSpec) Enabled() bool {
	return r.RequestsPerSecond != nil && *r.RequestsPerSecond > 0
}

// NotificationsSpec configures the webhook sender.
type NotificationsSpec struct {
	Username  string           `json:"username"`
	AvatarURL string           `json:"avatarURL"`
	Timeout   *metav1.Duration `json:"timeout,omitempty"`
	Retries   *int             `json:"retries,omitempty"`
}

// ProxySpec configures the upstream fetcher.
type ProxySpec struct {
	Timeout   *metav1.Duration `json:"timeout,omitempty"`
	UserAgent string           `json:"userAgent"`
}

// HubSpec configures the real-time connections.
type HubSpec struct {
	WriteTimeout *metav1.Duration `json:"writeTimeout,omitempty"`
	ReadLimit    int64            `json:"readLimit"`
}

// Validate validates the ConfigSpec configuration.
func (c ConfigSpec) Validate() error {
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil {
			return fmt.Errorf("invalid publicURL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid publicURL: scheme must be http or https, got '%s'", u.Scheme)
		}
	}

	for i, o := range c.AllowedOrigins {
		if err := validateOrigin(o); err != nil {
			return fmt.Errorf("invalid allowedOrigins[%d]: %w", i, err)
		}
	}
	if c.DashboardOrigin != "" {
		if err := validateOrigin(c.DashboardOrigin); err != nil {
			return fmt.Errorf("invalid dashboardOrigin: %w", err)
		}
	}

	if c.KeyTTL != nil && c.KeyTTL.Duration <= 0 {
		return errors.New("keyTTL must be positive")
	}
	if c.RateLimit.RequestsPerSecond != nil && *c.RateLimit.RequestsPerSecond < 0 {
		return errors.New("rateLimit.requestsPerSecond must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		return errors.New("rateLimit.burst must not be negative")
	}
	if c.Notifications.Retries != nil && *c.Notifications.Retries < 0 {
		return errors.New("notifications.retries must not be negative")
	}
	if c.Hub.ReadLimit < 0 {
		return errors.New("hub.readLimit must not be negative")
	}

	return nil
}

// validateOrigin checks that o is a bare scheme://host[:port] origin.
func validateOrigin(o string) error {
	u, err := url.Parse(o)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("'%s' must be of the form scheme://host[:port]", o)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || strings.HasSuffix(o, "/") {
		return fmt.Errorf("'%s' must not contain a path, query or trailing slash", o)
	}
	return nil
}
