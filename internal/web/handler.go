// Copyright 2025 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/gate"
	"github.com/stagegate/stagegate/internal/hub"
	"github.com/stagegate/stagegate/internal/keys"
	"github.com/stagegate/stagegate/internal/notifier"
	"github.com/stagegate/stagegate/internal/origin"
	"github.com/stagegate/stagegate/internal/proxy"
	"github.com/stagegate/stagegate/internal/softfail"
	"github.com/stagegate/stagegate/internal/store"
	"github.com/stagegate/stagegate/internal/web/config"
)

// Options holds the collaborators of the HTTP surface.
type Options struct {
	Config  *config.ConfigSpec
	Secrets config.Secrets

	Gate gate.Gate
	// StageKeys holds the keys of the staged flow, TokenKeys those of
	// the token flow. Keys issued by one are never valid in the other.
	StageKeys *keys.Registry
	TokenKeys *keys.Registry

	Stores        *store.Set
	Hub           *hub.Hub
	Fetcher       *proxy.Fetcher
	TokenNotifier notifier.Notifier
	Now           func() time.Time
}

// Handler provides the HTTP handlers of the gate, the token flow,
// the dashboard endpoints and the real-time channel.
type Handler struct {
	conf      *config.ConfigSpec
	secrets   config.Secrets
	gate      gate.Gate
	stageKeys *keys.Registry
	tokenKeys *keys.Registry
	stores    *store.Set
	hub       *hub.Hub
	fetcher   *proxy.Fetcher
	notifier  notifier.Notifier
	now       func() time.Time

	origins   *origin.Policy
	dashboard *origin.Policy
	limiter   *ipRateLimiter
}

// NewHandler creates the handler for the web server. It also starts
// the rate limiter cleanup goroutine, which runs until the context is
// canceled. The returned channel is closed when it has stopped.
func NewHandler(ctx context.Context, opts Options, l logr.Logger) (http.Handler, <-chan struct{}) {
	h := newHandler(opts)

	mux := http.NewServeMux()

	// Staged gate.
	mux.HandleFunc("GET /stage1content", h.rateLimit(true, h.Stage1ContentHandler))
	mux.HandleFunc("GET /stage2-gateway", h.rateLimit(true, h.Stage2GatewayHandler))
	mux.HandleFunc("GET /terminalcontent", h.rateLimit(true, h.TerminalContentHandler))

	// Dashboard and token flow.
	mux.HandleFunc("GET /login", h.rateLimit(false, h.LoginHandler))
	mux.HandleFunc("OPTIONS /login", h.dashboard.Preflight)
	mux.HandleFunc("GET /gettoken", h.rateLimit(true, h.GetTokenHandler))
	mux.HandleFunc("GET /tokencontent", h.rateLimit(false, h.TokenContentHandler))
	mux.HandleFunc("GET /whois", h.rateLimit(false, h.WhoisHandler))
	mux.HandleFunc("GET /proxyfetch", h.rateLimit(false, h.ProxyFetchHandler))
	mux.HandleFunc("GET /api/visitor-count", h.rateLimit(false, h.VisitorCountHandler))
	mux.HandleFunc("OPTIONS /api/visitor-count", h.dashboard.Preflight)

	// Real-time channel.
	mux.HandleFunc("GET /{$}", h.RootHandler)
	mux.Handle("GET /ws", h.hub)

	mux.HandleFunc("GET /healthz", h.HealthHandler)

	handler := LoggingMiddleware(l, SecurityHeadersMiddleware(
		GzipMiddleware(CacheControlMiddleware(mux))))

	// The limiter cleanup is the only goroutine.
	if h.limiter != nil {
		return handler, h.limiter.startCleanup(log.IntoContext(ctx, l.WithValues("background", true)))
	}
	stopped := make(chan struct{})
	close(stopped)
	return handler, stopped
}

func newHandler(opts Options) *Handler {
	conf := opts.Config
	if conf == nil {
		conf = &config.ConfigSpec{}
		conf.ApplyDefaults()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	h := &Handler{
		conf:      conf,
		secrets:   opts.Secrets,
		gate:      opts.Gate,
		stageKeys: opts.StageKeys,
		tokenKeys: opts.TokenKeys,
		stores:    opts.Stores,
		hub:       opts.Hub,
		fetcher:   opts.Fetcher,
		notifier:  opts.TokenNotifier,
		now:       now,
		origins:   origin.NewPolicy(conf.AllowedOrigins...),
	}
	if conf.DashboardOrigin != "" {
		h.dashboard = origin.NewPolicy(conf.DashboardOrigin)
	} else {
		h.dashboard = origin.NewPolicy()
	}
	if h.gate == nil {
		h.gate = gate.NewMemory()
	}
	if h.stageKeys == nil {
		h.stageKeys = keys.NewRegistry(keys.WithTTL(conf.KeyTTL.Duration), keys.WithClock(now))
	}
	if h.tokenKeys == nil {
		h.tokenKeys = keys.NewRegistry(keys.WithTTL(conf.KeyTTL.Duration), keys.WithClock(now))
	}
	if h.fetcher == nil {
		h.fetcher = proxy.New()
	}
	if h.notifier == nil {
		h.notifier = notifier.New(context.Background(), "")
	}
	if h.hub == nil {
		h.hub = hub.New(hub.Config{Gate: h.gate, Stores: h.stores, Now: now})
	}
	if conf.RateLimit.Enabled() {
		h.limiter = newIPRateLimiter(rate.Limit(*conf.RateLimit.RequestsPerSecond), conf.RateLimit.Burst, now)
	}
	return h
}

// RootHandler answers WebSocket upgrades on the root path and a
// plain-text banner otherwise.
func (h *Handler) RootHandler(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		h.hub.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintln(w, "stagegate")
}

// HealthHandler reports that the process is serving.
func (h *Handler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// softFail logs err and renders its presentation as a script.
func (h *Handler) softFail(w http.ResponseWriter, r *http.Request, err error) {
	log.FromContext(r.Context()).V(1).Info("request refused", "path", r.URL.Path, "reason", err.Error())
	softfail.Write(w, presentError(err))
}

// readContent returns the script stored at path.
func readContent(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrContentMissing, path)
		}
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return string(b), nil
}

// lowerHeaders lower-cases header names and joins repeated values.
func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
