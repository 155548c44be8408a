// Copyright 2025 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/gate"
	"github.com/stagegate/stagegate/internal/hub"
	"github.com/stagegate/stagegate/internal/keys"
	"github.com/stagegate/stagegate/internal/metrics"
	"github.com/stagegate/stagegate/internal/notifier"
	"github.com/stagegate/stagegate/internal/origin"
	"github.com/stagegate/stagegate/internal/proxy"
	"github.com/stagegate/stagegate/internal/store"
	"github.com/stagegate/stagegate/internal/web/config"
)

const (
	// DefaultShutdownTimeout bounds the graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// NewOptions builds the collaborators of the HTTP surface from the
// configuration. It fails when the data directory cannot be prepared.
func NewOptions(ctx context.Context, conf *config.ConfigSpec, secrets config.Secrets) (Options, error) {
	now := time.Now

	stores, err := store.Open(conf.DataDir, now)
	if err != nil {
		return Options{}, err
	}

	notifyOpts := []notifier.Option{
		notifier.WithTimeout(conf.Notifications.Timeout.Duration),
		notifier.WithRetries(*conf.Notifications.Retries),
	}
	if conf.Notifications.Username != "" {
		notifyOpts = append(notifyOpts, notifier.WithUsername(conf.Notifications.Username))
	}
	if conf.Notifications.AvatarURL != "" {
		notifyOpts = append(notifyOpts, notifier.WithAvatarURL(conf.Notifications.AvatarURL))
	}

	fetchOpts := []proxy.Option{proxy.WithTimeout(conf.Proxy.Timeout.Duration)}
	if conf.Proxy.UserAgent != "" {
		fetchOpts = append(fetchOpts, proxy.WithUserAgent(conf.Proxy.UserAgent))
	}

	g := gate.NewMemory()
	tokenNotifier := notifier.New(ctx, secrets.TokenWebhookURL, notifyOpts...)

	h := hub.New(hub.Config{
		Gate:           g,
		Stores:         stores,
		Notifier:       notifier.New(ctx, secrets.WebhookURL, notifyOpts...),
		TokenNotifier:  tokenNotifier,
		CaptchaSecret:  secrets.GatewaySecret,
		WriteTimeout:   conf.Hub.WriteTimeout.Duration,
		ReadLimit:      conf.Hub.ReadLimit,
		OriginPatterns: originPatterns(conf),
		Now:            now,
	})

	return Options{
		Config:        conf,
		Secrets:       secrets,
		Gate:          g,
		StageKeys:     keys.NewRegistry(keys.WithTTL(conf.KeyTTL.Duration)),
		TokenKeys:     keys.NewRegistry(keys.WithTTL(conf.KeyTTL.Duration)),
		Stores:        stores,
		Hub:           h,
		Fetcher:       proxy.New(fetchOpts...),
		TokenNotifier: tokenNotifier,
		Now:           now,
	}, nil
}

// originPatterns returns the hosts of the allow-listed and dashboard
// origins, which may open real-time connections from a browser.
func originPatterns(conf *config.ConfigSpec) []string {
	origins := slices.Clone(conf.AllowedOrigins)
	if conf.DashboardOrigin != "" {
		origins = append(origins, conf.DashboardOrigin)
	}
	return origin.NewPolicy(origins...).Hosts()
}

// StartServer serves the HTTP surface on port until ctx is canceled,
// then closes the live connections and shuts the server down.
func StartServer(ctx context.Context, opts Options, port int, l logr.Logger) error {
	ctx, cancel := context.WithCancel(log.IntoContext(ctx, l))
	defer cancel()
	handler, stopped := NewHandler(ctx, opts, l)

	webServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	webServer.RegisterOnShutdown(func() {
		if opts.Hub != nil {
			opts.Hub.CloseAll("server shutting down")
		}
	})

	l.Info("Starting web server", "port", port)
	err := serve(ctx, webServer, l)
	cancel()
	<-stopped
	return err
}

// StartMetricsServer exposes the Prometheus metrics on addr until ctx
// is canceled.
func StartMetricsServer(ctx context.Context, addr string, l logr.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())

	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	l.Info("Starting metrics server", "addr", addr)
	return serve(ctx, metricsServer, l)
}

// serve runs srv until ctx is canceled or the listener fails.
func serve(ctx context.Context, srv *http.Server, l logr.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}
	l.Info("Shutdown signal received, gracefully stopping server", "addr", srv.Addr)

	ctxShutdown, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		l.Error(err, "Error during graceful shutdown", "addr", srv.Addr)
		return err
	}

	l.Info("Server stopped", "addr", srv.Addr)
	return nil
}
