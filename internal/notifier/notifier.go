// Copyright 2025 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DefaultUsername is the display name of the webhook sender.
	DefaultUsername = "bot"

	// DefaultTimeout bounds a single notification including retries.
	DefaultTimeout = 10 * time.Second

	// DisabledEnv turns every notifier into a no-op when set.
	DisabledEnv = "NOTIFICATIONS_DISABLED"
)

// Notifier delivers short text notifications to an external channel.
type Notifier interface {
	// Notify sends content in the background. Delivery failures
	// are logged and never reported to the caller.
	Notify(ctx context.Context, content string)
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Content   string `json:"content"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type options struct {
	username  string
	avatarURL string
	timeout   time.Duration
	retries   int
	retryWait time.Duration
}

type Option func(*options)

func WithUsername(name string) Option {
	return func(o *options) {
		if name != "" {
			o.username = name
		}
	}
}

func WithAvatarURL(u string) Option {
	return func(o *options) {
		o.avatarURL = u
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithRetryWait sets the minimum wait between retries.
func WithRetryWait(d time.Duration) Option {
	return func(o *options) {
		o.retryWait = d
	}
}

// New returns a notifier posting to the webhook at url. An empty url,
// or the DisabledEnv variable being set, yields a notifier that drops
// every message.
func New(ctx context.Context, url string, opts ...Option) Notifier {
	l := log.FromContext(ctx)

	if url == "" {
		l.V(1).Info("webhook URL not set, notifications disabled")
		return nilNotifier{}
	}
	if os.Getenv(DisabledEnv) != "" {
		l.Info("notifications disabled by environment", "env", DisabledEnv)
		return nilNotifier{}
	}

	return NewWebhook(url, opts...)
}

// Webhook posts notifications as JSON to a chat webhook endpoint.
type Webhook struct {
	url    string
	opts   options
	client *retryablehttp.Client
}

// NewWebhook returns a Webhook for url.
func NewWebhook(url string, opts ...Option) *Webhook {
	o := options{
		username:  DefaultUsername,
		timeout:   DefaultTimeout,
		retries:   2,
		retryWait: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = o.retries
	client.RetryWaitMin = o.retryWait
	client.RetryWaitMax = 4 * o.retryWait
	client.Logger = nil

	return &Webhook{url: url, opts: o, client: client}
}

// Notify implements Notifier. The send outlives the request that
// triggered it and is bounded by the configured timeout.
func (w *Webhook) Notify(ctx context.Context, content string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := w.Send(ctx, content); err != nil {
			log.FromContext(ctx).Error(err, "failed to send webhook notification")
		}
	}()
}

// Send posts content and waits for the webhook to answer.
func (w *Webhook) Send(ctx context.Context, content string) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.timeout)
	defer cancel()

	body, err := json.Marshal(Payload{
		Content:   content,
		Username:  w.opts.username,
		AvatarURL: w.opts.avatarURL,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}

type nilNotifier struct{}

// Notify implements Notifier.
func (nilNotifier) Notify(context.Context, string) {}
