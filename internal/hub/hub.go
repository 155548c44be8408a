// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

// Package hub keeps the registry of live real-time connections and
// routes their inbound messages by kind.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/gate"
	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/metrics"
	"github.com/stagegate/stagegate/internal/notifier"
	"github.com/stagegate/stagegate/internal/store"
)

const (
	// DefaultWriteTimeout bounds a single send to one peer.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultReadLimit is the largest accepted inbound message.
	DefaultReadLimit int64 = 1 << 20
)

// Peer is one live connection as seen by the Hub.
type Peer interface {
	// ID returns the unique connection id.
	ID() string
	// Header returns the request headers captured at upgrade time.
	Header() http.Header
	// RemoteAddr returns the transport peer address.
	RemoteAddr() string
	// Send writes one text message.
	Send(ctx context.Context, msg []byte) error
	// Close terminates the connection.
	Close(reason string) error
}

// Config holds the collaborators of a Hub.
type Config struct {
	Gate          gate.Gate
	Stores        *store.Set
	Notifier      notifier.Notifier
	TokenNotifier notifier.Notifier
	CaptchaSecret string
	WriteTimeout  time.Duration
	ReadLimit     int64
	// OriginPatterns lists the hosts allowed to open connections
	// from a browser. Same-host and Origin-less requests are accepted.
	OriginPatterns []string
	Now            func() time.Time
}

// Hub is the in-process registry of live connections.
type Hub struct {
	cfg Config

	mu        sync.RWMutex
	peers     map[string]Peer
	preferred Peer
}

// New returns an empty Hub.
func New(cfg Config) *Hub {
	if cfg.Gate == nil {
		cfg.Gate = gate.NewMemory()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.New(context.Background(), "")
	}
	if cfg.TokenNotifier == nil {
		cfg.TokenNotifier = notifier.New(context.Background(), "")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		cfg:   cfg,
		peers: make(map[string]Peer),
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Preferred returns the current forwarding target, or nil.
func (h *Hub) Preferred() Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.preferred
}

func (h *Hub) setPreferred(p Peer) {
	h.mu.Lock()
	h.preferred = p
	h.mu.Unlock()
}

// Register adds p to the registry and records its metadata in the
// client store.
func (h *Hub) Register(ctx context.Context, p Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	n := len(h.peers)
	h.mu.Unlock()
	metrics.SetConnections(n)

	ip := identity.ClientIP(p.Header(), p.RemoteAddr())
	log.FromContext(ctx).V(1).Info("connection opened", "id", p.ID(), "ip", ip, "connections", n)

	if h.cfg.Stores == nil {
		return
	}
	key := identity.Prefix(ip)
	if key == "" {
		key = ip
	}
	rec := store.ClientRecord{
		IP:          ip,
		Headers:     flattenHeaders(p.Header()),
		ConnectedAt: h.timestamp(),
	}
	if err := h.cfg.Stores.Clients.Upsert(key, rec); err != nil {
		log.FromContext(ctx).Error(err, "failed to record client", "id", p.ID())
	}
}

// Unregister removes p, clears it as forwarding target and tells the
// remaining connections how many are left.
func (h *Hub) Unregister(ctx context.Context, p Peer) {
	h.mu.Lock()
	if _, ok := h.peers[p.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p.ID())
	if h.preferred != nil && h.preferred.ID() == p.ID() {
		h.preferred = nil
	}
	n := len(h.peers)
	h.mu.Unlock()
	metrics.SetConnections(n)

	log.FromContext(ctx).V(1).Info("connection closed", "id", p.ID(), "connections", n)

	msg, _ := json.Marshal(map[string]int{"user": n})
	h.Broadcast(ctx, msg)
}

// Broadcast sends msg to every registered connection. The registry
// is snapshotted first so that slow peers never hold the lock; a
// failed send is logged and does not stop the broadcast.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) {
	h.mu.RLock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := h.send(ctx, p, msg); err != nil {
			log.FromContext(ctx).Error(err, "broadcast send failed", "id", p.ID())
		}
	}
}

// CloseAll closes every registered connection.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		_ = p.Close(reason)
	}
}

func (h *Hub) send(ctx context.Context, p Peer, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return p.Send(ctx, msg)
}

func (h *Hub) reply(ctx context.Context, p Peer, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.FromContext(ctx).Error(err, "failed to encode reply")
		return
	}
	if err := h.send(ctx, p, msg); err != nil {
		log.FromContext(ctx).Error(err, "reply send failed", "id", p.ID())
	}
}

func (h *Hub) timestamp() string {
	return h.cfg.Now().UTC().Format(time.RFC3339)
}

// flattenHeaders lower-cases header names and joins repeated values.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
