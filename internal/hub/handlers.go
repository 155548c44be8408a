// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/gate"
	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/store"
)

// handlePing echoes the server time. The round trip is only reported
// when the client sent a usable time.
func (h *Hub) handlePing(ctx context.Context, p Peer, m message) {
	now := h.cfg.Now().UnixMilli()
	reply := map[string]int64{"time": now}
	if sent, ok := m.number("time"); ok {
		reply["ping"] = now - int64(sent)
	}
	h.reply(ctx, p, reply)
}

func (h *Hub) handleWhois(ctx context.Context, _ Peer, m message) {
	name := m.text(KindWhois)
	if !m.has(KindWhois) {
		name = m.text(KindWhoisLegacy)
	}
	h.cfg.Notifier.Notify(ctx, fmt.Sprintf("title:`Identity poll`\nname:`%s`\ntime:`%s`",
		name, h.timestamp()))
}

// handleChat is reserved.
func (h *Hub) handleChat(context.Context, Peer, message) {}

func (h *Hub) handleRelay(ctx context.Context, p Peer, m message) {
	target := h.Preferred()
	if target == nil {
		return
	}
	if err := h.send(ctx, target, m.raw); err != nil {
		log.FromContext(ctx).Error(err, "relay send failed", "from", p.ID(), "to", target.ID())
	}
}

func (h *Hub) handleServerCheck(ctx context.Context, p Peer, m message) {
	log.FromContext(ctx).Info("server check", "id", p.ID(), "payload", m.text(KindServerCheck))
}

// handleCaptcha records the submission and advances stage 2 for the
// connection identity. A missing stage 1 wins over the secret check.
func (h *Hub) handleCaptcha(ctx context.Context, p Peer, m message) {
	l := log.FromContext(ctx)
	secret := m.text(KindCaptcha)
	correct := h.cfg.CaptchaSecret != "" && secret == h.cfg.CaptchaSecret

	ip := identity.ClientIP(p.Header(), p.RemoteAddr())
	if h.cfg.Stores != nil {
		if _, err := h.cfg.Stores.Visitors.RecordAttempt(store.AttemptCaptcha, ip, secret, correct); err != nil {
			l.Error(err, "failed to record captcha attempt", "ip", ip)
		}
	}

	result := gate.VerifyWrong
	id, err := identity.Resolve(p.Header(), p.RemoteAddr())
	if err != nil {
		l.Error(err, "captcha identity resolution failed", "id", p.ID())
	} else {
		result = h.cfg.Gate.TryMarkStage2(id, correct)
	}
	l.V(1).Info("captcha verified", "identity", id, "result", result)

	h.reply(ctx, p, map[string]bool{string(result): true})
}

func (h *Hub) handleToken(ctx context.Context, p Peer, m message) {
	l := log.FromContext(ctx)
	ip := identity.ClientIP(p.Header(), p.RemoteAddr())
	name := m.text("name")
	key := name
	if key == "" {
		key = ip
	}

	rec := store.TokenRecord{
		Token:     m.text(KindToken),
		Name:      name,
		IP:        ip,
		Timestamp: h.timestamp(),
	}
	if h.cfg.Stores != nil {
		if err := h.cfg.Stores.Tokens.Upsert(key, rec); err != nil {
			l.Error(err, "failed to store token", "name", key)
		}
	}

	hdr := p.Header()
	important, _ := json.MarshalIndent(map[string]string{
		"user-agent":      hdr.Get("User-Agent"),
		"accept-language": hdr.Get("Accept-Language"),
		"x-forwarded-for": hdr.Get("X-Forwarded-For"),
	}, "", "  ")
	h.cfg.TokenNotifier.Notify(ctx, fmt.Sprintf(
		"🔔 **Token registered**\n**Name**: `%s`\n**IP**: `%s`\n**Token**: `%s`\n**Time**: `%s`\n```json\n%s\n```\n",
		key, ip, rec.Token, rec.Timestamp, important))
}

func (h *Hub) handleGetFiles(ctx context.Context, p Peer, _ message) {
	entries := []store.FileEntry{}
	if h.cfg.Stores != nil {
		list, err := h.cfg.Stores.Manifest.List()
		if err != nil {
			log.FromContext(ctx).Error(err, "failed to read manifest")
		} else {
			entries = list
		}
	}
	h.reply(ctx, p, map[string][]store.FileEntry{
		ManifestReplyKey:       entries,
		ManifestReplyKeyLegacy: entries,
	})
}

func (h *Hub) handleFiles(ctx context.Context, p Peer, m message) {
	l := log.FromContext(ctx)
	items, ok := m.fields[KindFiles].([]any)
	if !ok {
		l.Info("ignoring manifest push without a file list", "id", p.ID())
		return
	}
	incoming := make([]store.FileEntry, 0, len(items))
	for _, it := range items {
		if obj, ok := it.(map[string]any); ok {
			incoming = append(incoming, store.FileEntry(obj))
		}
	}
	if h.cfg.Stores == nil {
		return
	}

	added, total, err := h.cfg.Stores.Manifest.Push(incoming)
	if err != nil {
		l.Error(err, "failed to update manifest")
		return
	}
	l.Info("manifest pushed", "added", added, "total", total)
}

// handleSession is inert.
func (h *Hub) handleSession(context.Context, Peer, message) {}

func (h *Hub) handleLog(ctx context.Context, p Peer, m message) {
	log.FromContext(ctx).Info("client log", "id", p.ID(), "type", m.text("type"), "message", m.text(KindLog))
}

func (h *Hub) handleLocation(ctx context.Context, p Peer, _ message) {
	h.setPreferred(p)
	log.FromContext(ctx).V(1).Info("forwarding target set", "id", p.ID())
}
