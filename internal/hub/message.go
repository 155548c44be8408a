// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/metrics"
)

// Message kinds in dispatch priority order.
const (
	KindPing        = "ping"
	KindWhois       = "whois"
	KindWhoisLegacy = "whoisgay"
	KindChat        = "msg"
	KindRelay       = "ip"
	KindServerCheck = "sendservercheck"
	KindCaptcha     = "verify_captcha"
	KindToken       = "token"
	KindGetFiles    = "getfiles"
	KindFiles       = "files"
	KindSession     = "sid"
	KindLog         = "log"
	KindLocation    = "location"

	// KindBroadcast labels payloads that matched no route.
	KindBroadcast = "broadcast"
)

// Keys of the manifest reply. Loaders predating the manifest key
// read the legacy one.
const (
	ManifestReplyKey       = "manifest"
	ManifestReplyKeyLegacy = "modfills"
)

// message is a decoded inbound frame. The raw bytes are kept for
// verbatim relay and broadcast.
type message struct {
	raw    []byte
	fields map[string]any
}

func decodeMessage(raw []byte) (message, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if fields == nil {
		return message{}, errors.New("message is not an object")
	}
	return message{raw: raw, fields: fields}, nil
}

// has reports whether the field is present with a truthy value:
// not null, false, zero or the empty string.
func (m message) has(key string) bool {
	switch v := m.fields[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// text returns the field as a string. Non-string values are returned
// in their JSON form.
func (m message) text(key string) string {
	switch v := m.fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// number returns the field as a number. Numeric strings are parsed.
func (m message) number(key string) (float64, bool) {
	switch v := m.fields[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// route binds a message kind to its handler. The first route whose
// match reports true handles the message.
type route struct {
	kind   string
	match  func(h *Hub, m message) bool
	handle func(h *Hub, ctx context.Context, p Peer, m message)
}

func field(key string) func(*Hub, message) bool {
	return func(_ *Hub, m message) bool { return m.has(key) }
}

var routes = []route{
	{kind: KindPing, match: field(KindPing), handle: (*Hub).handlePing},
	{kind: KindWhois, match: field(KindWhois), handle: (*Hub).handleWhois},
	{kind: KindWhoisLegacy, match: field(KindWhoisLegacy), handle: (*Hub).handleWhois},
	{kind: KindChat, match: field(KindChat), handle: (*Hub).handleChat},
	{kind: KindRelay, match: matchRelay, handle: (*Hub).handleRelay},
	{kind: KindServerCheck, match: field(KindServerCheck), handle: (*Hub).handleServerCheck},
	{kind: KindCaptcha, match: field(KindCaptcha), handle: (*Hub).handleCaptcha},
	{kind: KindToken, match: field(KindToken), handle: (*Hub).handleToken},
	{kind: KindGetFiles, match: field(KindGetFiles), handle: (*Hub).handleGetFiles},
	{kind: KindFiles, match: field(KindFiles), handle: (*Hub).handleFiles},
	{kind: KindSession, match: field(KindSession), handle: (*Hub).handleSession},
	{kind: KindLog, match: field(KindLog), handle: (*Hub).handleLog},
	{kind: KindLocation, match: field(KindLocation), handle: (*Hub).handleLocation},
}

// relay requires a forwarding target; without one the message falls
// through to the lower-priority kinds.
func matchRelay(h *Hub, m message) bool {
	return m.has(KindRelay) && h.Preferred() != nil
}

// Dispatch routes one inbound frame from p. Payloads that match no
// route are broadcast verbatim to every connection, the sender
// included. Undecodable payloads are dropped.
func (h *Hub) Dispatch(ctx context.Context, p Peer, raw []byte) {
	m, err := decodeMessage(raw)
	if err != nil {
		log.FromContext(ctx).Error(err, "dropping message", "id", p.ID())
		metrics.RecordMessage("invalid")
		return
	}

	for _, r := range routes {
		if r.match(h, m) {
			metrics.RecordMessage(r.kind)
			r.handle(h, ctx, p, m)
			return
		}
	}

	metrics.RecordMessage(KindBroadcast)
	h.Broadcast(ctx, m.raw)
}
