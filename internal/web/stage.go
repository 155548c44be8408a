// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stagegate/stagegate/internal/gate"
	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/keys"
	"github.com/stagegate/stagegate/internal/softfail"
)

// Stage1ContentHandler serves the stage 1 script and opens the
// client's checklist.
func (h *Handler) Stage1ContentHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.origins.Admit(w, r); err != nil {
		h.softFail(w, r, err)
		return
	}
	content, err := readContent(h.conf.Content.Stage1)
	if err != nil {
		h.softFail(w, r, err)
		return
	}
	id, err := identity.Resolve(r.Header, r.RemoteAddr)
	if err != nil {
		h.softFail(w, r, err)
		return
	}

	h.gate.MarkStage1(id)
	softfail.WriteScript(w, content)
}

// Stage2GatewayHandler checks the gateway secret, marks stage 3 and
// answers with a loader that redeems a fresh key for the terminal
// script.
func (h *Handler) Stage2GatewayHandler(w http.ResponseWriter, r *http.Request) {
	if !secretMatches(r.URL.Query().Get("k"), h.secrets.GatewaySecret) {
		h.softFail(w, r, ErrSecretMismatch)
		return
	}
	if err := h.origins.Admit(w, r); err != nil {
		h.softFail(w, r, err)
		return
	}
	id, err := identity.Resolve(r.Header, r.RemoteAddr)
	if err != nil {
		h.softFail(w, r, err)
		return
	}
	if !h.gate.TryMarkStage3(id) {
		h.softFail(w, r, gate.ErrOrderViolation)
		return
	}

	key, err := h.stageKeys.Issue()
	if err != nil {
		h.softFail(w, r, err)
		return
	}
	softfail.WriteScript(w, loaderScript(h.contentURL("/terminalcontent", key), "Terminal"))
}

// TerminalContentHandler redeems the one-time key, releases the
// terminal script and resets the client's checklist. The key is spent
// even when a later check fails.
func (h *Handler) TerminalContentHandler(w http.ResponseWriter, r *http.Request) {
	if !h.stageKeys.Redeem(r.URL.Query().Get("k")) {
		h.softFail(w, r, keys.ErrKeyInvalid)
		return
	}
	if err := h.origins.Admit(w, r); err != nil {
		h.softFail(w, r, err)
		return
	}
	content, err := readContent(h.conf.Content.Terminal)
	if err != nil {
		h.softFail(w, r, err)
		return
	}
	id, err := identity.Resolve(r.Header, r.RemoteAddr)
	if err != nil {
		h.softFail(w, r, err)
		return
	}
	if !h.gate.Consume(id) {
		h.softFail(w, r, gate.ErrOrderViolation)
		return
	}

	softfail.WriteScript(w, content)
}

// contentURL returns the public URL of path carrying key.
func (h *Handler) contentURL(path, key string) string {
	return fmt.Sprintf("%s%s?k=%s", strings.TrimSuffix(h.conf.PublicURL, "/"), path, url.QueryEscape(key))
}

// secretMatches compares a submitted secret in constant time. An
// unset secret never matches.
func secretMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
