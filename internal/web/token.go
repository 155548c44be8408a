// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/softfail"
	"github.com/stagegate/stagegate/internal/store"
)

const tokenAlertTitle = "Token retrieval failed"

// LoginHandler serves the dashboard login script to holders of the
// login secret. Every submission from a known visitor is recorded.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	h.dashboard.Echo(w, r)

	secret := r.URL.Query().Get("k")
	correct := secretMatches(secret, h.secrets.LoginSecret)

	ip := identity.ClientIP(r.Header, r.RemoteAddr)
	if h.stores != nil && ip != "" {
		if _, err := h.stores.Visitors.RecordAttempt(store.AttemptLogin, ip, secret, correct); err != nil {
			log.FromContext(r.Context()).Error(err, "failed to record login attempt", "ip", ip)
		}
	}

	if !correct {
		http.Error(w, "Incorrect secret. Please try again.", http.StatusUnauthorized)
		return
	}

	content, err := readContent(h.conf.Content.Login)
	if err != nil {
		if errors.Is(err, ErrContentMissing) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.FromContext(r.Context()).Error(err, "failed to read login content")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	softfail.WriteScript(w, content)
}

// GetTokenHandler checks the client country and the token secret and
// answers with a loader that redeems a fresh key for the token script.
func (h *Handler) GetTokenHandler(w http.ResponseWriter, r *http.Request) {
	h.origins.Echo(w, r)

	if r.Header.Get(h.conf.CountryHeader) != h.conf.AllowedCountry {
		softfail.Alert(w, tokenAlertTitle, fmt.Sprintf("Only available in region %s", h.conf.AllowedCountry))
		return
	}
	if !secretMatches(r.URL.Query().Get("k"), h.secrets.TokenSecret) {
		softfail.Alert(w, tokenAlertTitle, "Wrong secret")
		return
	}

	key, err := h.tokenKeys.Issue()
	if err != nil {
		log.FromContext(r.Context()).Error(err, "failed to issue token key")
		softfail.Alert(w, tokenAlertTitle, "Internal error")
		return
	}
	softfail.WriteScript(w, loaderScript(h.contentURL("/tokencontent", key), "Token"))
}

// TokenContentHandler redeems a token-flow key for the token script.
func (h *Handler) TokenContentHandler(w http.ResponseWriter, r *http.Request) {
	if !h.tokenKeys.Redeem(r.URL.Query().Get("k")) {
		http.Error(w, "Unauthorized", http.StatusForbidden)
		return
	}
	h.origins.Echo(w, r)

	content, err := readContent(h.conf.Content.Token)
	if err != nil {
		if !errors.Is(err, ErrContentMissing) {
			log.FromContext(r.Context()).Error(err, "failed to read token content")
		}
		softfail.Alert(w, tokenAlertTitle, "Function removed")
		return
	}
	softfail.WriteScript(w, content)
}

// WhoisHandler announces a client check-in on the token webhook.
func (h *Handler) WhoisHandler(w http.ResponseWriter, r *http.Request) {
	if ip := identity.ClientIP(r.Header, r.RemoteAddr); ip != "" {
		h.notifier.Notify(r.Context(), fmt.Sprintf("🔔 **Client check-in**\n**Time**: `%s`\n",
			h.now().UTC().Format(time.RFC3339)))
	}
	w.WriteHeader(http.StatusNoContent)
}

// VisitorCountHandler counts the visit and returns the statistics.
func (h *Handler) VisitorCountHandler(w http.ResponseWriter, r *http.Request) {
	h.dashboard.Echo(w, r)

	if h.stores == nil {
		writeJSONError(w, "Failed to update counter", http.StatusInternalServerError)
		return
	}
	ip := identity.ClientIP(r.Header, r.RemoteAddr)
	stats, err := h.stores.Visitors.Visit(ip, lowerHeaders(r.Header))
	if err != nil {
		log.FromContext(r.Context()).Error(err, "failed to update visitor counter", "ip", ip)
		writeJSONError(w, "Failed to update counter", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
