// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"errors"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/proxy"
)

// ProxyFetchHandler fetches the page named by the url query parameter
// and relays it with the framing restrictions removed.
func (h *Handler) ProxyFetchHandler(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeJSONError(w, "Missing URL parameter", http.StatusBadRequest)
		return
	}

	resp, err := h.fetcher.Fetch(r.Context(), target)
	if err != nil {
		if errors.Is(err, proxy.ErrInvalidURL) {
			writeJSONError(w, "Invalid URL parameter", http.StatusBadRequest)
			return
		}
		log.FromContext(r.Context()).Error(err, "proxy fetch failed", "url", target)
		writeJSONError(w, "Failed to fetch the target URL", http.StatusBadGateway)
		return
	}

	if err := resp.Relay(w); err != nil {
		log.FromContext(r.Context()).Error(err, "failed to relay proxied response", "url", target)
	}
}
