// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package identity

import (
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	headerEdgeClientIP = "Fastly-Client-IP"
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// ErrUnresolvable is returned when no IPv4 dotted-quad can be
// derived from the request metadata.
var ErrUnresolvable = errors.New("client identity unresolvable")

// ClientIdentity is the coarse gate key made of the first three
// octets of the client IPv4 address, e.g. "203.0.113". Clients that
// share a /24 or a proxy egress share an identity.
type ClientIdentity string

// String returns the identity as a plain string.
func (id ClientIdentity) String() string {
	return string(id)
}

// ClientIP returns the best-effort client address for a request.
// The edge-supplied client IP header wins; otherwise the first public
// entry of X-Forwarded-For is used, then its first entry, then
// X-Real-IP and finally the host part of the peer address.
func ClientIP(h http.Header, remoteAddr string) string {
	if ip := strings.TrimSpace(h.Get(headerEdgeClientIP)); ip != "" {
		return ip
	}

	if xff := h.Get(headerForwardedFor); xff != "" {
		var ips []string
		for _, part := range strings.Split(xff, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				ips = append(ips, ip)
			}
		}
		for _, ip := range ips {
			if !isInternal(ip) {
				return ip
			}
		}
		if len(ips) > 0 {
			return ips[0]
		}
	}

	if ip := strings.TrimSpace(h.Get(headerRealIP)); ip != "" {
		return ip
	}

	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// Resolve derives the ClientIdentity for a request.
func Resolve(h http.Header, remoteAddr string) (ClientIdentity, error) {
	prefix := Prefix(ClientIP(h, remoteAddr))
	if prefix == "" {
		return "", ErrUnresolvable
	}
	return ClientIdentity(prefix), nil
}

// Prefix truncates an IPv4 address to its first three dot-separated
// components. IPv4-mapped IPv6 addresses are unmapped first. It
// returns an empty string when the input is not a dotted-quad.
func Prefix(ip string) string {
	ip = strings.TrimSpace(ip)
	if addr, err := netip.ParseAddr(ip); err == nil {
		addr = addr.Unmap()
		if !addr.Is4() {
			return ""
		}
		ip = addr.String()
	}
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ""
	}
	for _, p := range parts[:3] {
		if p == "" {
			return ""
		}
	}
	return strings.Join(parts[:3], ".")
}

// isInternal reports whether the address is private or loopback.
// Unparseable entries are treated as public so that the caller
// keeps the operator-provided value.
func isInternal(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback()
}
