// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package origin

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
)

const (
	headerOrigin       = "Origin"
	headerAllowOrigin  = "Access-Control-Allow-Origin"
	headerAllowMethods = "Access-Control-Allow-Methods"
	headerAllowHeaders = "Access-Control-Allow-Headers"
)

// ErrPolicyDenied is returned when the request origin is not allow-listed.
var ErrPolicyDenied = errors.New("origin not allowed")

// Policy admits requests whose Origin header exactly matches one
// of the allow-listed origins.
type Policy struct {
	allowed []string
	methods string
}

// NewPolicy returns a policy for the given origins. Matching is exact:
// scheme, host and port must all be equal and no trailing slash is
// tolerated.
func NewPolicy(origins ...string) *Policy {
	return &Policy{
		allowed: slices.Clone(origins),
		methods: http.MethodGet,
	}
}

// Allowed reports whether origin is allow-listed.
func (p *Policy) Allowed(origin string) bool {
	return origin != "" && slices.Contains(p.allowed, origin)
}

// Admit checks the request origin. On pass it echoes the origin back
// as the allowed origin together with the allowed methods. On reject
// it returns ErrPolicyDenied and leaves the response untouched.
func (p *Policy) Admit(w http.ResponseWriter, r *http.Request) error {
	o := r.Header.Get(headerOrigin)
	if !p.Allowed(o) {
		return ErrPolicyDenied
	}
	p.setHeaders(w, o)
	return nil
}

// Echo sets the CORS headers when the request origin is allow-listed
// and does nothing otherwise. It never rejects.
func (p *Policy) Echo(w http.ResponseWriter, r *http.Request) bool {
	o := r.Header.Get(headerOrigin)
	if !p.Allowed(o) {
		return false
	}
	p.setHeaders(w, o)
	return true
}

// Preflight answers a CORS preflight request for allow-listed origins.
func (p *Policy) Preflight(w http.ResponseWriter, r *http.Request) {
	o := r.Header.Get(headerOrigin)
	if p.Allowed(o) {
		w.Header().Set(headerAllowOrigin, o)
		w.Header().Set(headerAllowMethods, http.MethodGet+", "+http.MethodOptions)
		w.Header().Set(headerAllowHeaders, "Content-Type")
	}
	w.WriteHeader(http.StatusOK)
}

// Hosts returns the host[:port] part of every allow-listed origin,
// in the form expected by WebSocket origin patterns.
func (p *Policy) Hosts() []string {
	var hosts []string
	for _, o := range p.allowed {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

func (p *Policy) setHeaders(w http.ResponseWriter, o string) {
	w.Header().Set(headerAllowOrigin, o)
	w.Header().Set(headerAllowMethods, p.methods)
	w.Header().Add("Vary", headerOrigin)
}
