// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"errors"

	"github.com/stagegate/stagegate/internal/gate"
	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/keys"
	"github.com/stagegate/stagegate/internal/origin"
	"github.com/stagegate/stagegate/internal/softfail"
)

var (
	// ErrSecretMismatch is returned when a shared secret query
	// parameter does not match the configured value.
	ErrSecretMismatch = errors.New("secret mismatch")

	// ErrContentMissing is returned when a script file is absent.
	ErrContentMissing = errors.New("content missing")

	// ErrRateLimited is returned when a client exceeds its request budget.
	ErrRateLimited = errors.New("rate limited")
)

// presentError returns the message shown to the client for err. It
// avoids exposing internal error details.
func presentError(err error) softfail.ErrorPresentation {
	var msg string
	switch {
	case errors.Is(err, origin.ErrPolicyDenied):
		msg = "Origin not allowed"
	case errors.Is(err, gate.ErrOrderViolation):
		msg = "Verify wrong"
	case errors.Is(err, ErrSecretMismatch), errors.Is(err, keys.ErrKeyInvalid):
		msg = "Unauthorized"
	case errors.Is(err, identity.ErrUnresolvable):
		msg = "Client identity unavailable"
	case errors.Is(err, ErrContentMissing):
		msg = "Content not found"
	case errors.Is(err, ErrRateLimited):
		msg = "Too many requests"
	default:
		msg = "Internal error"
	}
	return softfail.ErrorPresentation{Message: msg}
}
