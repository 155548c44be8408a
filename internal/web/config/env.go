// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"fmt"
	"strconv"
)

// Environment variables holding the values kept out of the config file.
const (
	EnvGatewaySecret   = "GATEWAY_SECRET"
	EnvLoginSecret     = "LOGIN_SECRET"
	EnvTokenSecret     = "TOKEN_SECRET"
	EnvWebhookURL      = "WEBHOOK_URL"
	EnvTokenWebhookURL = "TOKEN_WEBHOOK_URL"
	EnvPort            = "PORT"
)

// Secrets holds the shared secrets and webhook endpoints.
type Secrets struct {
	// GatewaySecret unlocks the stage 2 gateway and is also the
	// captcha answer checked over the real-time channel.
	GatewaySecret string
	// LoginSecret unlocks the dashboard login script.
	LoginSecret string
	// TokenSecret unlocks the token-retrieval flow.
	TokenSecret string

	WebhookURL      string
	TokenWebhookURL string
}

// SecretsFromEnv reads the Secrets with the given lookup function,
// usually os.Getenv.
func SecretsFromEnv(getenv func(string) string) Secrets {
	return Secrets{
		GatewaySecret:   getenv(EnvGatewaySecret),
		LoginSecret:     getenv(EnvLoginSecret),
		TokenSecret:     getenv(EnvTokenSecret),
		WebhookURL:      getenv(EnvWebhookURL),
		TokenWebhookURL: getenv(EnvTokenWebhookURL),
	}
}

// PortFromEnv returns the listen port from the PORT variable, or
// fallback when the variable is unset.
func PortFromEnv(getenv func(string) string, fallback int) (int, error) {
	v := getenv(EnvPort)
	if v == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid %s '%s'", EnvPort, v)
	}
	return port, nil
}
