package main

import "time"

// Config holds server configuration loaded from environment variables.
// Clients maps registered client IDs to their secrets ("id:secret,id2:secret2").
// ScopeSeparators is an ordered string of candidate separator characters for
// inbound scope strings, tried left to right. The UPSTREAM_* settings are
// optional; when unset, approved device codes are redeemed with self-minted
// tokens instead of tokens from an upstream authorization server.
type Config struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	RedisURL        string        `envconfig:"REDIS_URL" required:"true"`
	BaseURL         string        `envconfig:"BASE_URL" required:"true"`
	CodeExpiry      time.Duration `envconfig:"CODE_EXPIRY" default:"15m"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	TokenTTL        time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	ScopeSeparators string        `envconfig:"SCOPE_SEPARATORS" default:" ,"`

	Clients map[string]string `envconfig:"CLIENTS" required:"true"`

	UpstreamAuthURL      string `envconfig:"UPSTREAM_AUTH_URL"`
	UpstreamTokenURL     string `envconfig:"UPSTREAM_TOKEN_URL"`
	UpstreamClientID     string `envconfig:"UPSTREAM_CLIENT_ID"`
	UpstreamClientSecret string `envconfig:"UPSTREAM_CLIENT_SECRET"`

	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"20s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
}
