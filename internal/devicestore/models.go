// Package devicestore persists device-authorization sessions for the token
// issuer. It owns the session lifecycle from issuance at the authorization
// endpoint through approval or denial to single-use consumption at the token
// endpoint.
package devicestore

import "time"

// Status tracks where a session is in the authorization flow
type Status string

const (
	// StatusPending means the user has not yet acted on the request
	StatusPending Status = "pending"

	// StatusApproved means the user approved the request and a token may
	// be issued
	StatusApproved Status = "approved"

	// StatusDenied means the user declined the request
	StatusDenied Status = "denied"
)

// Session is one in-progress device authorization per RFC 8628 section 3.2
type Session struct {
	DeviceCode string    `json:"device_code"`
	UserCode   string    `json:"user_code"`
	ClientID   string    `json:"client_id"`
	Scope      []string  `json:"scope,omitempty"`
	Status     Status    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastPoll   time.Time `json:"last_poll"`

	// Grant holds the token recorded at approval time when tokens come
	// from an upstream provider; nil when the issuer self-mints
	Grant *Grant `json:"grant,omitempty"`
}

// Expired reports whether the session can no longer be redeemed
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Grant is a token recorded against an approved session
type Grant struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int      `json:"expires_in,omitempty"`
	Scope        []string `json:"scope,omitempty"`
}
