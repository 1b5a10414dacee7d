// Package devicegrant implements the device_code grant exchange step of an
// OAuth 2.0 authorization server token endpoint per RFC 8628 section 3.4
package devicegrant

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Classification sentinels for issuer failures. Issuers report why an
// exchange cannot complete by returning (or wrapping) one of these values;
// the handler matches them with errors.Is. Any other error is treated as
// unclassified and forwarded to the configured ErrorHandler unmodified.
var (
	// ErrUnknownCode indicates the device code was not found or is no
	// longer redeemable
	ErrUnknownCode = errors.New("device code not found")

	// ErrAuthorizationPending indicates the user has not yet completed
	// the authorization step per RFC 8628 section 3.5
	ErrAuthorizationPending = errors.New("authorization pending")

	// ErrAuthorizationDeclined indicates the user refused the
	// authorization request
	ErrAuthorizationDeclined = errors.New("authorization declined")
)

// Protocol error codes returned to the polling client
const (
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeInvalidGrant          = "invalid_grant"
	ErrorCodeAuthorizationPending  = "authorization_pending"
	ErrorCodeAuthorizationRejected = "authorization_rejected"
)

// TokenError is a protocol-level exchange failure written to the client as
// an RFC 6749 section 5.2 error body.
type TokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface
func (e *TokenError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// NewTokenError creates a protocol error with the given code and description
func NewTokenError(code, description string) *TokenError {
	return &TokenError{Code: code, Description: strings.TrimSpace(description)}
}

// classify maps an issuer failure to its protocol error, or returns nil for
// errors the handler must not reinterpret.
func classify(err error) *TokenError {
	switch {
	case errors.Is(err, ErrUnknownCode):
		return NewTokenError(ErrorCodeInvalidGrant, "invalid device code")
	case errors.Is(err, ErrAuthorizationPending):
		return NewTokenError(ErrorCodeAuthorizationPending, "authorization pending")
	case errors.Is(err, ErrAuthorizationDeclined):
		return NewTokenError(ErrorCodeAuthorizationRejected, "authorization declined")
	default:
		return nil
	}
}

// writeTokenError sends a protocol error response. Headers follow RFC 8628
// section 3.5: JSON body, caching disabled.
func writeTokenError(w http.ResponseWriter, terr *TokenError) {
	setResponseHeaders(w)
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(terr); err != nil {
		// Body is already partially committed; nothing more to do
		return
	}
}
