package devicegrant

import (
	"context"
	"errors"
	"net/http"
)

// Default configuration values
const (
	// DefaultClientProperty is the context property the authenticated
	// client is read from when none is configured
	DefaultClientProperty = "user"
)

// Setup errors reported when the transport has not prepared the request as
// required. They reach the ErrorHandler, never the polling client as a
// protocol error.
var (
	// ErrBodyNotParsed indicates ServeHTTP ran before the request form
	// was parsed
	ErrBodyNotParsed = errors.New("request body not parsed")

	// ErrNoClient indicates no authenticated client was attached at the
	// configured property
	ErrNoClient = errors.New("no authenticated client on request context")
)

// Handler exchanges a device code for an access token per RFC 8628 section
// 3.4. It expects client authentication and form parsing to have already
// happened upstream: the authenticated client must be attached to the
// request context via NewContext and r.PostForm must be populated.
//
// Handler configuration is fixed at construction and shared by all requests;
// there is no per-request mutable state.
type Handler struct {
	issuer         Issuer
	scoped         ScopedIssuer
	clientProperty string
	separators     []string
	errorHandler   func(w http.ResponseWriter, r *http.Request, err error)
}

// Option configures a Handler
type Option func(*Handler)

// WithClientProperty sets the context property the authenticated client is
// read from
func WithClientProperty(name string) Option {
	return func(h *Handler) {
		h.clientProperty = name
	}
}

// WithScopeSeparators sets the candidate scope separators, tried in order
func WithScopeSeparators(separators ...string) Option {
	return func(h *Handler) {
		h.separators = separators
	}
}

// WithErrorHandler sets the function that receives setup errors and
// unclassified issuer errors. The default writes a bare server_error
// response.
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) Option {
	return func(h *Handler) {
		h.errorHandler = fn
	}
}

// New creates a Handler for an issuer that does not receive the requested
// scope
func New(issuer Issuer, opts ...Option) *Handler {
	return newHandler(issuer, nil, opts)
}

// NewScoped creates a Handler for an issuer that receives the requested
// scope alongside the device code
func NewScoped(issuer ScopedIssuer, opts ...Option) *Handler {
	return newHandler(nil, issuer, opts)
}

func newHandler(issuer Issuer, scoped ScopedIssuer, opts []Option) *Handler {
	h := &Handler{
		issuer:         issuer,
		scoped:         scoped,
		clientProperty: DefaultClientProperty,
		separators:     []string{" "},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.errorHandler == nil {
		h.errorHandler = defaultErrorHandler
	}
	return h
}

// clientKey keys authenticated client values in a request context. The
// property name is part of the key so a misconfigured transport cannot
// silently satisfy a handler configured for a different property.
type clientKey string

// NewContext attaches an authenticated client to ctx under the given
// property name
func NewContext(ctx context.Context, property string, client any) context.Context {
	return context.WithValue(ctx, clientKey(property), client)
}

// ClientFromContext retrieves the authenticated client attached under the
// given property name, or nil
func ClientFromContext(ctx context.Context, property string) any {
	return ctx.Value(clientKey(property))
}

// ServeHTTP performs one exchange attempt. Exactly one of a success
// response or an error outcome results; no partial responses are written.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.PostForm == nil {
		h.errorHandler(w, r, ErrBodyNotParsed)
		return
	}

	code := r.PostForm.Get("code")
	if code == "" {
		writeTokenError(w, NewTokenError(ErrorCodeInvalidRequest, "missing required parameter: code"))
		return
	}

	client := ClientFromContext(r.Context(), h.clientProperty)
	if client == nil {
		h.errorHandler(w, r, ErrNoClient)
		return
	}

	scope := ParseScope(r.PostForm.Get("scope"), h.separators)

	res, err := h.invoke(r.Context(), client, code, scope)
	if err != nil {
		if terr := classify(err); terr != nil {
			writeTokenError(w, terr)
			return
		}
		// Unclassified errors stay opaque; forward unchanged
		h.errorHandler(w, r, err)
		return
	}

	if res == nil || res.AccessToken == "" {
		writeTokenError(w, NewTokenError(ErrorCodeInvalidGrant, "invalid device code"))
		return
	}

	if err := writeTokenResponse(w, res); err != nil {
		// Headers are committed; the failure can only be surfaced upstream
		h.errorHandler(w, r, err)
	}
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	setResponseHeaders(w)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"server_error"}`))
}
