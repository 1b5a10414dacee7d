// Package issuer implements a devicestore-backed decision function for the
// device code exchange. It classifies each poll against the session state
// and mints tokens for approved sessions, consuming the session on first
// redemption per RFC 8628 section 3.5.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrale/oauth2-device-exchange/internal/devicegrant"
	"github.com/wrale/oauth2-device-exchange/internal/devicestore"
)

const (
	// DefaultPollInterval is the minimum time between polls for one
	// device code per RFC 8628 section 3.5
	DefaultPollInterval = 5 * time.Second

	// DefaultTokenTTL is the validity of self-minted access tokens
	DefaultTokenTTL = time.Hour
)

// ErrSlowDown indicates the client polled faster than the advertised
// interval. It is deliberately not one of the exchange handler's classified
// sentinels; the HTTP layer maps it to the RFC 8628 slow_down response.
var ErrSlowDown = errors.New("polling too frequently")

// ClientIdentity is implemented by authenticated client values that expose
// the OAuth2 client identifier. When the value implements it, the issuer
// refuses to redeem a device code issued to a different client.
type ClientIdentity interface {
	ClientID() string
}

// Issuer decides device code exchanges against a session store
type Issuer struct {
	store        devicestore.Store
	pollInterval time.Duration
	tokenTTL     time.Duration
}

// Option configures an Issuer
type Option func(*Issuer)

// WithPollInterval sets the minimum time between polls
func WithPollInterval(d time.Duration) Option {
	return func(i *Issuer) {
		i.pollInterval = d
	}
}

// WithTokenTTL sets the validity of self-minted tokens
func WithTokenTTL(d time.Duration) Option {
	return func(i *Issuer) {
		i.tokenTTL = d
	}
}

// New creates an Issuer backed by the given store
func New(store devicestore.Store, opts ...Option) *Issuer {
	i := &Issuer{
		store:        store,
		pollInterval: DefaultPollInterval,
		tokenTTL:     DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue implements devicegrant.ScopedIssuer
func (i *Issuer) Issue(ctx context.Context, client any, deviceCode string, scope []string, complete devicegrant.CompleteFunc) {
	res, err := i.decide(ctx, client, deviceCode, scope)
	complete(res, err)
}

func (i *Issuer) decide(ctx context.Context, client any, deviceCode string, scope []string) (*devicegrant.Result, error) {
	sess, err := i.store.GetSession(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if sess == nil || sess.Expired() {
		return nil, devicegrant.ErrUnknownCode
	}

	// A device code is only redeemable by the client it was issued to
	if identity, ok := client.(ClientIdentity); ok && identity.ClientID() != sess.ClientID {
		return nil, devicegrant.ErrUnknownCode
	}

	switch sess.Status {
	case devicestore.StatusDenied:
		// Denial is terminal; the session is consumed with it
		if err := i.store.DeleteSession(ctx, deviceCode); err != nil {
			return nil, fmt.Errorf("consuming denied session: %w", err)
		}
		return nil, devicegrant.ErrAuthorizationDeclined

	case devicestore.StatusApproved:
		return i.redeem(ctx, sess, scope)

	default:
		if time.Since(sess.LastPoll) < i.pollInterval {
			return nil, ErrSlowDown
		}
		sess.LastPoll = time.Now()
		if err := i.store.SaveSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("recording poll: %w", err)
		}
		return nil, devicegrant.ErrAuthorizationPending
	}
}

// redeem issues the token for an approved session and consumes the session
// so the device code is single use
func (i *Issuer) redeem(ctx context.Context, sess *devicestore.Session, scope []string) (*devicegrant.Result, error) {
	grant := sess.Grant
	if grant == nil {
		grant = i.mintGrant(sess, scope)
	}

	if err := i.store.DeleteSession(ctx, sess.DeviceCode); err != nil {
		return nil, fmt.Errorf("consuming session: %w", err)
	}

	extra := map[string]any{}
	if grant.TokenType != "" {
		extra["token_type"] = grant.TokenType
	}
	if grant.ExpiresIn > 0 {
		extra["expires_in"] = grant.ExpiresIn
	}
	if len(grant.Scope) > 0 {
		extra["scope"] = strings.Join(grant.Scope, " ")
	}

	return &devicegrant.Result{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Extra:        extra,
	}, nil
}

// mintGrant creates a self-issued token for deployments without an upstream
// provider. The granted scope is the approved session scope, narrowed to
// the scope requested at exchange time when one was supplied.
func (i *Issuer) mintGrant(sess *devicestore.Session, requested []string) *devicestore.Grant {
	granted := sess.Scope
	if len(requested) > 0 {
		granted = intersectScope(sess.Scope, requested)
	}
	return &devicestore.Grant{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresIn:    int(i.tokenTTL.Seconds()),
		Scope:        granted,
	}
}

// intersectScope keeps the approved scopes that were also requested,
// preserving approval order
func intersectScope(approved, requested []string) []string {
	want := make(map[string]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	var out []string
	for _, s := range approved {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}
