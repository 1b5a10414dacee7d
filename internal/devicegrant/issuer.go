package devicegrant

import (
	"context"
	"fmt"
)

// Result carries the outcome of a successful device code exchange. Extra
// entries are merged into the token response after the named fields and may
// override any of them, including token_type.
type Result struct {
	AccessToken  string
	RefreshToken string
	Extra        map[string]any
}

// CompleteFunc resumes a suspended exchange. The issuer must call it exactly
// once per invocation, with either a non-nil Result or an error; the handler
// does not guard against multiple completions.
type CompleteFunc func(res *Result, err error)

// Issuer decides whether a device code may be redeemed and mints tokens for
// it. The client value is the authenticated principal as attached by the
// transport; it is passed through opaque and never inspected by the handler.
type Issuer interface {
	Issue(ctx context.Context, client any, deviceCode string, complete CompleteFunc)
}

// IssuerFunc adapts a plain function to the Issuer interface
type IssuerFunc func(ctx context.Context, client any, deviceCode string, complete CompleteFunc)

// Issue calls f
func (f IssuerFunc) Issue(ctx context.Context, client any, deviceCode string, complete CompleteFunc) {
	f(ctx, client, deviceCode, complete)
}

// ScopedIssuer is the calling shape for issuers that also receive the parsed
// scope of the request. Which shape a handler uses is fixed at construction
// by choosing New or NewScoped; it never varies per request.
type ScopedIssuer interface {
	Issue(ctx context.Context, client any, deviceCode string, scope []string, complete CompleteFunc)
}

// ScopedIssuerFunc adapts a plain function to the ScopedIssuer interface
type ScopedIssuerFunc func(ctx context.Context, client any, deviceCode string, scope []string, complete CompleteFunc)

// Issue calls f
func (f ScopedIssuerFunc) Issue(ctx context.Context, client any, deviceCode string, scope []string, complete CompleteFunc) {
	f(ctx, client, deviceCode, scope, complete)
}

// outcome is the single value delivered over a request's completion channel
type outcome struct {
	res *Result
	err error
}

// invoke runs the issuer and suspends until it completes. A panic raised
// synchronously by the issuer is recovered and reported on the same channel
// as any other unclassified error instead of unwinding the request. No
// timeout is imposed here; liveness is the issuer's responsibility.
func (h *Handler) invoke(ctx context.Context, client any, deviceCode string, scope []string) (*Result, error) {
	done := make(chan outcome, 1)
	complete := func(res *Result, err error) {
		done <- outcome{res: res, err: err}
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				select {
				case done <- outcome{err: fmt.Errorf("issuer panic: %v", r)}:
				default:
				}
			}
		}()
		if h.scoped != nil {
			h.scoped.Issue(ctx, client, deviceCode, scope, complete)
			return
		}
		h.issuer.Issue(ctx, client, deviceCode, complete)
	}()

	out := <-done
	return out.res, out.err
}
