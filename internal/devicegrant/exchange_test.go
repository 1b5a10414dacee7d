package devicegrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// newExchangeRequest builds a POST /token request with a parsed form and an
// authenticated client attached under the given property.
func newExchangeRequest(t *testing.T, params map[string]string, property string, client any) *http.Request {
	t.Helper()

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := req.ParseForm(); err != nil {
		t.Fatalf("parsing form: %v", err)
	}
	if client != nil {
		req = req.WithContext(NewContext(req.Context(), property, client))
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func checkResponseHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Cache-Control": "no-store",
		"Pragma":        "no-cache",
	}
	for k, want := range headers {
		if got := w.Header().Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
}

func TestExchangeValidation(t *testing.T) {
	tests := []struct {
		name          string
		params        map[string]string
		wantErrorCode string
		wantErrorDesc string
	}{
		{
			name:          "missing code",
			params:        map[string]string{},
			wantErrorCode: ErrorCodeInvalidRequest,
			wantErrorDesc: "missing required parameter: code",
		},
		{
			name:          "empty code",
			params:        map[string]string{"code": ""},
			wantErrorCode: ErrorCodeInvalidRequest,
			wantErrorDesc: "missing required parameter: code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoked := false
			h := New(IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
				invoked = true
				complete(nil, ErrUnknownCode)
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, newExchangeRequest(t, tt.params, DefaultClientProperty, "client-1"))

			if invoked {
				t.Error("issuer invoked despite validation failure")
			}
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			body := decodeBody(t, w)
			if body["error"] != tt.wantErrorCode {
				t.Errorf("error = %v, want %q", body["error"], tt.wantErrorCode)
			}
			if body["error_description"] != tt.wantErrorDesc {
				t.Errorf("error_description = %v, want %q", body["error_description"], tt.wantErrorDesc)
			}
			checkResponseHeaders(t, w)
		})
	}
}

func TestExchangeSetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		request func(t *testing.T) *http.Request
		wantErr error
	}{
		{
			name: "body not parsed",
			request: func(t *testing.T) *http.Request {
				// No ParseForm call, so PostForm stays nil
				return httptest.NewRequest(http.MethodPost, "/token", strings.NewReader("code=abc"))
			},
			wantErr: ErrBodyNotParsed,
		},
		{
			name: "no authenticated client",
			request: func(t *testing.T) *http.Request {
				return newExchangeRequest(t, map[string]string{"code": "abc"}, DefaultClientProperty, nil)
			},
			wantErr: ErrNoClient,
		},
		{
			name: "client attached under wrong property",
			request: func(t *testing.T) *http.Request {
				return newExchangeRequest(t, map[string]string{"code": "abc"}, "session", "client-1")
			},
			wantErr: ErrNoClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var forwarded error
			h := New(
				IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
					t.Error("issuer invoked despite setup error")
					complete(nil, ErrUnknownCode)
				}),
				WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
					forwarded = err
					w.WriteHeader(http.StatusInternalServerError)
				}),
			)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, tt.request(t))

			if !errors.Is(forwarded, tt.wantErr) {
				t.Errorf("forwarded error = %v, want %v", forwarded, tt.wantErr)
			}
			if w.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
			}
		})
	}
}

func TestExchangeIssuerFailures(t *testing.T) {
	tests := []struct {
		name          string
		issuerErr     error
		wantErrorCode string
	}{
		{
			name:          "unknown code",
			issuerErr:     ErrUnknownCode,
			wantErrorCode: ErrorCodeInvalidGrant,
		},
		{
			name:          "authorization pending",
			issuerErr:     ErrAuthorizationPending,
			wantErrorCode: ErrorCodeAuthorizationPending,
		},
		{
			name:          "authorization declined",
			issuerErr:     ErrAuthorizationDeclined,
			wantErrorCode: ErrorCodeAuthorizationRejected,
		},
		{
			name:          "wrapped sentinel still classified",
			issuerErr:     fmt.Errorf("looking up session: %w", ErrAuthorizationPending),
			wantErrorCode: ErrorCodeAuthorizationPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
				complete(nil, tt.issuerErr)
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, newExchangeRequest(t, map[string]string{"code": "abc"}, DefaultClientProperty, "client-1"))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			body := decodeBody(t, w)
			if body["error"] != tt.wantErrorCode {
				t.Errorf("error = %v, want %q", body["error"], tt.wantErrorCode)
			}
			checkResponseHeaders(t, w)
		})
	}
}

func TestExchangeUnclassifiedErrorPassthrough(t *testing.T) {
	boom := errors.New("redis connection refused")

	var forwarded error
	h := New(
		IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
			complete(nil, boom)
		}),
		WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			forwarded = err
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newExchangeRequest(t, map[string]string{"code": "abc"}, DefaultClientProperty, "client-1"))

	// The error must arrive unwrapped and unmodified
	if forwarded != boom {
		t.Errorf("forwarded error = %v, want the issuer's error unchanged", forwarded)
	}
	if w.Body.Len() != 0 && w.Code == http.StatusOK {
		t.Error("response body written for an unclassified error")
	}
}

func TestExchangeIssuerPanicRecovered(t *testing.T) {
	var forwarded error
	h := New(
		IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
			panic("issuer bug")
		}),
		WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			forwarded = err
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newExchangeRequest(t, map[string]string{"code": "abc"}, DefaultClientProperty, "client-1"))

	if forwarded == nil || !strings.Contains(forwarded.Error(), "issuer bug") {
		t.Errorf("forwarded error = %v, want recovered panic", forwarded)
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestExchangeSuccess(t *testing.T) {
	tests := []struct {
		name     string
		result   *Result
		wantBody map[string]any
	}{
		{
			name:   "access token only",
			result: &Result{AccessToken: "tok-123"},
			wantBody: map[string]any{
				"access_token": "tok-123",
				"token_type":   "Bearer",
			},
		},
		{
			name:   "with refresh token",
			result: &Result{AccessToken: "tok-123", RefreshToken: "refresh-456"},
			wantBody: map[string]any{
				"access_token":  "tok-123",
				"refresh_token": "refresh-456",
				"token_type":    "Bearer",
			},
		},
		{
			name: "extra params merged without refresh token",
			result: &Result{
				AccessToken: "tok-123",
				Extra:       map[string]any{"expires_in": 3600.0, "scope": "read"},
			},
			wantBody: map[string]any{
				"access_token": "tok-123",
				"expires_in":   3600.0,
				"scope":        "read",
				"token_type":   "Bearer",
			},
		},
		{
			name: "extra params override token_type",
			result: &Result{
				AccessToken: "tok-123",
				Extra:       map[string]any{"token_type": "MAC"},
			},
			wantBody: map[string]any{
				"access_token": "tok-123",
				"token_type":   "MAC",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
				complete(tt.result, nil)
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, newExchangeRequest(t, map[string]string{"code": "abc"}, DefaultClientProperty, "client-1"))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if diff := cmp.Diff(tt.wantBody, decodeBody(t, w)); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
			checkResponseHeaders(t, w)
		})
	}
}

func TestExchangeSuccessWithoutToken(t *testing.T) {
	h := New(IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
		complete(&Result{}, nil)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newExchangeRequest(t, map[string]string{"code": "abc"}, DefaultClientProperty, "client-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, w)
	if body["error"] != ErrorCodeInvalidGrant {
		t.Errorf("error = %v, want %q", body["error"], ErrorCodeInvalidGrant)
	}
}

func TestExchangeIssuerArguments(t *testing.T) {
	t.Run("unscoped issuer receives client and code only", func(t *testing.T) {
		var gotClient any
		var gotCode string
		h := New(IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
			gotClient = client
			gotCode = code
			complete(&Result{AccessToken: "tok"}, nil)
		}))

		w := httptest.NewRecorder()
		params := map[string]string{"code": "dev-1", "scope": "read write"}
		h.ServeHTTP(w, newExchangeRequest(t, params, DefaultClientProperty, "client-1"))

		if gotClient != "client-1" {
			t.Errorf("client = %v, want client-1", gotClient)
		}
		if gotCode != "dev-1" {
			t.Errorf("code = %q, want dev-1", gotCode)
		}
	})

	t.Run("scoped issuer receives parsed scope", func(t *testing.T) {
		var gotScope []string
		h := NewScoped(ScopedIssuerFunc(func(ctx context.Context, client any, code string, scope []string, complete CompleteFunc) {
			gotScope = scope
			complete(&Result{AccessToken: "tok"}, nil)
		}), WithScopeSeparators(" ", ","))

		w := httptest.NewRecorder()
		params := map[string]string{"code": "dev-1", "scope": "a,b"}
		h.ServeHTTP(w, newExchangeRequest(t, params, DefaultClientProperty, "client-1"))

		if diff := cmp.Diff([]string{"a", "b"}, gotScope); diff != "" {
			t.Errorf("scope mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("scoped issuer sees nil scope when absent", func(t *testing.T) {
		gotScope := []string{"sentinel"}
		h := NewScoped(ScopedIssuerFunc(func(ctx context.Context, client any, code string, scope []string, complete CompleteFunc) {
			gotScope = scope
			complete(&Result{AccessToken: "tok"}, nil)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, newExchangeRequest(t, map[string]string{"code": "dev-1"}, DefaultClientProperty, "client-1"))

		if gotScope != nil {
			t.Errorf("scope = %v, want nil", gotScope)
		}
	})
}

func TestExchangeClientProperty(t *testing.T) {
	var gotClient any
	h := New(
		IssuerFunc(func(ctx context.Context, client any, code string, complete CompleteFunc) {
			gotClient = client
			complete(&Result{AccessToken: "tok"}, nil)
		}),
		WithClientProperty("session"),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newExchangeRequest(t, map[string]string{"code": "abc"}, "session", "client-9"))

	if gotClient != "client-9" {
		t.Errorf("client = %v, want client-9", gotClient)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
