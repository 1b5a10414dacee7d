package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/wrale/oauth2-device-exchange/internal/devicegrant"
	"github.com/wrale/oauth2-device-exchange/internal/devicestore"
	"github.com/wrale/oauth2-device-exchange/internal/issuer"
)

// deviceGrantType is the grant_type value for the device flow per RFC 8628
// section 3.4
const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Health check handler
func (s *server) handleHealth() http.HandlerFunc {
	type healthResponse struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:  "ok",
			Version: Version,
		}

		if err := s.store.CheckHealth(r.Context()); err != nil {
			resp.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		writeJSON(w, resp)
	}
}

// Token endpoint handler. Validates the grant envelope per RFC 8628 section
// 3.4 and delegates the exchange itself to the devicegrant handler; client
// authentication and form parsing have already happened in middleware.
func (s *server) handleToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Parameters MUST NOT be included more than once
		for key, values := range r.Form {
			if len(values) > 1 {
				writeError(w, http.StatusBadRequest, "invalid_request",
					"parameter included more than once: "+key)
				return
			}
		}

		switch grantType := r.PostForm.Get("grant_type"); grantType {
		case "":
			writeError(w, http.StatusBadRequest, "invalid_request",
				"missing required parameter: grant_type")
			return
		case deviceGrantType:
		default:
			writeError(w, http.StatusBadRequest, "unsupported_grant_type",
				"unsupported grant type: "+grantType)
			return
		}

		s.exchange.ServeHTTP(w, r)
	}
}

// exchangeError receives setup errors and unclassified issuer errors from
// the exchange handler. Slow polling is the one issuer condition this layer
// knows how to translate; everything else is an internal failure.
func (s *server) exchangeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, issuer.ErrSlowDown) {
		writeError(w, http.StatusBadRequest, "slow_down",
			"polling interval must be respected")
		return
	}

	log.Printf("token exchange error: %v", err)
	writeError(w, http.StatusInternalServerError, "server_error",
		"an unexpected error occurred processing the request")
}

// Device authorization endpoint handler per RFC 8628 section 3.2
func (s *server) handleDeviceCode() http.HandlerFunc {
	type deviceCodeResponse struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
		Interval                int    `json:"interval"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		client, _ := devicegrant.ClientFromContext(r.Context(), devicegrant.DefaultClientProperty).(*Client)
		if client == nil {
			writeError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}

		deviceCode, err := devicestore.NewDeviceCode()
		if err != nil {
			log.Printf("generating device code: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error", "code generation failed")
			return
		}
		userCode, err := devicestore.NewUserCode()
		if err != nil {
			log.Printf("generating user code: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error", "code generation failed")
			return
		}

		now := time.Now()
		sess := &devicestore.Session{
			DeviceCode: deviceCode,
			UserCode:   userCode,
			ClientID:   client.ID,
			Scope:      devicegrant.ParseScope(r.PostForm.Get("scope"), s.separators),
			Status:     devicestore.StatusPending,
			ExpiresAt:  now.Add(s.cfg.CodeExpiry),
			LastPoll:   now.Add(-s.cfg.PollInterval),
		}
		if err := s.store.SaveSession(r.Context(), sess); err != nil {
			log.Printf("saving session: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error", "storage failure")
			return
		}

		writeJSON(w, deviceCodeResponse{
			DeviceCode:              deviceCode,
			UserCode:                userCode,
			VerificationURI:         s.cfg.BaseURL + "/device/verify",
			VerificationURIComplete: s.cfg.BaseURL + "/device/verify?user_code=" + userCode,
			ExpiresIn:               int(s.cfg.CodeExpiry.Seconds()),
			Interval:                int(s.cfg.PollInterval.Seconds()),
		})
	}
}

// Verification endpoint handler: completes or declines a pending session by
// user code. With an upstream provider configured, approval records the
// token obtained by exchanging the supplied authorization code; otherwise
// the session is marked approved and the issuer self-mints at redemption.
func (s *server) handleVerify() http.HandlerFunc {
	type verifyRequest struct {
		UserCode          string `json:"user_code"`
		Action            string `json:"action"`
		AuthorizationCode string `json:"authorization_code,omitempty"`
	}
	type verifyResponse struct {
		Status string `json:"status"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
			return
		}

		if err := devicestore.ValidateUserCode(req.UserCode); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		sess, err := s.store.GetSessionByUserCode(r.Context(), req.UserCode)
		if err != nil {
			log.Printf("looking up user code: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error", "storage failure")
			return
		}
		if sess == nil || sess.Expired() {
			writeError(w, http.StatusNotFound, "invalid_request", "unknown or expired user code")
			return
		}

		// Bound verification attempts per session per RFC 8628 section 5.2
		attempts, err := s.store.IncrementVerifyAttempts(r.Context(), sess.DeviceCode)
		if err != nil {
			log.Printf("counting verification attempts: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error", "storage failure")
			return
		}
		if attempts > devicestore.MaxVerifyAttempts {
			writeError(w, http.StatusTooManyRequests, "slow_down", "too many verification attempts")
			return
		}

		if sess.Status != devicestore.StatusPending {
			writeError(w, http.StatusConflict, "invalid_request", "session already completed")
			return
		}

		switch req.Action {
		case "deny":
			sess.Status = devicestore.StatusDenied

		case "approve":
			if s.oauth != nil {
				if req.AuthorizationCode == "" {
					writeError(w, http.StatusBadRequest, "invalid_request",
						"missing required parameter: authorization_code")
					return
				}
				token, err := s.oauth.Exchange(r.Context(), req.AuthorizationCode)
				if err != nil {
					log.Printf("exchanging upstream code: %v", err)
					writeError(w, http.StatusBadGateway, "server_error", "upstream exchange failed")
					return
				}
				sess.Grant = &devicestore.Grant{
					AccessToken:  token.AccessToken,
					RefreshToken: token.RefreshToken,
					TokenType:    token.Type(),
					ExpiresIn:    int(time.Until(token.Expiry).Seconds()),
					// Scope on the grant follows the original device request
					Scope: sess.Scope,
				}
			}
			sess.Status = devicestore.StatusApproved

		default:
			writeError(w, http.StatusBadRequest, "invalid_request",
				"action must be approve or deny")
			return
		}

		if err := s.store.SaveSession(r.Context(), sess); err != nil {
			log.Printf("saving session: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error", "storage failure")
			return
		}

		writeJSON(w, verifyResponse{Status: string(sess.Status)})
	}
}

// errorResponse is the RFC 6749 section 5.2 error body
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: code, ErrorDescription: description}); err != nil {
		log.Printf("encoding error response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}
