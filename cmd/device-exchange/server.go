package main

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/oauth2"

	"github.com/wrale/oauth2-device-exchange/internal/devicegrant"
	"github.com/wrale/oauth2-device-exchange/internal/devicestore"
	"github.com/wrale/oauth2-device-exchange/internal/issuer"
)

// Client is the authenticated principal attached to requests after client
// authentication. The exchange handler treats it as opaque; the issuer uses
// ClientID to bind device codes to the client they were issued to.
type Client struct {
	ID string
}

// ClientID implements issuer.ClientIdentity
func (c *Client) ClientID() string { return c.ID }

type server struct {
	cfg        Config
	router     *chi.Mux
	store      devicestore.Store
	exchange   *devicegrant.Handler
	separators []string
	oauth      *oauth2.Config // nil when self-issuing tokens
}

// separatorList expands the configured separator characters into the ordered
// candidate list. Space is the RFC 6749 separator; the default adds comma
// for clients that delimit with commas.
func separatorList(chars string) []string {
	if chars == "" {
		chars = " "
	}
	out := make([]string, 0, len(chars))
	for _, c := range chars {
		out = append(out, string(c))
	}
	return out
}

func newServer(cfg Config, store devicestore.Store) *server {
	srv := &server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		store:      store,
		separators: separatorList(cfg.ScopeSeparators),
	}

	iss := issuer.New(store,
		issuer.WithPollInterval(cfg.PollInterval),
		issuer.WithTokenTTL(cfg.TokenTTL),
	)
	srv.exchange = devicegrant.NewScoped(iss,
		devicegrant.WithScopeSeparators(srv.separators...),
		devicegrant.WithErrorHandler(srv.exchangeError),
	)

	// Configure the upstream OAuth client when one is set
	if cfg.UpstreamTokenURL != "" {
		srv.oauth = &oauth2.Config{
			ClientID:     cfg.UpstreamClientID,
			ClientSecret: cfg.UpstreamClientSecret,
			RedirectURL:  cfg.BaseURL + "/device/verify",
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.UpstreamAuthURL,
				TokenURL: cfg.UpstreamTokenURL,
			},
		}
	}

	// Set up middleware
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Timeout(30 * time.Second))

	// Register routes
	srv.routes()

	return srv
}

func (s *server) routes() {
	// Health check endpoint
	s.router.Get("/health", s.handleHealth())

	// Client-authenticated endpoints
	s.router.Group(func(r chi.Router) {
		r.Use(s.clientAuth)
		r.Post("/token", s.handleToken())
		r.Post("/device/code", s.handleDeviceCode())
	})

	// User-facing approval API
	s.router.Post("/device/verify", s.handleVerify())
}

// clientAuth authenticates the OAuth2 client against the configured
// registry and attaches it to the request context for the exchange handler.
// Credentials are taken from HTTP Basic auth or, failing that, from the
// client_id and client_secret form parameters per RFC 6749 section 2.3.1.
func (s *server) clientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
			return
		}

		id, secret, ok := r.BasicAuth()
		if !ok {
			id = r.PostForm.Get("client_id")
			secret = r.PostForm.Get("client_secret")
		}

		want, registered := s.cfg.Clients[id]
		if id == "" || !registered ||
			subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
			writeError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}

		ctx := devicegrant.NewContext(r.Context(), devicegrant.DefaultClientProperty, &Client{ID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
