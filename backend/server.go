package backend

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/security"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

type Server struct {
	ctx     context.Context
	r       *mux.Router
	handler http.Handler

	b     proto.Backend
	relay *relay.Relay
	auth  *security.SessionAuthenticator
	pool  *security.KDFPool

	adminToken    string
	credentialTTL time.Duration
	authLimiter   *clientLimiter

	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader

	// dummyHash is verified against when a login names an unknown user so
	// both failures take the same time.
	dummyHash string
}

// NewServer builds the HTTP and websocket front end. Sessions live until
// ctx is cancelled or the client disconnects.
func NewServer(ctx context.Context, b proto.Backend, r *relay.Relay, cfg *ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth, err := security.NewSessionAuthenticator([]byte(cfg.Auth.CredentialSecret))
	if err != nil {
		return nil, err
	}

	dummyHash, err := security.HashPassword(security.CurrentKDFParams(), "dummy password", rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		ctx:            ctx,
		b:              b,
		relay:          r,
		auth:           auth,
		pool:           security.NewKDFPool(cfg.KDF.MaxConcurrent, cfg.KDF.QueueTimeout),
		adminToken:     cfg.Auth.AdminToken,
		credentialTTL:  cfg.Auth.CredentialTTL,
		authLimiter:    newClientLimiter(cfg.RateLimit.AuthRequests, cfg.RateLimit.AuthWindow),
		allowedOrigins: map[string]bool{},
		dummyHash:      dummyHash,
	}
	if s.authLimiter != nil {
		s.authLimiter.TrustProxy = cfg.HTTP.TrustProxy
	}
	for _, origin := range cfg.HTTP.AllowedOrigins {
		s.allowedOrigins[origin] = true
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(s.allowedOrigins) > 0 {
		s.upgrader.CheckOrigin = s.checkOrigin
	}

	s.route()

	var handler http.Handler = s.r
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}).Handler(handler)
	}
	s.handler = promhttp.InstrumentHandlerCounter(httpRequests, handler)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowedOrigins[origin]
}

// AuthenticateUser resolves a bearer credential to a stored user. Every
// failure is reported as security.ErrUnauthenticated.
func (s *Server) AuthenticateUser(ctx context.Context, token string) (*proto.User, error) {
	cred, err := s.auth.Verify(token)
	if err != nil {
		return nil, security.ErrUnauthenticated
	}
	var id snowflake.Snowflake
	if err := id.FromString(cred.SubjectID); err != nil || id == 0 {
		return nil, security.ErrUnauthenticated
	}
	user, err := s.b.GetUser(ctx, id)
	if err != nil {
		return nil, security.ErrUnauthenticated
	}
	return user, nil
}

func (s *Server) checkAdmin(token string) bool { return security.CheckAdminToken(s.adminToken, token) }

func (s *Server) hashPassword(ctx context.Context, password string) (string, error) {
	var (
		hash    string
		hashErr error
	)
	err := s.pool.Do(ctx, func() {
		kdfInFlight.Inc()
		defer kdfInFlight.Dec()
		hash, hashErr = security.HashPassword(security.CurrentKDFParams(), password, rand.Reader)
	})
	if err != nil {
		return "", err
	}
	return hash, hashErr
}

func (s *Server) verifyPassword(ctx context.Context, encoded, password string) (bool, error) {
	var ok bool
	err := s.pool.Do(ctx, func() {
		kdfInFlight.Inc()
		defer kdfInFlight.Dec()
		ok = security.VerifyPassword(encoded, password)
	})
	return ok, err
}
