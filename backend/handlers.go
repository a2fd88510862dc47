package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

func (s *Server) route() {
	s.r = mux.NewRouter().StrictSlash(true)
	s.r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.")
	})

	api := s.r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/register", s.authLimiter.Wrap(s.handleRegister)).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.authLimiter.Wrap(s.handleLogin)).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.requireUser(s.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/users", s.requireUser(s.handleUsers)).Methods(http.MethodGet)
	api.HandleFunc("/messages/{userId}", s.requireUser(s.handleConversation)).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.requireUser(s.handleSend)).Methods(http.MethodPost)
	api.HandleFunc("/admin/messages", s.requireAdmin(s.handleAdminMessages)).Methods(http.MethodGet)

	s.r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.r.Handle("/metrics", promhttp.Handler())
	s.r.HandleFunc("/ws", s.handleSocket)
}

func (s *Server) requestContext(r *http.Request) context.Context {
	return logging.WithLogger(r.Context(), s.ctx)
}

func (s *Server) requireUser(next func(context.Context, *proto.User, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := s.requestContext(r)
		token := bearerToken(r)
		if token == "" {
			authFailures.WithLabelValues("http").Inc()
			writeError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}
		user, err := s.AuthenticateUser(ctx, token)
		if err != nil {
			authFailures.WithLabelValues("http").Inc()
			writeError(w, http.StatusUnauthorized, "Unauthorized.")
			return
		}
		next(ctx, user, w, r)
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			authFailures.WithLabelValues("admin").Inc()
			writeError(w, http.StatusUnauthorized, "Admin authentication required.")
			return
		}
		if !s.checkAdmin(token) {
			authFailures.WithLabelValues("admin").Inc()
			writeError(w, http.StatusUnauthorized, "Invalid admin credentials.")
			return
		}
		next(w, r)
	}
}

type registerRequest struct {
	Username            string `json:"username"`
	Password            string `json:"password"`
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginReply struct {
	Token string `json:"token"`
	proto.Account
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestContext(r)

	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		serveError(ctx, w, err)
		return
	}

	username, err := proto.ValidateRegistration(req.Username, req.Password, req.PublicKey, req.EncryptedPrivateKey)
	if err != nil {
		logging.Logger(ctx).Printf("register %q: %s", req.Username, err)
		serveError(ctx, w, err)
		return
	}

	hash, err := s.hashPassword(ctx, req.Password)
	if err != nil {
		serveError(ctx, w, err)
		return
	}

	user, err := s.b.CreateUser(ctx, &proto.NewUser{
		Username:            username,
		PublicKey:           req.PublicKey,
		EncryptedPrivateKey: req.EncryptedPrivateKey,
		PasswordHash:        hash,
	})
	if err != nil {
		logging.Logger(ctx).Printf("register %q: %s", username, err)
		serveError(ctx, w, err)
		return
	}

	logging.Logger(ctx).Printf("registered %s (%s)", user.Username, user.ID)
	writeJSON(w, http.StatusCreated, user.Account())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestContext(r)

	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		serveError(ctx, w, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required.")
		return
	}

	user, err := s.b.GetUserByName(ctx, username)
	switch {
	case err == nil:
	case errors.Is(err, proto.ErrUserNotFound):
		user = nil
	default:
		serveError(ctx, w, err)
		return
	}

	encoded := s.dummyHash
	if user != nil {
		encoded = user.PasswordHash
	}
	ok, err := s.verifyPassword(ctx, encoded, req.Password)
	if err != nil {
		serveError(ctx, w, err)
		return
	}
	if !ok || user == nil {
		authFailures.WithLabelValues("login").Inc()
		logging.Logger(ctx).Printf("login failed for %q", username)
		writeError(w, http.StatusUnauthorized, "Invalid credentials.")
		return
	}

	token, err := s.auth.Issue(user.ID.String(), s.credentialTTL)
	if err != nil {
		serveError(ctx, w, err)
		return
	}

	logging.Logger(ctx).Printf("login %s (%s)", user.Username, user.ID)
	writeJSON(w, http.StatusOK, &loginReply{Token: token, Account: *user.Account()})
}

func (s *Server) handleMe(ctx context.Context, user *proto.User, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, user.Account())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestContext(r)
	key, err := s.b.AdminPublicKey(ctx)
	if err != nil {
		serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"adminPublicKey": key})
}

func (s *Server) handleUsers(ctx context.Context, user *proto.User, w http.ResponseWriter, r *http.Request) {
	users, err := s.b.ListUsers(ctx)
	if err != nil {
		serveError(ctx, w, err)
		return
	}
	if users == nil {
		users = []proto.UserView{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleConversation(ctx context.Context, user *proto.User, w http.ResponseWriter, r *http.Request) {
	var peerID snowflake.Snowflake
	if err := peerID.FromString(mux.Vars(r)["userId"]); err != nil || peerID == 0 {
		writeError(w, http.StatusBadRequest, "Invalid target user id.")
		return
	}

	peer, err := s.b.GetUser(ctx, peerID)
	if err != nil {
		if errors.Is(err, proto.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "Target user not found.")
			return
		}
		serveError(ctx, w, err)
		return
	}

	msgs, err := s.b.MessagesBetween(ctx, user.ID, peer.ID)
	if err != nil {
		serveError(ctx, w, err)
		return
	}

	self, other := user.View(), peer.View()
	views := make([]*proto.EnvelopeView, 0, len(msgs))
	for i := range msgs {
		if msgs[i].SenderID == user.ID {
			views = append(views, proto.NewEnvelopeView(&msgs[i], &self, &other))
		} else {
			views = append(views, proto.NewEnvelopeView(&msgs[i], &other, &self))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": views})
}

func (s *Server) handleSend(ctx context.Context, user *proto.User, w http.ResponseWriter, r *http.Request) {
	var msg proto.OutboundMessage
	if err := decodeBody(w, r, &msg); err != nil {
		serveError(ctx, w, err)
		return
	}
	if err := msg.Validate(); err != nil {
		serveError(ctx, w, err)
		return
	}
	if msg.RecipientID == user.ID {
		serveError(ctx, w, proto.ErrSelfMessage)
		return
	}

	recipient, err := s.b.GetUser(ctx, msg.RecipientID)
	if err != nil {
		if errors.Is(err, proto.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "Recipient not found.")
			return
		}
		serveError(ctx, w, err)
		return
	}

	stored, err := s.b.CreateMessage(ctx, user.ID, &msg)
	if err != nil {
		serveError(ctx, w, err)
		return
	}
	messagesSent.Inc()

	sender, to := user.View(), recipient.View()
	view := proto.NewEnvelopeView(stored, &sender, &to)
	if err := s.relay.Broadcast(ctx, view); err != nil {
		logging.Logger(ctx).Printf("message %s stored but not broadcast: %s", stored.ID, err)
		writeError(w, http.StatusInternalServerError, "Message stored but could not be delivered.")
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleAdminMessages(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestContext(r)

	users, err := s.b.ListUsers(ctx)
	if err != nil {
		serveError(ctx, w, err)
		return
	}
	byID := make(map[snowflake.Snowflake]*proto.UserView, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	msgs, err := s.b.AllMessages(ctx)
	if err != nil {
		serveError(ctx, w, err)
		return
	}
	views := make([]*proto.EnvelopeView, 0, len(msgs))
	for i := range msgs {
		views = append(views, proto.NewEnvelopeView(&msgs[i], byID[msgs[i].SenderID], byID[msgs[i].RecipientID]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": views})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestContext(r)
	if err := s.b.Ping(ctx); err != nil {
		logging.Logger(ctx).Printf("health: %s", err)
		writeError(w, http.StatusServiceUnavailable, "Database unavailable.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}
