package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rutishh0/testingAegis/backend/mock"
	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/security"

	. "github.com/smartystreets/goconvey/convey"
)

type failingBus struct{}

func (failingBus) Publish(context.Context, *proto.EnvelopeView) error { return errors.New("bus down") }
func (failingBus) Subscribe(context.Context, relay.Deliverer) error   { return nil }
func (failingBus) Close() error                                       { return nil }

type countingBus struct {
	*relay.LocalBus
	published int32
}

func (b *countingBus) Publish(ctx context.Context, msg *proto.EnvelopeView) error {
	atomic.AddInt32(&b.published, 1)
	return b.LocalBus.Publish(ctx, msg)
}

func newTestServer(b proto.Backend, bus relay.Bus, configure func(*ServerConfig)) *Server {
	ctx := logging.Discard(context.Background())

	r, err := relay.New(ctx, bus)
	So(err, ShouldBeNil)

	cfg := DefaultConfig()
	cfg.Auth.CredentialSecret = "server test secret"
	cfg.Auth.AdminToken = testAdminToken
	if configure != nil {
		configure(&cfg)
	}

	s, err := NewServer(ctx, b, r, &cfg)
	So(err, ShouldBeNil)
	return s
}

func newServerWithBus(b proto.Backend, bus relay.Bus) *serverUnderTest {
	s := newTestServer(b, bus, nil)
	admin, err := security.GenerateKeyPair()
	So(err, ShouldBeNil)
	return &serverUnderTest{
		backend: b,
		app:     s,
		relay:   s.relay,
		server:  httptest.NewServer(s),
		admin:   admin,
		users:   map[string]*testUser{},
	}
}

func serve(s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestCheckOrigin(t *testing.T) {
	tc := func(origin string) *http.Request {
		req := &http.Request{Header: http.Header{}, Host: "aegis"}
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	Convey("CheckOrigin", t, func() {
		s := newTestServer(&mock.TestBackend{}, nil, func(cfg *ServerConfig) {
			cfg.HTTP.AllowedOrigins = CSV{"https://chat.example.com"}
		})

		Convey("Accept if no origin is given", func() {
			So(s.checkOrigin(tc("")), ShouldBeTrue)
		})

		Convey("Accept a configured origin", func() {
			So(s.checkOrigin(tc("https://chat.example.com")), ShouldBeTrue)
		})

		Convey("Reject anything else", func() {
			So(s.checkOrigin(tc("https://evil.example.com")), ShouldBeFalse)
			So(s.checkOrigin(tc("http://chat.example.com")), ShouldBeFalse)
		})
	})
}

func TestServer(t *testing.T) {
	security.TestMode = true
	defer func() { security.TestMode = false }()

	Convey("Health reflects the database", t, func() {
		b := &mock.TestBackend{}
		s := newTestServer(b, nil, nil)

		w := serve(s, "GET", "/health", nil)
		So(w.Code, ShouldEqual, http.StatusOK)
		So(w.Body.String(), ShouldContainSubstring, `"database":"connected"`)

		b.PingErr = errors.New("connection refused")
		w = serve(s, "GET", "/health", nil)
		So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		So(w.Body.String(), ShouldContainSubstring, "Database unavailable.")
	})

	Convey("Authentication endpoints are rate limited per client", t, func() {
		s := newTestServer(&mock.TestBackend{}, nil, func(cfg *ServerConfig) {
			cfg.RateLimit.AuthRequests = 2
		})

		for i := 0; i < 2; i++ {
			w := serve(s, "POST", "/api/v1/auth/login", nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		}
		w := serve(s, "POST", "/api/v1/auth/login", nil)
		So(w.Code, ShouldEqual, http.StatusTooManyRequests)
		So(w.Header().Get("Retry-After"), ShouldNotBeEmpty)

		Convey("other endpoints are not", func() {
			w := serve(s, "GET", "/health", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("forwarded addresses count only behind a trusted proxy", func() {
			w := serve(s, "POST", "/api/v1/auth/login", http.Header{"X-Forwarded-For": {"203.0.113.9"}})
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)

			trusted := newTestServer(&mock.TestBackend{}, nil, func(cfg *ServerConfig) {
				cfg.RateLimit.AuthRequests = 1
				cfg.HTTP.TrustProxy = true
			})
			w = serve(trusted, "POST", "/api/v1/auth/login", http.Header{"X-Forwarded-For": {"203.0.113.9"}})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			w = serve(trusted, "POST", "/api/v1/auth/login", http.Header{"X-Forwarded-For": {"203.0.113.10"}})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})

	Convey("CORS headers are sent for configured origins", t, func() {
		s := newTestServer(&mock.TestBackend{}, nil, func(cfg *ServerConfig) {
			cfg.HTTP.AllowedOrigins = CSV{"https://chat.example.com"}
		})

		w := serve(s, "GET", "/health", http.Header{"Origin": {"https://chat.example.com"}})
		So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://chat.example.com")

		w = serve(s, "GET", "/health", http.Header{"Origin": {"https://evil.example.com"}})
		So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "")
	})

	Convey("Unknown routes are 404", t, func() {
		s := newTestServer(&mock.TestBackend{}, nil, nil)
		w := serve(s, "GET", "/api/v1/nope", nil)
		So(w.Code, ShouldEqual, http.StatusNotFound)
		So(w.Body.String(), ShouldContainSubstring, "Not found.")
	})

	Convey("A message that cannot be relayed is still stored", t, func() {
		b := &mock.TestBackend{}
		server := newServerWithBus(b, failingBus{})
		defer server.server.Close()

		alice := server.User("alice")
		bob := server.User("bob")

		status, reply := server.do("POST", "/api/v1/messages", alice.Token, server.outbound(alice, bob, "hi"))
		So(status, ShouldEqual, http.StatusInternalServerError)
		So(reply["message"], ShouldEqual, "Message stored but could not be delivered.")

		msgs, err := b.AllMessages(context.Background())
		So(err, ShouldBeNil)
		So(len(msgs), ShouldEqual, 1)
	})

	Convey("A message that cannot be stored is never relayed", t, func() {
		b := &mock.TestBackend{}
		bus := &countingBus{LocalBus: relay.NewLocalBus()}
		server := newServerWithBus(b, bus)
		defer server.server.Close()

		alice := server.User("alice")
		bob := server.User("bob")

		conn := server.Connect()
		defer conn.Close()
		conn.joinAs(bob)

		b.CreateMessageErr = errors.New("disk full")
		status, reply := server.do("POST", "/api/v1/messages", alice.Token, server.outbound(alice, bob, "hi"))
		So(status, ShouldEqual, http.StatusInternalServerError)
		So(reply["message"], ShouldEqual, "Internal server error.")
		So(atomic.LoadInt32(&bus.published), ShouldEqual, 0)

		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		var netErr net.Error
		So(errors.As(err, &netErr), ShouldBeTrue)
		So(netErr.Timeout(), ShouldBeTrue)

		msgs, err := b.AllMessages(context.Background())
		So(err, ShouldBeNil)
		So(msgs, ShouldBeEmpty)
	})

	Convey("Login sheds load when no key derivation slot is free", t, func() {
		s := newTestServer(&mock.TestBackend{}, nil, func(cfg *ServerConfig) {
			cfg.KDF.MaxConcurrent = 1
			cfg.KDF.QueueTimeout = 0
		})

		held, release := make(chan struct{}), make(chan struct{})
		go s.pool.Do(context.Background(), func() {
			close(held)
			<-release
		})
		<-held
		defer close(release)

		req := httptest.NewRequest("POST", "/api/v1/auth/login",
			strings.NewReader(`{"username":"alice","password":"Tr0ub4dor&3"}`))
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		So(w.Header().Get("Retry-After"), ShouldEqual, "1")
		So(w.Body.String(), ShouldContainSubstring, "Service busy.")
	})
}
