package client

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rutishh0/testingAegis/backend"
	"github.com/rutishh0/testingAegis/backend/mock"
	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/security"

	. "github.com/smartystreets/goconvey/convey"
)

const (
	adminToken = "client-test-admin-token"
	password   = "Tr0ub4dor&3"
)

func TestMain(m *testing.M) {
	security.TestMode = true
	os.Exit(m.Run())
}

type fixture struct {
	server  *httptest.Server
	backend *mock.TestBackend
	admin   *security.KeyPair
}

func newFixture() *fixture {
	ctx := logging.Discard(context.Background())

	b := &mock.TestBackend{}
	admin, err := security.GenerateKeyPair()
	So(err, ShouldBeNil)
	So(b.SetAdminPublicKey(ctx, admin.Public.Encode()), ShouldBeNil)

	r, err := relay.New(ctx, nil)
	So(err, ShouldBeNil)

	cfg := backend.DefaultConfig()
	cfg.Auth.CredentialSecret = "client test secret"
	cfg.Auth.AdminToken = adminToken
	cfg.RateLimit.AuthRequests = 1000

	app, err := backend.NewServer(ctx, b, r, &cfg)
	So(err, ShouldBeNil)

	return &fixture{server: httptest.NewServer(app), backend: b, admin: admin}
}

func (f *fixture) Close() { f.server.Close() }

func (f *fixture) register(username string) *Client {
	c := New(f.server.URL)
	account, err := c.Register(context.Background(), username, password)
	So(err, ShouldBeNil)
	So(account.Username, ShouldEqual, username)
	return c
}

func view(c *Client) *proto.UserView {
	v := c.Account().UserView
	return &v
}

func TestClient(t *testing.T) {
	Convey("Register unlocks the account", t, func() {
		f := newFixture()
		defer f.Close()
		ctx := context.Background()

		alice := f.register("alice")
		So(alice.Account(), ShouldNotBeNil)

		users, err := alice.Users(ctx)
		So(err, ShouldBeNil)
		So(len(users), ShouldEqual, 1)

		Convey("and login with the same password reopens the vault", func() {
			again := New(f.server.URL)
			account, err := again.Login(ctx, "alice", password)
			So(err, ShouldBeNil)
			So(account.PublicKey, ShouldEqual, alice.Account().PublicKey)
		})

		Convey("wrong passwords are refused by the server", func() {
			_, err := New(f.server.URL).Login(ctx, "alice", "Wr0ng&pass")
			So(IsStatus(err, http.StatusUnauthorized), ShouldBeTrue)
		})

		Convey("Close forgets the session", func() {
			alice.Close()
			So(alice.Account(), ShouldBeNil)
			_, err := alice.Users(ctx)
			So(err, ShouldEqual, ErrNotLoggedIn)
		})
	})

	Convey("A vault sealed under another password does not open", t, func() {
		f := newFixture()
		defer f.Close()
		ctx := context.Background()

		kp, err := security.GenerateKeyPair()
		So(err, ShouldBeNil)
		blob, err := security.SealSecretKey(security.CurrentKDFParams(), &kp.Secret, "S0me&other", rand.Reader)
		So(err, ShouldBeNil)
		doc, err := blob.Document()
		So(err, ShouldBeNil)

		raw := New(f.server.URL)
		So(raw.t.do(ctx, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"username": "mallory", "password": password,
			"publicKey": kp.Public.Encode(), "encryptedPrivateKey": doc,
		}, nil), ShouldBeNil)

		_, err = New(f.server.URL).Login(ctx, "mallory", password)
		So(errors.Is(err, security.ErrUndecryptable), ShouldBeTrue)
	})
}

func TestMessaging(t *testing.T) {
	Convey("Messages round trip between two clients", t, func() {
		f := newFixture()
		defer f.Close()
		ctx := context.Background()

		alice := f.register("alice")
		bob := f.register("bob")

		sent, err := alice.Send(ctx, view(bob), "hello")
		So(err, ShouldBeNil)
		So(sent.Body, ShouldEqual, "hello")

		Convey("the recipient decrypts history", func() {
			msgs, err := bob.History(ctx, view(alice).ID)
			So(err, ShouldBeNil)
			So(len(msgs), ShouldEqual, 1)
			So(msgs[0].Body, ShouldEqual, "hello")
			So(msgs[0].Decrypted, ShouldBeTrue)
			So(msgs[0].SenderUsername, ShouldEqual, "alice")
		})

		Convey("the sender reads its own message from cache or sender copy", func() {
			msgs, err := alice.History(ctx, view(bob).ID)
			So(err, ShouldBeNil)
			So(msgs[0].Body, ShouldEqual, "hello")

			fresh := New(f.server.URL)
			_, err = fresh.Login(ctx, "alice", password)
			So(err, ShouldBeNil)
			msgs, err = fresh.History(ctx, view(bob).ID)
			So(err, ShouldBeNil)
			So(msgs[0].Body, ShouldEqual, "hello")
			So(msgs[0].Decrypted, ShouldBeTrue)
		})

		Convey("a third party sees nothing and the admin sees everything", func() {
			carol := f.register("carol")
			msgs, err := carol.History(ctx, view(alice).ID)
			So(err, ShouldBeNil)
			So(msgs, ShouldBeEmpty)

			admin := NewAdmin(f.server.URL, adminToken, &f.admin.Secret)
			defer admin.Close()
			all, err := admin.Messages(ctx)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 1)
			So(all[0].Body, ShouldEqual, "hello")
			So(all[0].RecipientUsername, ShouldEqual, "bob")

			_, err = NewAdmin(f.server.URL, "wrong", &f.admin.Secret).Messages(ctx)
			So(IsStatus(err, http.StatusUnauthorized), ShouldBeTrue)
		})

		Convey("a damaged ciphertext shows the placeholder", func() {
			all, err := f.backend.AllMessages(ctx)
			So(err, ShouldBeNil)
			env := all[0]
			env.PayloadRecipient = env.PayloadAdmin
			msg := bob.decrypt(proto.NewEnvelopeView(&env, view(alice), view(bob)))
			So(msg.Decrypted, ShouldBeFalse)
			So(msg.Body, ShouldEqual, Unavailable)
		})
	})

	Convey("Sending needs the admin key", t, func() {
		f := newFixture()
		defer f.Close()
		ctx := context.Background()

		f.backend.SetAdminPublicKey(ctx, "")
		alice := f.register("alice")
		bob := f.register("bob")
		_, err := alice.Send(ctx, view(bob), "hello")
		So(err, ShouldEqual, ErrNoAdminKey)
	})
}

func TestStream(t *testing.T) {
	Convey("Live messages arrive once", t, func() {
		f := newFixture()
		defer f.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		alice := f.register("alice")
		bob := f.register("bob")

		stream, err := bob.Connect(ctx)
		So(err, ShouldBeNil)
		defer stream.Close()

		_, err = alice.Send(ctx, view(bob), "first")
		So(err, ShouldBeNil)

		// History also returns the first message, so the stream skips it.
		msgs, err := bob.History(ctx, view(alice).ID)
		So(err, ShouldBeNil)
		So(len(msgs), ShouldEqual, 1)

		_, err = alice.Send(ctx, view(bob), "second")
		So(err, ShouldBeNil)

		msg, err := stream.Next(ctx)
		So(err, ShouldBeNil)
		So(msg.Body, ShouldEqual, "second")

		Convey("the admin stream sees every message", func() {
			admin := NewAdmin(f.server.URL, adminToken, &f.admin.Secret)
			defer admin.Close()
			adminStream, err := admin.Connect(ctx)
			So(err, ShouldBeNil)
			defer adminStream.Close()

			_, err = bob.Send(ctx, view(alice), "third")
			So(err, ShouldBeNil)
			msg, err := adminStream.Next(ctx)
			So(err, ShouldBeNil)
			So(msg.Body, ShouldEqual, "third")
			So(msg.SenderUsername, ShouldEqual, "bob")
		})

		Convey("a cancelled context stops Next", func() {
			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := stream.Next(short)
			So(err, ShouldEqual, context.DeadlineExceeded)
		})
	})

	Convey("A sender's own message is not returned again by a concurrent Next", t, func() {
		f := newFixture()
		defer f.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		alice := f.register("alice")
		bob := f.register("bob")

		stream, err := alice.Connect(ctx)
		So(err, ShouldBeNil)
		defer stream.Close()

		type result struct {
			msg *Message
			err error
		}
		next := make(chan result, 1)
		go func() {
			msg, err := stream.Next(ctx)
			next <- result{msg, err}
		}()

		for i := 0; i < 5; i++ {
			_, err = alice.Send(ctx, view(bob), "mine")
			So(err, ShouldBeNil)
		}
		_, err = bob.Send(ctx, view(alice), "theirs")
		So(err, ShouldBeNil)

		r := <-next
		So(r.err, ShouldBeNil)
		So(r.msg.Body, ShouldEqual, "theirs")
	})

	Convey("A bad admin token is refused at join", t, func() {
		f := newFixture()
		defer f.Close()

		_, err := NewAdmin(f.server.URL, "wrong", &f.admin.Secret).Connect(context.Background())
		var joinErr *JoinError
		So(errors.As(err, &joinErr), ShouldBeTrue)
		So(joinErr.Message, ShouldEqual, "Invalid credentials.")
	})
}
