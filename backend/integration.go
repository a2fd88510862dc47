package backend

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/security"
	"github.com/rutishh0/testingAegis/proto/snowflake"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/smartystreets/goconvey/convey/reporting"
)

const (
	testAdminToken = "integration-admin-token"
	testPassword   = "Tr0ub4dor&3"
)

type testSuite func(*serverUnderTest)

type serverUnderTest struct {
	backend proto.Backend
	app     *Server
	relay   *relay.Relay
	server  *httptest.Server
	admin   *security.KeyPair
	users   map[string]*testUser
}

type testUser struct {
	ID       string
	Username string
	Password string
	Token    string
	Keys     *security.KeyPair
}

func (s *serverUnderTest) Close() {
	s.server.CloseClientConnections()
	s.server.Close()
	s.relay.Close()
	s.backend.Close()
}

func (s *serverUnderTest) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		So(err, ShouldBeNil)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	So(err, ShouldBeNil)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()

	var result map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	So(err, ShouldBeNil)
	if len(data) > 0 {
		So(json.Unmarshal(data, &result), ShouldBeNil)
	}
	return resp.StatusCode, result
}

func (s *serverUnderTest) registerRequest(username, password string) (map[string]string, *security.KeyPair) {
	kp, err := security.GenerateKeyPair()
	So(err, ShouldBeNil)
	blob, err := security.SealSecretKey(security.CurrentKDFParams(), &kp.Secret, password, rand.Reader)
	So(err, ShouldBeNil)
	doc, err := blob.Document()
	So(err, ShouldBeNil)
	return map[string]string{
		"username":            username,
		"password":            password,
		"publicKey":           kp.Public.Encode(),
		"encryptedPrivateKey": doc,
	}, kp
}

// User registers and logs in username the first time it is asked for.
func (s *serverUnderTest) User(username string) *testUser {
	if user, ok := s.users[username]; ok {
		return user
	}

	body, kp := s.registerRequest(username, testPassword)
	status, reply := s.do("POST", "/api/v1/auth/register", "", body)
	So(status, ShouldEqual, http.StatusCreated)

	status, login := s.do("POST", "/api/v1/auth/login", "", map[string]string{
		"username": username, "password": testPassword,
	})
	So(status, ShouldEqual, http.StatusOK)

	user := &testUser{
		ID:       reply["userId"].(string),
		Username: username,
		Password: testPassword,
		Token:    login["token"].(string),
		Keys:     kp,
	}
	s.users[username] = user
	return user
}

func (s *serverUnderTest) outbound(from, to *testUser, plaintext string) *proto.OutboundMessage {
	var recipientID snowflake.Snowflake
	So(recipientID.FromString(to.ID), ShouldBeNil)
	payload, err := security.Encryptor{}.EncryptWithSenderCopy(plaintext, from.Keys, &to.Keys.Public, &s.admin.Public)
	So(err, ShouldBeNil)
	return proto.OutboundFromPayload(recipientID, payload)
}

func (s *serverUnderTest) Send(from, to *testUser, plaintext string) map[string]interface{} {
	status, reply := s.do("POST", "/api/v1/messages", from.Token, s.outbound(from, to, plaintext))
	So(status, ShouldEqual, http.StatusCreated)
	return reply
}

func (s *serverUnderTest) Connect() *testConn {
	url := strings.Replace(s.server.URL, "http:", "ws:", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil && resp != nil {
		body, _ := io.ReadAll(resp.Body)
		So(string(body), ShouldEqual, "")
	}
	So(err, ShouldBeNil)
	return &testConn{Conn: conn}
}

type testConn struct {
	*websocket.Conn
	debugOn bool
}

func (tc *testConn) send(id, cmdType, data string, args ...interface{}) {
	if len(args) > 0 {
		data = fmt.Sprintf(data, args...)
	}
	var msg string
	if data == "" {
		msg = fmt.Sprintf(`{"id":"%s","type":"%s"}`, id, cmdType)
	} else {
		msg = fmt.Sprintf(`{"id":"%s","type":"%s","data":%s}`, id, cmdType, data)
	}
	if tc.debugOn {
		fmt.Printf("sent %s\n", msg)
	}
	So(tc.Conn.WriteMessage(websocket.TextMessage, []byte(msg)), ShouldBeNil)
}

func (tc *testConn) readPacket() *proto.Packet {
	tc.Conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := tc.Conn.ReadMessage()
	So(err, ShouldBeNil)
	So(msgType, ShouldEqual, websocket.TextMessage)

	if tc.debugOn {
		fmt.Printf("%s received %s\n", tc.LocalAddr(), string(data))
	}
	var packet proto.Packet
	So(json.Unmarshal(data, &packet), ShouldBeNil)
	return &packet
}

func (tc *testConn) expect(id, cmdType, data string, args ...interface{}) map[string]interface{} {
	if len(args) > 0 {
		data = fmt.Sprintf(data, args...)
	}

	var expected map[string]interface{}
	So(json.Unmarshal([]byte(data), &expected), ShouldBeNil)

	packet := tc.readPacket()
	So(packet.Error, ShouldEqual, "")
	So(string(packet.Type), ShouldEqual, cmdType)
	So(packet.ID, ShouldEqual, id)

	var actual map[string]interface{}
	So(json.Unmarshal([]byte(packet.Data), &actual), ShouldBeNil)

	var result string
	captures := map[string]interface{}{}
	if msg := matchPayload(captures, "", actual, expected); msg != "" {
		view := reporting.FailureView{
			Message: fmt.Sprintf(
				"Expected: %s\nActual:   %s\nReason:   (%s) %s",
				data, string(packet.Data), packet.Type, msg),
			Expected: data,
			Actual:   string(packet.Data),
		}
		r, _ := json.Marshal(view)
		result = string(r)
	}
	So(nil, func(interface{}, ...interface{}) string { return result })

	return captures
}

func matchField(captures map[string]interface{}, name string, actual, expected interface{}) string {
	if evStr, ok := expected.(string); ok && evStr == "*" {
		captures[name] = actual
		return ""
	}
	if subExp, ok := expected.(map[string]interface{}); ok {
		subAct, ok := actual.(map[string]interface{})
		if !ok {
			return fmt.Sprintf("%s: expected object, got %T", name, actual)
		}
		return matchPayload(captures, name+".", subAct, subExp)
	}
	if msg := ShouldEqual(actual, expected); msg != "" {
		return fmt.Sprintf("%s: %s", name, msg)
	}
	return ""
}

func matchPayload(
	captures map[string]interface{}, prefix string, actual, expected map[string]interface{}) string {

	for name, expectedValue := range expected {
		actualValue, ok := actual[name]
		if !ok {
			return fmt.Sprintf("expected field %s=%#v", name, expectedValue)
		}
		if msg := matchField(captures, prefix+name, actualValue, expectedValue); msg != "" {
			return msg
		}
	}

	for name, actualValue := range actual {
		if _, ok := expected[name]; !ok && actualValue != nil {
			return fmt.Sprintf("unexpected field %s%s=%#v", prefix, name, actualValue)
		}
	}

	return ""
}

func (tc *testConn) joinAs(user *testUser) {
	tc.send("1", "auth:join", `{"token":"%s"}`, user.Token)
	tc.expect("1", "auth:ack", `{"status":"joined","userId":"%s"}`, user.ID)
}

func (tc *testConn) joinAdmin() {
	tc.send("1", "admin:join", `"%s"`, testAdminToken)
	tc.expect("1", "admin:ack", `{"status":"joined"}`)
}

// expectMessage reads a message:new event and returns the plaintext the
// holder of secret can recover from the given payload field.
func (tc *testConn) expectMessage(field string, peerPublic string, secret *security.SecretKey) (map[string]interface{}, string) {
	packet := tc.readPacket()
	So(packet.Type, ShouldEqual, proto.MessageNewType)

	var event map[string]interface{}
	So(json.Unmarshal(packet.Data, &event), ShouldBeNil)
	plaintext, ok := security.Decrypt(event[field].(string), event["nonce"].(string), peerPublic, secret)
	So(ok, ShouldBeTrue)
	return event, plaintext
}

func (tc *testConn) Close() {
	tc.Conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "normal closure"))
	tc.Conn.Close()
}

func newServerUnderTest(factory proto.BackendFactory) *serverUnderTest {
	ctx := logging.Discard(context.Background())

	backend, err := factory()
	So(err, ShouldBeNil)

	admin, err := security.GenerateKeyPair()
	So(err, ShouldBeNil)

	r, err := relay.New(ctx, nil)
	So(err, ShouldBeNil)

	cfg := DefaultConfig()
	cfg.Auth.CredentialSecret = "integration credential secret"
	cfg.Auth.AdminToken = testAdminToken
	cfg.RateLimit.AuthRequests = 1000

	app, err := NewServer(ctx, backend, r, &cfg)
	So(err, ShouldBeNil)

	return &serverUnderTest{
		backend: backend,
		app:     app,
		relay:   r,
		server:  httptest.NewServer(app),
		admin:   admin,
		users:   map[string]*testUser{},
	}
}

// IntegrationTest runs the HTTP and websocket suite. Every leaf of every
// test gets a fresh backend from factory.
func IntegrationTest(t *testing.T, factory proto.BackendFactory) {
	save := security.TestMode
	defer func() { security.TestMode = save }()
	security.TestMode = true

	runTest := func(name string, test testSuite) {
		Convey(name, t, func() {
			s := newServerUnderTest(factory)
			defer s.Close()
			test(s)
		})
	}

	runTest("Registration", testRegistration)
	runTest("Login", testLogin)
	runTest("Public config", testPublicConfig)
	runTest("Directory", testDirectory)
	runTest("Messaging", testMessaging)
	runTest("Admin history", testAdminHistory)
	runTest("Realtime relay", testRealtime)
	runTest("Join errors", testJoinErrors)
	runTest("Health", testHealth)
}

func testRegistration(s *serverUnderTest) {
	Convey("Registration stores the account and returns it", func() {
		body, kp := s.registerRequest("  alice  ", testPassword)
		status, reply := s.do("POST", "/api/v1/auth/register", "", body)
		So(status, ShouldEqual, http.StatusCreated)
		So(reply["username"], ShouldEqual, "alice")
		So(reply["publicKey"], ShouldEqual, kp.Public.Encode())
		So(reply["encryptedPrivateKey"], ShouldEqual, body["encryptedPrivateKey"])
		So(reply["userId"], ShouldNotBeBlank)
		So(reply, ShouldNotContainKey, "passwordHash")

		Convey("Duplicate usernames are refused", func() {
			body, _ := s.registerRequest("alice", testPassword)
			status, reply := s.do("POST", "/api/v1/auth/register", "", body)
			So(status, ShouldEqual, http.StatusConflict)
			So(reply["error"], ShouldEqual, true)
			So(reply["message"], ShouldEqual, "Username already exists.")
		})
	})

	Convey("Weak passwords are refused", func() {
		body, _ := s.registerRequest("bob", "password")
		status, reply := s.do("POST", "/api/v1/auth/register", "", body)
		So(status, ShouldEqual, http.StatusBadRequest)
		So(reply["error"], ShouldEqual, true)
	})

	Convey("Malformed keys are refused", func() {
		body, _ := s.registerRequest("carol", testPassword)
		body["publicKey"] = security.EncodeBase64([]byte("short"))
		status, _ := s.do("POST", "/api/v1/auth/register", "", body)
		So(status, ShouldEqual, http.StatusBadRequest)

		body, _ = s.registerRequest("carol", testPassword)
		body["encryptedPrivateKey"] = "not a vault"
		status, _ = s.do("POST", "/api/v1/auth/register", "", body)
		So(status, ShouldEqual, http.StatusBadRequest)
	})

	Convey("Blank usernames are refused", func() {
		body, _ := s.registerRequest("   ", testPassword)
		status, _ := s.do("POST", "/api/v1/auth/register", "", body)
		So(status, ShouldEqual, http.StatusBadRequest)
	})
}

func testLogin(s *serverUnderTest) {
	alice := s.User("alice")

	Convey("Login returns a credential and the vault", func() {
		status, reply := s.do("POST", "/api/v1/auth/login", "", map[string]string{
			"username": " alice ", "password": testPassword,
		})
		So(status, ShouldEqual, http.StatusOK)
		So(reply["token"], ShouldNotBeBlank)
		So(reply["userId"], ShouldEqual, alice.ID)
		So(reply["publicKey"], ShouldEqual, alice.Keys.Public.Encode())

		blob, err := security.ParseVaultDocument(reply["encryptedPrivateKey"].(string))
		So(err, ShouldBeNil)
		sk, ok := security.UnsealSecretKey(security.CurrentKDFParams(), blob, testPassword)
		So(ok, ShouldBeTrue)
		So(*sk, ShouldResemble, alice.Keys.Secret)
	})

	Convey("Wrong passwords and unknown users look the same", func() {
		status, reply := s.do("POST", "/api/v1/auth/login", "", map[string]string{
			"username": "alice", "password": "Wr0ng&password",
		})
		So(status, ShouldEqual, http.StatusUnauthorized)
		So(reply["message"], ShouldEqual, "Invalid credentials.")

		status, reply = s.do("POST", "/api/v1/auth/login", "", map[string]string{
			"username": "nobody", "password": testPassword,
		})
		So(status, ShouldEqual, http.StatusUnauthorized)
		So(reply["message"], ShouldEqual, "Invalid credentials.")
	})

	Convey("Me requires a valid credential", func() {
		status, reply := s.do("GET", "/api/v1/auth/me", alice.Token, nil)
		So(status, ShouldEqual, http.StatusOK)
		So(reply["username"], ShouldEqual, "alice")
		So(reply["encryptedPrivateKey"], ShouldNotBeBlank)

		status, _ = s.do("GET", "/api/v1/auth/me", "", nil)
		So(status, ShouldEqual, http.StatusUnauthorized)

		status, _ = s.do("GET", "/api/v1/auth/me", alice.Token+"x", nil)
		So(status, ShouldEqual, http.StatusUnauthorized)

		status, _ = s.do("GET", "/api/v1/auth/me", testAdminToken, nil)
		So(status, ShouldEqual, http.StatusUnauthorized)
	})

	Convey("A signed credential for an unknown user is refused", func() {
		token, err := s.app.auth.Issue(snowflake.NewFromTime(time.Now()).String(), time.Hour)
		So(err, ShouldBeNil)

		status, reply := s.do("GET", "/api/v1/auth/me", token, nil)
		So(status, ShouldEqual, http.StatusUnauthorized)
		So(reply["message"], ShouldEqual, "Unauthorized.")

		conn := s.Connect()
		defer conn.Close()
		conn.send("1", "auth:join", `{"token":"%s"}`, token)
		conn.expect("1", "auth:error", `{"message":"Authentication failed."}`)
	})
}

func testPublicConfig(s *serverUnderTest) {
	status, reply := s.do("GET", "/api/v1/config", "", nil)
	So(status, ShouldEqual, http.StatusNotFound)
	So(reply["message"], ShouldEqual, "Admin configuration not found.")

	So(s.backend.SetAdminPublicKey(context.Background(), s.admin.Public.Encode()), ShouldBeNil)
	status, reply = s.do("GET", "/api/v1/config", "", nil)
	So(status, ShouldEqual, http.StatusOK)
	So(reply["adminPublicKey"], ShouldEqual, s.admin.Public.Encode())
}

func testDirectory(s *serverUnderTest) {
	carol := s.User("carol")
	s.User("alice")
	s.User("bob")

	status, reply := s.do("GET", "/api/v1/users", carol.Token, nil)
	So(status, ShouldEqual, http.StatusOK)

	users := reply["users"].([]interface{})
	So(len(users), ShouldEqual, 3)
	var names []string
	for _, u := range users {
		entry := u.(map[string]interface{})
		So(entry, ShouldContainKey, "publicKey")
		So(entry, ShouldNotContainKey, "encryptedPrivateKey")
		names = append(names, entry["username"].(string))
	}
	So(names, ShouldResemble, []string{"alice", "bob", "carol"})

	status, _ = s.do("GET", "/api/v1/users", "", nil)
	So(status, ShouldEqual, http.StatusUnauthorized)
}

func testMessaging(s *serverUnderTest) {
	alice := s.User("alice")
	bob := s.User("bob")

	Convey("A sent message is stored once and readable by both parties and the admin", func() {
		reply := s.Send(alice, bob, "hello")
		So(reply["senderId"], ShouldEqual, alice.ID)
		So(reply["recipientId"], ShouldEqual, bob.ID)
		So(reply["senderUsername"], ShouldEqual, "alice")
		So(reply["recipientPublicKey"], ShouldEqual, bob.Keys.Public.Encode())
		So(reply["sentAt"], ShouldNotBeBlank)

		nonce := reply["nonce"].(string)
		plaintext, ok := security.Decrypt(reply["payloadRecipient"].(string), nonce, alice.Keys.Public.Encode(), &bob.Keys.Secret)
		So(ok, ShouldBeTrue)
		So(plaintext, ShouldEqual, "hello")

		plaintext, ok = security.Decrypt(reply["payloadAdmin"].(string), nonce, alice.Keys.Public.Encode(), &s.admin.Secret)
		So(ok, ShouldBeTrue)
		So(plaintext, ShouldEqual, "hello")

		plaintext, ok = security.Decrypt(reply["payloadSender"].(string), nonce, alice.Keys.Public.Encode(), &alice.Keys.Secret)
		So(ok, ShouldBeTrue)
		So(plaintext, ShouldEqual, "hello")

		_, ok = security.Decrypt(reply["payloadRecipient"].(string), nonce, alice.Keys.Public.Encode(), &alice.Keys.Secret)
		So(ok, ShouldBeFalse)
	})

	Convey("History is ascending and the same from both sides", func() {
		s.Send(alice, bob, "one")
		s.Send(bob, alice, "two")
		s.Send(alice, bob, "three")
		carol := s.User("carol")
		s.Send(carol, alice, "elsewhere")

		status, fromAlice := s.do("GET", "/api/v1/messages/"+bob.ID, alice.Token, nil)
		So(status, ShouldEqual, http.StatusOK)
		status, fromBob := s.do("GET", "/api/v1/messages/"+alice.ID, bob.Token, nil)
		So(status, ShouldEqual, http.StatusOK)

		msgs := fromAlice["messages"].([]interface{})
		So(len(msgs), ShouldEqual, 3)
		So(fromBob["messages"], ShouldResemble, fromAlice["messages"])

		want := []string{"one", "two", "three"}
		for i, m := range msgs {
			msg := m.(map[string]interface{})
			plaintext, ok := security.Decrypt(
				msg["payloadAdmin"].(string), msg["nonce"].(string), msg["senderPublicKey"].(string), &s.admin.Secret)
			So(ok, ShouldBeTrue)
			So(plaintext, ShouldEqual, want[i])
		}
	})

	Convey("Malformed sends are refused", func() {
		status, reply := s.do("POST", "/api/v1/messages", alice.Token, s.outbound(alice, alice, "me"))
		So(status, ShouldEqual, http.StatusBadRequest)
		So(reply["message"], ShouldEqual, "Cannot send messages to yourself.")

		ghost := &testUser{ID: snowflake.NewFromTime(time.Now()).String(), Keys: bob.Keys}
		status, reply = s.do("POST", "/api/v1/messages", alice.Token, s.outbound(alice, ghost, "boo"))
		So(status, ShouldEqual, http.StatusNotFound)
		So(reply["message"], ShouldEqual, "Recipient not found.")

		msg := s.outbound(alice, bob, "x")
		msg.Nonce = security.EncodeBase64([]byte("short"))
		status, _ = s.do("POST", "/api/v1/messages", alice.Token, msg)
		So(status, ShouldEqual, http.StatusBadRequest)

		status, _ = s.do("POST", "/api/v1/messages", "", s.outbound(alice, bob, "x"))
		So(status, ShouldEqual, http.StatusUnauthorized)

		all, err := s.backend.AllMessages(context.Background())
		So(err, ShouldBeNil)
		So(all, ShouldBeEmpty)
	})

	Convey("History rejects bad targets", func() {
		status, reply := s.do("GET", "/api/v1/messages/not-an-id!", alice.Token, nil)
		So(status, ShouldEqual, http.StatusBadRequest)
		So(reply["message"], ShouldEqual, "Invalid target user id.")

		status, reply = s.do("GET", "/api/v1/messages/"+snowflake.NewFromTime(time.Now()).String(), alice.Token, nil)
		So(status, ShouldEqual, http.StatusNotFound)
		So(reply["message"], ShouldEqual, "Target user not found.")
	})
}

func testAdminHistory(s *serverUnderTest) {
	alice := s.User("alice")
	bob := s.User("bob")
	s.Send(alice, bob, "first")
	s.Send(bob, alice, "second")

	status, reply := s.do("GET", "/api/v1/admin/messages", "", nil)
	So(status, ShouldEqual, http.StatusUnauthorized)
	So(reply["message"], ShouldEqual, "Admin authentication required.")

	status, reply = s.do("GET", "/api/v1/admin/messages", "wrong", nil)
	So(status, ShouldEqual, http.StatusUnauthorized)
	So(reply["message"], ShouldEqual, "Invalid admin credentials.")

	status, _ = s.do("GET", "/api/v1/admin/messages", alice.Token, nil)
	So(status, ShouldEqual, http.StatusUnauthorized)

	status, reply = s.do("GET", "/api/v1/admin/messages", testAdminToken, nil)
	So(status, ShouldEqual, http.StatusOK)
	msgs := reply["messages"].([]interface{})
	So(len(msgs), ShouldEqual, 2)

	want := []struct{ sender, recipient, text string }{
		{"alice", "bob", "first"},
		{"bob", "alice", "second"},
	}
	for i, m := range msgs {
		msg := m.(map[string]interface{})
		So(msg["senderUsername"], ShouldEqual, want[i].sender)
		So(msg["recipientUsername"], ShouldEqual, want[i].recipient)
		plaintext, ok := security.Decrypt(
			msg["payloadAdmin"].(string), msg["nonce"].(string), msg["senderPublicKey"].(string), &s.admin.Secret)
		So(ok, ShouldBeTrue)
		So(plaintext, ShouldEqual, want[i].text)
	}
}

func testRealtime(s *serverUnderTest) {
	alice := s.User("alice")
	bob := s.User("bob")
	carol := s.User("carol")

	bobConn := s.Connect()
	defer bobConn.Close()
	bobConn.joinAs(bob)

	aliceConn := s.Connect()
	defer aliceConn.Close()
	aliceConn.joinAs(alice)

	carolConn := s.Connect()
	defer carolConn.Close()
	carolConn.joinAs(carol)

	adminConn := s.Connect()
	defer adminConn.Close()
	adminConn.joinAdmin()

	So(s.relay.Listeners(relay.AdminChannel), ShouldEqual, 1)

	reply := s.Send(alice, bob, "over the wire")

	event, plaintext := bobConn.expectMessage("payloadRecipient", alice.Keys.Public.Encode(), &bob.Keys.Secret)
	So(plaintext, ShouldEqual, "over the wire")
	So(event["messageId"], ShouldEqual, reply["messageId"])

	_, plaintext = aliceConn.expectMessage("payloadSender", alice.Keys.Public.Encode(), &alice.Keys.Secret)
	So(plaintext, ShouldEqual, "over the wire")

	event, plaintext = adminConn.expectMessage("payloadAdmin", alice.Keys.Public.Encode(), &s.admin.Secret)
	So(plaintext, ShouldEqual, "over the wire")
	So(event["senderUsername"], ShouldEqual, "alice")

	// Carol is not a party; her next event must be her own message.
	s.Send(carol, alice, "ping")
	event, plaintext = carolConn.expectMessage("payloadSender", carol.Keys.Public.Encode(), &carol.Keys.Secret)
	So(plaintext, ShouldEqual, "ping")
	So(event["recipientId"], ShouldEqual, alice.ID)
}

func testJoinErrors(s *serverUnderTest) {
	alice := s.User("alice")
	conn := s.Connect()
	defer conn.Close()

	Convey("Missing and bad tokens are refused without closing", func() {
		conn.send("1", "auth:join", `{}`)
		conn.expect("1", "auth:error", `{"message":"Missing token."}`)

		conn.send("2", "auth:join", `"garbage"`)
		conn.expect("2", "auth:error", `{"message":"Authentication failed."}`)

		conn.send("3", "auth:join", `{"token":"%s"}`, testAdminToken)
		conn.expect("3", "auth:error", `{"message":"Authentication failed."}`)

		conn.send("4", "admin:join", `{"token":"%s"}`, alice.Token)
		conn.expect("4", "admin:error", `{"message":"Invalid credentials."}`)

		conn.send("5", "admin:join", `""`)
		conn.expect("5", "admin:error", `{"message":"Missing token."}`)

		conn.send("6", "message:send", `{}`)
		conn.expect("6", "session:error", `{"message":"unsupported packet type: message:send"}`)

		conn.joinAs(alice)
	})

	Convey("A connection joins at most once", func() {
		conn.joinAs(alice)
		conn.send("2", "admin:join", `"%s"`, testAdminToken)
		conn.expect("2", "admin:error", `{"message":"Already joined."}`)
		conn.send("3", "auth:join", `"%s"`, alice.Token)
		conn.expect("3", "auth:error", `{"message":"Already joined."}`)
		So(s.relay.Listeners(relay.AdminChannel), ShouldEqual, 0)
	})
}

func testHealth(s *serverUnderTest) {
	status, reply := s.do("GET", "/health", "", nil)
	So(status, ShouldEqual, http.StatusOK)
	So(reply["status"], ShouldEqual, "ok")
	So(reply["database"], ShouldEqual, "connected")
}
