// Package client is the user side of the messenger: it holds the unlocked
// keypair, encrypts outgoing messages to the recipient and the escrow
// admin, and decrypts history and live messages.
package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/security"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

// Unavailable replaces the body of any message this client cannot decrypt.
const Unavailable = "[content unavailable]"

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrNoAdminKey  = errors.New("admin public key not configured on server")
)

// Message is a decrypted envelope as presented to a reader.
type Message struct {
	ID                snowflake.Snowflake
	SenderID          snowflake.Snowflake
	RecipientID       snowflake.Snowflake
	SenderUsername    string
	RecipientUsername string
	SentAt            time.Time
	Body              string

	// Decrypted is false when Body is the Unavailable placeholder.
	Decrypted bool
}

func newMessage(view *proto.EnvelopeView) *Message {
	return &Message{
		ID:                view.ID,
		SenderID:          view.SenderID,
		RecipientID:       view.RecipientID,
		SenderUsername:    view.SenderUsername,
		RecipientUsername: view.RecipientUsername,
		SentAt:            view.SentAt,
		Body:              Unavailable,
	}
}

type Client struct {
	t *transport

	m           sync.Mutex
	token       string
	account     *proto.Account
	keys        *security.KeyPair
	adminPublic *security.PublicKey

	sent *SentCache
	seen *Deduper

	// sends counts Send calls between POST and marking the id seen.
	sendsMu  sync.Mutex
	sendDone *sync.Cond
	sends    int
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		t:    &transport{baseURL: strings.TrimSuffix(baseURL, "/"), options: newOptions(opts)},
		sent: NewSentCache(),
		seen: NewDeduper(),
	}
	c.sendDone = sync.NewCond(&c.sendsMu)
	return c
}

// Account returns the logged in account, or nil.
func (c *Client) Account() *proto.Account {
	c.m.Lock()
	defer c.m.Unlock()
	return c.account
}

func (c *Client) session() (string, *proto.Account, *security.KeyPair, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.token == "" || c.keys == nil {
		return "", nil, nil, ErrNotLoggedIn
	}
	return c.token, c.account, c.keys, nil
}

// Register creates an account with a fresh keypair sealed under password,
// then logs in with it.
func (c *Client) Register(ctx context.Context, username, password string) (*proto.Account, error) {
	if err := proto.CheckPasswordStrength(password); err != nil {
		return nil, err
	}

	kp, err := security.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	blob, err := c.t.vault.Seal(ctx, &kp.Secret, password)
	if err != nil {
		return nil, err
	}
	doc, err := blob.Document()
	if err != nil {
		return nil, err
	}

	var account proto.Account
	err = c.t.do(ctx, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username":            username,
		"password":            password,
		"publicKey":           kp.Public.Encode(),
		"encryptedPrivateKey": doc,
	}, &account)
	if err != nil {
		return nil, err
	}

	if _, err := c.Login(ctx, account.Username, password); err != nil {
		return nil, err
	}
	return &account, nil
}

// Login authenticates and unlocks the vault. A vault that does not open
// under password reports security.ErrUndecryptable.
func (c *Client) Login(ctx context.Context, username, password string) (*proto.Account, error) {
	var reply struct {
		Token string `json:"token"`
		proto.Account
	}
	err := c.t.do(ctx, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	}, &reply)
	if err != nil {
		return nil, err
	}

	public, err := security.DecodePublicKey(reply.PublicKey)
	if err != nil {
		return nil, err
	}
	blob, err := security.ParseVaultDocument(reply.EncryptedPrivateKey)
	if err != nil {
		return nil, err
	}
	secret, err := c.t.vault.Unseal(ctx, blob, password)
	if err != nil {
		return nil, err
	}

	adminPublic, err := c.fetchAdminKey(ctx)
	if err != nil && !errors.Is(err, ErrNoAdminKey) {
		secret.Wipe()
		return nil, err
	}

	c.m.Lock()
	if c.keys != nil {
		c.keys.Wipe()
	}
	c.token = reply.Token
	c.account = &reply.Account
	c.keys = &security.KeyPair{Public: *public, Secret: *secret}
	c.adminPublic = adminPublic
	c.m.Unlock()

	secret.Wipe()
	return &reply.Account, nil
}

func (c *Client) fetchAdminKey(ctx context.Context) (*security.PublicKey, error) {
	var reply struct {
		AdminPublicKey string `json:"adminPublicKey"`
	}
	if err := c.t.do(ctx, http.MethodGet, "/api/v1/config", "", nil, &reply); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, ErrNoAdminKey
		}
		return nil, err
	}
	return security.DecodePublicKey(reply.AdminPublicKey)
}

func (c *Client) Users(ctx context.Context) ([]proto.UserView, error) {
	token, _, _, err := c.session()
	if err != nil {
		return nil, err
	}
	var reply struct {
		Users []proto.UserView `json:"users"`
	}
	if err := c.t.do(ctx, http.MethodGet, "/api/v1/users", token, nil, &reply); err != nil {
		return nil, err
	}
	return reply.Users, nil
}

// Send encrypts plaintext for peer and the escrow admin, plus a copy for
// this account, and stores it.
func (c *Client) Send(ctx context.Context, peer *proto.UserView, plaintext string) (*Message, error) {
	token, _, keys, err := c.session()
	if err != nil {
		return nil, err
	}

	adminPublic := c.adminKey()
	if adminPublic == nil {
		if adminPublic, err = c.fetchAdminKey(ctx); err != nil {
			return nil, err
		}
		c.m.Lock()
		c.adminPublic = adminPublic
		c.m.Unlock()
	}

	peerPublic, err := security.DecodePublicKey(peer.PublicKey)
	if err != nil {
		return nil, err
	}

	payload, err := security.Encryptor{}.EncryptWithSenderCopy(plaintext, keys, peerPublic, adminPublic)
	if err != nil {
		return nil, err
	}

	c.sendsMu.Lock()
	c.sends++
	c.sendsMu.Unlock()
	defer func() {
		c.sendsMu.Lock()
		c.sends--
		c.sendsMu.Unlock()
		c.sendDone.Broadcast()
	}()

	var view proto.EnvelopeView
	if err := c.t.do(ctx, http.MethodPost, "/api/v1/messages", token, proto.OutboundFromPayload(peer.ID, payload), &view); err != nil {
		return nil, err
	}

	c.sent.Put(view.ID, plaintext)
	c.seen.Observe(view.ID)

	msg := newMessage(&view)
	msg.Body = plaintext
	msg.Decrypted = true
	return msg, nil
}

func (c *Client) adminKey() *security.PublicKey {
	c.m.Lock()
	defer c.m.Unlock()
	return c.adminPublic
}

// History returns the conversation with peer in send order and marks every
// message as seen.
func (c *Client) History(ctx context.Context, peerID snowflake.Snowflake) ([]*Message, error) {
	token, _, _, err := c.session()
	if err != nil {
		return nil, err
	}
	var reply struct {
		Messages []*proto.EnvelopeView `json:"messages"`
	}
	if err := c.t.do(ctx, http.MethodGet, "/api/v1/messages/"+peerID.String(), token, nil, &reply); err != nil {
		return nil, err
	}

	msgs := make([]*Message, len(reply.Messages))
	for i, view := range reply.Messages {
		c.seen.Observe(view.ID)
		msgs[i] = c.decrypt(view)
	}
	return msgs, nil
}

// Connect joins this account's realtime channel.
func (c *Client) Connect(ctx context.Context) (*Stream, error) {
	token, _, _, err := c.session()
	if err != nil {
		return nil, err
	}
	s, _, err := dialStream(ctx, c.t, proto.AuthJoinType, token, c.decrypt, c.seen, c.settle)
	return s, err
}

// settle holds back the echo of a message from this account until sends in
// progress have recorded their ids, so Send and a Stream never both return
// the same message.
func (c *Client) settle(view *proto.EnvelopeView) {
	c.m.Lock()
	own := c.account != nil && c.account.ID == view.SenderID
	c.m.Unlock()
	if !own {
		return
	}

	c.sendsMu.Lock()
	for c.sends > 0 {
		c.sendDone.Wait()
	}
	c.sendsMu.Unlock()
}

// decrypt opens the copy of view addressed to this account. Outbound
// messages come from the sent cache first, then the sender copy.
func (c *Client) decrypt(view *proto.EnvelopeView) *Message {
	msg := newMessage(view)

	c.m.Lock()
	defer c.m.Unlock()
	if c.keys == nil || c.account == nil {
		return msg
	}

	var (
		plaintext string
		ok        bool
	)
	switch c.account.ID {
	case view.RecipientID:
		plaintext, ok = security.Decrypt(view.PayloadRecipient, view.Nonce, view.SenderPublicKey, &c.keys.Secret)
	case view.SenderID:
		if plaintext, ok = c.sent.Get(view.ID); !ok && view.PayloadSender != "" {
			plaintext, ok = security.Decrypt(view.PayloadSender, view.Nonce, c.keys.Public.Encode(), &c.keys.Secret)
		}
	}
	if ok {
		msg.Body = plaintext
		msg.Decrypted = true
	}
	return msg
}

// Close forgets the credential and wipes the unlocked secret key.
func (c *Client) Close() {
	c.m.Lock()
	defer c.m.Unlock()
	if c.keys != nil {
		c.keys.Wipe()
		c.keys = nil
	}
	c.token = ""
	c.account = nil
	c.sent.Clear()
	c.seen.Reset()
}
