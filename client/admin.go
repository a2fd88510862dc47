package client

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/security"
)

// Admin reads the escrow copy of every message. It authenticates with the
// admin API token and decrypts with the admin secret key, which never
// leaves this process.
type Admin struct {
	t     *transport
	token string

	m      sync.Mutex
	secret *security.SecretKey
	seen   *Deduper
}

func NewAdmin(baseURL, token string, secret *security.SecretKey, opts ...Option) *Admin {
	own := *secret
	return &Admin{
		t:      &transport{baseURL: strings.TrimSuffix(baseURL, "/"), options: newOptions(opts)},
		token:  token,
		secret: &own,
		seen:   NewDeduper(),
	}
}

// Messages returns every stored message in send order, decrypted from the
// admin copy.
func (a *Admin) Messages(ctx context.Context) ([]*Message, error) {
	var reply struct {
		Messages []*proto.EnvelopeView `json:"messages"`
	}
	if err := a.t.do(ctx, http.MethodGet, "/api/v1/admin/messages", a.token, nil, &reply); err != nil {
		return nil, err
	}

	msgs := make([]*Message, len(reply.Messages))
	for i, view := range reply.Messages {
		a.seen.Observe(view.ID)
		msgs[i] = a.decrypt(view)
	}
	return msgs, nil
}

// Connect joins the admin channel, which receives every new message.
func (a *Admin) Connect(ctx context.Context) (*Stream, error) {
	s, _, err := dialStream(ctx, a.t, proto.AdminJoinType, a.token, a.decrypt, a.seen, nil)
	return s, err
}

func (a *Admin) decrypt(view *proto.EnvelopeView) *Message {
	msg := newMessage(view)

	a.m.Lock()
	defer a.m.Unlock()
	if a.secret == nil {
		return msg
	}
	if plaintext, ok := security.Decrypt(view.PayloadAdmin, view.Nonce, view.SenderPublicKey, a.secret); ok {
		msg.Body = plaintext
		msg.Decrypted = true
	}
	return msg
}

// Close wipes the admin secret key.
func (a *Admin) Close() {
	a.m.Lock()
	defer a.m.Unlock()
	if a.secret != nil {
		a.secret.Wipe()
		a.secret = nil
	}
}
