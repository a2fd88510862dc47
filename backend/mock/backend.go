package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

// TestBackend is an in-memory proto.Backend. The zero value is ready to
// use.
type TestBackend struct {
	sync.Mutex
	users          map[snowflake.Snowflake]*proto.User
	usernames      map[string]snowflake.Snowflake
	messages       []proto.MessageEnvelope
	adminPublicKey string
	version        string

	// PingErr, if set, is returned by Ping.
	PingErr error

	// CreateMessageErr, if set, is returned by CreateMessage and nothing
	// is stored.
	CreateMessageErr error
}

func (b *TestBackend) Close() {}

func (b *TestBackend) Version() string { return b.version }

func (b *TestBackend) Ping(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	return b.PingErr
}

func (b *TestBackend) CreateUser(ctx context.Context, nu *proto.NewUser) (*proto.User, error) {
	b.Lock()
	defer b.Unlock()

	if b.users == nil {
		b.users = map[snowflake.Snowflake]*proto.User{}
		b.usernames = map[string]snowflake.Snowflake{}
	}
	if _, ok := b.usernames[nu.Username]; ok {
		return nil, proto.ErrUsernameTaken
	}

	id, err := snowflake.New()
	if err != nil {
		return nil, err
	}
	user := &proto.User{
		ID:                  id,
		Username:            nu.Username,
		PublicKey:           nu.PublicKey,
		EncryptedPrivateKey: nu.EncryptedPrivateKey,
		PasswordHash:        nu.PasswordHash,
		Created:             time.Now(),
	}
	b.users[id] = user
	b.usernames[user.Username] = id

	copied := *user
	return &copied, nil
}

func (b *TestBackend) GetUser(ctx context.Context, id snowflake.Snowflake) (*proto.User, error) {
	b.Lock()
	defer b.Unlock()

	user, ok := b.users[id]
	if !ok {
		return nil, proto.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (b *TestBackend) GetUserByName(ctx context.Context, username string) (*proto.User, error) {
	b.Lock()
	id, ok := b.usernames[username]
	b.Unlock()

	if !ok {
		return nil, proto.ErrUserNotFound
	}
	return b.GetUser(ctx, id)
}

func (b *TestBackend) ListUsers(ctx context.Context) ([]proto.UserView, error) {
	b.Lock()
	defer b.Unlock()

	views := make([]proto.UserView, 0, len(b.users))
	for _, user := range b.users {
		views = append(views, user.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Username < views[j].Username })
	return views, nil
}

func (b *TestBackend) CreateMessage(
	ctx context.Context, senderID snowflake.Snowflake, msg *proto.OutboundMessage) (*proto.MessageEnvelope, error) {

	b.Lock()
	defer b.Unlock()

	if b.CreateMessageErr != nil {
		return nil, b.CreateMessageErr
	}
	if _, ok := b.users[senderID]; !ok {
		return nil, proto.ErrUserNotFound
	}
	if _, ok := b.users[msg.RecipientID]; !ok {
		return nil, proto.ErrUserNotFound
	}

	id, err := snowflake.New()
	if err != nil {
		return nil, err
	}
	env := proto.MessageEnvelope{
		ID:               id,
		SenderID:         senderID,
		RecipientID:      msg.RecipientID,
		PayloadRecipient: msg.PayloadRecipient,
		PayloadAdmin:     msg.PayloadAdmin,
		PayloadSender:    msg.PayloadSender,
		Nonce:            msg.Nonce,
		SentAt:           time.Now().UTC(),
	}
	b.messages = append(b.messages, env)
	return &env, nil
}

func (b *TestBackend) GetMessage(ctx context.Context, id snowflake.Snowflake) (*proto.MessageEnvelope, error) {
	b.Lock()
	defer b.Unlock()

	for i := range b.messages {
		if b.messages[i].ID == id {
			env := b.messages[i]
			return &env, nil
		}
	}
	return nil, proto.ErrMessageNotFound
}

func (b *TestBackend) MessagesBetween(ctx context.Context, a, c snowflake.Snowflake) ([]proto.MessageEnvelope, error) {
	b.Lock()
	defer b.Unlock()

	msgs := []proto.MessageEnvelope{}
	for _, msg := range b.messages {
		if (msg.SenderID == a && msg.RecipientID == c) || (msg.SenderID == c && msg.RecipientID == a) {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (b *TestBackend) AllMessages(ctx context.Context) ([]proto.MessageEnvelope, error) {
	b.Lock()
	defer b.Unlock()

	msgs := make([]proto.MessageEnvelope, len(b.messages))
	copy(msgs, b.messages)
	return msgs, nil
}

func (b *TestBackend) AdminPublicKey(ctx context.Context) (string, error) {
	b.Lock()
	defer b.Unlock()

	if b.adminPublicKey == "" {
		return "", proto.ErrAdminConfigNotFound
	}
	return b.adminPublicKey, nil
}

func (b *TestBackend) SetAdminPublicKey(ctx context.Context, publicKey string) error {
	b.Lock()
	defer b.Unlock()

	b.adminPublicKey = publicKey
	return nil
}
