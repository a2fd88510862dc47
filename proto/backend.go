package proto

import (
	"context"

	"github.com/rutishh0/testingAegis/proto/snowflake"
)

// A Backend stores users, messages and the admin public key, and reports
// an implementation version.
type Backend interface {
	// CreateUser stores a new user. It returns ErrUsernameTaken if the
	// username is already registered.
	CreateUser(ctx context.Context, user *NewUser) (*User, error)

	// GetUser and GetUserByName return ErrUserNotFound for unknown users.
	GetUser(ctx context.Context, id snowflake.Snowflake) (*User, error)
	GetUserByName(ctx context.Context, username string) (*User, error)

	// ListUsers returns every user ordered by username.
	ListUsers(ctx context.Context) ([]UserView, error)

	// CreateMessage durably stores msg from senderID, assigning its id and
	// server timestamp.
	CreateMessage(ctx context.Context, senderID snowflake.Snowflake, msg *OutboundMessage) (*MessageEnvelope, error)

	// GetMessage returns ErrMessageNotFound for unknown ids.
	GetMessage(ctx context.Context, id snowflake.Snowflake) (*MessageEnvelope, error)

	// MessagesBetween returns the conversation between two users in
	// ascending send order.
	MessagesBetween(ctx context.Context, a, b snowflake.Snowflake) ([]MessageEnvelope, error)

	// AllMessages returns every stored message in ascending send order.
	AllMessages(ctx context.Context) ([]MessageEnvelope, error)

	// AdminPublicKey returns ErrAdminConfigNotFound until one is set.
	AdminPublicKey(ctx context.Context) (string, error)
	SetAdminPublicKey(ctx context.Context, publicKey string) error

	Ping(ctx context.Context) error

	Close()

	// Version returns the implementation version string.
	Version() string
}

// BackendFactory opens a fresh Backend. Integration suites call it once per
// test.
type BackendFactory func() (Backend, error)

// EnvelopeViewOf loads both parties of msg and returns its view.
func EnvelopeViewOf(ctx context.Context, b Backend, msg *MessageEnvelope) (*EnvelopeView, error) {
	sender, err := b.GetUser(ctx, msg.SenderID)
	if err != nil {
		return nil, err
	}
	recipient, err := b.GetUser(ctx, msg.RecipientID)
	if err != nil {
		return nil, err
	}
	senderView, recipientView := sender.View(), recipient.View()
	return NewEnvelopeView(msg, &senderView, &recipientView), nil
}
