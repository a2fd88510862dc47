package psql

import (
	"database/sql"
	"time"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

type User struct {
	ID                  string    `db:"user_id"`
	Username            string    `db:"username"`
	PasswordHash        string    `db:"password_hash"`
	PublicKey           string    `db:"public_key"`
	EncryptedPrivateKey string    `db:"encrypted_private_key"`
	Created             time.Time `db:"created_at"`
}

func (u *User) ToBackend() *proto.User {
	user := &proto.User{
		Username:            u.Username,
		PasswordHash:        u.PasswordHash,
		PublicKey:           u.PublicKey,
		EncryptedPrivateKey: u.EncryptedPrivateKey,
		Created:             u.Created,
	}
	// ignore id parsing errors
	_ = user.ID.FromString(u.ID)
	return user
}

type Message struct {
	ID               string         `db:"message_id"`
	SenderID         string         `db:"sender_id"`
	RecipientID      string         `db:"recipient_id"`
	PayloadRecipient string         `db:"payload_recipient"`
	PayloadAdmin     string         `db:"payload_admin"`
	PayloadSender    sql.NullString `db:"payload_sender"`
	Nonce            string         `db:"nonce"`
	Sent             time.Time      `db:"sent_at"`
}

func NewMessage(id, senderID snowflake.Snowflake, msg *proto.OutboundMessage, sent time.Time) *Message {
	row := &Message{
		ID:               id.String(),
		SenderID:         senderID.String(),
		RecipientID:      msg.RecipientID.String(),
		PayloadRecipient: msg.PayloadRecipient,
		PayloadAdmin:     msg.PayloadAdmin,
		Nonce:            msg.Nonce,
		Sent:             sent,
	}
	if msg.PayloadSender != "" {
		row.PayloadSender = sql.NullString{String: msg.PayloadSender, Valid: true}
	}
	return row
}

func (m *Message) ToBackend() *proto.MessageEnvelope {
	msg := &proto.MessageEnvelope{
		PayloadRecipient: m.PayloadRecipient,
		PayloadAdmin:     m.PayloadAdmin,
		Nonce:            m.Nonce,
		SentAt:           m.Sent.UTC(),
	}
	_ = msg.ID.FromString(m.ID)
	_ = msg.SenderID.FromString(m.SenderID)
	_ = msg.RecipientID.FromString(m.RecipientID)
	if m.PayloadSender.Valid {
		msg.PayloadSender = m.PayloadSender.String
	}
	return msg
}

type AdminConfig struct {
	ConfigID       int64     `db:"config_id"`
	AdminPublicKey string    `db:"admin_public_key"`
	Updated        time.Time `db:"updated_at"`
}
