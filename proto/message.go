package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rutishh0/testingAegis/proto/security"
	"github.com/rutishh0/testingAegis/proto/snowflake"
	"golang.org/x/crypto/nacl/box"
)

// MaxPayloadLength bounds each base64 ciphertext field of a message.
const MaxPayloadLength = 64 * 1024

// MessageEnvelope is a stored message. It is immutable once created.
type MessageEnvelope struct {
	ID               snowflake.Snowflake `json:"messageId"`
	SenderID         snowflake.Snowflake `json:"senderId"`
	RecipientID      snowflake.Snowflake `json:"recipientId"`
	PayloadRecipient string              `json:"payloadRecipient"`
	PayloadAdmin     string              `json:"payloadAdmin"`
	PayloadSender    string              `json:"payloadSender,omitempty"`
	Nonce            string              `json:"nonce"`
	SentAt           time.Time           `json:"sentAt"`
}

// EnvelopeView is a MessageEnvelope with enough about both parties for any
// reader to decrypt it without a further lookup.
type EnvelopeView struct {
	MessageEnvelope
	SenderUsername     string `json:"senderUsername"`
	SenderPublicKey    string `json:"senderPublicKey"`
	RecipientUsername  string `json:"recipientUsername"`
	RecipientPublicKey string `json:"recipientPublicKey"`
}

func NewEnvelopeView(msg *MessageEnvelope, sender, recipient *UserView) *EnvelopeView {
	view := &EnvelopeView{MessageEnvelope: *msg}
	if sender != nil {
		view.SenderUsername = sender.Username
		view.SenderPublicKey = sender.PublicKey
	}
	if recipient != nil {
		view.RecipientUsername = recipient.Username
		view.RecipientPublicKey = recipient.PublicKey
	}
	return view
}

// OutboundMessage is a message as submitted by its sender.
type OutboundMessage struct {
	RecipientID      snowflake.Snowflake `json:"recipientId"`
	PayloadRecipient string              `json:"payloadRecipient"`
	PayloadAdmin     string              `json:"payloadAdmin"`
	PayloadSender    string              `json:"payloadSender,omitempty"`
	Nonce            string              `json:"nonce"`
}

// UnmarshalJSON also accepts the snake_case field names older clients send.
func (m *OutboundMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		RecipientID      snowflake.Snowflake `json:"recipientId"`
		PayloadRecipient string              `json:"payloadRecipient"`
		PayloadAdmin     string              `json:"payloadAdmin"`
		PayloadSender    string              `json:"payloadSender"`
		Nonce            string              `json:"nonce"`

		SnakeRecipientID      snowflake.Snowflake `json:"recipient_id"`
		SnakePayloadRecipient string              `json:"payload_recipient"`
		SnakePayloadAdmin     string              `json:"payload_admin"`
		SnakePayloadSender    string              `json:"payload_sender"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	*m = OutboundMessage{
		RecipientID:      raw.RecipientID,
		PayloadRecipient: pick(raw.PayloadRecipient, raw.SnakePayloadRecipient),
		PayloadAdmin:     pick(raw.PayloadAdmin, raw.SnakePayloadAdmin),
		PayloadSender:    pick(raw.PayloadSender, raw.SnakePayloadSender),
		Nonce:            raw.Nonce,
	}
	if m.RecipientID == 0 {
		m.RecipientID = raw.SnakeRecipientID
	}
	return nil
}

func validatePayload(name, payload string, required bool) error {
	if payload == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrInvalidMessage, name)
		}
		return nil
	}
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("%w: %s is too large", ErrInvalidMessage, name)
	}
	raw, err := security.DecodeBase64(payload)
	if err != nil {
		return fmt.Errorf("%w: %s is not base64", ErrInvalidMessage, name)
	}
	if len(raw) < box.Overhead {
		return fmt.Errorf("%w: %s is too short", ErrInvalidMessage, name)
	}
	return nil
}

// Validate checks shape and encoded lengths. It does not and cannot check
// that the ciphertexts open.
func (m *OutboundMessage) Validate() error {
	if m.RecipientID == 0 {
		return fmt.Errorf("%w: recipientId is required", ErrInvalidMessage)
	}
	if err := validatePayload("payloadRecipient", m.PayloadRecipient, true); err != nil {
		return err
	}
	if err := validatePayload("payloadAdmin", m.PayloadAdmin, true); err != nil {
		return err
	}
	if err := validatePayload("payloadSender", m.PayloadSender, false); err != nil {
		return err
	}
	if m.Nonce == "" {
		return fmt.Errorf("%w: nonce is required", ErrInvalidMessage)
	}
	if _, err := security.DecodeFixed(m.Nonce, security.Curve25519.NonceSize()); err != nil {
		return fmt.Errorf("%w: nonce must be %d bytes of base64", ErrInvalidMessage, security.Curve25519.NonceSize())
	}
	return nil
}

func OutboundFromPayload(recipientID snowflake.Snowflake, payload *security.EscrowedPayload) *OutboundMessage {
	return &OutboundMessage{
		RecipientID:      recipientID,
		PayloadRecipient: payload.PayloadRecipient,
		PayloadAdmin:     payload.PayloadAdmin,
		PayloadSender:    payload.PayloadSender,
		Nonce:            payload.Nonce,
	}
}
