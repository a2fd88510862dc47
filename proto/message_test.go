package proto

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rutishh0/testingAegis/proto/security"
	"github.com/rutishh0/testingAegis/proto/snowflake"

	. "github.com/smartystreets/goconvey/convey"
)

func sealedPayload() *security.EscrowedPayload {
	a, err := security.GenerateKeyPair()
	So(err, ShouldBeNil)
	b, err := security.GenerateKeyPair()
	So(err, ShouldBeNil)
	m, err := security.GenerateKeyPair()
	So(err, ShouldBeNil)
	out, err := security.Encryptor{}.EncryptWithSenderCopy("hi", a, &b.Public, &m.Public)
	So(err, ShouldBeNil)
	return out
}

func TestOutboundMessage(t *testing.T) {
	Convey("Validate", t, func() {
		msg := OutboundFromPayload(snowflake.Snowflake(42), sealedPayload())
		So(msg.Validate(), ShouldBeNil)

		Convey("requires a recipient", func() {
			msg.RecipientID = 0
			So(errors.Is(msg.Validate(), ErrInvalidMessage), ShouldBeTrue)
		})

		Convey("requires both escrow payloads", func() {
			msg.PayloadAdmin = ""
			So(errors.Is(msg.Validate(), ErrInvalidMessage), ShouldBeTrue)
		})

		Convey("sender copy is optional", func() {
			msg.PayloadSender = ""
			So(msg.Validate(), ShouldBeNil)
		})

		Convey("rejects a short nonce", func() {
			msg.Nonce = security.EncodeBase64(make([]byte, 12))
			So(errors.Is(msg.Validate(), ErrInvalidMessage), ShouldBeTrue)
			So(IsValidationError(msg.Validate()), ShouldBeTrue)
		})

		Convey("rejects non-base64 and undersized ciphertext", func() {
			msg.PayloadRecipient = "not base64!"
			So(errors.Is(msg.Validate(), ErrInvalidMessage), ShouldBeTrue)
			msg.PayloadRecipient = security.EncodeBase64([]byte("short"))
			So(errors.Is(msg.Validate(), ErrInvalidMessage), ShouldBeTrue)
		})

		Convey("rejects oversized payloads", func() {
			msg.PayloadAdmin = strings.Repeat("A", MaxPayloadLength+4)
			So(errors.Is(msg.Validate(), ErrInvalidMessage), ShouldBeTrue)
		})
	})

	Convey("Both camelCase and snake_case fields are accepted", t, func() {
		var camel, snake OutboundMessage
		So(json.Unmarshal([]byte(`{"recipientId":"abc","payloadRecipient":"r","payloadAdmin":"a","nonce":"n"}`), &camel), ShouldBeNil)
		So(json.Unmarshal([]byte(`{"recipient_id":"abc","payload_recipient":"r","payload_admin":"a","nonce":"n"}`), &snake), ShouldBeNil)
		So(snake, ShouldResemble, camel)
		So(camel.PayloadRecipient, ShouldEqual, "r")
		So(camel.RecipientID.String(), ShouldEqual, "0000000000abc")
	})
}

func TestEnvelopeView(t *testing.T) {
	Convey("Envelope views flatten onto the wire", t, func() {
		env := &MessageEnvelope{
			ID: snowflake.Snowflake(1), SenderID: snowflake.Snowflake(2), RecipientID: snowflake.Snowflake(3),
			PayloadRecipient: "r", PayloadAdmin: "a", Nonce: "n",
		}
		sender := &UserView{ID: 2, Username: "alice", PublicKey: "pkA"}
		recipient := &UserView{ID: 3, Username: "bob", PublicKey: "pkB"}
		view := NewEnvelopeView(env, sender, recipient)

		data, err := json.Marshal(view)
		So(err, ShouldBeNil)

		var fields map[string]interface{}
		So(json.Unmarshal(data, &fields), ShouldBeNil)
		for _, key := range []string{
			"messageId", "senderId", "recipientId", "payloadRecipient", "payloadAdmin", "nonce", "sentAt",
			"senderUsername", "senderPublicKey", "recipientUsername", "recipientPublicKey",
		} {
			So(fields, ShouldContainKey, key)
		}
		So(fields, ShouldNotContainKey, "payloadSender")
	})
}
