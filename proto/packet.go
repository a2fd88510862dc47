package proto

import (
	"encoding/json"
	"fmt"
	"reflect"
)

type PacketType string

func (c PacketType) Ack() PacketType   { return c.scope() + ":ack" }
func (c PacketType) Error() PacketType { return c.scope() + ":error" }

func (c PacketType) scope() PacketType {
	for i := 0; i < len(c); i++ {
		if c[i] == ':' {
			return c[:i]
		}
	}
	return c
}

var (
	AuthJoinType  = PacketType("auth:join")
	AuthAckType   = AuthJoinType.Ack()
	AuthErrorType = AuthJoinType.Error()

	AdminJoinType  = PacketType("admin:join")
	AdminAckType   = AdminJoinType.Ack()
	AdminErrorType = AdminJoinType.Error()

	MessageNewType = PacketType("message:new")

	ErrorEventType = PacketType("session:error")

	payloadMap = map[PacketType]reflect.Type{
		AuthJoinType:  reflect.TypeOf(JoinCommand{}),
		AuthAckType:   reflect.TypeOf(JoinAck{}),
		AuthErrorType: reflect.TypeOf(JoinError{}),

		AdminJoinType:  reflect.TypeOf(JoinCommand{}),
		AdminAckType:   reflect.TypeOf(JoinAck{}),
		AdminErrorType: reflect.TypeOf(JoinError{}),

		MessageNewType: reflect.TypeOf(MessageEvent{}),

		ErrorEventType: reflect.TypeOf(ErrorEvent{}),
	}
)

// JoinCommand presents a credential to bind the connection to a channel.
// The payload may be the token itself as a JSON string, or an object with
// a token field.
type JoinCommand struct {
	Token string `json:"token"`
}

func (c *JoinCommand) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err == nil {
		c.Token = token
		return nil
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Token = obj.Token
	return nil
}

// JoinAck confirms a join. UserID is set for user channels only.
type JoinAck struct {
	Status string `json:"status"`
	UserID string `json:"userId,omitempty"`
}

// JoinError rejects a join. The connection stays open.
type JoinError struct {
	Message string `json:"message"`
}

// MessageEvent announces a newly stored message.
type MessageEvent EnvelopeView

// ErrorEvent reports a packet the server could not handle.
type ErrorEvent struct {
	Message string `json:"message"`
}

type Packet struct {
	ID    string          `json:"id,omitempty"`
	Type  PacketType      `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (cmd *Packet) Payload() (interface{}, error) {
	payloadType, ok := payloadMap[cmd.Type]
	if !ok {
		return nil, fmt.Errorf("invalid command type: %s", cmd.Type)
	}
	payload := reflect.New(payloadType).Interface()
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func (cmd *Packet) Encode() ([]byte, error) { return json.Marshal(cmd) }

func MakePacket(refID string, msgType PacketType, payload interface{}) (*Packet, error) {
	packet := &Packet{ID: refID, Type: msgType}
	if err, ok := payload.(error); ok {
		packet.Error = err.Error()
		payload = nil
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		packet.Data = data
	}
	return packet, nil
}

func ParseRequest(data []byte) (*Packet, error) {
	cmd := &Packet{}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}
