package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rutishh0/testingAegis/proto"
)

var ErrStreamClosed = errors.New("stream closed")

// JoinError is a join refused by the server.
type JoinError struct {
	Message string
}

func (e *JoinError) Error() string { return "join refused: " + e.Message }

// Stream yields messages pushed over a joined realtime connection.
type Stream struct {
	conn    *websocket.Conn
	decrypt func(*proto.EnvelopeView) *Message
	seen    *Deduper

	// settle, if set, runs before a message is checked against seen.
	settle func(*proto.EnvelopeView)

	packets   chan *proto.Packet
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func dialStream(
	ctx context.Context, t *transport, joinType proto.PacketType, token string,
	decrypt func(*proto.EnvelopeView) *Message, seen *Deduper,
	settle func(*proto.EnvelopeView)) (*Stream, *proto.JoinAck, error) {

	url, err := t.socketURL()
	if err != nil {
		return nil, nil, err
	}
	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &Stream{
		conn:    conn,
		decrypt: decrypt,
		seen:    seen,
		settle:  settle,
		packets: make(chan *proto.Packet, 100),
		done:    make(chan struct{}),
	}
	go s.readMessages()

	join, err := proto.MakePacket("join", joinType, &proto.JoinCommand{Token: token})
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	data, err := join.Encode()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.Close()
		return nil, nil, err
	}

	for {
		packet, err := s.next(ctx)
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		switch packet.Type {
		case joinType.Ack():
			var ack proto.JoinAck
			if err := json.Unmarshal(packet.Data, &ack); err != nil {
				s.Close()
				return nil, nil, err
			}
			return s, &ack, nil
		case joinType.Error():
			var refusal proto.JoinError
			json.Unmarshal(packet.Data, &refusal)
			s.Close()
			return nil, nil, &JoinError{Message: refusal.Message}
		}
	}
}

func (s *Stream) readMessages() {
	defer close(s.packets)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.err = err
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		packet, err := proto.ParseRequest(data)
		if err != nil {
			continue
		}
		select {
		case s.packets <- packet:
		case <-s.done:
			return
		}
	}
}

func (s *Stream) next(ctx context.Context) (*proto.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case packet, ok := <-s.packets:
		if !ok {
			if s.err != nil {
				return nil, fmt.Errorf("%w: %s", ErrStreamClosed, s.err)
			}
			return nil, ErrStreamClosed
		}
		return packet, nil
	}
}

// Next blocks until a message not seen before arrives, ctx is done, or
// the connection drops. After a drop, backfill through history.
func (s *Stream) Next(ctx context.Context) (*Message, error) {
	for {
		packet, err := s.next(ctx)
		if err != nil {
			return nil, err
		}
		if packet.Type != proto.MessageNewType {
			continue
		}
		var view proto.EnvelopeView
		if err := json.Unmarshal(packet.Data, &view); err != nil {
			continue
		}
		if s.settle != nil {
			s.settle(&view)
		}
		if !s.seen.Observe(view.ID) {
			continue
		}
		return s.decrypt(&view), nil
	}
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
