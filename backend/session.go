package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
)

const (
	MaxKeepAliveMisses = 3
	MaxPacketSize      = 64 * 1024
)

var (
	KeepAlive       = 20 * time.Second
	ErrUnresponsive = fmt.Errorf("connection unresponsive")
	ErrSessionFull  = fmt.Errorf("session send queue full")
)

type memSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	id     string
	server *Server

	closeOnce sync.Once
	incoming  chan *proto.Packet
	outgoing  chan *proto.Packet

	outstandingPings uint32
}

func newMemSession(ctx context.Context, server *Server, conn *websocket.Conn) *memSession {
	id := uuid.NewString()
	loggingCtx := logging.LoggingContext(ctx, logging.Logger(ctx).Writer(), fmt.Sprintf("[%s %s] ", id[:8], conn.RemoteAddr()))
	cancellableCtx, cancel := context.WithCancel(loggingCtx)

	session := &memSession{
		ctx:    cancellableCtx,
		cancel: cancel,
		conn:   conn,
		id:     id,
		server: server,

		incoming: make(chan *proto.Packet),
		outgoing: make(chan *proto.Packet, 100),
	}

	conn.SetReadLimit(MaxPacketSize)
	conn.SetPongHandler(session.handlePong)

	return session
}

func (s *memSession) Close() {
	s.closeOnce.Do(func() {
		logging.Logger(s.ctx).Printf("closing session")
		s.cancel()
	})
}

func (s *memSession) ID() string { return s.id }

// Send queues a packet without blocking. If the client is not keeping up
// the packet is dropped and ErrSessionFull returned.
func (s *memSession) Send(ctx context.Context, cmdType proto.PacketType, payload interface{}) error {
	cmd, err := proto.MakePacket("", cmdType, payload)
	if err != nil {
		return err
	}

	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}

	select {
	case s.outgoing <- cmd:
		return nil
	default:
		return ErrSessionFull
	}
}

func (s *memSession) handlePong(string) error {
	atomic.StoreUint32(&s.outstandingPings, 0)
	return nil
}

func (s *memSession) serve() error {
	go s.readMessages()

	logger := logging.Logger(s.ctx)
	logger.Printf("client connected")

	keepalive := time.NewTimer(KeepAlive)
	defer keepalive.Stop()

	for {
		select {

		case <-s.ctx.Done():
			return s.ctx.Err()

		case <-keepalive.C:
			if pings := atomic.AddUint32(&s.outstandingPings, 1); pings > MaxKeepAliveMisses {
				logger.Printf("connection timed out")
				return ErrUnresponsive
			}

			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(KeepAlive)); err != nil {
				return err
			}
			keepalive.Reset(KeepAlive)

		case cmd := <-s.incoming:
			replyType, reply := s.handleCommand(cmd)

			resp, err := proto.MakePacket(cmd.ID, replyType, reply)
			if err != nil {
				logger.Printf("error: Response: %s", err)
				return err
			}
			if err := s.write(resp); err != nil {
				return err
			}

		case cmd := <-s.outgoing:
			if err := s.write(cmd); err != nil {
				return err
			}
		}
	}
}

func (s *memSession) write(cmd *proto.Packet) error {
	data, err := cmd.Encode()
	if err != nil {
		logging.Logger(s.ctx).Printf("error: encode %s: %s", cmd.Type, err)
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Logger(s.ctx).Printf("error: write message: %s", err)
		return err
	}
	return nil
}

func (s *memSession) readMessages() {
	logger := logging.Logger(s.ctx)
	defer s.Close()

	for s.ctx.Err() == nil {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Printf("client disconnected")
				return
			}
			logger.Printf("error: read message: %s", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			cmd, err := proto.ParseRequest(data)
			if err != nil {
				logger.Printf("error: ParseRequest: %s", err)
				cmd = &proto.Packet{Type: proto.ErrorEventType, Error: "malformed packet"}
			}
			select {
			case s.incoming <- cmd:
			case <-s.ctx.Done():
				return
			}
		default:
			logger.Printf("error: unsupported message type: %v", messageType)
			return
		}
	}
}

// handleCommand returns the packet type and payload to reply with. Join
// failures leave the connection open and unbound.
func (s *memSession) handleCommand(cmd *proto.Packet) (proto.PacketType, interface{}) {
	if cmd.Error != "" {
		return proto.ErrorEventType, &proto.ErrorEvent{Message: cmd.Error}
	}

	switch cmd.Type {
	case proto.AuthJoinType:
		return s.joinUser(cmd)
	case proto.AdminJoinType:
		return s.joinAdmin(cmd)
	default:
		return proto.ErrorEventType, &proto.ErrorEvent{Message: fmt.Sprintf("unsupported packet type: %s", cmd.Type)}
	}
}

func (s *memSession) joinCommand(cmd *proto.Packet) *proto.JoinCommand {
	payload, err := cmd.Payload()
	if err != nil {
		return &proto.JoinCommand{}
	}
	return payload.(*proto.JoinCommand)
}

func (s *memSession) joinUser(cmd *proto.Packet) (proto.PacketType, interface{}) {
	logger := logging.Logger(s.ctx)
	join := s.joinCommand(cmd)
	if join.Token == "" {
		return proto.AuthErrorType, &proto.JoinError{Message: "Missing token."}
	}

	user, err := s.server.AuthenticateUser(s.ctx, join.Token)
	if err != nil {
		authFailures.WithLabelValues("socket").Inc()
		logger.Printf("auth:join rejected: %s", err)
		return proto.AuthErrorType, &proto.JoinError{Message: "Authentication failed."}
	}

	binding := relay.Binding{Channel: relay.UserChannel(user.ID), SubjectID: user.ID}
	if err := s.server.relay.Bind(s, binding); err != nil {
		if errors.Is(err, proto.ErrAlreadyJoined) {
			return proto.AuthErrorType, &proto.JoinError{Message: "Already joined."}
		}
		logger.Printf("error: bind: %s", err)
		return proto.AuthErrorType, &proto.JoinError{Message: "Authentication failed."}
	}

	logger.Printf("joined %s as %s", binding.Channel, user.Username)
	return proto.AuthAckType, &proto.JoinAck{Status: "joined", UserID: user.ID.String()}
}

func (s *memSession) joinAdmin(cmd *proto.Packet) (proto.PacketType, interface{}) {
	logger := logging.Logger(s.ctx)
	join := s.joinCommand(cmd)
	if join.Token == "" {
		return proto.AdminErrorType, &proto.JoinError{Message: "Missing token."}
	}
	if !s.server.checkAdmin(join.Token) {
		authFailures.WithLabelValues("socket").Inc()
		logger.Printf("admin:join rejected")
		return proto.AdminErrorType, &proto.JoinError{Message: "Invalid credentials."}
	}

	if err := s.server.relay.Bind(s, relay.Binding{Channel: relay.AdminChannel}); err != nil {
		if errors.Is(err, proto.ErrAlreadyJoined) {
			return proto.AdminErrorType, &proto.JoinError{Message: "Already joined."}
		}
		logger.Printf("error: bind: %s", err)
		return proto.AdminErrorType, &proto.JoinError{Message: "Invalid credentials."}
	}

	logger.Printf("joined %s", relay.AdminChannel)
	return proto.AdminAckType, &proto.JoinAck{Status: "joined"}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger(s.ctx).Printf("upgrade error: %s", err)
		return
	}
	defer conn.Close()

	session := newMemSession(s.ctx, s, conn)
	connectedSessions.Inc()
	defer func() {
		s.relay.Unbind(session.ID())
		session.Close()
		connectedSessions.Dec()
	}()

	if err := session.serve(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Logger(session.ctx).Printf("session ended: %s", err)
	}
}
