// Package natsbus carries relay events between nodes over NATS core
// publish/subscribe.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
)

const DefaultSubject = "aegis.messages"

// Bus publishes full envelope views, so subscribers need no storage access.
type Bus struct {
	conn    *nats.Conn
	subject string

	m    sync.Mutex
	subs []*nats.Subscription
}

func Connect(ctx context.Context, url string) (*Bus, error) {
	logger := logging.Logger(ctx)
	opts := []nats.Option{
		nats.Name("aegis-relay"),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Printf("nats disconnected: %s", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return New(conn, DefaultSubject), nil
}

func New(conn *nats.Conn, subject string) *Bus {
	return &Bus{conn: conn, subject: subject}
}

func (b *Bus) Publish(ctx context.Context, msg *proto.EnvelopeView) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

func (b *Bus) Subscribe(ctx context.Context, d relay.Deliverer) error {
	logger := logging.Logger(ctx)
	sub, err := b.conn.Subscribe(b.subject, func(m *nats.Msg) {
		msg, err := decode(m.Data)
		if err != nil {
			logger.Printf("error: nats: %s", err)
			return
		}
		d.Deliver(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	// Make sure the server has registered interest before returning, so
	// publishes that follow are seen.
	if err := b.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}

	b.m.Lock()
	b.subs = append(b.subs, sub)
	b.m.Unlock()
	return nil
}

func (b *Bus) Close() error {
	b.m.Lock()
	subs := b.subs
	b.subs = nil
	b.m.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	b.conn.Close()
	return nil
}

func decode(data []byte) (*proto.EnvelopeView, error) {
	var msg proto.EnvelopeView
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	if msg.ID == 0 || msg.SenderID == 0 || msg.RecipientID == 0 {
		return nil, fmt.Errorf("invalid event: missing ids")
	}
	return &msg, nil
}
