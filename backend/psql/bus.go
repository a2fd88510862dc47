package psql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

// NotifyChannel is the postgres channel new message ids are announced on.
const NotifyChannel = "aegis_message"

// NotifyBus relays newly stored messages between nodes sharing a database.
// Only the message id travels through NOTIFY; subscribers load the rest
// from storage.
type NotifyBus struct {
	b *Backend

	m         sync.Mutex
	listeners []*pq.Listener
	cancels   []context.CancelFunc
	wg        sync.WaitGroup
}

func NewNotifyBus(b *Backend) *NotifyBus { return &NotifyBus{b: b} }

func (nb *NotifyBus) Publish(ctx context.Context, msg *proto.EnvelopeView) error {
	_, err := nb.b.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, msg.ID.String())
	return err
}

func (nb *NotifyBus) Subscribe(ctx context.Context, d relay.Deliverer) error {
	logger := logging.Logger(ctx)
	listener := pq.NewListener(nb.b.dsn, 200*time.Millisecond, 5*time.Second,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				logger.Printf("pq listener: event %d: %s", event, err)
			}
		})
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return fmt.Errorf("pq listen: %s", err)
	}
	logger.Printf("pq listener started")

	ctx, cancel := context.WithCancel(ctx)
	nb.m.Lock()
	nb.listeners = append(nb.listeners, listener)
	nb.cancels = append(nb.cancels, cancel)
	nb.m.Unlock()

	nb.wg.Add(1)
	go nb.background(ctx, listener, d)
	return nil
}

func (nb *NotifyBus) background(ctx context.Context, listener *pq.Listener, d relay.Deliverer) {
	defer nb.wg.Done()
	logger := logging.Logger(ctx)

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := listener.Ping(); err != nil {
				logger.Printf("pq ping: %s", err)
			}
		case notice, ok := <-listener.Notify:
			if !ok {
				return
			}
			if notice == nil {
				// The listener reconnected. Anything announced in the gap
				// is only recoverable through history.
				logger.Printf("pq listen: connection re-established")
				continue
			}
			nb.deliver(ctx, notice.Extra, d)
		}
	}
}

func (nb *NotifyBus) deliver(ctx context.Context, payload string, d relay.Deliverer) {
	logger := logging.Logger(ctx)

	var id snowflake.Snowflake
	if err := id.FromString(payload); err != nil || id == 0 {
		logger.Printf("error: pq listen: invalid notification %q", payload)
		return
	}

	msg, err := nb.b.GetMessage(ctx, id)
	if err != nil {
		logger.Printf("error: pq listen: load message %s: %s", id, err)
		return
	}
	view, err := proto.EnvelopeViewOf(ctx, nb.b, msg)
	if err != nil {
		logger.Printf("error: pq listen: load parties of %s: %s", id, err)
		return
	}
	d.Deliver(ctx, view)
}

func (nb *NotifyBus) Close() error {
	nb.m.Lock()
	for _, cancel := range nb.cancels {
		cancel()
	}
	listeners := nb.listeners
	nb.listeners, nb.cancels = nil, nil
	nb.m.Unlock()

	nb.wg.Wait()
	var firstErr error
	for _, listener := range listeners {
		if err := listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
