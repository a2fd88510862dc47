package relay

import (
	"context"
	"sync"

	"github.com/rutishh0/testingAegis/proto"
)

// A Deliverer hands a message to its locally connected sessions.
type Deliverer interface {
	Deliver(ctx context.Context, msg *proto.EnvelopeView)
}

// A Bus carries newly stored messages to every relay node, including the
// one that published them. Delivery is at most once.
type Bus interface {
	Publish(ctx context.Context, msg *proto.EnvelopeView) error
	Subscribe(ctx context.Context, d Deliverer) error
	Close() error
}

// LocalBus delivers within a single process.
type LocalBus struct {
	m           sync.Mutex
	subscribers []Deliverer
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(ctx context.Context, msg *proto.EnvelopeView) error {
	b.m.Lock()
	subscribers := make([]Deliverer, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.m.Unlock()

	for _, d := range subscribers {
		d.Deliver(ctx, msg)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, d Deliverer) error {
	b.m.Lock()
	b.subscribers = append(b.subscribers, d)
	b.m.Unlock()
	return nil
}

func (b *LocalBus) Close() error {
	b.m.Lock()
	b.subscribers = nil
	b.m.Unlock()
	return nil
}
