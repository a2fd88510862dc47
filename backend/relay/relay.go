package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

// Channel names a set of sessions that receive the same events.
type Channel string

const AdminChannel Channel = "admin"

func UserChannel(userID snowflake.Snowflake) Channel { return Channel("user:" + userID.String()) }

// Binding records which channel a connection joined and who it proved to
// be. SubjectID is empty for the admin channel.
type Binding struct {
	Channel   Channel
	SubjectID snowflake.Snowflake
}

// ListenerMap is the set of sessions joined to one channel.
type ListenerMap map[string]proto.Session

// A Relay fans newly stored messages out to the sessions connected to this
// node. It owns the mapping from connection id to verified binding;
// nothing else holds per-connection identity.
type Relay struct {
	m        sync.Mutex
	bus      Bus
	bindings map[string]Binding
	channels map[Channel]ListenerMap
}

// New creates a Relay that publishes through bus and subscribes to it for
// delivery. A nil bus delivers in-process only.
func New(ctx context.Context, bus Bus) (*Relay, error) {
	if bus == nil {
		bus = NewLocalBus()
	}
	r := &Relay{
		bus:      bus,
		bindings: map[string]Binding{},
		channels: map[Channel]ListenerMap{},
	}
	if err := bus.Subscribe(ctx, r); err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	return r, nil
}

// Bind joins session to the channel in b. A session may be bound once.
func (r *Relay) Bind(session proto.Session, b Binding) error {
	r.m.Lock()
	defer r.m.Unlock()

	if _, ok := r.bindings[session.ID()]; ok {
		return proto.ErrAlreadyJoined
	}
	r.bindings[session.ID()] = b

	lm, ok := r.channels[b.Channel]
	if !ok {
		lm = ListenerMap{}
		r.channels[b.Channel] = lm
	}
	lm[session.ID()] = session
	sessionsGauge.WithLabelValues(channelKind(b.Channel)).Inc()
	return nil
}

// Unbind forgets the session. It is safe to call for sessions that never
// joined.
func (r *Relay) Unbind(sessionID string) {
	r.m.Lock()
	defer r.m.Unlock()

	b, ok := r.bindings[sessionID]
	if !ok {
		return
	}
	delete(r.bindings, sessionID)
	if lm, ok := r.channels[b.Channel]; ok {
		delete(lm, sessionID)
		if len(lm) == 0 {
			delete(r.channels, b.Channel)
		}
	}
	sessionsGauge.WithLabelValues(channelKind(b.Channel)).Dec()
}

func (r *Relay) BindingOf(sessionID string) (Binding, bool) {
	r.m.Lock()
	defer r.m.Unlock()
	b, ok := r.bindings[sessionID]
	return b, ok
}

// Listeners returns the number of sessions joined to channel on this node.
func (r *Relay) Listeners(channel Channel) int {
	r.m.Lock()
	defer r.m.Unlock()
	return len(r.channels[channel])
}

// Broadcast publishes a stored message to every node. Callers must only
// broadcast after the message has been durably stored.
func (r *Relay) Broadcast(ctx context.Context, msg *proto.EnvelopeView) error {
	if err := r.bus.Publish(ctx, msg); err != nil {
		publishErrors.Inc()
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Deliver sends msg to the recipient, the sender and the admin channel
// on this node. Delivery is best effort: a session that cannot accept the
// event misses it and must backfill from storage.
func (r *Relay) Deliver(ctx context.Context, msg *proto.EnvelopeView) {
	targets := r.targets(UserChannel(msg.RecipientID), UserChannel(msg.SenderID), AdminChannel)

	event := (*proto.MessageEvent)(msg)
	for _, session := range targets {
		if err := session.Send(ctx, proto.MessageNewType, event); err != nil {
			logging.Logger(ctx).Printf("relay: deliver %s to %s: %s", msg.ID, session.ID(), err)
			deliveryCounter.WithLabelValues("dropped").Inc()
			continue
		}
		deliveryCounter.WithLabelValues("sent").Inc()
	}
}

func (r *Relay) targets(channels ...Channel) []proto.Session {
	r.m.Lock()
	defer r.m.Unlock()

	seen := map[string]struct{}{}
	var sessions []proto.Session
	for _, channel := range channels {
		for id, session := range r.channels[channel] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			sessions = append(sessions, session)
		}
	}
	return sessions
}

func (r *Relay) Close() error { return r.bus.Close() }

func channelKind(c Channel) string {
	if c == AdminChannel {
		return "admin"
	}
	return "user"
}
