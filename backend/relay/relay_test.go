package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/snowflake"

	. "github.com/smartystreets/goconvey/convey"
)

type testSession struct {
	sync.Mutex
	id       string
	received []*proto.MessageEvent
	fail     bool
}

func (s *testSession) ID() string { return s.id }
func (s *testSession) Close()     {}

func (s *testSession) Send(ctx context.Context, packetType proto.PacketType, payload interface{}) error {
	if s.fail {
		return errors.New("buffer full")
	}
	s.Lock()
	defer s.Unlock()
	if packetType == proto.MessageNewType {
		s.received = append(s.received, payload.(*proto.MessageEvent))
	}
	return nil
}

func (s *testSession) count() int {
	s.Lock()
	defer s.Unlock()
	return len(s.received)
}

type failingBus struct{ LocalBus }

func (*failingBus) Publish(context.Context, *proto.EnvelopeView) error { return errors.New("bus down") }

func TestRelay(t *testing.T) {
	ctx := logging.Discard(context.Background())
	alice, bob, carol := snowflake.Snowflake(1), snowflake.Snowflake(2), snowflake.Snowflake(3)

	msg := &proto.EnvelopeView{MessageEnvelope: proto.MessageEnvelope{
		ID: snowflake.Snowflake(100), SenderID: alice, RecipientID: bob,
	}}

	Convey("Broadcast reaches recipient, sender and admin", t, func() {
		r, err := New(ctx, nil)
		So(err, ShouldBeNil)

		aliceA := &testSession{id: "a1"}
		aliceB := &testSession{id: "a2"}
		bobS := &testSession{id: "b1"}
		carolS := &testSession{id: "c1"}
		admin := &testSession{id: "m1"}

		So(r.Bind(aliceA, Binding{Channel: UserChannel(alice), SubjectID: alice}), ShouldBeNil)
		So(r.Bind(aliceB, Binding{Channel: UserChannel(alice), SubjectID: alice}), ShouldBeNil)
		So(r.Bind(bobS, Binding{Channel: UserChannel(bob), SubjectID: bob}), ShouldBeNil)
		So(r.Bind(carolS, Binding{Channel: UserChannel(carol), SubjectID: carol}), ShouldBeNil)
		So(r.Bind(admin, Binding{Channel: AdminChannel}), ShouldBeNil)

		So(r.Broadcast(ctx, msg), ShouldBeNil)

		So(aliceA.count(), ShouldEqual, 1)
		So(aliceB.count(), ShouldEqual, 1)
		So(bobS.count(), ShouldEqual, 1)
		So(admin.count(), ShouldEqual, 1)
		So(carolS.count(), ShouldEqual, 0)
		So(bobS.received[0].ID, ShouldEqual, msg.ID)
	})

	Convey("A session binds once", t, func() {
		r, err := New(ctx, nil)
		So(err, ShouldBeNil)
		s := &testSession{id: "x"}
		So(r.Bind(s, Binding{Channel: UserChannel(alice), SubjectID: alice}), ShouldBeNil)
		So(r.Bind(s, Binding{Channel: AdminChannel}), ShouldEqual, proto.ErrAlreadyJoined)

		b, ok := r.BindingOf("x")
		So(ok, ShouldBeTrue)
		So(b.SubjectID, ShouldEqual, alice)
	})

	Convey("Unbind stops delivery", t, func() {
		r, err := New(ctx, nil)
		So(err, ShouldBeNil)
		s := &testSession{id: "b"}
		So(r.Bind(s, Binding{Channel: UserChannel(bob), SubjectID: bob}), ShouldBeNil)
		So(r.Listeners(UserChannel(bob)), ShouldEqual, 1)

		r.Unbind("b")
		r.Unbind("never-joined")
		So(r.Listeners(UserChannel(bob)), ShouldEqual, 0)
		_, ok := r.BindingOf("b")
		So(ok, ShouldBeFalse)

		So(r.Broadcast(ctx, msg), ShouldBeNil)
		So(s.count(), ShouldEqual, 0)
	})

	Convey("A failing session does not stop the fan-out", t, func() {
		r, err := New(ctx, nil)
		So(err, ShouldBeNil)
		stuck := &testSession{id: "stuck", fail: true}
		ok := &testSession{id: "ok"}
		So(r.Bind(stuck, Binding{Channel: UserChannel(bob), SubjectID: bob}), ShouldBeNil)
		So(r.Bind(ok, Binding{Channel: AdminChannel}), ShouldBeNil)

		So(r.Broadcast(ctx, msg), ShouldBeNil)
		So(ok.count(), ShouldEqual, 1)
	})

	Convey("Publish failures surface to the caller", t, func() {
		r, err := New(ctx, &failingBus{})
		So(err, ShouldBeNil)
		So(r.Broadcast(ctx, msg), ShouldNotBeNil)
	})

	Convey("Two relays share a bus", t, func() {
		bus := NewLocalBus()
		r1, err := New(ctx, bus)
		So(err, ShouldBeNil)
		r2, err := New(ctx, bus)
		So(err, ShouldBeNil)

		s := &testSession{id: "remote"}
		So(r2.Bind(s, Binding{Channel: UserChannel(bob), SubjectID: bob}), ShouldBeNil)
		So(r1.Broadcast(ctx, msg), ShouldBeNil)
		So(s.count(), ShouldEqual, 1)

		So(r1.Close(), ShouldBeNil)
	})
}
