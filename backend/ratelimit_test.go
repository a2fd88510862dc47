package backend

import (
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestClientLimiter(t *testing.T) {
	Convey("Twenty per window per client", t, func() {
		l := newClientLimiter(20, 15*time.Minute)
		now := time.Now()
		for i := 0; i < 20; i++ {
			So(l.Allow("10.0.0.1", now), ShouldBeTrue)
		}
		So(l.Allow("10.0.0.1", now), ShouldBeFalse)
		So(l.Allow("10.0.0.2", now), ShouldBeTrue)

		Convey("tokens refill over the window", func() {
			So(l.Allow("10.0.0.1", now.Add(50*time.Second)), ShouldBeTrue)
			So(l.Allow("10.0.0.1", now.Add(50*time.Second)), ShouldBeFalse)
		})
	})

	Convey("A nil limiter allows everything", t, func() {
		var l *clientLimiter
		So(l.Allow("x", time.Now()), ShouldBeTrue)
		So(newClientLimiter(0, time.Minute), ShouldBeNil)
	})

	Convey("Client address", t, func() {
		r := httptest.NewRequest("POST", "/", nil)
		r.RemoteAddr = "192.0.2.7:5555"
		So(clientAddress(r, false), ShouldEqual, "192.0.2.7")
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		So(clientAddress(r, false), ShouldEqual, "192.0.2.7")
		So(clientAddress(r, true), ShouldEqual, "203.0.113.9")
	})
}
