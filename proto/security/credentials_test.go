package security

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSessionAuthenticator(t *testing.T) {
	Convey("A secret is required", t, func() {
		_, err := NewSessionAuthenticator(nil)
		So(err, ShouldEqual, ErrMissingSecret)
	})

	Convey("Issue and verify", t, func() {
		auth, err := NewSessionAuthenticator([]byte("a sufficiently long signing secret"))
		So(err, ShouldBeNil)

		token, err := auth.Issue("u1", time.Hour)
		So(err, ShouldBeNil)

		cred, err := auth.Verify(token)
		So(err, ShouldBeNil)
		So(cred.SubjectID, ShouldEqual, "u1")
		So(cred.ExpiresAt-cred.IssuedAt, ShouldEqual, time.Hour.Milliseconds())

		Convey("u1 never verifies as u2", func() {
			other, err := auth.Issue("u2", time.Hour)
			So(err, ShouldBeNil)
			So(other, ShouldNotEqual, token)

			cred2, err := auth.Verify(other)
			So(err, ShouldBeNil)
			So(cred2.SubjectID, ShouldEqual, "u2")
			So(cred.SubjectID, ShouldNotEqual, cred2.SubjectID)
		})

		Convey("Tampered tokens fail", func() {
			mid := len(token) / 2
			swap := byte('A')
			if token[mid] == 'A' {
				swap = 'B'
			}
			forged := token[:mid] + string(swap) + token[mid+1:]
			_, err := auth.Verify(forged)
			So(err, ShouldEqual, ErrUnauthenticated)

			_, err = auth.Verify(token[:len(token)/2])
			So(err, ShouldEqual, ErrUnauthenticated)

			_, err = auth.Verify("")
			So(err, ShouldEqual, ErrUnauthenticated)

			_, err = auth.Verify(strings.Repeat("x", 64))
			So(err, ShouldEqual, ErrUnauthenticated)
		})

		Convey("Tokens from another secret fail", func() {
			stranger, err := NewSessionAuthenticator([]byte("some other signing secret entirely"))
			So(err, ShouldBeNil)
			_, err = stranger.Verify(token)
			So(err, ShouldEqual, ErrUnauthenticated)
		})
	})

	Convey("ttl of zero never verifies", t, func() {
		auth, err := NewSessionAuthenticator([]byte("secret"))
		So(err, ShouldBeNil)

		token, err := auth.Issue("u1", 0)
		So(err, ShouldBeNil)
		_, err = auth.Verify(token)
		So(err, ShouldEqual, ErrUnauthenticated)

		token, err = auth.Issue("u1", -time.Minute)
		So(err, ShouldBeNil)
		_, err = auth.Verify(token)
		So(err, ShouldEqual, ErrUnauthenticated)
	})

	Convey("Credentials expire", t, func() {
		now := time.Now()
		auth, err := NewSessionAuthenticator([]byte("secret"))
		So(err, ShouldBeNil)
		auth.Clock = func() time.Time { return now }

		token, err := auth.Issue("u1", time.Minute)
		So(err, ShouldBeNil)

		auth.Clock = func() time.Time { return now.Add(59 * time.Second) }
		_, err = auth.Verify(token)
		So(err, ShouldBeNil)

		auth.Clock = func() time.Time { return now.Add(time.Minute) }
		_, err = auth.Verify(token)
		So(err, ShouldEqual, ErrUnauthenticated)
	})

	Convey("Empty subjects are refused", t, func() {
		auth, err := NewSessionAuthenticator([]byte("secret"))
		So(err, ShouldBeNil)
		_, err = auth.Issue("", time.Hour)
		So(err, ShouldNotBeNil)
	})
}

func TestCheckAdminToken(t *testing.T) {
	Convey("Admin token equality", t, func() {
		So(CheckAdminToken("operator-token", "operator-token"), ShouldBeTrue)
		So(CheckAdminToken("operator-token", "operator-tokem"), ShouldBeFalse)
		So(CheckAdminToken("operator-token", "operator"), ShouldBeFalse)
		So(CheckAdminToken("", ""), ShouldBeFalse)
		So(CheckAdminToken("operator-token", ""), ShouldBeFalse)
	})
}

func TestPasswords(t *testing.T) {
	Convey("Hash and verify", t, func() {
		hash, err := HashPassword(CurrentKDFParams(), "Sup3r$ecret", rand.Reader)
		So(err, ShouldBeNil)
		So(hash, ShouldStartWith, "$argon2id$v=19$")

		So(VerifyPassword(hash, "Sup3r$ecret"), ShouldBeTrue)
		So(VerifyPassword(hash, "Sup3r$ecreT"), ShouldBeFalse)

		again, err := HashPassword(CurrentKDFParams(), "Sup3r$ecret", rand.Reader)
		So(err, ShouldBeNil)
		So(again, ShouldNotEqual, hash)
	})

	Convey("Garbage hashes never verify", t, func() {
		for _, h := range []string{"", "plain", "$argon2i$v=19$m=64,t=1,p=1$AAAA$AAAA", "$argon2id$v=19$m=64,t=0,p=1$AAAA$AAAA"} {
			So(VerifyPassword(h, "x"), ShouldBeFalse)
		}
	})

	Convey("Empty passwords are refused", t, func() {
		_, err := HashPassword(CurrentKDFParams(), "", rand.Reader)
		So(err, ShouldEqual, ErrInvalidPassword)
	})
}
