package proto

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/rutishh0/testingAegis/proto/security"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPasswordStrength(t *testing.T) {
	Convey("Password complexity", t, func() {
		So(CheckPasswordStrength("Abcdef1!"), ShouldBeNil)
		So(CheckPasswordStrength("correct horse B4ttery"), ShouldBeNil)

		for _, weak := range []string{"", "Ab1!", "abcdefg1!", "ABCDEFG1!", "Abcdefgh!", "Abcdefgh1"} {
			So(CheckPasswordStrength(weak), ShouldEqual, ErrWeakPassword)
		}
	})
}

func TestUsernames(t *testing.T) {
	Convey("Usernames are trimmed and bounded", t, func() {
		name, err := NormalizeUsername("  alice ")
		So(err, ShouldBeNil)
		So(name, ShouldEqual, "alice")

		_, err = NormalizeUsername("   ")
		So(errors.Is(err, ErrInvalidUsername), ShouldBeTrue)

		_, err = NormalizeUsername(strings.Repeat("a", MaxUsernameLength+1))
		So(errors.Is(err, ErrInvalidUsername), ShouldBeTrue)

		_, err = NormalizeUsername("bad\x00name")
		So(errors.Is(err, ErrInvalidUsername), ShouldBeTrue)
	})
}

func TestValidateRegistration(t *testing.T) {
	security.TestMode = true

	Convey("Registration needs a real key and vault", t, func() {
		kp, err := security.GenerateKeyPair()
		So(err, ShouldBeNil)
		blob, err := security.SealSecretKey(security.CurrentKDFParams(), &kp.Secret, "Abcdef1!", rand.Reader)
		So(err, ShouldBeNil)
		doc, err := blob.Document()
		So(err, ShouldBeNil)

		name, err := ValidateRegistration(" carol ", "Abcdef1!", kp.Public.Encode(), doc)
		So(err, ShouldBeNil)
		So(name, ShouldEqual, "carol")

		_, err = ValidateRegistration("carol", "Abcdef1!", "short", doc)
		So(IsValidationError(err), ShouldBeTrue)

		_, err = ValidateRegistration("carol", "Abcdef1!", kp.Public.Encode(), "garbage")
		So(IsValidationError(err), ShouldBeTrue)

		_, err = ValidateRegistration("carol", "weak", kp.Public.Encode(), doc)
		So(err, ShouldEqual, ErrWeakPassword)
	})
}
