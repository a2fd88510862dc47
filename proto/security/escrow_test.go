package security

import (
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func flipByte(b64 string, i int) string {
	raw, err := DecodeBase64(b64)
	if err != nil {
		panic(err)
	}
	raw[i] ^= 0x01
	return EncodeBase64(raw)
}

func byteLen(b64 string) int {
	raw, err := DecodeBase64(b64)
	if err != nil {
		panic(err)
	}
	return len(raw)
}

func TestEscrow(t *testing.T) {
	mustPair := func() *KeyPair {
		kp, err := GenerateKeyPair()
		So(err, ShouldBeNil)
		return kp
	}

	Convey("hello from A to B, escrowed to M", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		pkA := a.Public.Encode()

		out, err := Encrypt("hello", &a.Secret, &b.Public, &m.Public)
		So(err, ShouldBeNil)
		So(byteLen(out.Nonce), ShouldEqual, 24)
		So(out.PayloadSender, ShouldEqual, "")

		got, ok := Decrypt(out.PayloadRecipient, out.Nonce, pkA, &b.Secret)
		So(ok, ShouldBeTrue)
		So(got, ShouldEqual, "hello")

		got, ok = Decrypt(out.PayloadAdmin, out.Nonce, pkA, &m.Secret)
		So(ok, ShouldBeTrue)
		So(got, ShouldEqual, "hello")

		_, ok = Decrypt(out.PayloadRecipient, out.Nonce, pkA, &m.Secret)
		So(ok, ShouldBeFalse)
	})

	Convey("Round trip for a range of plaintexts", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		for _, p := range []string{"", "x", "héllo wörld ✓", strings.Repeat("long message ", 500)} {
			out, err := Encrypt(p, &a.Secret, &b.Public, &m.Public)
			So(err, ShouldBeNil)

			got, ok := Decrypt(out.PayloadRecipient, out.Nonce, a.Public.Encode(), &b.Secret)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, p)

			got, ok = Decrypt(out.PayloadAdmin, out.Nonce, a.Public.Encode(), &m.Secret)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, p)
		}
	})

	Convey("Recipient and admin ciphertexts differ", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		out, err := Encrypt("same plaintext", &a.Secret, &b.Public, &m.Public)
		So(err, ShouldBeNil)
		So(out.PayloadRecipient, ShouldNotEqual, out.PayloadAdmin)
	})

	Convey("Any single flipped byte fails authentication", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		pkA := a.Public.Encode()
		out, err := Encrypt("tamper me", &a.Secret, &b.Public, &m.Public)
		So(err, ShouldBeNil)

		for i := 0; i < byteLen(out.PayloadRecipient); i++ {
			_, ok := Decrypt(flipByte(out.PayloadRecipient, i), out.Nonce, pkA, &b.Secret)
			So(ok, ShouldBeFalse)
		}
		for i := 0; i < byteLen(out.PayloadAdmin); i++ {
			_, ok := Decrypt(flipByte(out.PayloadAdmin, i), out.Nonce, pkA, &m.Secret)
			So(ok, ShouldBeFalse)
		}
		for i := 0; i < byteLen(out.Nonce); i++ {
			nonce := flipByte(out.Nonce, i)
			_, ok := Decrypt(out.PayloadRecipient, nonce, pkA, &b.Secret)
			So(ok, ShouldBeFalse)
			_, ok = Decrypt(out.PayloadAdmin, nonce, pkA, &m.Secret)
			So(ok, ShouldBeFalse)
		}
	})

	Convey("Only the intended recipient can open the recipient payload", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		out, err := Encrypt("for B only", &a.Secret, &b.Public, &m.Public)
		So(err, ShouldBeNil)

		for i := 0; i < 5; i++ {
			other := mustPair()
			_, ok := Decrypt(out.PayloadRecipient, out.Nonce, a.Public.Encode(), &other.Secret)
			So(ok, ShouldBeFalse)
		}
		_, ok := Decrypt(out.PayloadRecipient, out.Nonce, a.Public.Encode(), &a.Secret)
		So(ok, ShouldBeFalse)

		Convey("and the claimed sender must match", func() {
			_, ok := Decrypt(out.PayloadRecipient, out.Nonce, mustPair().Public.Encode(), &b.Secret)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Malformed input reports absent", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		out, err := Encrypt("hello", &a.Secret, &b.Public, &m.Public)
		So(err, ShouldBeNil)
		pkA := a.Public.Encode()

		for _, tc := range [][3]string{
			{"%%%", out.Nonce, pkA},
			{out.PayloadRecipient, "%%%", pkA},
			{out.PayloadRecipient, EncodeBase64(make([]byte, 23)), pkA},
			{out.PayloadRecipient, out.Nonce, EncodeBase64(make([]byte, 31))},
			{"", out.Nonce, pkA},
		} {
			_, ok := Decrypt(tc[0], tc[1], tc[2], &b.Secret)
			So(ok, ShouldBeFalse)
		}
		_, ok := Decrypt(out.PayloadRecipient, out.Nonce, pkA, nil)
		So(ok, ShouldBeFalse)
	})

	Convey("Nonces never repeat across 10,000 calls", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		seen := make(map[string]struct{}, 10000)
		collisions := 0
		for i := 0; i < 10000; i++ {
			out, err := Encrypt("identical", &a.Secret, &b.Public, &m.Public)
			if err != nil {
				t.Fatal(err)
			}
			if _, dup := seen[out.Nonce]; dup {
				collisions++
			}
			seen[out.Nonce] = struct{}{}
		}
		So(collisions, ShouldEqual, 0)
	})

	Convey("Entropy failure aborts encryption", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		_, err := Encryptor{Rand: failingReader{}}.Encrypt("x", &a.Secret, &b.Public, &m.Public)
		So(errors.Is(err, ErrEntropy), ShouldBeTrue)
	})

	Convey("Sender copy", t, func() {
		a, b, m := mustPair(), mustPair(), mustPair()
		pkA := a.Public.Encode()
		out, err := Encryptor{}.EncryptWithSenderCopy("note to self", a, &b.Public, &m.Public)
		So(err, ShouldBeNil)
		So(out.PayloadSender, ShouldNotEqual, "")

		got, ok := Decrypt(out.PayloadSender, out.Nonce, pkA, &a.Secret)
		So(ok, ShouldBeTrue)
		So(got, ShouldEqual, "note to self")

		got, ok = Decrypt(out.PayloadRecipient, out.Nonce, pkA, &b.Secret)
		So(ok, ShouldBeTrue)
		So(got, ShouldEqual, "note to self")

		_, ok = Decrypt(out.PayloadSender, out.Nonce, pkA, &b.Secret)
		So(ok, ShouldBeFalse)
		_, ok = Decrypt(out.PayloadSender, out.Nonce, pkA, &m.Secret)
		So(ok, ShouldBeFalse)
	})
}
