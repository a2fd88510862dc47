package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/nacl/box"
)

var (
	ErrEntropy                = errors.New("secure random source unavailable")
	ErrInvalidKey             = errors.New("invalid key")
	ErrInvalidPublicKey       = errors.New("invalid public key")
	ErrInvalidPrivateKey      = errors.New("invalid private key")
	ErrInvalidNonce           = errors.New("invalid nonce")
	ErrMessageIntegrityFailed = errors.New("message integrity failed")
)

type KeyPairType byte

const (
	Curve25519 KeyPairType = iota
)

func (t KeyPairType) PrivateKeySize() int {
	switch t {
	case Curve25519:
		return 32
	default:
		panic(fmt.Sprintf("no private key size defined for key type %s", t))
	}
}

func (t KeyPairType) PublicKeySize() int {
	switch t {
	case Curve25519:
		return 32
	default:
		panic(fmt.Sprintf("no public key size defined for key type %s", t))
	}
}

func (t KeyPairType) NonceSize() int {
	switch t {
	case Curve25519:
		return 24
	default:
		return 0
	}
}

func (t KeyPairType) String() string {
	switch t {
	case Curve25519:
		return "curve25519"
	default:
		return strconv.Itoa(int(t))
	}
}

func (t KeyPairType) checkNonceAndKeys(nonce, publicKey, privateKey []byte) error {
	if len(publicKey) != t.PublicKeySize() {
		return ErrInvalidPublicKey
	}

	if len(privateKey) != t.PrivateKeySize() {
		return ErrInvalidPrivateKey
	}

	if len(nonce) != t.NonceSize() {
		return ErrInvalidNonce
	}

	return nil
}

func (t KeyPairType) Seal(message, nonce, peersPublicKey, privateKey []byte) ([]byte, error) {
	if err := t.checkNonceAndKeys(nonce, peersPublicKey, privateKey); err != nil {
		return nil, err
	}

	switch t {
	case Curve25519:
		var (
			pubKey, privKey [32]byte
			n               [24]byte
		)
		defer Wipe(privKey[:])
		copy(n[:], nonce)
		copy(pubKey[:], peersPublicKey)
		copy(privKey[:], privateKey)
		out := make([]byte, 0, len(message)+box.Overhead)
		out = box.Seal(out, message, &n, &pubKey, &privKey)
		return out, nil
	default:
		return nil, ErrInvalidKey
	}
}

func (t KeyPairType) Open(message, nonce, peersPublicKey, privateKey []byte) ([]byte, error) {
	if err := t.checkNonceAndKeys(nonce, peersPublicKey, privateKey); err != nil {
		return nil, err
	}

	switch t {
	case Curve25519:
		if len(message) < box.Overhead {
			return nil, ErrMessageIntegrityFailed
		}
		var (
			ok              bool
			pubKey, privKey [32]byte
			n               [24]byte
		)
		defer Wipe(privKey[:])
		copy(n[:], nonce)
		copy(pubKey[:], peersPublicKey)
		copy(privKey[:], privateKey)
		out := make([]byte, 0, len(message)-box.Overhead)
		out, ok = box.Open(out, message, &n, &pubKey, &privKey)
		if !ok {
			return nil, ErrMessageIntegrityFailed
		}
		return out, nil
	default:
		return nil, ErrInvalidKey
	}
}

func (t KeyPairType) Generate(randomReader io.Reader) (*KeyPair, error) {
	switch t {
	case Curve25519:
		publicKey, privateKey, err := box.GenerateKey(randomReader)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrEntropy, err)
		}
		kp := &KeyPair{Public: PublicKey(*publicKey), Secret: SecretKey(*privateKey)}
		Wipe(privateKey[:])
		return kp, nil
	default:
		return nil, ErrInvalidKey
	}
}

type PublicKey [32]byte

func (k *PublicKey) Encode() string { return EncodeBase64(k[:]) }

func DecodePublicKey(s string) (*PublicKey, error) {
	b, err := DecodeFixed(s, Curve25519.PublicKeySize())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPublicKey, err)
	}
	var k PublicKey
	copy(k[:], b)
	return &k, nil
}

// SecretKey is the private half of a box keypair. It must never leave the
// device that generated it unless sealed in a vault.
type SecretKey [32]byte

func (k *SecretKey) Encode() string { return EncodeBase64(k[:]) }

func (k *SecretKey) Wipe() {
	if k != nil {
		Wipe(k[:])
	}
}

func DecodeSecretKey(s string) (*SecretKey, error) {
	b, err := DecodeFixed(s, Curve25519.PrivateKeySize())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrivateKey, err)
	}
	defer Wipe(b)
	var k SecretKey
	copy(k[:], b)
	return &k, nil
}

type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// GenerateKeyPair draws a fresh Curve25519 keypair from crypto/rand. An
// ErrEntropy result is fatal for the calling operation.
func GenerateKeyPair() (*KeyPair, error) { return Curve25519.Generate(rand.Reader) }

func (kp *KeyPair) Wipe() {
	if kp != nil {
		kp.Secret.Wipe()
	}
}
