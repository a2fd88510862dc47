package security

import (
	"crypto/rand"
	"fmt"
	"io"
	"unicode/utf8"
)

// EscrowedPayload is one plaintext sealed twice under a single nonce: once
// for the recipient and once for the admin authority. Both ciphertexts
// are authenticated by the sender's secret key. PayloadSender, when
// present, is a third copy the sender can open with their own keypair.
//
// The admin copy is deliberate. Anyone holding the admin secret key can
// read every message.
type EscrowedPayload struct {
	PayloadRecipient string `json:"payloadRecipient"`
	PayloadAdmin     string `json:"payloadAdmin"`
	PayloadSender    string `json:"payloadSender,omitempty"`
	Nonce            string `json:"nonce"`
}

// Encryptor produces EscrowedPayloads. Each call draws a fresh nonce from
// Rand (crypto/rand when nil).
type Encryptor struct {
	Rand io.Reader
}

func (e Encryptor) nonce() ([]byte, error) {
	r := e.Rand
	if r == nil {
		r = rand.Reader
	}
	nonce := make([]byte, Curve25519.NonceSize())
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntropy, err)
	}
	return nonce, nil
}

func (e Encryptor) Encrypt(
	plaintext string, senderSecret *SecretKey, recipientPublic, adminPublic *PublicKey) (*EscrowedPayload, error) {

	if senderSecret == nil {
		return nil, ErrInvalidPrivateKey
	}
	if recipientPublic == nil || adminPublic == nil {
		return nil, ErrInvalidPublicKey
	}

	nonce, err := e.nonce()
	if err != nil {
		return nil, err
	}

	msg := []byte(plaintext)
	forRecipient, err := Curve25519.Seal(msg, nonce, recipientPublic[:], senderSecret[:])
	if err != nil {
		return nil, err
	}
	forAdmin, err := Curve25519.Seal(msg, nonce, adminPublic[:], senderSecret[:])
	if err != nil {
		return nil, err
	}

	return &EscrowedPayload{
		PayloadRecipient: EncodeBase64(forRecipient),
		PayloadAdmin:     EncodeBase64(forAdmin),
		Nonce:            EncodeBase64(nonce),
	}, nil
}

// EncryptWithSenderCopy is Encrypt plus a PayloadSender sealed from the
// sender to themselves under the same nonce.
func (e Encryptor) EncryptWithSenderCopy(
	plaintext string, sender *KeyPair, recipientPublic, adminPublic *PublicKey) (*EscrowedPayload, error) {

	if sender == nil {
		return nil, ErrInvalidPrivateKey
	}
	payload, err := e.Encrypt(plaintext, &sender.Secret, recipientPublic, adminPublic)
	if err != nil {
		return nil, err
	}

	nonce, err := DecodeBase64(payload.Nonce)
	if err != nil {
		return nil, err
	}
	forSender, err := Curve25519.Seal([]byte(plaintext), nonce, sender.Public[:], sender.Secret[:])
	if err != nil {
		return nil, err
	}
	payload.PayloadSender = EncodeBase64(forSender)
	return payload, nil
}

// Encrypt seals plaintext for the recipient and the admin using crypto/rand.
func Encrypt(plaintext string, senderSecret *SecretKey, recipientPublic, adminPublic *PublicKey) (*EscrowedPayload, error) {
	return Encryptor{}.Encrypt(plaintext, senderSecret, recipientPublic, adminPublic)
}

// Decrypt opens one payload of an EscrowedPayload. Any failure, whether
// malformed input, the wrong key or a modified ciphertext, reports false.
func Decrypt(payloadB64, nonceB64, senderPublicB64 string, ownSecret *SecretKey) (string, bool) {
	if ownSecret == nil {
		return "", false
	}
	payload, err := DecodeBase64(payloadB64)
	if err != nil {
		return "", false
	}
	nonce, err := DecodeFixed(nonceB64, Curve25519.NonceSize())
	if err != nil {
		return "", false
	}
	senderPublic, err := DecodeFixed(senderPublicB64, Curve25519.PublicKeySize())
	if err != nil {
		return "", false
	}

	plain, err := Curve25519.Open(payload, nonce, senderPublic, ownSecret[:])
	if err != nil || !utf8.Valid(plain) {
		return "", false
	}
	return string(plain), true
}
