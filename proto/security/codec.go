package security

import (
	"encoding/base64"
	"errors"
)

var (
	ErrInvalidEncoding = errors.New("invalid base64 encoding")
	ErrInvalidLength   = errors.New("invalid decoded length")
)

// EncodeBase64 renders b in standard padded base64, the encoding used for
// every key, nonce, salt and ciphertext that leaves this package.
func EncodeBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	return b, nil
}

// DecodeFixed decodes s and requires exactly size bytes.
func DecodeFixed(s string, size int) ([]byte, error) {
	b, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		Wipe(b)
		return nil, ErrInvalidLength
	}
	return b, nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// IsValidationError reports whether err was caused by malformed input that
// was rejected before any cryptographic operation ran.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidEncoding, ErrInvalidLength, ErrInvalidPublicKey, ErrInvalidPrivateKey,
		ErrInvalidNonce, ErrInvalidPassword, ErrInvalidVault,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
