package security

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// HashPassword returns an argon2id hash of password in PHC string form,
// e.g. $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>.
func HashPassword(params KDFParams, password string, randomReader io.Reader) (string, error) {
	if password == "" {
		return "", ErrInvalidPassword
	}
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(randomReader, salt); err != nil {
		return "", fmt.Errorf("%w: %s", ErrEntropy, err)
	}
	hash := params.KeyFromPassword([]byte(password), salt)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks password against a hash produced by HashPassword.
// The cost parameters are read from the encoded hash.
func VerifyPassword(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var params KDFParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Threads); err != nil {
		return false
	}
	if params.Time == 0 || params.Threads == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}
	params.KeyLen = uint32(len(expected))

	actual := params.KeyFromPassword([]byte(password), salt)
	defer Wipe(actual)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}
