package security

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gorilla/securecookie"
)

const credentialName = "aegis-credential"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMissingSecret   = errors.New("credential secret not configured")
)

// Credential is the signed content of a user bearer token. Times are unix
// milliseconds.
type Credential struct {
	SubjectID string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// SessionAuthenticator issues and verifies HMAC-signed user credentials.
// The admin never holds one; see CheckAdminToken.
type SessionAuthenticator struct {
	codec *securecookie.SecureCookie
	Clock func() time.Time
}

func NewSessionAuthenticator(secret []byte) (*SessionAuthenticator, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	codec := securecookie.New(secret, nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	// Expiry is carried in the credential itself.
	codec.MaxAge(0)
	return &SessionAuthenticator{codec: codec, Clock: time.Now}, nil
}

func (a *SessionAuthenticator) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock()
}

// Issue signs a credential for subjectID valid for ttl. A ttl of zero or
// less produces a token that never verifies.
func (a *SessionAuthenticator) Issue(subjectID string, ttl time.Duration) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject id required")
	}
	now := a.now()
	if ttl < 0 {
		ttl = 0
	}
	cred := &Credential{
		SubjectID: subjectID,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	return a.codec.Encode(credentialName, cred)
}

// Verify returns the credential carried by token. Every failure is reported
// as ErrUnauthenticated.
func (a *SessionAuthenticator) Verify(token string) (*Credential, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	cred := &Credential{}
	if err := a.codec.Decode(credentialName, token, cred); err != nil {
		return nil, ErrUnauthenticated
	}
	if cred.SubjectID == "" || a.now().UnixMilli() >= cred.ExpiresAt {
		return nil, ErrUnauthenticated
	}
	return cred, nil
}

// CheckAdminToken compares presented against the configured operator token
// in constant time. An unconfigured token never matches.
func CheckAdminToken(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
