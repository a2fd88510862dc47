package proto

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rutishh0/testingAegis/proto/security"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

const (
	MaxUsernameLength = 64
	MinPasswordLength = 8
)

// User is a registered account as the storage layer holds it. The
// PasswordHash never leaves the server.
type User struct {
	ID                  snowflake.Snowflake
	Username            string
	PublicKey           string
	EncryptedPrivateKey string
	PasswordHash        string
	Created             time.Time
}

func (u *User) View() UserView {
	return UserView{ID: u.ID, Username: u.Username, PublicKey: u.PublicKey}
}

// UserView is the public projection of a user.
type UserView struct {
	ID        snowflake.Snowflake `json:"userId"`
	Username  string              `json:"username"`
	PublicKey string              `json:"publicKey"`
}

// Account is what a user receives about themselves, including the vault
// document holding their sealed secret key.
type Account struct {
	UserView
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
}

func (u *User) Account() *Account {
	return &Account{UserView: u.View(), EncryptedPrivateKey: u.EncryptedPrivateKey}
}

// NewUser carries a registration to the storage layer.
type NewUser struct {
	Username            string
	PublicKey           string
	EncryptedPrivateKey string
	PasswordHash        string
}

func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidUsername)
	}
	if utf8.RuneCountInString(name) > MaxUsernameLength {
		return "", fmt.Errorf("%w: username is too long", ErrInvalidUsername)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: username contains control characters", ErrInvalidUsername)
		}
	}
	return name, nil
}

// CheckPasswordStrength requires at least eight characters with a lower
// case letter, an upper case letter, a digit and a symbol.
func CheckPasswordStrength(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return ErrWeakPassword
	}
	return nil
}

// ValidateRegistration checks the client-supplied parts of a registration
// before anything is hashed or stored.
func ValidateRegistration(username, password, publicKey, vaultDocument string) (string, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return "", err
	}
	if err := CheckPasswordStrength(password); err != nil {
		return "", err
	}
	if _, err := security.DecodePublicKey(publicKey); err != nil {
		return "", err
	}
	if _, err := security.ParseVaultDocument(vaultDocument); err != nil {
		return "", err
	}
	return name, nil
}
