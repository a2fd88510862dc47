package proto

import (
	"errors"
	"fmt"

	"github.com/rutishh0/testingAegis/proto/security"
)

var (
	ErrUserNotFound        = fmt.Errorf("user not found")
	ErrUsernameTaken       = fmt.Errorf("username already taken")
	ErrMessageNotFound     = fmt.Errorf("message not found")
	ErrAdminConfigNotFound = fmt.Errorf("admin public key not configured")

	ErrInvalidUsername = fmt.Errorf("invalid username")
	ErrWeakPassword    = fmt.Errorf("password must be at least 8 characters and include upper and lower case letters, a number and a symbol")
	ErrInvalidMessage  = fmt.Errorf("invalid message")
	ErrSelfMessage     = fmt.Errorf("cannot send a message to yourself")
	ErrAlreadyJoined   = fmt.Errorf("already joined")
)

// IsValidationError reports whether err describes malformed input rather
// than a failed operation.
func IsValidationError(err error) bool {
	for _, target := range []error{ErrInvalidUsername, ErrWeakPassword, ErrInvalidMessage, ErrSelfMessage} {
		if errors.Is(err, target) {
			return true
		}
	}
	return security.IsValidationError(err)
}
