package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/security"
)

// MaxRequestBody bounds every JSON request body.
const MaxRequestBody = 1 << 20

type errorBody struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func newHTTPError(status int, message string) error { return &httpError{status: status, message: message} }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &errorBody{Error: true, Message: message})
}

// serveError maps err to a status and a message safe to show a client.
// Unexpected errors are logged and reported generically.
func serveError(ctx context.Context, w http.ResponseWriter, err error) {
	var he *httpError
	switch {
	case errors.As(err, &he):
		writeError(w, he.status, he.message)
	case errors.Is(err, security.ErrBusy):
		kdfBusy.Inc()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Service busy. Please retry shortly.")
	case errors.Is(err, security.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized.")
	case errors.Is(err, proto.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username already exists.")
	case errors.Is(err, proto.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found.")
	case errors.Is(err, proto.ErrAdminConfigNotFound):
		writeError(w, http.StatusNotFound, "Admin configuration not found.")
	case errors.Is(err, proto.ErrSelfMessage):
		writeError(w, http.StatusBadRequest, "Cannot send messages to yourself.")
	case proto.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Logger(ctx).Printf("error: %s", err)
		writeError(w, http.StatusInternalServerError, "Internal server error.")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBody))
	if err := dec.Decode(v); err != nil {
		return newHTTPError(http.StatusBadRequest, "Invalid JSON request body.")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
