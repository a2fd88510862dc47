package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rutishh0/testingAegis/proto/security"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("%d: %s", e.Status, e.Message) }

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == status
}

type options struct {
	http   *http.Client
	dialer *websocket.Dialer
	vault  *security.Vault
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.http = c } }

func WithDialer(d *websocket.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithVault sets the vault used to seal and unseal the secret key. The
// default runs one derivation at a time.
func WithVault(v *security.Vault) Option { return func(o *options) { o.vault = v } }

func newOptions(opts []Option) *options {
	o := &options{
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.vault == nil {
		o.vault = security.NewVault(security.NewKDFPool(1, time.Minute))
	}
	return o
}

type transport struct {
	baseURL string
	*options
}

func (t *transport) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var reply struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &reply) != nil || reply.Message == "" {
			reply.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: reply.Message}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (t *transport) socketURL() (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
