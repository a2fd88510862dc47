package security

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const VaultNonceSize = 24

var (
	ErrInvalidPassword = errors.New("password must not be empty")
	ErrInvalidVault    = errors.New("invalid vault document")
	ErrUndecryptable   = errors.New("undecryptable")
)

// VaultBlob is a secret key sealed under a password-derived key. Byte
// fields marshal as base64 strings.
type VaultBlob struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func (b *VaultBlob) Validate() error {
	switch {
	case b == nil:
		return ErrInvalidVault
	case len(b.Salt) != SaltSize:
		return fmt.Errorf("%w: salt must be %d bytes", ErrInvalidVault, SaltSize)
	case len(b.Nonce) != VaultNonceSize:
		return fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidVault, VaultNonceSize)
	case len(b.Ciphertext) != Curve25519.PrivateKeySize()+secretbox.Overhead:
		return fmt.Errorf("%w: unexpected ciphertext length", ErrInvalidVault)
	}
	return nil
}

// Document renders the blob in its transport form: base64 of a JSON object.
func (b *VaultBlob) Document() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return EncodeBase64(data), nil
}

func ParseVaultDocument(doc string) (*VaultBlob, error) {
	data, err := DecodeBase64(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVault, err)
	}
	blob := &VaultBlob{}
	if err := json.Unmarshal(data, blob); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVault, err)
	}
	if err := blob.Validate(); err != nil {
		return nil, err
	}
	return blob, nil
}

// SealSecretKey derives a key from password with a fresh salt and seals
// secretKey under it with a fresh nonce.
func SealSecretKey(params KDFParams, secretKey *SecretKey, password string, randomReader io.Reader) (*VaultBlob, error) {
	if secretKey == nil {
		return nil, ErrInvalidPrivateKey
	}
	if password == "" {
		return nil, ErrInvalidPassword
	}

	blob := &VaultBlob{
		Salt:  make([]byte, SaltSize),
		Nonce: make([]byte, VaultNonceSize),
	}
	if _, err := io.ReadFull(randomReader, blob.Salt); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntropy, err)
	}
	if _, err := io.ReadFull(randomReader, blob.Nonce); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntropy, err)
	}

	derived := params.KeyFromPassword([]byte(password), blob.Salt)
	defer Wipe(derived)

	var (
		key   [32]byte
		nonce [VaultNonceSize]byte
	)
	defer Wipe(key[:])
	copy(key[:], derived)
	copy(nonce[:], blob.Nonce)

	blob.Ciphertext = secretbox.Seal(nil, secretKey[:], &nonce, &key)
	return blob, nil
}

// UnsealSecretKey recovers the secret key sealed in blob. A wrong password
// and a damaged blob both report false.
func UnsealSecretKey(params KDFParams, blob *VaultBlob, password string) (*SecretKey, bool) {
	if blob.Validate() != nil || password == "" {
		return nil, false
	}

	derived := params.KeyFromPassword([]byte(password), blob.Salt)
	defer Wipe(derived)

	var (
		key   [32]byte
		nonce [VaultNonceSize]byte
	)
	defer Wipe(key[:])
	copy(key[:], derived)
	copy(nonce[:], blob.Nonce)

	plain, ok := secretbox.Open(nil, blob.Ciphertext, &nonce, &key)
	if !ok {
		return nil, false
	}
	defer Wipe(plain)

	if len(plain) != Curve25519.PrivateKeySize() {
		return nil, false
	}
	sk := &SecretKey{}
	copy(sk[:], plain)
	return sk, true
}

// Vault runs seal and unseal on a KDFPool so slow derivations cannot
// starve unrelated work.
type Vault struct {
	Pool   *KDFPool
	Params KDFParams
	Rand   io.Reader
}

func NewVault(pool *KDFPool) *Vault { return &Vault{Pool: pool} }

func (v *Vault) params() KDFParams {
	if v.Params.Time == 0 {
		return CurrentKDFParams()
	}
	return v.Params
}

func (v *Vault) random() io.Reader {
	if v.Rand == nil {
		return rand.Reader
	}
	return v.Rand
}

func (v *Vault) Seal(ctx context.Context, secretKey *SecretKey, password string) (*VaultBlob, error) {
	if password == "" {
		return nil, ErrInvalidPassword
	}

	var (
		blob    *VaultBlob
		sealErr error
	)
	if err := v.Pool.Do(ctx, func() {
		blob, sealErr = SealSecretKey(v.params(), secretKey, password, v.random())
	}); err != nil {
		return nil, err
	}
	return blob, sealErr
}

// Unseal returns ErrUndecryptable when the password is wrong or the blob
// has been altered, and ErrBusy when no derivation slot frees up in time.
func (v *Vault) Unseal(ctx context.Context, blob *VaultBlob, password string) (*SecretKey, error) {
	if err := blob.Validate(); err != nil {
		return nil, err
	}

	var (
		sk *SecretKey
		ok bool
	)
	if err := v.Pool.Do(ctx, func() { sk, ok = UnsealSecretKey(v.params(), blob, password) }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUndecryptable
	}
	return sk, nil
}
