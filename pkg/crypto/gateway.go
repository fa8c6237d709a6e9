package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	SealedFormat = 2
	nonceSize    = 24
)

var (
	ErrDecryption = errors.New("decryption failed")
	ErrMissingKey = errors.New("missing namespace key")
)

// DecryptionError lists the namespaces that were tried without success.
type DecryptionError struct {
	Tried []string
}

func (e *DecryptionError) Error() string {
	if len(e.Tried) == 0 {
		return "decryption failed: no usable key"
	}
	return fmt.Sprintf("decryption failed with keys [%s]", strings.Join(e.Tried, ", "))
}

func (e *DecryptionError) Unwrap() error { return ErrDecryption }

// Sealed is an authenticated secretbox payload over JSON.
type Sealed struct {
	Format int    `json:"format"`
	Nonce  string `json:"nonce"`
	Box    string `json:"box"`
}

// Gateway encrypts and decrypts JSON payloads with namespace keys. It holds
// no mutable state and is safe for concurrent use.
type Gateway struct {
	ring *Keyring
}

func NewGateway(ring *Keyring) *Gateway {
	return &Gateway{ring: ring}
}

// Keyring returns the keys backing the gateway.
func (g *Gateway) Keyring() *Keyring { return g.ring }

// Encrypt seals v under the key of namespace ns.
func (g *Gateway) Encrypt(ns string, v any) (Sealed, error) {
	key, ok := g.ring.key(ns)
	if !ok {
		return Sealed{}, fmt.Errorf("%w: cannot encrypt without %q key", ErrMissingKey, ns)
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return Sealed{}, fmt.Errorf("encode payload: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return Sealed{}, fmt.Errorf("nonce: %w", err)
	}
	box := secretbox.Seal(nil, plain, &nonce, key)

	return Sealed{
		Format: SealedFormat,
		Nonce:  base64.StdEncoding.EncodeToString(nonce[:]),
		Box:    base64.StdEncoding.EncodeToString(box),
	}, nil
}

// Decrypt tries the keys of namespaces in order and decodes the first
// payload that authenticates into out. It returns the namespace that opened it.
func (g *Gateway) Decrypt(namespaces []string, s Sealed, out any) (string, error) {
	if s.Format != SealedFormat {
		return "", fmt.Errorf("%w: unsupported format %d", ErrDecryption, s.Format)
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(s.Nonce)
	if err != nil || len(nonceRaw) != nonceSize {
		return "", fmt.Errorf("%w: malformed nonce", ErrDecryption)
	}
	box, err := base64.StdEncoding.DecodeString(s.Box)
	if err != nil {
		return "", fmt.Errorf("%w: malformed box", ErrDecryption)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], nonceRaw)

	tried := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		key, ok := g.ring.key(ns)
		if !ok {
			continue
		}
		tried = append(tried, ns)

		plain, ok := secretbox.Open(nil, box, &nonce, key)
		if !ok {
			continue
		}
		if err := json.Unmarshal(plain, out); err != nil {
			return ns, fmt.Errorf("decode payload: %w", err)
		}
		return ns, nil
	}
	return "", &DecryptionError{Tried: tried}
}
