package crypto

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"fieldsync/pkg/state/logger"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/v2/aead"
)

const KeySize = 32

// NamedKey is a symmetric key bound to a namespace role such as "records".
type NamedKey struct {
	Namespace string
	Key       []byte
}

// Keyring is an ordered, read-only set of namespace keys.
type Keyring struct {
	keys  []NamedKey
	index map[string]int
}

// NewKeyring copies the keys, locks them in memory and keeps their order.
func NewKeyring(keys ...NamedKey) (*Keyring, error) {
	kr := &Keyring{index: make(map[string]int, len(keys))}
	for _, k := range keys {
		if k.Namespace == "" {
			return nil, fmt.Errorf("keyring: empty namespace")
		}
		if len(k.Key) != KeySize {
			return nil, fmt.Errorf("keyring: key for %q must be %d bytes, got %d", k.Namespace, KeySize, len(k.Key))
		}
		if _, dup := kr.index[k.Namespace]; dup {
			return nil, fmt.Errorf("keyring: duplicate namespace %q", k.Namespace)
		}
		buf := make([]byte, KeySize)
		copy(buf, k.Key)
		if err := LockMemory(buf); err != nil {
			logger.Debug("key_mlock_failed", "namespace", k.Namespace, "error", err)
		}
		kr.index[k.Namespace] = len(kr.keys)
		kr.keys = append(kr.keys, NamedKey{Namespace: k.Namespace, Key: buf})
	}
	return kr, nil
}

// Namespaces returns the namespace names in keyring order.
func (kr *Keyring) Namespaces() []string {
	out := make([]string, 0, len(kr.keys))
	for _, k := range kr.keys {
		out = append(out, k.Namespace)
	}
	return out
}

// Has reports whether a key exists for ns.
func (kr *Keyring) Has(ns string) bool {
	_, ok := kr.index[ns]
	return ok
}

func (kr *Keyring) key(ns string) (*[KeySize]byte, bool) {
	i, ok := kr.index[ns]
	if !ok {
		return nil, false
	}
	var k [KeySize]byte
	copy(k[:], kr.keys[i].Key)
	return &k, true
}

// Close wipes and unlocks every key.
func (kr *Keyring) Close() error {
	for _, k := range kr.keys {
		for i := range k.Key {
			k.Key[i] = 0
		}
		_ = UnlockMemory(k.Key)
	}
	kr.keys = nil
	kr.index = map[string]int{}
	return nil
}

// DecodeKey accepts "hex:<64 hex>", "base64:<...>" or bare base64 of 32 bytes.
func DecodeKey(v string) ([]byte, error) {
	var raw []byte
	var err error
	switch {
	case strings.HasPrefix(v, "hex:"):
		raw, err = hex.DecodeString(strings.TrimPrefix(v, "hex:"))
	case strings.HasPrefix(v, "base64:"):
		raw, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(v, "base64:"))
	default:
		raw, err = base64.StdEncoding.DecodeString(v)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("expected %d bytes, got %d", KeySize, len(raw))
	}
	return raw, nil
}

// LoadKeyring decodes the configured keys in the given role order. Values
// prefixed with "wrapped:" are unwrapped with an AEAD wrapper built from
// masterKeyHex.
func LoadKeyring(ctx context.Context, encoded map[string]string, order []string, masterKeyHex string) (*Keyring, error) {
	var w wrapping.Wrapper
	var keys []NamedKey
	for _, role := range order {
		v, ok := encoded[role]
		if !ok || v == "" {
			continue
		}
		var raw []byte
		var err error
		if strings.HasPrefix(v, "wrapped:") {
			if w == nil {
				if w, err = newMasterWrapper(ctx, masterKeyHex); err != nil {
					return nil, err
				}
			}
			raw, err = unwrapKey(ctx, w, strings.TrimPrefix(v, "wrapped:"))
		} else {
			raw, err = DecodeKey(v)
		}
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", role, err)
		}
		keys = append(keys, NamedKey{Namespace: role, Key: raw})
	}
	return NewKeyring(keys...)
}

// WrapKey seals a namespace key under the master key; the result can be
// stored in config as "wrapped:<value>".
func WrapKey(ctx context.Context, masterKeyHex string, key []byte) (string, error) {
	w, err := newMasterWrapper(ctx, masterKeyHex)
	if err != nil {
		return "", err
	}
	blob, err := w.Encrypt(ctx, key)
	if err != nil {
		return "", fmt.Errorf("wrap key: %w", err)
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func newMasterWrapper(ctx context.Context, masterKeyHex string) (wrapping.Wrapper, error) {
	mk, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(mk) != KeySize {
		return nil, fmt.Errorf("master key must be %d hex-encoded bytes", KeySize)
	}
	aeadWrapper := aead.NewWrapper()

	// HashiCorp AEAD wrapper expects base64-encoded key
	_, err = aeadWrapper.SetConfig(ctx, wrapping.WithConfigMap(map[string]string{
		"key":    base64.StdEncoding.EncodeToString(mk),
		"key_id": "fieldsync-master",
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to configure AEAD wrapper: %w", err)
	}
	return aeadWrapper, nil
}

func unwrapKey(ctx context.Context, w wrapping.Wrapper, encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	var blob wrapping.BlobInfo
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("parse wrapped key: %w", err)
	}
	raw, err := w.Decrypt(ctx, &blob)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	return raw, nil
}
