package crypto

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRing(t *testing.T, names ...string) *Keyring {
	t.Helper()
	var keys []NamedKey
	for i, n := range names {
		keys = append(keys, NamedKey{Namespace: n, Key: bytes.Repeat([]byte{byte(i + 1)}, KeySize)})
	}
	kr, err := NewKeyring(keys...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kr.Close() })
	return kr
}

type payload struct {
	ULID   string         `json:"ulid"`
	Values map[string]any `json:"values"`
	Tags   []string       `json:"tags"`
}

func TestRoundTrip(t *testing.T) {
	g := NewGateway(testRing(t, "records", "lock"))

	in := payload{ULID: "01H", Values: map[string]any{"name": "Jo", "age": float64(5)}, Tags: []string{"draft"}}
	sealed, err := g.Encrypt("records", in)
	require.NoError(t, err)
	assert.Equal(t, SealedFormat, sealed.Format)

	var out payload
	ns, err := g.Decrypt([]string{"records"}, sealed, &out)
	require.NoError(t, err)
	assert.Equal(t, "records", ns)
	assert.Equal(t, in, out)
}

func TestDecryptTriesNamespacesInOrder(t *testing.T) {
	g := NewGateway(testRing(t, "records", "lock"))

	sealed, err := g.Encrypt("lock", map[string]string{"a": "b"})
	require.NoError(t, err)

	var out map[string]string
	ns, err := g.Decrypt([]string{"missing", "records", "lock"}, sealed, &out)
	require.NoError(t, err)
	assert.Equal(t, "lock", ns)
	assert.Equal(t, "b", out["a"])
}

func TestDecryptWrongKey(t *testing.T) {
	g := NewGateway(testRing(t, "records", "lock"))
	sealed, err := g.Encrypt("records", "secret")
	require.NoError(t, err)

	var out string
	_, err = g.Decrypt([]string{"lock"}, sealed, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryption))
	var de *DecryptionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, []string{"lock"}, de.Tried)

	// tampered box
	sealed.Box = sealed.Box[:len(sealed.Box)-4] + "AAAA"
	_, err = g.Decrypt([]string{"records"}, sealed, &out)
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestEncryptMissingKey(t *testing.T) {
	g := NewGateway(testRing(t, "records"))
	_, err := g.Encrypt("shared", 1)
	assert.True(t, errors.Is(err, ErrMissingKey))
}

func TestGatewayConcurrentUse(t *testing.T) {
	g := NewGateway(testRing(t, "records"))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := g.Encrypt("records", i)
			assert.NoError(t, err)
			var out int
			_, err = g.Decrypt([]string{"records"}, s, &out)
			assert.NoError(t, err)
			assert.Equal(t, i, out)
		}(i)
	}
	wg.Wait()
}

func TestKeyringValidation(t *testing.T) {
	_, err := NewKeyring(NamedKey{Namespace: "records", Key: []byte("short")})
	assert.Error(t, err)

	k := bytes.Repeat([]byte{9}, KeySize)
	_, err = NewKeyring(NamedKey{Namespace: "a", Key: k}, NamedKey{Namespace: "a", Key: k})
	assert.Error(t, err)

	kr, err := NewKeyring(NamedKey{Namespace: "b", Key: k}, NamedKey{Namespace: "a", Key: k})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, kr.Namespaces())
	require.NoError(t, kr.Close())
	assert.False(t, kr.Has("a"))
}

func TestLoadKeyringWithWrappedKey(t *testing.T) {
	ctx := context.Background()
	master := hex.EncodeToString(bytes.Repeat([]byte{7}, KeySize))
	raw := bytes.Repeat([]byte{3}, KeySize)

	wrapped, err := WrapKey(ctx, master, raw)
	require.NoError(t, err)

	kr, err := LoadKeyring(ctx, map[string]string{
		"records": "wrapped:" + wrapped,
		"lock":    "hex:" + hex.EncodeToString(bytes.Repeat([]byte{4}, KeySize)),
	}, []string{"records", "shared", "lock"}, master)
	require.NoError(t, err)
	defer kr.Close()

	assert.Equal(t, []string{"records", "lock"}, kr.Namespaces())
	k, ok := kr.key("records")
	require.True(t, ok)
	assert.Equal(t, raw, k[:])

	_, err = LoadKeyring(ctx, map[string]string{"records": "wrapped:" + wrapped}, []string{"records"},
		hex.EncodeToString(bytes.Repeat([]byte{8}, KeySize)))
	assert.Error(t, err)
}

func TestBackupRoundTrip(t *testing.T) {
	pub, priv, err := GenerateBackupKeys()
	require.NoError(t, err)

	archive, err := SealBackup([]string{"a", "b"}, pub)
	require.NoError(t, err)

	var out []string
	require.NoError(t, OpenBackup(archive, priv, &out))
	assert.Equal(t, []string{"a", "b"}, out)

	_, other, err := GenerateBackupKeys()
	require.NoError(t, err)
	assert.True(t, errors.Is(OpenBackup(archive, other, &out), ErrDecryption))
}
