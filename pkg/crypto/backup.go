package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// BackupArchive is a payload sealed for an offline recipient key pair.
type BackupArchive struct {
	Format    int    `json:"format"`
	PublicKey string `json:"public_key"` // ephemeral sender key
	Nonce     string `json:"nonce"`
	Box       string `json:"box"`
}

// SealBackup encodes v as JSON and seals it for recipient with a fresh
// ephemeral key pair, so only the recipient's private key can open it.
func SealBackup(v any, recipient *[KeySize]byte) (BackupArchive, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return BackupArchive{}, fmt.Errorf("encode backup: %w", err)
	}
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return BackupArchive{}, fmt.Errorf("ephemeral key: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return BackupArchive{}, fmt.Errorf("nonce: %w", err)
	}
	sealed := box.Seal(nil, plain, &nonce, recipient, priv)

	return BackupArchive{
		Format:    SealedFormat,
		PublicKey: base64.StdEncoding.EncodeToString(pub[:]),
		Nonce:     base64.StdEncoding.EncodeToString(nonce[:]),
		Box:       base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// OpenBackup reverses SealBackup with the recipient's private key.
func OpenBackup(a BackupArchive, recipientPriv *[KeySize]byte, out any) error {
	pubRaw, err := base64.StdEncoding.DecodeString(a.PublicKey)
	if err != nil || len(pubRaw) != KeySize {
		return fmt.Errorf("%w: malformed sender key", ErrDecryption)
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(a.Nonce)
	if err != nil || len(nonceRaw) != nonceSize {
		return fmt.Errorf("%w: malformed nonce", ErrDecryption)
	}
	sealed, err := base64.StdEncoding.DecodeString(a.Box)
	if err != nil {
		return fmt.Errorf("%w: malformed box", ErrDecryption)
	}
	var pub [KeySize]byte
	var nonce [nonceSize]byte
	copy(pub[:], pubRaw)
	copy(nonce[:], nonceRaw)

	plain, ok := box.Open(nil, sealed, &nonce, &pub, recipientPriv)
	if !ok {
		return &DecryptionError{Tried: []string{"backup"}}
	}
	return json.Unmarshal(plain, out)
}

// GenerateBackupKeys returns a recipient key pair for backups.
func GenerateBackupKeys() (pub, priv *[KeySize]byte, err error) {
	return box.GenerateKey(rand.Reader)
}
