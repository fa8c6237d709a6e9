package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"fieldsync/pkg/models"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/store/keys"
)

// PendingFiles holds the application files a user edited locally and has
// not published yet.
type PendingFiles struct {
	db     *db.DB
	userID int64
}

func NewPendingFiles(d *db.DB, userID int64) *PendingFiles {
	return &PendingFiles{db: d, userID: userID}
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data as the pending copy of filename.
func (p *PendingFiles) Put(ctx context.Context, filename string, data []byte) (models.PendingFile, error) {
	if err := ctx.Err(); err != nil {
		return models.PendingFile{}, err
	}
	filename = strings.TrimPrefix(filename, "/")
	if filename == "" {
		return models.PendingFile{}, fmt.Errorf("empty filename")
	}
	pf := models.PendingFile{
		Filename: filename,
		Size:     int64(len(data)),
		SHA256:   hashHex(data),
		Blob:     append([]byte(nil), data...),
	}
	raw, err := json.Marshal(pf)
	if err != nil {
		return pf, err
	}
	err = p.db.Update(func(tx *db.Tx) error {
		return tx.Set(keys.GenPendingFileKey(p.userID, filename), raw)
	})
	return pf, err
}

// Get returns the pending copy of filename; ok is false when there is none.
func (p *PendingFiles) Get(ctx context.Context, filename string) (models.PendingFile, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.PendingFile{}, false, err
	}
	raw, err := p.db.Get(keys.GenPendingFileKey(p.userID, strings.TrimPrefix(filename, "/")))
	if db.IsNotFound(err) {
		return models.PendingFile{}, false, nil
	}
	if err != nil {
		return models.PendingFile{}, false, err
	}
	var pf models.PendingFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return models.PendingFile{}, false, fmt.Errorf("pending file %s: %w", filename, err)
	}
	return pf, true, nil
}

// List returns every pending file, sorted by filename.
func (p *PendingFiles) List(ctx context.Context) ([]models.PendingFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.PendingFile
	err := p.db.View(func(r db.Reader) error {
		return r.Scan(keys.GenPendingFilePrefix(p.userID), func(k string, v []byte) error {
			var pf models.PendingFile
			if err := json.Unmarshal(v, &pf); err != nil {
				return fmt.Errorf("pending file %s: %w", k, err)
			}
			out = append(out, pf)
			return nil
		})
	})
	return out, err
}

// Delete drops the pending copy of filename.
func (p *PendingFiles) Delete(ctx context.Context, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(tx *db.Tx) error {
		return tx.Delete(keys.GenPendingFileKey(p.userID, strings.TrimPrefix(filename, "/")))
	})
}

// Clear drops every pending file of the user.
func (p *PendingFiles) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(tx *db.Tx) error {
		return tx.DeletePrefix(keys.GenPendingFilePrefix(p.userID))
	})
}
