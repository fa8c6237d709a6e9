package records

import (
	"context"

	"fieldsync/pkg/crypto"
	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/store/keys"
)

// Backup seals every readable entry of every namespace for an offline
// recipient key. When a ulid exists in several namespaces the copy with the
// highest priority wins. It returns the archive and the number of entries.
func (s *Store) Backup(ctx context.Context, recipient *[crypto.KeySize]byte) (crypto.BackupArchive, int, error) {
	if err := ctx.Err(); err != nil {
		return crypto.BackupArchive{}, 0, err
	}
	var entries []*models.Entry
	seen := map[string]bool{}

	err := s.db.View(func(r db.Reader) error {
		for _, ns := range s.profile.ReadOrder() {
			err := r.Scan(keys.GenRecordPrefix(ns), func(k string, _ []byte) error {
				rp, err := keys.ParseRecordKey(k)
				if err != nil || seen[rp.ULID] {
					return nil
				}
				env, err := readEnvelope(r, ns, rp.ULID)
				if err != nil || env == nil {
					logger.Warn("backup_skip", "key", k, "error", err)
					return nil
				}
				entry, err := s.openEntry(env)
				if err != nil {
					logger.Warn("backup_skip", "key", k, "error", err)
					return nil
				}
				seen[rp.ULID] = true
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return crypto.BackupArchive{}, 0, err
	}

	archive, err := crypto.SealBackup(entries, recipient)
	if err != nil {
		return crypto.BackupArchive{}, 0, err
	}
	logger.AuditEvent("records_backup", "user", s.profile.Username, "entries", len(entries))
	return archive, len(entries), nil
}
