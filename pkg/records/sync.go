package records

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/store/keys"
)

// PendingUploads returns the entries flagged for upload in the records
// namespace. Entries that cannot be read are logged and skipped.
func (s *Store) PendingUploads(ctx context.Context) ([]*models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns := s.profile.Namespaces.Records
	var out []*models.Entry

	err := s.db.View(func(r db.Reader) error {
		return r.Scan(keys.GenIndexExact(keys.IndexSync, ns), func(k string, _ []byte) error {
			parts, err := keys.ParseIndexEntry(k)
			if err != nil {
				logger.Warn("sync_index_corrupt", "key", k, "error", err)
				return nil
			}
			rp, err := keys.ParseRecordKey(parts.Primary)
			if err != nil {
				logger.Warn("sync_index_corrupt", "key", k, "error", err)
				return nil
			}
			env, err := readEnvelope(r, rp.Namespace, rp.ULID)
			if err != nil || env == nil {
				logger.Warn("sync_upload_skip", "ulid", rp.ULID, "error", err)
				return nil
			}
			entry, err := s.openEntry(env)
			if err != nil {
				logger.Warn("sync_upload_skip", "ulid", rp.ULID, "error", err)
				return nil
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

// MaxAnchor returns the download cursor: the highest anchor stored in the
// merged namespace, or 0.
func (s *Store) MaxAnchor(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var anchor int64
	err := s.db.View(func(r db.Reader) error {
		prefix := keys.GenIndexPrefix(keys.IndexAnchor, keys.GenAnchorValuePrefix(s.profile.Merged()))
		k, _, ok, err := r.Last(prefix)
		if err != nil || !ok {
			return err
		}
		parts, err := keys.ParseIndexEntry(k)
		if err != nil {
			return err
		}
		anchor, err = keys.ParseAnchorValue(parts.Value)
		return err
	})
	return anchor, err
}

// ApplyDownloads stores server records in the merged namespace, in one
// transaction. A pending local copy is superseded unless it holds more
// fragments than the server returned. It returns the ulids written and the
// next cursor.
func (s *Store) ApplyDownloads(ctx context.Context, downloads []models.DownloadRecord, cursor int64) ([]string, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}
	merged := s.profile.Merged()
	records := s.profile.Namespaces.Records
	var changed []string
	anchor := cursor

	err := s.db.Update(func(tx *db.Tx) error {
		changed = changed[:0]
		anchor = cursor

		for _, d := range downloads {
			anchor = max(anchor, d.Anchor+1)
			entry := &models.Entry{
				ULID:      d.ULID,
				HID:       d.HID,
				Form:      d.Form,
				Parent:    d.Parent,
				Fragments: make([]models.Fragment, 0, len(d.Fragments)),
			}
			for _, f := range d.Fragments {
				a := f.Anchor
				anchor = max(anchor, a+1)
				entry.Fragments = append(entry.Fragments, models.Fragment{
					Anchor: &a,
					Type:   f.Type,
					User:   f.Username,
					MTime:  parseWireTime(f.MTime),
					FS:     f.FS,
					Page:   f.Page,
					Values: f.Values,
					Tags:   f.Tags,
				})
			}

			env, err := s.sealEntry(merged, entry)
			if err != nil {
				return err
			}
			env.Keys = models.EnvelopeKeys{
				Anchor: keys.GenAnchorValue(merged, d.Anchor+1),
			}
			if !entry.Deleted() {
				env.Keys.Form = keys.GenFormValue(merged, entry.Form)
				env.Keys.Link = models.ParentLinkReal
				if entry.Parent != nil {
					env.Keys.Parent = keys.GenParentValue(merged, entry.Parent.ULID, entry.Form, entry.LastMTime())
				}
			}
			if err := putEnvelope(tx, merged, d.ULID, &env); err != nil {
				return err
			}

			if merged != records {
				if err := s.supersede(tx, records, entry); err != nil {
					return err
				}
			}

			var tags []string
			if n := len(entry.Fragments); n > 0 {
				tags = entry.Fragments[n-1].Tags
			}
			if err := writeTags(tx, d.ULID, tags); err != nil {
				return err
			}
			changed = append(changed, d.ULID)
		}
		return nil
	})
	if err != nil {
		return nil, cursor, err
	}
	return changed, anchor, nil
}

// drops the local copy once the server holds at least as many fragments
func (s *Store) supersede(tx *db.Tx, ns string, remote *models.Entry) error {
	local, err := readEnvelope(tx, ns, remote.ULID)
	if err != nil || local == nil {
		return err
	}
	entry, err := s.openEntry(local)
	if err == nil && len(entry.Fragments) > len(remote.Fragments) {
		logger.Info("sync_local_kept", "ulid", remote.ULID, "local", len(entry.Fragments), "remote", len(remote.Fragments))
		return nil
	}
	return removeEnvelope(tx, ns, remote.ULID)
}

func parseWireTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		logger.Warn("sync_bad_mtime", "value", v, "error", err)
		return time.Time{}
	}
	return t.UTC()
}

// PrevAnchor returns the cursor recorded by the last sync, or -1.
func (s *Store) PrevAnchor() (int64, error) {
	data, err := s.db.Get(keys.MetaPrevAnchor)
	if err != nil {
		if db.IsNotFound(err) {
			return -1, nil
		}
		return -1, err
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return -1, fmt.Errorf("decode %s: %w", keys.MetaPrevAnchor, err)
	}
	return v, nil
}

// SetPrevAnchor records the cursor observed by a sync.
func (s *Store) SetPrevAnchor(anchor int64) error {
	return s.db.Update(func(tx *db.Tx) error {
		return tx.Set(keys.MetaPrevAnchor, []byte(strconv.FormatInt(anchor, 10)))
	})
}
