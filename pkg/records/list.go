package records

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/store/keys"
)

// ListChildren returns the children of a parent, optionally restricted to one
// form. A ulid present in several namespaces is reported once, from the
// namespace with the highest priority.
func (s *Store) ListChildren(ctx context.Context, parentULID, formKey string) ([]models.ChildRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.ChildRef
	err := s.db.View(func(r db.Reader) error {
		var err error
		out, err = s.listChildren(r, parentULID, formKey)
		return err
	})
	return out, err
}

func (s *Store) listChildren(r db.Reader, parentULID, formKey string) ([]models.ChildRef, error) {
	order := s.profile.ReadOrder()
	seen := map[string]bool{}
	var out []models.ChildRef

	for i, ns := range order {
		valuePrefix := keys.GenParentULIDPrefix(ns, parentULID)
		if formKey != "" {
			valuePrefix = keys.GenParentFormPrefix(ns, parentULID, formKey)
		}
		err := r.Scan(keys.GenIndexPrefix(keys.IndexParent, valuePrefix), func(k string, v []byte) error {
			if string(v) == keys.LinkFake {
				return nil
			}
			parts, err := keys.ParseIndexEntry(k)
			if err != nil {
				logger.Warn("child_index_corrupt", "key", k, "error", err)
				return nil
			}
			pp, err := keys.ParseParentValue(parts.Value)
			if err != nil {
				logger.Warn("child_index_corrupt", "key", k, "error", err)
				return nil
			}
			rp, err := keys.ParseRecordKey(parts.Primary)
			if err != nil {
				logger.Warn("child_index_corrupt", "key", k, "error", err)
				return nil
			}
			if seen[rp.ULID] {
				return nil
			}
			seen[rp.ULID] = true
			shadowed, err := shadowedBy(r, order[:i], rp.ULID)
			if err != nil {
				return err
			}
			if shadowed {
				return nil
			}

			ref := models.ChildRef{
				Form:      pp.Form,
				ULID:      rp.ULID,
				CTime:     ulidTime(rp.ULID),
				MTime:     pp.MTime,
				Namespace: ns,
			}
			if ref.MTime.IsZero() {
				ref.MTime = ref.CTime
			}
			out = append(out, ref)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// reports whether a higher priority namespace holds its own envelope for id,
// in which case lower priority index entries are stale
func shadowedBy(r db.Reader, higher []string, id string) (bool, error) {
	for _, ns := range higher {
		_, err := r.Get(keys.GenRecordKey(ns, id))
		if err == nil {
			return true, nil
		}
		if !db.IsNotFound(err) {
			return false, err
		}
	}
	return false, nil
}

// LoadRecords loads the current version of every live record under a parent
// and/or of a form. Records that fail to load are logged and skipped.
func (s *Store) LoadRecords(ctx context.Context, parentULID, formKey string) ([]*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Record
	err := s.db.View(func(r db.Reader) error {
		ids, err := s.listIDs(r, parentULID, formKey)
		if err != nil {
			return err
		}
		for _, id := range ids {
			_, env, err := s.findEnvelope(r, id)
			if err != nil || env == nil {
				logger.Warn("record_list_skip", "ulid", id, "error", err)
				continue
			}
			entry, err := s.openEntry(env)
			if err != nil {
				logger.Warn("record_list_skip", "ulid", id, "error", err)
				continue
			}
			rec, err := s.materialize(r, entry, LoadOptions{})
			if err != nil {
				if !errors.Is(err, ErrDeletedRecord) {
					logger.Warn("record_list_skip", "ulid", id, "error", err)
				}
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *Store) listIDs(r db.Reader, parentULID, formKey string) ([]string, error) {
	if parentULID != "" {
		refs, err := s.listChildren(r, parentULID, formKey)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(refs))
		for _, c := range refs {
			ids = append(ids, c.ULID)
		}
		return ids, nil
	}

	order := s.profile.ReadOrder()
	seen := map[string]bool{}
	var ids []string
	for i, ns := range order {
		prefix := keys.GenIndexExact(keys.IndexForm, keys.GenFormValue(ns, formKey))
		err := r.Scan(prefix, func(k string, v []byte) error {
			if string(v) == keys.LinkFake {
				return nil
			}
			parts, err := keys.ParseIndexEntry(k)
			if err != nil {
				logger.Warn("form_index_corrupt", "key", k, "error", err)
				return nil
			}
			rp, err := keys.ParseRecordKey(parts.Primary)
			if err != nil || seen[rp.ULID] {
				return nil
			}
			seen[rp.ULID] = true
			if shadowed, err := shadowedBy(r, order[:i], rp.ULID); err != nil || shadowed {
				return err
			}
			ids = append(ids, rp.ULID)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Tags returns the latest tags recorded for a record.
func (s *Store) Tags(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tags []string
	err := s.db.View(func(r db.Reader) error {
		tags = s.readTags(r, id)
		return nil
	})
	return tags, err
}

func (s *Store) readTags(r db.Reader, id string) []string {
	data, err := r.Get(keys.GenTagKey(id))
	if err != nil {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		logger.Warn("tags_corrupt", "ulid", id, "error", err)
		return []string{}
	}
	if tags == nil {
		tags = []string{}
	}
	return tags
}

func writeTags(tx *db.Tx, id string, tags []string) error {
	if tags == nil {
		return tx.Delete(keys.GenTagKey(id))
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	return tx.Set(keys.GenTagKey(id), data)
}
