package records

import (
	"context"
	"fmt"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/telemetry"
)

// Delete appends a delete fragment to the record and drops it from the form
// and parent indexes. A record with live children is refused with
// ErrHasChildren; children have to be deleted first.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.profile.ReadOnly {
		return fmt.Errorf("%w: cannot delete record %s", ErrReadOnly, id)
	}
	tr := telemetry.Track("records.delete")
	defer tr.Finish()

	ns := s.profile.Namespaces.Records
	var version int

	err := s.db.Update(func(tx *db.Tx) error {
		old, err := readEnvelope(tx, ns, id)
		if err != nil {
			return err
		}
		src := old
		if src == nil {
			if _, src, err = s.findEnvelope(tx, id); err != nil {
				return err
			}
		}
		if src == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		entry, err := s.openEntry(src)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		if entry.Deleted() {
			return fmt.Errorf("%w: %s", ErrDeletedRecord, id)
		}

		children, err := s.listChildren(tx, id, "")
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: %s has %d", ErrHasChildren, id, len(children))
		}

		entry.Fragments = append(entry.Fragments, models.Fragment{
			Type:  models.FragmentDelete,
			User:  s.profile.Username,
			MTime: s.clock(),
			FS:    s.profile.FSVersion,
		})
		version = len(entry.Fragments)

		env, err := s.sealEntry(ns, entry)
		if err != nil {
			return err
		}
		env.Keys = models.EnvelopeKeys{Sync: ns}
		if old != nil {
			env.Keys.Anchor = old.Keys.Anchor
		}
		return putEnvelope(tx, ns, id, &env)
	})
	if err != nil {
		logger.Warn("record_delete_failed", "ulid", id, "error", err)
		return err
	}

	telemetry.RecordFragments.WithLabelValues(string(models.FragmentDelete)).Inc()
	logger.AuditEvent("record_deleted", "user", s.profile.Username, "ulid", id, "version", version)
	logger.Info("record_deleted", "ulid", id, "version", version)
	return nil
}
