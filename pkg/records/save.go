package records

import (
	"context"
	"fmt"
	"sort"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/store/keys"
	"fieldsync/pkg/telemetry"
)

// one record written by a save, kept to refresh the in-memory chain after commit
type savedLevel struct {
	rec      *models.Record
	entry    *models.Entry
	appended bool
	link     models.ParentLinkKind
}

// Save appends a fragment to rec, and to every ancestor that is unsaved or
// has values of its own in values, in a single transaction. Each written
// record must still be at the version the caller loaded, otherwise nothing is
// written and a *StaleWriteError is returned. Placeholder ancestors become
// real once a fragment lands below them.
func (s *Store) Save(ctx context.Context, rec *models.Record, hid *string, values map[string]map[string]any, page string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.profile.ReadOnly || rec.Historical {
		return fmt.Errorf("%w: cannot save record %s", ErrReadOnly, rec.ULID)
	}
	tr := telemetry.Track("records.save")
	defer tr.Finish()

	ns := s.profile.Namespaces.Records
	now := s.clock()
	var levels []savedLevel

	err := s.db.Update(func(tx *db.Tx) error {
		levels = levels[:0]
		appendedBelow := false
		pageKey := page

		var top *models.Record
		for ptr := rec; ptr != nil; ptr = ptr.Parent {
			top = ptr
			formValues := values[ptr.Form.Key]

			if ptr != rec && ptr.Saved && formValues == nil {
				if appendedBelow {
					if err := s.unfakeFrom(tx, ns, ptr.ULID); err != nil {
						return err
					}
				}
				pageKey = ptr.Form.Key
				continue
			}

			entry, old, err := s.loadForWrite(tx, ns, ptr)
			if err != nil {
				return err
			}
			if ptr.Version != len(entry.Fragments) {
				return &StaleWriteError{ULID: ptr.ULID, Expected: ptr.Version, Actual: len(entry.Fragments)}
			}
			if entry.Deleted() {
				return fmt.Errorf("%w: %s", ErrDeletedRecord, ptr.ULID)
			}
			if ptr == rec && hid != nil {
				h := *hid
				entry.HID = &h
			}

			appended := false
			if formValues != nil {
				entry.Fragments = append(entry.Fragments, models.Fragment{
					Type:   models.FragmentSave,
					User:   s.profile.Username,
					MTime:  now,
					FS:     s.profile.FSVersion,
					Page:   pageKey,
					Values: cloneValues(formValues),
					Tags:   append([]string{}, ptr.Tags...),
				})
				appended = true
				appendedBelow = true
			}

			link := models.ParentLinkFake
			if appendedBelow || len(entry.Fragments) > 0 || (old != nil && old.Keys.Link == models.ParentLinkReal) {
				link = models.ParentLinkReal
			}

			env, err := s.sealEntry(ns, entry)
			if err != nil {
				return err
			}
			env.Keys = models.EnvelopeKeys{
				Form: keys.GenFormValue(ns, entry.Form),
				Link: link,
			}
			// placeholders stay local until something real lands below them
			if link == models.ParentLinkReal {
				env.Keys.Sync = ns
			}
			if entry.Parent != nil {
				env.Keys.Parent = keys.GenParentValue(ns, entry.Parent.ULID, entry.Form, entry.LastMTime())
			}
			if old != nil {
				env.Keys.Anchor = old.Keys.Anchor
			}
			if err := putEnvelope(tx, ns, ptr.ULID, &env); err != nil {
				return err
			}
			if appended {
				if err := writeTags(tx, ptr.ULID, entry.Fragments[len(entry.Fragments)-1].Tags); err != nil {
					return err
				}
			}

			levels = append(levels, savedLevel{rec: ptr, entry: entry, appended: appended, link: link})
			pageKey = ptr.Form.Key
		}

		// an in-memory chain can end at a stub whose own ancestors are still placeholders
		if appendedBelow && top != nil && top.Form.Parent != nil {
			return s.unfakeParentOf(tx, ns, top.ULID)
		}
		return nil
	})
	if err != nil {
		logger.Warn("record_save_failed", "ulid", rec.ULID, "error", err)
		return err
	}
	tr.Mark("commit")

	for _, l := range levels {
		s.refreshSaved(l)
		if l.appended {
			telemetry.RecordFragments.WithLabelValues(string(models.FragmentSave)).Inc()
		}
		logger.AuditEvent("record_saved",
			"user", s.profile.Username,
			"ulid", l.rec.ULID,
			"form", l.rec.Form.Key,
			"version", l.rec.Version,
			"fragment", l.appended)
	}
	logger.Info("record_saved", "ulid", rec.ULID, "form", rec.Form.Key, "version", rec.Version, "levels", len(levels))
	return nil
}

// loadForWrite returns the entry to append to and the envelope currently
// stored under ns. A record only known from another namespace is continued
// from there; an unknown record starts empty.
func (s *Store) loadForWrite(tx *db.Tx, ns string, rec *models.Record) (*models.Entry, *models.Envelope, error) {
	old, err := readEnvelope(tx, ns, rec.ULID)
	if err != nil {
		return nil, nil, err
	}
	src := old
	if src == nil {
		_, src, err = s.findEnvelope(tx, rec.ULID)
		if err != nil {
			return nil, nil, err
		}
	}
	if src != nil {
		entry, err := s.openEntry(src)
		if err != nil {
			return nil, nil, fmt.Errorf("record %s: %w", rec.ULID, err)
		}
		return entry, old, nil
	}

	entry := &models.Entry{
		ULID:      rec.ULID,
		Form:      rec.Form.Key,
		Parent:    rec.ParentRef(),
		Fragments: []models.Fragment{},
	}
	return entry, nil, nil
}

// unfakeFrom marks id and its placeholder ancestors as real and flags them
// for upload, stopping at the first envelope that is missing or already real.
func (s *Store) unfakeFrom(tx *db.Tx, ns, id string) error {
	for id != "" {
		env, err := readEnvelope(tx, ns, id)
		if err != nil || env == nil || env.Keys.Link != models.ParentLinkFake {
			return err
		}
		env.Keys.Link = models.ParentLinkReal
		env.Keys.Sync = ns
		if err := putEnvelope(tx, ns, id, env); err != nil {
			return err
		}
		id = parentOf(env)
	}
	return nil
}

func (s *Store) unfakeParentOf(tx *db.Tx, ns, id string) error {
	env, err := readEnvelope(tx, ns, id)
	if err != nil || env == nil {
		return err
	}
	return s.unfakeFrom(tx, ns, parentOf(env))
}

func parentOf(env *models.Envelope) string {
	if env.Keys.Parent == "" {
		return ""
	}
	p, err := keys.ParseParentValue(env.Keys.Parent)
	if err != nil {
		return ""
	}
	return p.ParentULID
}

func (s *Store) refreshSaved(l savedLevel) {
	rec := l.rec
	rec.Fragments = l.entry.Fragments
	rec.Version = len(l.entry.Fragments)
	rec.HID = l.entry.HID
	rec.Saved = true
	rec.MTime = l.entry.LastMTime()

	if l.appended || rec.Values == nil {
		rp := replay(rec.Form, rec.Fragments, rec.Version)
		rec.Values = rp.values
		rec.Tags = rp.tags
		if rec.Status == nil {
			rec.Status = map[string]models.PageStatus{}
		}
		for k, st := range rp.status {
			rec.Status[k] = st
		}
	}

	if l.link != models.ParentLinkReal || rec.Parent == nil {
		return
	}
	parent := rec.Parent
	if parent.Children == nil {
		parent.Children = map[string][]models.ChildRef{}
	}
	ref := models.ChildRef{
		Form:      rec.Form.Key,
		ULID:      rec.ULID,
		CTime:     rec.CTime,
		MTime:     rec.MTime,
		Namespace: s.profile.Namespaces.Records,
	}
	if ref.MTime.IsZero() {
		ref.MTime = ref.CTime
	}
	list := parent.Children[rec.Form.Key]
	replaced := false
	for i := range list {
		if list[i].ULID == rec.ULID {
			list[i] = ref
			replaced = true
		}
	}
	if !replaced {
		list = append(list, ref)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].MTime.Before(list[j].MTime) })
	parent.Children[rec.Form.Key] = list
}
