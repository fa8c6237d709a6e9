package records

import (
	"context"
	"fmt"
	"sort"

	"fieldsync/pkg/models"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/telemetry"
)

// LoadOptions tune a single record load.
type LoadOptions struct {
	Version      *int // nil loads the current version
	AllowDeleted bool
	ErrorMissing bool // report a missing record as ErrNotFound instead of (nil, nil)
}

// Load materializes a record at version (nil for current). A missing record
// is ErrNotFound and one whose history ends with a delete is refused.
func (s *Store) Load(ctx context.Context, id string, version *int) (*models.Record, error) {
	return s.LoadWith(ctx, id, LoadOptions{Version: version, ErrorMissing: true})
}

// LoadWith is Load with explicit options.
func (s *Store) LoadWith(ctx context.Context, id string, opts LoadOptions) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr := telemetry.Track("records.load")
	defer tr.Finish()

	var rec *models.Record
	err := s.db.View(func(r db.Reader) error {
		_, env, err := s.findEnvelope(r, id)
		if err != nil {
			return err
		}
		if env == nil {
			if !opts.ErrorMissing {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		tr.Mark("fetch")
		entry, err := s.openEntry(env)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		tr.Mark("decrypt")
		rec, err = s.materialize(r, entry, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// builds the in-memory record from a decrypted entry
func (s *Store) materialize(r db.Reader, entry *models.Entry, opts LoadOptions) (*models.Record, error) {
	form := s.app.Form(entry.Form)
	if form == nil {
		return nil, fmt.Errorf("%w: %q (record %s)", ErrSchemaMissing, entry.Form, entry.ULID)
	}

	version := len(entry.Fragments)
	historical := false
	if opts.Version != nil {
		if *opts.Version < 0 || *opts.Version > len(entry.Fragments) {
			return nil, fmt.Errorf("%w: record %s has no version %d", ErrVersionRange, entry.ULID, *opts.Version)
		}
		version = *opts.Version
		historical = true
	}
	if !opts.AllowDeleted && entry.Deleted() {
		return nil, fmt.Errorf("%w: %s", ErrDeletedRecord, entry.ULID)
	}

	rp := replay(form, entry.Fragments, version)
	rec := &models.Record{
		Form:       form,
		ULID:       entry.ULID,
		HID:        entry.HID,
		Version:    version,
		Historical: historical,
		CTime:      ulidTime(entry.ULID),
		Fragments:  entry.Fragments,
		Status:     rp.status,
		Saved:      true,
		Values:     rp.values,
		Tags:       rp.tags,
		Children:   map[string][]models.ChildRef{},
	}
	if version > 0 {
		rec.MTime = entry.Fragments[version-1].MTime
	}
	if entry.Parent != nil && form.Parent != nil {
		rec.Parent = &models.Record{
			Form:    form.Parent,
			ULID:    entry.Parent.ULID,
			Version: entry.Parent.Version,
			Saved:   true,
			Stub:    true,
		}
	}

	children, err := s.listChildren(r, entry.ULID, "")
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		rec.Children[c.Form] = append(rec.Children[c.Form], c)
	}
	for formKey, list := range rec.Children {
		sort.SliceStable(list, func(i, j int) bool { return list[i].MTime.Before(list[j].MTime) })
		last := list[len(list)-1]
		rec.Status[formKey] = models.PageStatus{
			CTime: list[0].CTime,
			MTime: last.MTime,
			Tags:  s.readTags(r, last.ULID),
		}
	}

	if form.Multi && rec.Parent != nil {
		siblings, err := s.listChildren(r, rec.Parent.ULID, form.Key)
		if err != nil {
			return nil, err
		}
		sortByULID(siblings)
		rec.Siblings = siblings
	}
	return rec, nil
}

func sortByULID(refs []models.ChildRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].ULID < refs[j].ULID })
}
