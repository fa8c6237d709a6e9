package records

import (
	"context"
	"fmt"

	"fieldsync/pkg/models"
	"fieldsync/pkg/schema"
	"fieldsync/pkg/state/logger"
)

// MoveToAppropriate walks from rec to the record of target that belongs to
// the same chain: up through parents, then down through the most recent
// child of each form. With createNew, missing levels are created as unsaved
// records (and multi forms always get a new one). It returns nil, nil when
// the target record does not exist yet and createNew is false.
func (s *Store) MoveToAppropriate(ctx context.Context, rec *models.Record, target *schema.Form, createNew bool) (*models.Record, error) {
	path, ok := schema.ComputePath(rec.Form, target)
	if !ok {
		return nil, nil
	}

	for _, form := range path.Up {
		parent := rec.Parent
		if parent == nil {
			return nil, fmt.Errorf("%w: record %s has no parent", ErrMissingParent, rec.ULID)
		}
		if parent.Stub || parent.Values == nil {
			loaded, err := s.Load(ctx, parent.ULID, nil)
			if err != nil {
				return nil, err
			}
			parent = loaded
		}
		if parent.Form != form {
			return nil, fmt.Errorf("%w: record %s is a %q, expected %q", ErrSchemaMissing, parent.ULID, parent.Form.Key, form.Key)
		}
		rec = parent
	}

	for _, form := range path.Down {
		follow := !form.Multi || !createNew
		children := rec.Children[form.Key]

		switch {
		case follow && len(children) > 0:
			last := children[len(children)-1]
			child, err := s.Load(ctx, last.ULID, nil)
			if err != nil {
				return nil, err
			}
			if child.Form != form {
				return nil, fmt.Errorf("%w: record %s is a %q, expected %q", ErrSchemaMissing, child.ULID, child.Form.Key, form.Key)
			}
			if child.Parent != nil && child.Parent.ULID == rec.ULID {
				child.Parent = rec
			}
			rec = child
		case createNew:
			child, err := s.Create(ctx, form, "", rec)
			if err != nil {
				return nil, err
			}
			rec = child
		default:
			logger.Debug("record_move_unmaterialized", "form", form.Key, "from", rec.ULID)
			return nil, nil
		}
	}
	return rec, nil
}
