package records

import (
	"context"
	"fmt"

	"fieldsync/pkg/models"
	"fieldsync/pkg/schema"
	"fieldsync/pkg/store/db"
)

// Create allocates an unsaved record of form. Nothing is written; a non-root
// form without a parent gets placeholder ancestors, created recursively.
func (s *Store) Create(ctx context.Context, form *schema.Form, id string, parent *models.Record) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if form == nil || s.app.Form(form.Key) != form {
		return nil, fmt.Errorf("%w: cannot create record", ErrSchemaMissing)
	}
	if id == "" {
		id = s.NewULID()
	}

	rec := &models.Record{
		Form:     form,
		ULID:     id,
		CTime:    ulidTime(id),
		Status:   map[string]models.PageStatus{},
		Values:   map[string]any{},
		Tags:     []string{},
		Children: map[string][]models.ChildRef{},
	}

	if form.Parent == nil {
		if parent != nil {
			return nil, fmt.Errorf("%w: root form %q takes no parent", ErrMissingParent, form.Key)
		}
		return rec, nil
	}
	if s.app.Form(form.Parent.Key) != form.Parent {
		return nil, fmt.Errorf("%w: parent form %q of %q is not in the schema", ErrMissingParent, form.Parent.Key, form.Key)
	}

	if parent == nil {
		var err error
		parent, err = s.Create(ctx, form.Parent, "", nil)
		if err != nil {
			return nil, err
		}
	} else if parent.Form == nil || parent.Form.Key != form.Parent.Key {
		got := "<none>"
		if parent.Form != nil {
			got = parent.Form.Key
		}
		return nil, fmt.Errorf("%w: form %q expects a %q parent, got %q", ErrMissingParent, form.Key, form.Parent.Key, got)
	}
	rec.Parent = parent

	if form.Multi && parent.Saved {
		err := s.db.View(func(r db.Reader) error {
			siblings, err := s.listChildren(r, parent.ULID, form.Key)
			if err != nil {
				return err
			}
			sortByULID(siblings)
			rec.Siblings = siblings
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}
