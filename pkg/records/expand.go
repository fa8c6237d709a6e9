package records

import (
	"context"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
)

// Expand loads the full ancestor chain of rec and fills Chain (root first)
// and Map (form key to record). Forms listed in loadChildren are resolved
// too: Map holds the matching record, a slice of records for multi forms, or
// nil when none exists or it cannot be loaded.
func (s *Store) Expand(ctx context.Context, rec *models.Record, loadChildren []string) error {
	if rec.Chain == nil {
		chain := []*models.Record{rec}
		m := map[string]any{rec.Form.Key: rec}

		for it := rec; it.Parent != nil; it = it.Parent {
			parent := it.Parent
			if parent.Stub || parent.Values == nil {
				loaded, err := s.Load(ctx, parent.ULID, nil)
				if err != nil {
					return err
				}
				loaded.Historical = rec.Historical
				parent = loaded
			}
			it.Parent = parent
			chain = append(chain, parent)
			m[parent.Form.Key] = parent
		}

		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}
		for _, r := range chain {
			r.Chain = chain
			r.Map = m
		}
	}

	for _, key := range loadChildren {
		form := s.app.Form(key)
		if form == nil {
			logger.Warn("record_expand_failed", "form", key, "error", ErrSchemaMissing)
			rec.Map[key] = nil
			continue
		}
		child, err := s.MoveToAppropriate(ctx, rec, form, false)
		if err != nil {
			logger.Warn("record_expand_failed", "form", key, "error", err)
			rec.Map[key] = nil
			continue
		}
		if child == nil {
			rec.Map[key] = nil
			continue
		}

		if form.Multi && child.Parent != nil {
			list, err := s.LoadRecords(ctx, child.Parent.ULID, key)
			if err != nil {
				logger.Warn("record_expand_failed", "form", key, "error", err)
				rec.Map[key] = nil
				continue
			}
			for _, c := range list {
				c.Historical = rec.Historical
			}
			rec.Map[key] = list
		} else {
			child.Historical = rec.Historical
			rec.Map[key] = child
		}
	}
	return nil
}
