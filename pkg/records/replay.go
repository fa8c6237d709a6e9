package records

import (
	"fieldsync/pkg/models"
	"fieldsync/pkg/schema"
)

type replayed struct {
	values map[string]any
	tags   []string
	status map[string]models.PageStatus
}

// replay folds fragments [0, version) into values, tags and page status. It
// never mutates the fragments.
func replay(form *schema.Form, fragments []models.Fragment, version int) replayed {
	out := replayed{
		values: map[string]any{},
		tags:   []string{},
		status: map[string]models.PageStatus{},
	}
	for i := 0; i < version && i < len(fragments); i++ {
		f := fragments[i]

		if f.Type == models.FragmentSave {
			for k, v := range f.Values {
				out.values[k] = cloneValue(v)
			}
			if form.Page(f.Page) != nil {
				st, ok := out.status[f.Page]
				if !ok {
					st.CTime = f.MTime
				}
				st.MTime = f.MTime
				out.status[f.Page] = st
			}
		}
		if f.Tags != nil {
			out.tags = append([]string{}, f.Tags...)
		}
	}
	for k, st := range out.status {
		st.Tags = append([]string{}, out.tags...)
		out.status[k] = st
	}
	return out
}

// deep copies JSON-shaped values so callers never alias stored fragments
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	case []string:
		return append([]string{}, t...)
	default:
		return v
	}
}

func cloneValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneValue(m).(map[string]any)
}
