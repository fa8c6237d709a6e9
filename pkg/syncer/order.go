package syncer

import (
	"sort"

	"fieldsync/pkg/models"
)

// orderUploads sorts entries so that a record whose parent is part of the
// batch comes after that parent (Kahn's algorithm). Ready records are taken
// in ulid order; records caught in a cycle are appended last, in ulid order.
func orderUploads(entries []*models.Entry) []*models.Entry {
	byID := make(map[string]*models.Entry, len(entries))
	for _, e := range entries {
		byID[e.ULID] = e
	}

	indegree := make(map[string]int, len(entries))
	children := map[string][]string{}
	for _, e := range entries {
		if e.Parent != nil {
			if _, ok := byID[e.Parent.ULID]; ok && e.Parent.ULID != e.ULID {
				indegree[e.ULID]++
				children[e.Parent.ULID] = append(children[e.Parent.ULID], e.ULID)
			}
		}
	}

	var ready []string
	for id := range byID {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	out := make([]*models.Entry, 0, len(entries))
	done := make(map[string]bool, len(entries))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, byID[id])
		done[id] = true

		added := false
		for _, c := range children[id] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
				added = true
			}
		}
		if added {
			sort.Strings(ready)
		}
	}

	if len(out) < len(byID) {
		var rest []string
		for id := range byID {
			if !done[id] {
				rest = append(rest, id)
			}
		}
		sort.Strings(rest)
		for _, id := range rest {
			out = append(out, byID[id])
		}
	}
	return out
}
