package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
)

type stagedRecord struct {
	up     models.UploadRecord
	values []map[string]any
	tags   [][]string
}

// saveRecords handles POST /api/records/save. The batch is validated as a
// whole before anything is stored; fragments the server already holds are
// skipped, new ones get the next anchors.
func (s *Server) saveRecords(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	var uploads []models.UploadRecord
	if err := json.NewDecoder(r.Body).Decode(&uploads); err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make([]stagedRecord, 0, len(uploads))
	known := map[string]string{}
	for id, rec := range s.records {
		known[id] = rec.form
	}

	for _, up := range uploads {
		if up.ULID == "" || up.Form == "" {
			http.Error(w, "Missing record ulid or form", http.StatusUnprocessableEntity)
			return
		}
		if form, ok := known[up.ULID]; ok && form != up.Form {
			http.Error(w, fmt.Sprintf("Record %s belongs to form %s", up.ULID, form), http.StatusConflict)
			return
		}
		if up.Parent != nil {
			if _, ok := known[up.Parent.ULID]; !ok {
				http.Error(w, fmt.Sprintf("Parent record %s does not exist", up.Parent.ULID), http.StatusUnprocessableEntity)
				return
			}
		}

		st := stagedRecord{up: up}
		for i, f := range up.Fragments {
			var values map[string]any
			if f.JSON != "" && f.JSON != "null" {
				if err := json.Unmarshal([]byte(f.JSON), &values); err != nil {
					http.Error(w, fmt.Sprintf("Record %s fragment %d: malformed values", up.ULID, i), http.StatusUnprocessableEntity)
					return
				}
			}
			var tags []string
			if f.Tags != "" {
				if err := json.Unmarshal([]byte(f.Tags), &tags); err != nil {
					http.Error(w, fmt.Sprintf("Record %s fragment %d: malformed tags", up.ULID, i), http.StatusUnprocessableEntity)
					return
				}
			}
			st.values = append(st.values, values)
			st.tags = append(st.tags, tags)
		}
		known[up.ULID] = up.Form
		staged = append(staged, st)
	}

	user := r.Header.Get(userHeader)
	if user == "" {
		user = s.opts.Username
	}
	appended := 0
	for _, st := range staged {
		rec := s.records[st.up.ULID]
		if rec == nil {
			rec = &record{ulid: st.up.ULID, form: st.up.Form, parent: st.up.Parent}
			s.records[rec.ulid] = rec
		}
		if st.up.HID != nil {
			rec.hid = st.up.HID
		}
		for i := len(rec.fragments); i < len(st.up.Fragments); i++ {
			f := st.up.Fragments[i]
			s.anchor++
			rec.fragments = append(rec.fragments, models.DownloadFragment{
				Anchor:   s.anchor,
				Type:     f.Type,
				Username: user,
				MTime:    f.MTime,
				FS:       f.FS,
				Page:     f.Page,
				Values:   st.values[i],
				Tags:     st.tags[i],
			})
			rec.anchor = s.anchor
			appended++
		}
	}

	logger.Info("devserver_records_saved", "records", len(staged), "fragments", appended, "anchor", s.anchor)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

// loadRecords handles GET /api/records/load?anchor=N and returns, with their
// full history, the records holding a fragment at or after N.
func (s *Server) loadRecords(w http.ResponseWriter, r *http.Request) {
	anchor := int64(0)
	if v := r.URL.Query().Get("anchor"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "Invalid anchor", http.StatusUnprocessableEntity)
			return
		}
		anchor = n
	}

	s.mu.Lock()
	out := []models.DownloadRecord{}
	for _, rec := range s.records {
		if rec.anchor >= anchor {
			out = append(out, rec.download())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Anchor < out[j].Anchor })
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
