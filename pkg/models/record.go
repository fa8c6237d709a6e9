package models

import (
	"time"

	"fieldsync/pkg/schema"
)

type FragmentType string

const (
	FragmentSave   FragmentType = "save"
	FragmentDelete FragmentType = "delete"
)

// Fragment is one edit event in a record history. Fragments are only ever appended.
type Fragment struct {
	Anchor *int64         `json:"anchor,omitempty"` // server sequence, set on downloaded fragments
	Type   FragmentType   `json:"type"`
	User   string         `json:"user"`
	MTime  time.Time      `json:"mtime"`
	FS     int64          `json:"fs"`
	Page   string         `json:"page,omitempty"`
	Values map[string]any `json:"values,omitempty"`
	Tags   []string       `json:"tags"`
}

// ParentRef points at a record of the parent form at a given version.
type ParentRef struct {
	ULID    string `json:"ulid"`
	Version int    `json:"version"`
}

// Entry is the plaintext sealed inside an envelope.
type Entry struct {
	ULID      string     `json:"ulid"`
	HID       *string    `json:"hid,omitempty"`
	Form      string     `json:"form"`
	Parent    *ParentRef `json:"parent,omitempty"`
	Fragments []Fragment `json:"fragments"`
}

// Deleted reports whether the last fragment is a delete.
func (e *Entry) Deleted() bool {
	n := len(e.Fragments)
	return n > 0 && e.Fragments[n-1].Type == FragmentDelete
}

// LastMTime returns the mtime of the last fragment, or the zero time.
func (e *Entry) LastMTime() time.Time {
	if n := len(e.Fragments); n > 0 {
		return e.Fragments[n-1].MTime
	}
	return time.Time{}
}

// PageStatus tracks when a page or child form was first and last filled.
type PageStatus struct {
	CTime time.Time `json:"ctime"`
	MTime time.Time `json:"mtime"`
	Tags  []string  `json:"tags"`
}

// ChildRef is a lightweight pointer to a child record, built from the parent index.
type ChildRef struct {
	Form      string
	ULID      string
	CTime     time.Time
	MTime     time.Time
	Namespace string
}

// Record is the in-memory view of an entry replayed up to Version.
type Record struct {
	Form       *schema.Form
	ULID       string
	HID        *string
	Version    int
	Historical bool
	CTime      time.Time
	MTime      time.Time
	Fragments  []Fragment
	Status     map[string]PageStatus
	Saved      bool
	Values     map[string]any
	Tags       []string

	// Parent is a full record once expanded; after a plain load it is a stub
	// carrying only ULID and Version.
	Parent   *Record
	Stub     bool
	Children map[string][]ChildRef
	Siblings []ChildRef

	// set by expansion
	Chain []*Record
	Map   map[string]any
}

// Deleted reports whether the replayed history ends with a delete.
func (r *Record) Deleted() bool {
	n := len(r.Fragments)
	return n > 0 && r.Fragments[n-1].Type == FragmentDelete
}

// ParentRef returns the reference stored in a child entry.
func (r *Record) ParentRef() *ParentRef {
	if r.Parent == nil {
		return nil
	}
	return &ParentRef{ULID: r.Parent.ULID, Version: r.Parent.Version}
}
