package records

import (
	"time"

	"fieldsync/pkg/crypto"
	"fieldsync/pkg/schema"
	"fieldsync/pkg/store/db"

	"github.com/oklog/ulid/v2"
)

// crypto key roles
const (
	RoleRecords = "records"
	RoleShared  = "shared"
	RoleLock    = "lock"
)

// Namespaces are the storage namespaces of a session.
type Namespaces struct {
	Records string // local edits, uploaded by sync
	Shared  string // server-merged copies; empty means Records
	Lock    string // read-only kiosk data; optional
}

// Profile is the identity a store writes on behalf of.
type Profile struct {
	Username   string
	UserID     int64
	Namespaces Namespaces
	FSVersion  int64 // published bundle version stamped on fragments
	ReadOnly   bool
}

// Merged returns the namespace that holds downloaded records.
func (p Profile) Merged() string {
	if p.Namespaces.Shared != "" {
		return p.Namespaces.Shared
	}
	return p.Namespaces.Records
}

// ReadOrder lists namespaces in lookup priority, without duplicates.
func (p Profile) ReadOrder() []string {
	var out []string
	seen := map[string]bool{}
	for _, ns := range []string{p.Namespaces.Records, p.Namespaces.Shared, p.Namespaces.Lock} {
		if ns != "" && !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	return out
}

func (p Profile) roleFor(ns string) string {
	switch ns {
	case p.Namespaces.Records:
		return RoleRecords
	case p.Namespaces.Shared:
		return RoleShared
	case p.Namespaces.Lock:
		return RoleLock
	}
	return RoleRecords
}

var decryptRoles = []string{RoleRecords, RoleShared, RoleLock}

// Store is the versioned record store over the local encrypted KV store.
type Store struct {
	db      *db.DB
	gw      *crypto.Gateway
	app     *schema.Application
	profile Profile
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for fragment mtimes and ULIDs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(d *db.DB, gw *crypto.Gateway, app *schema.Application, profile Profile, opts ...Option) *Store {
	s := &Store{db: d, gw: gw, app: app, profile: profile, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Profile() Profile { return s.profile }
func (s *Store) Application() *schema.Application { return s.app }
func (s *Store) DB() *db.DB { return s.db }

// SetFSVersion updates the bundle version stamped on new fragments.
func (s *Store) SetFSVersion(v int64) { s.profile.FSVersion = v }

// NewULID returns a fresh identifier stamped with the store clock.
func (s *Store) NewULID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), ulid.DefaultEntropy()).String()
}

func ulidTime(id string) time.Time {
	u, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time()).UTC()
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
