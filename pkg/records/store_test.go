package records

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fieldsync/pkg/crypto"
	"fieldsync/pkg/models"
	"fieldsync/pkg/schema"
	"fieldsync/pkg/store/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
forms:
  - key: patient
    pages:
      - key: identity
    forms:
      - key: visit
        multi: true
        pages:
          - key: vitals
        forms:
          - key: sample
            pages:
              - key: tube
      - key: consent
        pages:
          - key: signature
  - key: site
    pages:
      - key: site_info
`

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store *Store
	db    *db.DB
	gw    *crypto.Gateway
	app   *schema.Application
}

func newFixture(t *testing.T, mutate ...func(*Profile)) *fixture {
	t.Helper()
	app, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)

	d, err := db.Open(filepath.Join(t.TempDir(), "store"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ring, err := crypto.NewKeyring(
		crypto.NamedKey{Namespace: RoleRecords, Key: bytes.Repeat([]byte{1}, crypto.KeySize)},
		crypto.NamedKey{Namespace: RoleShared, Key: bytes.Repeat([]byte{2}, crypto.KeySize)},
		crypto.NamedKey{Namespace: RoleLock, Key: bytes.Repeat([]byte{3}, crypto.KeySize)},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ring.Close() })
	gw := crypto.NewGateway(ring)

	profile := Profile{Username: "jo", UserID: 7, Namespaces: Namespaces{Records: "u7"}, FSVersion: 3}
	for _, m := range mutate {
		m(&profile)
	}
	clock := &fakeClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	s := New(d, gw, app, profile, WithClock(clock.Now))
	return &fixture{store: s, db: d, gw: gw, app: app}
}

func (f *fixture) form(key string) *schema.Form { return f.app.Form(key) }

func vals(form string, kv map[string]any) map[string]map[string]any {
	return map[string]map[string]any{form: kv}
}

func (f *fixture) envelope(t *testing.T, ns, id string) *models.Envelope {
	t.Helper()
	var env *models.Envelope
	require.NoError(t, f.db.View(func(r db.Reader) error {
		var err error
		env, err = readEnvelope(r, ns, id)
		return err
	}))
	return env
}

func TestSaveAppendsAndRejectsStaleWriters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.store.Create(ctx, f.form("patient"), "", nil)
	require.NoError(t, err)
	assert.False(t, rec.Saved)
	assert.Equal(t, 0, rec.Version)

	require.NoError(t, f.store.Save(ctx, rec, nil, vals("patient", map[string]any{"name": "Jo"}), "identity"))
	assert.Equal(t, 1, rec.Version)
	assert.True(t, rec.Saved)
	assert.Nil(t, rec.HID)

	stale := *rec

	require.NoError(t, f.store.Save(ctx, rec, nil, vals("patient", map[string]any{"name": "Jo", "age": 5}), "identity"))
	assert.Equal(t, 2, rec.Version)

	loaded, err := f.store.Load(ctx, rec.ULID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, map[string]any{"name": "Jo", "age": float64(5)}, loaded.Values)
	first := loaded.Fragments[0]

	err = f.store.Save(ctx, &stale, nil, vals("patient", map[string]any{"name": "Max"}), "identity")
	require.ErrorIs(t, err, ErrStaleWrite)
	var swe *StaleWriteError
	require.True(t, errors.As(err, &swe))
	assert.Equal(t, 1, swe.Expected)
	assert.Equal(t, 2, swe.Actual)

	after, err := f.store.Load(ctx, rec.ULID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Version)
	assert.Equal(t, first, after.Fragments[0])
	assert.Equal(t, "Jo", after.Values["name"])
	assert.Equal(t, "jo", after.Fragments[1].User)
	assert.Equal(t, int64(3), after.Fragments[1].FS)
}

func TestSaveSetsHIDOnLeafOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	visit, err := f.store.Create(ctx, f.form("visit"), "", nil)
	require.NoError(t, err)
	hid := "V-001"
	values := map[string]map[string]any{
		"patient": {"name": "Jo"},
		"visit":   {"weight": 12},
	}
	require.NoError(t, f.store.Save(ctx, visit, &hid, values, "vitals"))

	v, err := f.store.Load(ctx, visit.ULID, nil)
	require.NoError(t, err)
	require.NotNil(t, v.HID)
	assert.Equal(t, "V-001", *v.HID)

	p, err := f.store.Load(ctx, visit.Parent.ULID, nil)
	require.NoError(t, err)
	assert.Nil(t, p.HID)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, "visit", p.Fragments[0].Page)
	require.Len(t, p.Children["visit"], 1)
	assert.Equal(t, visit.ULID, p.Children["visit"][0].ULID)
	assert.Contains(t, p.Status, "visit")
}

func TestReplayIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.store.Create(ctx, f.form("patient"), "", nil)
	require.NoError(t, err)
	rec.Tags = []string{"draft"}
	require.NoError(t, f.store.Save(ctx, rec, nil, vals("patient", map[string]any{"name": "Jo"}), "identity"))
	rec.Tags = []string{"done"}
	require.NoError(t, f.store.Save(ctx, rec, nil, vals("patient", map[string]any{"age": 5}), "identity"))

	one := 1
	a, err := f.store.Load(ctx, rec.ULID, &one)
	require.NoError(t, err)
	b, err := f.store.Load(ctx, rec.ULID, &one)
	require.NoError(t, err)

	assert.True(t, a.Historical)
	assert.Equal(t, a.Values, b.Values)
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, map[string]any{"name": "Jo"}, a.Values)
	assert.Equal(t, []string{"draft"}, a.Tags)

	cur, err := f.store.Load(ctx, rec.ULID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, cur.Tags)
	st := cur.Status["identity"]
	assert.True(t, st.CTime.Before(st.MTime))

	three := 3
	_, err = f.store.Load(ctx, rec.ULID, &three)
	assert.ErrorIs(t, err, ErrVersionRange)

	err = f.store.Save(ctx, a, nil, vals("patient", map[string]any{"age": 6}), "identity")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestSaveUnfakesPlaceholderAncestors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ns := f.store.Profile().Namespaces.Records

	sample, err := f.store.Create(ctx, f.form("sample"), "", nil)
	require.NoError(t, err)
	visit := sample.Parent
	patient := visit.Parent
	require.NotNil(t, patient)
	assert.False(t, visit.Saved)

	// nothing authored yet: the whole chain is stored as placeholders
	require.NoError(t, f.store.Save(ctx, sample, nil, map[string]map[string]any{}, "tube"))
	for _, id := range []string{sample.ULID, visit.ULID, patient.ULID} {
		env := f.envelope(t, ns, id)
		assert.Equal(t, models.ParentLinkFake, env.Keys.Link, id)
		assert.Empty(t, env.Keys.Sync, id)
	}
	pending, err := f.store.PendingUploads(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "placeholders are not uploaded")
	children, err := f.store.ListChildren(ctx, patient.ULID, "visit")
	require.NoError(t, err)
	assert.Empty(t, children)
	roots, err := f.store.LoadRecords(ctx, "", "patient")
	require.NoError(t, err)
	assert.Empty(t, roots)

	// ancestors are now saved without values of their own and get skipped
	require.NoError(t, f.store.Save(ctx, sample, nil, vals("sample", map[string]any{"tube": "A1"}), "tube"))
	for _, id := range []string{sample.ULID, visit.ULID, patient.ULID} {
		env := f.envelope(t, ns, id)
		assert.Equal(t, models.ParentLinkReal, env.Keys.Link, id)
		assert.Equal(t, ns, env.Keys.Sync, id)
	}
	pending, err = f.store.PendingUploads(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	children, err = f.store.ListChildren(ctx, patient.ULID, "visit")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, visit.ULID, children[0].ULID)
	assert.Equal(t, ns, children[0].Namespace)

	roots, err = f.store.LoadRecords(ctx, "", "patient")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, patient.ULID, roots[0].ULID)
}

func TestSaveDeepChildUnfakesInOneTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ns := f.store.Profile().Namespaces.Records

	sample, err := f.store.Create(ctx, f.form("sample"), "", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, sample, nil, vals("sample", map[string]any{"tube": "B2"}), "tube"))

	for _, r := range []*models.Record{sample, sample.Parent, sample.Parent.Parent} {
		env := f.envelope(t, ns, r.ULID)
		require.NotNil(t, env, r.Form.Key)
		assert.Equal(t, models.ParentLinkReal, env.Keys.Link)
		assert.Equal(t, ns, env.Keys.Sync)
		assert.True(t, r.Saved)
	}
	assert.Equal(t, 1, sample.Version)
	assert.Equal(t, 0, sample.Parent.Version)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Load(ctx, "01HNOTTHERE0000000000000000", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	missing, err := f.store.LoadWith(ctx, "01HNOTTHERE0000000000000000", LoadOptions{})
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, err = f.store.LoadWith(ctx, "01HNOTTHERE0000000000000000", LoadOptions{ErrorMissing: true})
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := f.store.Create(ctx, f.form("site"), "", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, rec, nil, vals("site", map[string]any{"city": "Lille"}), "site_info"))

	other, err := schema.Parse([]byte("forms:\n  - key: patient\n"))
	require.NoError(t, err)
	s2 := New(f.db, f.gw, other, f.store.Profile())
	_, err = s2.Load(ctx, rec.ULID, nil)
	assert.ErrorIs(t, err, ErrSchemaMissing)

	require.NoError(t, f.store.Delete(ctx, rec.ULID))
	_, err = f.store.Load(ctx, rec.ULID, nil)
	assert.ErrorIs(t, err, ErrDeletedRecord)

	del, err := f.store.LoadWith(ctx, rec.ULID, LoadOptions{AllowDeleted: true})
	require.NoError(t, err)
	assert.True(t, del.Deleted())
	assert.Equal(t, 2, del.Version)

	err = f.store.Save(ctx, del, nil, vals("site", map[string]any{"city": "Lyon"}), "site_info")
	assert.ErrorIs(t, err, ErrDeletedRecord)

	assert.ErrorIs(t, f.store.Delete(ctx, rec.ULID), ErrDeletedRecord)
	assert.ErrorIs(t, f.store.Delete(ctx, "01HNOTTHERE0000000000000000"), ErrNotFound)
}

func TestDeleteRefusesRecordsWithChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	visit, err := f.store.Create(ctx, f.form("visit"), "", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, visit, nil, vals("visit", map[string]any{"weight": 12}), "vitals"))
	patient := visit.Parent

	assert.ErrorIs(t, f.store.Delete(ctx, patient.ULID), ErrHasChildren)

	require.NoError(t, f.store.Delete(ctx, visit.ULID))
	children, err := f.store.ListChildren(ctx, patient.ULID, "")
	require.NoError(t, err)
	assert.Empty(t, children)

	require.NoError(t, f.store.Delete(ctx, patient.ULID))
	env := f.envelope(t, f.store.Profile().Namespaces.Records, patient.ULID)
	assert.Empty(t, env.Keys.Form)
	assert.Empty(t, env.Keys.Parent)
	assert.Equal(t, "u7", env.Keys.Sync)
}

func TestCreateChecksParents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	site, err := f.store.Create(ctx, f.form("site"), "", nil)
	require.NoError(t, err)

	_, err = f.store.Create(ctx, f.form("visit"), "", site)
	assert.ErrorIs(t, err, ErrMissingParent)
	_, err = f.store.Create(ctx, f.form("patient"), "", site)
	assert.ErrorIs(t, err, ErrMissingParent)
	_, err = f.store.Create(ctx, &schema.Form{Key: "ghost"}, "", nil)
	assert.ErrorIs(t, err, ErrSchemaMissing)

	sample, err := f.store.Create(ctx, f.form("sample"), "01HQZX3Y7V0000000000000000", nil)
	require.NoError(t, err)
	assert.Equal(t, "01HQZX3Y7V0000000000000000", sample.ULID)
	assert.Equal(t, "visit", sample.Parent.Form.Key)
	assert.Equal(t, "patient", sample.Parent.Parent.Form.Key)
	assert.False(t, sample.CTime.IsZero())
}

func TestMultiFormSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v1, err := f.store.Create(ctx, f.form("visit"), "", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, v1, nil, vals("visit", map[string]any{"n": 1}), "vitals"))
	patient := v1.Parent

	v2, err := f.store.Create(ctx, f.form("visit"), "", patient)
	require.NoError(t, err)
	require.Len(t, v2.Siblings, 1)
	require.NoError(t, f.store.Save(ctx, v2, nil, vals("visit", map[string]any{"n": 2}), "vitals"))

	loaded, err := f.store.Load(ctx, v2.ULID, nil)
	require.NoError(t, err)
	require.Len(t, loaded.Siblings, 2)
	assert.Equal(t, v1.ULID, loaded.Siblings[0].ULID)
	assert.Equal(t, v2.ULID, loaded.Siblings[1].ULID)

	list, err := f.store.LoadRecords(ctx, patient.ULID, "visit")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMoveToAppropriate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	visit, err := f.store.Create(ctx, f.form("visit"), "", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, visit, nil, vals("visit", map[string]any{"n": 1}), "vitals"))

	patient, err := f.store.Load(ctx, visit.Parent.ULID, nil)
	require.NoError(t, err)

	got, err := f.store.MoveToAppropriate(ctx, patient, f.form("visit"), false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, visit.ULID, got.ULID)

	got, err = f.store.MoveToAppropriate(ctx, patient, f.form("sample"), false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.store.MoveToAppropriate(ctx, patient, f.form("sample"), true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sample", got.Form.Key)
	assert.NotEqual(t, visit.ULID, got.Parent.ULID, "multi forms get a fresh record")
	assert.Equal(t, patient.ULID, got.Parent.Parent.ULID)

	loadedVisit, err := f.store.Load(ctx, visit.ULID, nil)
	require.NoError(t, err)
	got, err = f.store.MoveToAppropriate(ctx, loadedVisit, f.form("consent"), true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "consent", got.Form.Key)
	assert.Equal(t, patient.ULID, got.Parent.ULID)

	site, err := f.store.Create(ctx, f.form("site"), "", nil)
	require.NoError(t, err)
	got, err = f.store.MoveToAppropriate(ctx, site, f.form("visit"), true)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExpandBuildsChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sample, err := f.store.Create(ctx, f.form("sample"), "", nil)
	require.NoError(t, err)
	values := map[string]map[string]any{
		"patient": {"name": "Jo"},
		"sample":  {"tube": "A1"},
	}
	require.NoError(t, f.store.Save(ctx, sample, nil, values, "tube"))

	loaded, err := f.store.Load(ctx, sample.ULID, nil)
	require.NoError(t, err)
	require.True(t, loaded.Parent.Stub)

	require.NoError(t, f.store.Expand(ctx, loaded, []string{"consent"}))
	require.Len(t, loaded.Chain, 3)
	assert.Equal(t, "patient", loaded.Chain[0].Form.Key)
	assert.Equal(t, "sample", loaded.Chain[2].Form.Key)
	assert.Equal(t, "Jo", loaded.Chain[0].Values["name"])
	assert.Same(t, loaded.Chain[1], loaded.Parent)
	assert.Contains(t, loaded.Map, "consent")
	assert.Nil(t, loaded.Map["consent"])

	patient := loaded.Map["patient"].(*models.Record)
	require.NoError(t, f.store.Expand(ctx, patient, []string{"visit"}))
	visits, ok := patient.Map["visit"].([]*models.Record)
	require.True(t, ok)
	require.Len(t, visits, 1)
	assert.Equal(t, sample.Parent.ULID, visits[0].ULID)
}

func TestDownloadsSupersedePendingCopies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Profile) { p.Namespaces.Shared = "shared" })

	anchor, err := f.store.MaxAnchor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), anchor)

	patient := "01HQZX3Y7V0000000000000001"
	visit := "01HQZX3Y7V0000000000000002"
	downloads := []models.DownloadRecord{
		{ULID: patient, Form: "patient", Anchor: 4, Fragments: []models.DownloadFragment{
			{Anchor: 4, Type: models.FragmentSave, Username: "ann", MTime: "2024-01-02T03:04:05.000Z", Page: "identity", Values: map[string]any{"name": "Jo"}},
		}},
		{ULID: visit, Form: "visit", Parent: &models.ParentRef{ULID: patient, Version: 1}, Anchor: 5, Fragments: []models.DownloadFragment{
			{Anchor: 5, Type: models.FragmentSave, Username: "ann", MTime: "2024-01-02T03:05:05.000Z", Page: "vitals", Values: map[string]any{"w": 3}, Tags: []string{"checked"}},
		}},
	}
	changed, next, err := f.store.ApplyDownloads(ctx, downloads, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{patient, visit}, changed)
	assert.Equal(t, int64(6), next)

	anchor, err = f.store.MaxAnchor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), anchor)

	tags, err := f.store.Tags(ctx, visit)
	require.NoError(t, err)
	assert.Equal(t, []string{"checked"}, tags)

	// a local edit of a downloaded record shadows the shared copy
	rec, err := f.store.Load(ctx, visit, nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, rec, nil, vals("visit", map[string]any{"w": 4}), "vitals"))

	children, err := f.store.ListChildren(ctx, patient, "visit")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "u7", children[0].Namespace)

	pending, err := f.store.PendingUploads(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, visit, pending[0].ULID)
	require.Len(t, pending[0].Fragments, 2)

	// the server acknowledges both fragments
	downloads[1].Anchor = 6
	downloads[1].Fragments = append(downloads[1].Fragments, models.DownloadFragment{
		Anchor: 6, Type: models.FragmentSave, Username: "jo", MTime: "2024-01-02T04:00:00.000Z", Page: "vitals", Values: map[string]any{"w": 4},
	})
	_, next, err = f.store.ApplyDownloads(ctx, downloads[1:], anchor)
	require.NoError(t, err)
	assert.Equal(t, int64(7), next)

	pending, err = f.store.PendingUploads(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	children, err = f.store.ListChildren(ctx, patient, "visit")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "shared", children[0].Namespace)

	tags, err = f.store.Tags(ctx, visit)
	require.NoError(t, err)
	assert.Empty(t, tags)

	cur, err := f.store.Load(ctx, visit, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, float64(4), cur.Values["w"])
}

func TestDownloadedDeleteLeavesIndexes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := "01HQZX3Y7V0000000000000009"
	_, _, err := f.store.ApplyDownloads(ctx, []models.DownloadRecord{{
		ULID: id, Form: "site", Anchor: 1, Fragments: []models.DownloadFragment{
			{Anchor: 1, Type: models.FragmentSave, MTime: "2024-01-02T03:04:05Z", Page: "site_info", Values: map[string]any{"a": 1}},
			{Anchor: 2, Type: models.FragmentDelete, MTime: "2024-01-02T03:04:06Z"},
		},
	}}, 0)
	require.NoError(t, err)

	sites, err := f.store.LoadRecords(ctx, "", "site")
	require.NoError(t, err)
	assert.Empty(t, sites)
	_, err = f.store.Load(ctx, id, nil)
	assert.ErrorIs(t, err, ErrDeletedRecord)
}

func TestDownloadCursorCountsEmptyRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, next, err := f.store.ApplyDownloads(ctx, []models.DownloadRecord{
		{ULID: "01HQZX3Y7V0000000000000010", Form: "patient", Anchor: 4},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), next)

	stored, err := f.store.MaxAnchor(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, stored)
}

func TestPrevAnchor(t *testing.T) {
	f := newFixture(t)

	v, err := f.store.PrevAnchor()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	require.NoError(t, f.store.SetPrevAnchor(42))
	v, err = f.store.PrevAnchor()
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestReadOnlyProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Profile) { p.ReadOnly = true })

	rec, err := f.store.Create(ctx, f.form("site"), "", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, f.store.Save(ctx, rec, nil, vals("site", map[string]any{"a": 1}), "site_info"), ErrReadOnly)
	assert.ErrorIs(t, f.store.Delete(ctx, rec.ULID), ErrReadOnly)
}

func TestBackupSealsEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		rec, err := f.store.Create(ctx, f.form("site"), "", nil)
		require.NoError(t, err)
		require.NoError(t, f.store.Save(ctx, rec, nil, vals("site", map[string]any{"i": i}), "site_info"))
	}

	pub, priv, err := crypto.GenerateBackupKeys()
	require.NoError(t, err)
	archive, n, err := f.store.Backup(ctx, pub)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var entries []models.Entry
	require.NoError(t, crypto.OpenBackup(archive, priv, &entries))
	assert.Len(t, entries, 3)
}
