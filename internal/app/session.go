package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"fieldsync/pkg/models"
	"fieldsync/pkg/records"
	"fieldsync/pkg/schema"
	"fieldsync/pkg/state/logger"

	"github.com/oklog/ulid/v2"
)

// Route is the navigation target of the session.
type Route struct {
	Form    *schema.Form
	Page    *schema.Page
	ULID    string // open record, saved or not
	Version *int   // nil for the current version
}

// Session is the UI state: where the user is, the open record and the edits
// not saved yet, by form key.
type Session struct {
	Route  Route
	Record *models.Record
	Values map[string]map[string]any
	HID    *string
}

// GoOptions control what happens to unsaved edits when navigating.
type GoOptions struct {
	Force  bool // drop unsaved edits
	Save   bool // save unsaved edits first
	Reload bool // reload the record even if it is already open
}

// Session returns a copy of the session state.
func (a *App) Session() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// SetValue records an edit of the open record or one of its ancestors.
func (a *App) SetValue(formKey, key string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Record == nil {
		return ErrNoRecord
	}
	if !inChain(a.session.Record, formKey) {
		return fmt.Errorf("form %q is not part of the open record", formKey)
	}
	if a.session.Values == nil {
		a.session.Values = map[string]map[string]any{}
	}
	if a.session.Values[formKey] == nil {
		a.session.Values[formKey] = map[string]any{}
	}
	a.session.Values[formKey][key] = value
	return nil
}

// SetHID sets the human identifier saved with the open record.
func (a *App) SetHID(hid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Record == nil {
		return ErrNoRecord
	}
	a.session.HID = &hid
	return nil
}

// HasUnsavedData reports whether the open record carries edits.
func (a *App) HasUnsavedData() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unsavedLocked()
}

func (a *App) unsavedLocked() bool {
	if a.session.Record == nil {
		return false
	}
	if len(a.session.Values) > 0 {
		return true
	}
	return !sameHID(a.session.HID, a.session.Record.HID)
}

func sameHID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func inChain(rec *models.Record, formKey string) bool {
	for _, f := range rec.Form.Chain {
		if f.Key == formKey {
			return true
		}
	}
	return false
}

// Go navigates to url, one of /main/<page>/[<ulid>[@<version>]] or the
// shorthand /main/<ulid>[@<version>] which opens the first page. The record
// is loaded, moved to the form of the page or created as needed.
func (a *App) Go(ctx context.Context, rawURL string, opts GoOptions) error {
	return a.runner.Run(ctx, func(ctx context.Context) error {
		return a.navigate(ctx, rawURL, opts)
	})
}

func (a *App) navigate(ctx context.Context, rawURL string, opts GoOptions) error {
	a.mu.Lock()
	cur := a.session
	a.mu.Unlock()

	route, err := a.parseRoute(rawURL, cur)
	if err != nil {
		return err
	}

	var rec *models.Record
	for {
		rec = cur.Record
		if rec != nil && opts.Reload {
			route.Version = nil
			rec = nil
		}
		if rec != nil {
			var version *int
			if rec.Historical {
				v := rec.Version
				version = &v
			}
			if route.ULID != rec.ULID || !sameVersion(route.Version, version) {
				rec = nil
			}
		}
		if rec == nil && route.ULID != "" {
			rec, err = a.store.Load(ctx, route.ULID, route.Version)
			switch {
			case errors.Is(err, records.ErrNotFound) && cur.Record != nil && !cur.Record.Saved && cur.Record.ULID == route.ULID:
				// the open record was never saved, start it over
				rec = nil
			case err != nil:
				return err
			}
		}
		if rec != nil && rec.Form != route.Form {
			if rec, err = a.store.MoveToAppropriate(ctx, rec, route.Form, true); err != nil {
				return err
			}
		}
		if route.ULID == "" || rec == nil {
			if rec, err = a.store.Create(ctx, route.Form, route.ULID, nil); err != nil {
				return err
			}
		}
		if err := a.store.Expand(ctx, rec, nil); err != nil {
			return err
		}

		a.mu.Lock()
		unsaved := a.unsavedLocked()
		a.mu.Unlock()
		if opts.Reload || opts.Force || !unsaved || (rec == cur.Record && route.Page == cur.Route.Page) {
			break
		}
		if !opts.Save {
			return ErrUnsavedData
		}
		err := a.runner.Chain(ctx, func(ctx context.Context) error {
			_, err := a.save(ctx)
			return err
		})
		if err != nil {
			return err
		}
		route.Version = nil
		opts.Reload = true
	}

	route.ULID = rec.ULID
	if rec.Historical {
		v := rec.Version
		route.Version = &v
	} else {
		route.Version = nil
	}

	a.mu.Lock()
	a.session = Session{Route: route, Record: rec, HID: rec.HID}
	a.mu.Unlock()
	logger.Debug("session_navigated", "page", route.Page.Key, "form", route.Form.Key, "ulid", rec.ULID, "saved", rec.Saved)
	return nil
}

func (a *App) homePage() *schema.Page {
	for _, f := range a.schema.Forms() {
		if len(f.Pages) > 0 {
			return f.Pages[0]
		}
	}
	return nil
}

func (a *App) parseRoute(rawURL string, cur Session) (Route, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Route{}, err
	}
	path := u.Path
	if inst := a.cfg.Server.InstancePath; inst != "/" && strings.HasPrefix(path, inst) {
		path = "/" + path[len(inst):]
	}
	if !strings.HasPrefix(path+"/", "/main/") {
		return Route{}, fmt.Errorf("%w: %s", ErrNotMain, rawURL)
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/main"), "/"), "/")
	key := strings.TrimSpace(parts[0])
	what := ""
	if len(parts) > 1 {
		what = strings.TrimSpace(parts[1])
	}

	home := a.homePage()
	if home == nil {
		return Route{}, fmt.Errorf("schema has no pages")
	}
	if isRecordRef(key) {
		what = key
		key = home.Key
	}

	route := cur.Route
	route.Page = a.schema.Page(key)
	if route.Page == nil {
		if key != "" {
			logger.Warn("session_unknown_page", "page", key)
		}
		route.Page = home
	}
	route.Form = route.Page.Form

	id, version, hasVersion := strings.Cut(what, "@")
	if id != "" && id != cur.Route.ULID {
		switch {
		case id == "new":
			route.ULID = ""
			route.Version = nil
		case cur.Record == nil || !chainHolds(cur.Record, id) || anyMulti(route.Form):
			route.ULID = id
			route.Version = nil
		}
	}
	if id != "" && !hasVersion {
		route.Version = nil
	}
	if hasVersion {
		version = strings.TrimSpace(version)
		switch n, err := strconv.Atoi(version); {
		case version == "":
			route.Version = nil
		case err != nil || n < 0:
			logger.Warn("session_invalid_version", "version", version)
			route.Version = nil
		default:
			route.Version = &n
		}
	}
	return route, nil
}

func isRecordRef(s string) bool {
	id, _, _ := strings.Cut(s, "@")
	if len(id) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(id)
	return err == nil && strings.ToUpper(id) == id
}

func chainHolds(rec *models.Record, id string) bool {
	if len(rec.Chain) == 0 {
		return rec.ULID == id
	}
	for _, r := range rec.Chain {
		if r.ULID == id {
			return true
		}
	}
	return false
}

func anyMulti(form *schema.Form) bool {
	for _, f := range form.Chain {
		if f.Multi {
			return true
		}
	}
	return false
}

func sameVersion(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RecordsChanged reloads the open record when a sync touched its chain,
// unless it holds unsaved edits or shows a past version.
func (a *App) RecordsChanged(ulids []string) {
	a.mu.Lock()
	rec := a.session.Record
	skip := rec == nil || !rec.Saved || rec.Historical || a.unsavedLocked()
	a.mu.Unlock()
	if skip {
		return
	}

	touched := len(ulids) == 0
	for _, id := range ulids {
		if chainHolds(rec, id) {
			touched = true
			break
		}
	}
	if !touched {
		return
	}

	ctx := context.Background()
	fresh, err := a.store.Load(ctx, rec.ULID, nil)
	if err == nil {
		err = a.store.Expand(ctx, fresh, nil)
	}
	if err != nil {
		logger.Warn("session_reload_failed", "ulid", rec.ULID, "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Record != rec || a.unsavedLocked() {
		return
	}
	a.session.Record = fresh
	a.session.HID = fresh.HID
	logger.Debug("session_reloaded", "ulid", fresh.ULID, "version", fresh.Version)
}
