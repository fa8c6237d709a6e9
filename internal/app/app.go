package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"fieldsync/pkg/config"
	"fieldsync/pkg/crypto"
	"fieldsync/pkg/models"
	"fieldsync/pkg/publish"
	"fieldsync/pkg/records"
	"fieldsync/pkg/remote"
	"fieldsync/pkg/runner"
	"fieldsync/pkg/schema"
	"fieldsync/pkg/state"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/syncer"
	"fieldsync/pkg/telemetry"

	"github.com/dustin/go-humanize"
)

var (
	ErrNoRecord    = errors.New("no record is open")
	ErrUnsavedData = errors.New("the open record has unsaved changes")
	ErrNotMain     = errors.New("url is outside the main section")
	ErrNoBackupKey = errors.New("profile.backup_public_key is not set")
)

// SaveOutcome tells whether a committed save also reached the server.
type SaveOutcome int

const (
	Saved        SaveOutcome = iota + 1 // stored and synchronized
	SavedLocally                        // stored, not synchronized yet
)

func (o SaveOutcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case SavedLocally:
		return "saved_locally"
	}
	return "unknown"
}

// App groups the components of one session.
type App struct {
	cfg   *config.Config
	paths state.Paths

	db        *db.DB
	ring      *crypto.Keyring
	schema    *schema.Application
	store     *records.Store
	client    *remote.Client
	engine    *syncer.Engine
	files     *publish.PendingFiles
	publisher *publish.Publisher
	runner    *runner.Runner

	mu      sync.Mutex
	session Session
}

// New opens the store under the data dir and wires every component. cfg must
// have defaults applied.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	paths, err := state.Init(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	telemetry.SetSlowThreshold(cfg.Telemetry.SlowThreshold.Duration())

	app, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", cfg.Schema.Path, err)
	}

	ring, err := crypto.LoadKeyring(ctx, cfg.Profile.Keys,
		[]string{records.RoleRecords, records.RoleShared, records.RoleLock}, cfg.Profile.MasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}

	d, err := db.Open(paths.Store, cfg.Storage.DisableWAL)
	if err != nil {
		_ = ring.Close()
		return nil, fmt.Errorf("failed to open store at %s: %w", paths.Store, err)
	}

	profile := records.Profile{
		Username: cfg.Profile.Username,
		UserID:   cfg.Profile.UserID,
		Namespaces: records.Namespaces{
			Records: cfg.Profile.Namespaces.Records,
			Shared:  cfg.Profile.Namespaces.Shared,
			Lock:    cfg.Profile.Namespaces.Lock,
		},
		ReadOnly: cfg.Profile.ReadOnly,
	}
	store := records.New(d, crypto.NewGateway(ring), app, profile)

	client := remote.New(cfg.InstanceURL(), remote.Options{
		SaveTimeout:    cfg.Server.TimeoutSave.Duration(),
		LoadTimeout:    cfg.Server.TimeoutLoad.Duration(),
		FilesTimeout:   cfg.Server.TimeoutFiles.Duration(),
		MaxUploadBytes: cfg.Server.MaxUploadBytes.Int64(),
		Username:       cfg.Profile.Username,
	})

	r := runner.New()
	files := publish.NewPendingFiles(d, cfg.Profile.UserID)
	publisher, err := publish.New(files, client, publish.Options{
		Concurrency: cfg.Sync.DeployConcurrency,
		Rate:        cfg.Sync.DeployRate,
		Develop:     cfg.Profile.Develop,
	})
	if err != nil {
		_ = d.Close()
		_ = ring.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		paths:     paths,
		db:        d,
		ring:      ring,
		schema:    app,
		store:     store,
		client:    client,
		engine:    syncer.New(store, client, r),
		files:     files,
		publisher: publisher,
		runner:    r,
	}
	a.engine.SetNotifier(a)

	logger.Info("app_opened",
		"user", profile.Username,
		"namespaces", profile.ReadOrder(),
		"instance", client.Instance(),
		"mode", cfg.Sync.Mode,
		"max_upload", humanize.IBytes(uint64(cfg.Server.MaxUploadBytes.Int64())),
	)
	return a, nil
}

// Close releases the store and wipes the keys.
func (a *App) Close() error {
	err := a.db.Close()
	if kerr := a.ring.Close(); err == nil {
		err = kerr
	}
	return err
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Paths() state.Paths { return a.paths }
func (a *App) Store() *records.Store { return a.store }
func (a *App) Schema() *schema.Application { return a.schema }
func (a *App) Publisher() *publish.Publisher { return a.publisher }
func (a *App) PendingFiles() *publish.PendingFiles { return a.files }
func (a *App) Runner() *runner.Runner { return a.runner }

// Save stores the edits of the open record, then synchronizes unless the
// session is offline. A failed sync does not fail the save.
func (a *App) Save(ctx context.Context) (SaveOutcome, error) {
	var out SaveOutcome
	err := a.runner.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = a.save(ctx)
		return err
	})
	return out, err
}

func (a *App) save(ctx context.Context) (SaveOutcome, error) {
	a.mu.Lock()
	rec := a.session.Record
	values := a.session.Values
	hid := a.session.HID
	page := ""
	if a.session.Route.Page != nil {
		page = a.session.Route.Page.Key
	}
	a.mu.Unlock()

	if rec == nil {
		return 0, ErrNoRecord
	}
	edits := values
	values = make(map[string]map[string]any, len(edits)+1)
	for k, v := range edits {
		values[k] = v
	}
	if len(values[rec.Form.Key]) == 0 {
		// the leaf always gets a fragment
		values[rec.Form.Key] = map[string]any{}
	}
	if err := a.store.Save(ctx, rec, hid, values, page); err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.session.Values = nil
	a.session.HID = rec.HID
	a.session.Route.ULID = rec.ULID
	a.mu.Unlock()

	return a.syncAfterWrite(ctx), nil
}

// Delete deletes a record, then synchronizes like Save. Deleting the open
// record closes it.
func (a *App) Delete(ctx context.Context, id string) (SaveOutcome, error) {
	var out SaveOutcome
	err := a.runner.Run(ctx, func(ctx context.Context) error {
		if err := a.store.Delete(ctx, id); err != nil {
			return err
		}
		a.mu.Lock()
		if a.session.Record != nil && a.session.Record.ULID == id {
			a.session = Session{Route: Route{Form: a.session.Route.Form, Page: a.session.Route.Page}}
		}
		a.mu.Unlock()
		out = a.syncAfterWrite(ctx)
		return nil
	})
	return out, err
}

func (a *App) syncAfterWrite(ctx context.Context) SaveOutcome {
	if !a.cfg.Online() {
		return SavedLocally
	}
	err := a.runner.Chain(ctx, func(ctx context.Context) error {
		_, err := a.engine.Sync(ctx, syncer.Options{})
		return err
	})
	if err != nil {
		logger.Warn("sync_after_save_failed", "error", err)
		return SavedLocally
	}
	return Saved
}

// Sync runs a standalone sync; errors are returned to the caller.
func (a *App) Sync(ctx context.Context, full bool) (syncer.Result, error) {
	return a.engine.Sync(ctx, syncer.Options{Standalone: true, Full: full})
}

// Publish computes the deploy actions, applies the pull overrides and, unless
// dryRun, deploys them. The returned version is 0 for a dry run.
func (a *App) Publish(ctx context.Context, pull []string, dryRun bool) ([]models.DeployAction, int64, error) {
	var actions []models.DeployAction
	var version int64
	err := a.runner.Run(ctx, func(ctx context.Context) error {
		var err error
		if actions, err = a.publisher.ComputeActions(ctx); err != nil {
			return err
		}
		for _, name := range pull {
			if err := publish.SetAction(actions, name, models.DeployPull); err != nil {
				return err
			}
		}
		if dryRun {
			return nil
		}
		if version, err = a.publisher.Deploy(ctx, actions); err != nil {
			return err
		}
		a.store.SetFSVersion(version)
		return nil
	})
	return actions, version, err
}

// Backup writes a sealed archive of every readable record to w.
func (a *App) Backup(ctx context.Context, w io.Writer) (int, error) {
	if a.cfg.Profile.BackupPublicKey == "" {
		return 0, ErrNoBackupKey
	}
	raw, err := crypto.DecodeKey(a.cfg.Profile.BackupPublicKey)
	if err != nil {
		return 0, fmt.Errorf("backup key: %w", err)
	}
	var pub [crypto.KeySize]byte
	copy(pub[:], raw)

	archive, n, err := a.store.Backup(ctx, &pub)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		return 0, err
	}
	return n, nil
}
