package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldsync/pkg/models"
	"fieldsync/pkg/records"
	"fieldsync/pkg/runner"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/telemetry"
)

// wire format of fragment mtimes
const mtimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Remote is the part of the server API the engine needs.
type Remote interface {
	SaveRecords(ctx context.Context, records []models.UploadRecord) error
	LoadRecords(ctx context.Context, anchor int64) ([]models.DownloadRecord, error)
}

// Notifier is told which records a sync brought in.
type Notifier interface {
	RecordsChanged(ulids []string)
}

// Options select how a sync runs.
type Options struct {
	Standalone bool // explicit user request, as opposed to a sync following a save
	Full       bool // download from anchor 0
}

// Result summarizes one sync.
type Result struct {
	Uploaded   int
	Downloaded int
	Changed    []string
	Anchor     int64
	Loaded     bool // something changed locally, possibly through another process
}

// Engine uploads pending fragments and downloads remote ones.
type Engine struct {
	store    *records.Store
	remote   Remote
	runner   *runner.Runner
	notifier Notifier
}

func New(store *records.Store, remote Remote, r *runner.Runner) *Engine {
	return &Engine{store: store, remote: remote, runner: r}
}

// SetNotifier registers the receiver of change notifications.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Sync runs an upload then a download under the runner. From a task that
// chained into the runner it runs inline. A failed sync leaves local records
// as they were before the failing phase.
func (e *Engine) Sync(ctx context.Context, opts Options) (Result, error) {
	var res Result
	err := e.runner.Run(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.sync(ctx, opts)
		return err
	})
	return res, err
}

func (e *Engine) sync(ctx context.Context, opts Options) (Result, error) {
	tr := telemetry.Track("sync")
	defer tr.Finish()
	var res Result

	uploaded, err := e.upload(ctx)
	if err != nil {
		telemetry.SyncFailures.WithLabelValues("upload").Inc()
		logger.Warn("sync_upload_failed", "standalone", opts.Standalone, "error", err)
		return res, err
	}
	res.Uploaded = uploaded
	tr.Mark("upload")

	cursor := int64(0)
	if !opts.Full {
		if cursor, err = e.store.MaxAnchor(ctx); err != nil {
			return res, err
		}
	}
	downloads, err := e.remote.LoadRecords(ctx, cursor)
	if err != nil {
		telemetry.SyncFailures.WithLabelValues("download").Inc()
		logger.Warn("sync_download_failed", "standalone", opts.Standalone, "anchor", cursor, "error", err)
		return res, err
	}
	changed, next, err := e.store.ApplyDownloads(ctx, downloads, cursor)
	if err != nil {
		telemetry.SyncFailures.WithLabelValues("apply").Inc()
		logger.Error("sync_apply_failed", "error", err)
		return res, err
	}
	tr.Mark("download")

	res.Downloaded = len(downloads)
	res.Changed = changed
	res.Anchor = next
	res.Loaded = len(changed) > 0

	prev, err := e.store.PrevAnchor()
	if err != nil {
		logger.Warn("sync_prev_anchor_unreadable", "error", err)
	} else if prev != next {
		// another process may have downloaded into the same store
		res.Loaded = res.Loaded || prev >= 0
		if err := e.store.SetPrevAnchor(next); err != nil {
			logger.Warn("sync_prev_anchor_write_failed", "error", err)
		}
	}

	telemetry.SyncRecords.WithLabelValues("upload").Add(float64(res.Uploaded))
	telemetry.SyncRecords.WithLabelValues("download").Add(float64(res.Downloaded))
	telemetry.SyncAnchor.Set(float64(next))

	if res.Loaded && e.notifier != nil {
		e.notifier.RecordsChanged(changed)
	}
	logger.Info("sync_completed", "uploaded", res.Uploaded, "downloaded", res.Downloaded, "anchor", next, "standalone", opts.Standalone)
	return res, nil
}

func (e *Engine) upload(ctx context.Context) (int, error) {
	pending, err := e.store.PendingUploads(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	uploads := make([]models.UploadRecord, 0, len(pending))
	for _, entry := range orderUploads(pending) {
		up, err := toUpload(entry, e.store.Profile().FSVersion)
		if err != nil {
			logger.Warn("sync_upload_skip", "ulid", entry.ULID, "error", err)
			continue
		}
		uploads = append(uploads, up)
	}
	if err := e.remote.SaveRecords(ctx, uploads); err != nil {
		return 0, err
	}
	return len(uploads), nil
}

func toUpload(entry *models.Entry, fs int64) (models.UploadRecord, error) {
	up := models.UploadRecord{
		Form:      entry.Form,
		ULID:      entry.ULID,
		HID:       entry.HID,
		Parent:    entry.Parent,
		Fragments: make([]models.UploadFragment, 0, len(entry.Fragments)),
	}
	for i, f := range entry.Fragments {
		values, err := json.Marshal(f.Values)
		if err != nil {
			return up, fmt.Errorf("fragment %d values: %w", i, err)
		}
		tags := f.Tags
		if tags == nil {
			tags = []string{}
		}
		encTags, err := json.Marshal(tags)
		if err != nil {
			return up, fmt.Errorf("fragment %d tags: %w", i, err)
		}
		ffs := f.FS
		if ffs == 0 {
			ffs = fs
		}
		up.Fragments = append(up.Fragments, models.UploadFragment{
			Type:  f.Type,
			MTime: formatMTime(f.MTime),
			FS:    ffs,
			Page:  f.Page,
			JSON:  string(values),
			Tags:  string(encTags),
		})
	}
	return up, nil
}

func formatMTime(t time.Time) string {
	return t.UTC().Format(mtimeLayout)
}
