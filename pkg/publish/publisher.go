// Package publish reconciles locally edited application files with the
// bundle published on the server.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/telemetry"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrConflict     = errors.New("unresolved publication conflict")
	ErrActionLocked = errors.New("local and remote copies are identical")
	ErrUnknownFile  = errors.New("no action for file")
)

// ConflictError lists the files still marked as conflicting.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, strings.Join(e.Files, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Remote is the files API used by the publisher.
type Remote interface {
	ListFiles(ctx context.Context) (models.FileList, error)
	PutFile(ctx context.Context, sha256, filename string, data []byte) error
	Publish(ctx context.Context, files map[string]string) (int64, error)
	FetchFile(ctx context.Context, version int64, filename string) ([]byte, bool, error)
}

type Options struct {
	Concurrency int     // parallel object uploads
	Rate        float64 // uploads per second
	Develop     bool    // serve pending copies from FetchCode
}

const codeCacheSize = 32

// Publisher computes and applies deploy actions.
type Publisher struct {
	files   *PendingFiles
	remote  Remote
	opts    Options
	limiter *rate.Limiter
	code    *lru.Cache[string, string]

	mu      sync.Mutex
	version int64
}

func New(files *PendingFiles, remote Remote, opts Options) (*Publisher, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Rate <= 0 {
		opts.Rate = 20
	}
	code, err := lru.New[string, string](codeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		files:   files,
		remote:  remote,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Concurrency),
		code:    code,
	}, nil
}

// Files returns the pending file store.
func (p *Publisher) Files() *PendingFiles { return p.files }

// Version returns the last published bundle version seen, 0 when unknown.
func (p *Publisher) Version() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

func (p *Publisher) setVersion(v int64) {
	p.mu.Lock()
	p.version = v
	p.mu.Unlock()
}

// ComputeActions diffs pending files against the published manifest. A file
// known on one side only is pushed when local and left alone when remote;
// differing hashes default to push. The result is sorted by filename.
func (p *Publisher) ComputeActions(ctx context.Context) ([]models.DeployAction, error) {
	local, err := p.files.List(ctx)
	if err != nil {
		return nil, err
	}
	manifest, err := p.remote.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	p.setVersion(manifest.Version)
	return diff(local, manifest.Files), nil
}

func diff(local []models.PendingFile, remote []models.FileInfo) []models.DeployAction {
	byName := map[string]*models.DeployAction{}
	for _, f := range remote {
		byName[f.Filename] = &models.DeployAction{
			Filename:     f.Filename,
			Type:         models.DeployNoop,
			RemoteSHA256: f.SHA256,
			Size:         f.Size,
		}
	}
	for _, f := range local {
		a := byName[f.Filename]
		if a == nil {
			a = &models.DeployAction{Filename: f.Filename}
			byName[f.Filename] = a
		}
		a.LocalSHA256 = f.SHA256
		a.Size = f.Size
		if a.Transferable() {
			a.Type = models.DeployPush
		} else {
			a.Type = models.DeployNoop
		}
	}

	out := make([]models.DeployAction, 0, len(byName))
	for _, a := range byName {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// SetAction overrides the action of one file. Only push and pull can be
// chosen, and only for files whose copies differ.
func SetAction(actions []models.DeployAction, filename string, t models.DeployActionType) error {
	if t != models.DeployPush && t != models.DeployPull {
		return fmt.Errorf("cannot set action %q on %s", t, filename)
	}
	for i := range actions {
		if actions[i].Filename != filename {
			continue
		}
		if !actions[i].Transferable() {
			return fmt.Errorf("%w: %s", ErrActionLocked, filename)
		}
		if t == models.DeployPush && actions[i].LocalSHA256 == "" {
			return fmt.Errorf("cannot push %s: no local copy", filename)
		}
		actions[i].Type = t
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownFile, filename)
}

// Deploy uploads pushed files, publishes the resulting bundle and clears the
// pending files. It returns the new bundle version.
func (p *Publisher) Deploy(ctx context.Context, actions []models.DeployAction) (int64, error) {
	var conflicts []string
	for _, a := range actions {
		if a.Type == models.DeployConflict {
			conflicts = append(conflicts, a.Filename)
		}
	}
	if len(conflicts) > 0 {
		return 0, &ConflictError{Files: conflicts}
	}

	tr := telemetry.Track("publish.deploy")
	defer tr.Finish()

	manifest, err := p.remote.ListFiles(ctx)
	if err != nil {
		return 0, err
	}
	bundle := make(map[string]string, len(manifest.Files))
	for _, f := range manifest.Files {
		bundle[f.Filename] = f.SHA256
	}

	var pushes []models.PendingFile
	pulls := 0
	for _, a := range actions {
		switch a.Type {
		case models.DeployPush:
			pf, ok, err := p.files.Get(ctx, a.Filename)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, fmt.Errorf("cannot push %s: no local copy", a.Filename)
			}
			pushes = append(pushes, pf)
			bundle[a.Filename] = pf.SHA256
		case models.DeployPull:
			pulls++
		}
	}
	tr.Mark("plan")

	if err := p.putAll(ctx, pushes); err != nil {
		logger.Warn("publish_upload_failed", "files", len(pushes), "error", err)
		return 0, err
	}
	tr.Mark("upload")

	version, err := p.remote.Publish(ctx, bundle)
	if err != nil {
		logger.Warn("publish_failed", "error", err)
		return 0, err
	}
	tr.Mark("publish")

	if err := p.files.Clear(ctx); err != nil {
		logger.Error("publish_clear_pending_failed", "version", version, "error", err)
		return version, err
	}
	p.code.Purge()
	p.setVersion(version)

	telemetry.DeployFiles.WithLabelValues(string(models.DeployPush)).Add(float64(len(pushes)))
	telemetry.DeployFiles.WithLabelValues(string(models.DeployPull)).Add(float64(pulls))
	logger.AuditEvent("bundle_published", "version", version, "pushed", len(pushes), "pulled", pulls, "files", len(bundle))
	logger.Info("publish_completed", "version", version, "pushed", len(pushes), "files", len(bundle))
	return version, nil
}

// UploadChanges sends every pending file to the object store without
// publishing it.
func (p *Publisher) UploadChanges(ctx context.Context) (int, error) {
	pending, err := p.files.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := p.putAll(ctx, pending); err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (p *Publisher) putAll(ctx context.Context, files []models.PendingFile) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, pf := range files {
		pf := pf
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			if err := p.remote.PutFile(gctx, pf.SHA256, pf.Filename, pf.Blob); err != nil {
				return fmt.Errorf("upload %s: %w", pf.Filename, err)
			}
			logger.Debug("publish_file_uploaded", "filename", pf.Filename, "size", pf.Size)
			return nil
		})
	}
	return g.Wait()
}

// Stage records an edit of filename: it becomes a pending file and the code
// served for it.
func (p *Publisher) Stage(ctx context.Context, filename string, data []byte) (models.PendingFile, error) {
	pf, err := p.files.Put(ctx, filename, data)
	if err != nil {
		return pf, err
	}
	p.code.Add(pf.Filename, string(data))
	return pf, nil
}

// FetchCode returns the source of filename from the edit buffer, then the
// pending copy in develop mode, then the published bundle. A file found
// nowhere yields "".
func (p *Publisher) FetchCode(ctx context.Context, filename string) (string, error) {
	filename = strings.TrimPrefix(filename, "/")
	if code, ok := p.code.Get(filename); ok {
		return code, nil
	}

	if p.opts.Develop {
		pf, ok, err := p.files.Get(ctx, filename)
		if err != nil {
			return "", err
		}
		if ok {
			p.code.Add(filename, string(pf.Blob))
			return string(pf.Blob), nil
		}
	}

	version := p.Version()
	if version == 0 {
		manifest, err := p.remote.ListFiles(ctx)
		if err != nil {
			return "", err
		}
		version = manifest.Version
		p.setVersion(version)
	}
	if version == 0 {
		return "", nil
	}
	data, ok, err := p.remote.FetchFile(ctx, version, filename)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	p.code.Add(filename, string(data))
	return string(data), nil
}
