package app

import (
	"context"
	"time"

	"fieldsync/pkg/config"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/syncer"

	"github.com/adhocore/gronx"
)

// RunTasks runs the periodic background work: a sync when the device is
// online and the session is not offline. Mirror sessions download everything.
func (a *App) RunTasks(ctx context.Context, online bool) error {
	if !online || !a.cfg.Online() {
		return nil
	}
	opts := syncer.Options{}
	if a.cfg.Sync.Mode == config.SyncModeMirror {
		opts = syncer.Options{Standalone: true, Full: true}
	}
	res, err := a.engine.Sync(ctx, opts)
	if err != nil {
		logger.Warn("background_sync_failed", "mode", a.cfg.Sync.Mode, "error", err)
		return err
	}
	logger.Debug("background_sync_done", "uploaded", res.Uploaded, "downloaded", res.Downloaded)
	return nil
}

// Start runs RunTasks on the sync schedule until ctx is done.
func (a *App) Start(ctx context.Context) error {
	cron := a.cfg.Sync.Schedule
	logger.Info("sync_schedule_started", "cron", cron, "mode", a.cfg.Sync.Mode)
	for {
		next, err := gronx.NextTickAfter(cron, time.Now(), false)
		if err != nil {
			logger.Error("sync_nexttick_failed", "cron", cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			_ = a.RunTasks(ctx, true)
		case <-ctx.Done():
			logger.Info("sync_schedule_stopped")
			return nil
		}
	}
}
