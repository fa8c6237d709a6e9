package runner

import (
	"context"
	"errors"
	"sync/atomic"

	"fieldsync/pkg/state/logger"

	"golang.org/x/sync/semaphore"
)

// ErrReentrant is returned when a task calls Run on the runner it already
// holds without going through Chain.
var ErrReentrant = errors.New("runner: re-entrant Run from a running task, use Chain")

// Task is a unit of work executed while holding the runner.
type Task func(ctx context.Context) error

type holderKey struct{}

type holder struct {
	r       *Runner
	chained bool
}

// Runner executes tasks one at a time, in submission order.
type Runner struct {
	sem     *semaphore.Weighted
	pending atomic.Int64
}

func New() *Runner {
	return &Runner{sem: semaphore.NewWeighted(1)}
}

// Run waits for the runner, then executes task. Waiting stops when ctx is
// done; a task that started is never interrupted by the runner.
func (r *Runner) Run(ctx context.Context, task Task) error {
	if h := r.holderOf(ctx); h != nil {
		if h.chained {
			return task(ctx)
		}
		return ErrReentrant
	}

	r.pending.Add(1)
	err := r.sem.Acquire(ctx, 1)
	r.pending.Add(-1)
	if err != nil {
		logger.Debug("runner_wait_aborted", "error", err)
		return err
	}
	defer r.sem.Release(1)

	return task(context.WithValue(ctx, holderKey{}, &holder{r: r}))
}

// Chain runs task inline when ctx already holds the runner, letting nested
// Run calls made by task pass through. Otherwise it behaves like Run.
func (r *Runner) Chain(ctx context.Context, task Task) error {
	if r.holderOf(ctx) != nil {
		return task(context.WithValue(ctx, holderKey{}, &holder{r: r, chained: true}))
	}
	return r.Run(ctx, func(ctx context.Context) error {
		return task(context.WithValue(ctx, holderKey{}, &holder{r: r, chained: true}))
	})
}

// Holds reports whether ctx belongs to a task running on r.
func (r *Runner) Holds(ctx context.Context) bool {
	return r.holderOf(ctx) != nil
}

// Pending returns the number of callers waiting for the runner.
func (r *Runner) Pending() int {
	return int(r.pending.Load())
}

func (r *Runner) holderOf(ctx context.Context) *holder {
	h, ok := ctx.Value(holderKey{}).(*holder)
	if !ok || h.r != r {
		return nil
	}
	return h
}
