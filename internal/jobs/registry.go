package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"storyjobs/internal/domain"
)

// Executor performs the work of one claimed job. It reports progress through
// run and stores its result in the snapshot before returning nil. A returned
// error or a panic ends the job in status error.
type Executor func(ctx context.Context, run *Run) error

type loopEntry struct {
	version int
	exec    Executor
	running atomic.Bool
	pending atomic.Bool
}

// WorkerRegistry holds one drain loop per job type for this process. Loops
// are started by Kick and exit once the store has nothing queued for their
// type.
type WorkerRegistry struct {
	store  domain.JobStore
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	loops map[domain.JobType]*loopEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RegistryOption customizes a WorkerRegistry.
type RegistryOption func(*WorkerRegistry)

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *WorkerRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewWorkerRegistry(store domain.JobStore, logger zerolog.Logger, opts ...RegistryOption) *WorkerRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &WorkerRegistry{
		store:  store,
		logger: logger,
		now:    time.Now,
		loops:  make(map[domain.JobType]*loopEntry),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs exec for t. Registering the same version again keeps the
// existing entry; a different version discards it, and a loop still running
// under the old entry exits after its current job.
func (r *WorkerRegistry) Register(t domain.JobType, version int, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.loops[t]; ok && cur.version == version {
		return
	}
	r.loops[t] = &loopEntry{version: version, exec: exec}
}

// Types lists the registered job types.
func (r *WorkerRegistry) Types() []domain.JobType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.JobType, 0, len(r.loops))
	for t := range r.loops {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *WorkerRegistry) entry(t domain.JobType) *loopEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loops[t]
}

// Kick starts the loop for t unless it is already draining. It reports
// whether a new loop was started.
func (r *WorkerRegistry) Kick(t domain.JobType) bool {
	e := r.entry(t)
	if e == nil {
		r.logger.Warn().Str("job_type", string(t)).Msg("jobs: kick for unregistered type")
		return false
	}
	if r.ctx.Err() != nil {
		return false
	}
	e.pending.Store(true)
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	r.wg.Add(1)
	go r.drain(t, e)
	return true
}

// KickAll kicks every registered type.
func (r *WorkerRegistry) KickAll() {
	for _, t := range r.Types() {
		r.Kick(t)
	}
}

// Wait blocks until every loop started so far has gone idle.
func (r *WorkerRegistry) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting kicks and waits for running jobs to finish. When
// ctx expires first the job context is cancelled and every job still running
// ends in error once its executor returns.
func (r *WorkerRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, e := range r.loops {
		e.pending.Store(false)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *WorkerRegistry) drain(t domain.JobType, e *loopEntry) {
	defer r.wg.Done()
	logger := r.logger.With().Str("job_type", string(t)).Int("version", e.version).Logger()
	logger.Debug().Msg("jobs: loop started")

	for {
		e.pending.Store(false)
		r.drainOnce(t, e, logger)
		e.running.Store(false)
		// A kick that landed after the last empty claim left pending set;
		// pick it up instead of stranding the job until the next kick.
		if !e.pending.Load() || r.ctx.Err() != nil || r.entry(t) != e {
			break
		}
		if !e.running.CompareAndSwap(false, true) {
			break
		}
	}
	logger.Debug().Msg("jobs: loop idle")
}

func (r *WorkerRegistry) drainOnce(t domain.JobType, e *loopEntry, logger zerolog.Logger) {
	for {
		if r.ctx.Err() != nil {
			return
		}
		if r.entry(t) != e {
			logger.Info().Msg("jobs: loop replaced by newer version")
			return
		}
		job, ok, err := r.store.ClaimNext(r.ctx, t)
		if err != nil {
			logger.Error().Err(err).Msg("jobs: claim failed")
			return
		}
		if !ok {
			return
		}
		r.execute(e.exec, job, logger)
	}
}

// execute always leaves job in a terminal state unless the store itself
// rejects the write.
func (r *WorkerRegistry) execute(exec Executor, job *domain.Job, base zerolog.Logger) {
	logger := base.With().Str("job_id", job.ID).Logger()
	logger.Info().Msg("jobs: picked job")

	snap, err := domain.DecodeSnapshot(job.Type, job.Snapshot)
	if err != nil {
		logger.Warn().Err(err).Msg("jobs: snapshot unreadable, starting fresh")
		snap, _ = domain.NewSnapshot(job.Type)
	}
	payload, payloadErr := domain.DecodePayload(job.Type, job.Payload)

	run := newRun(job, payload, snap, r.store, logger, r.now)
	defer run.close()

	ctx := r.ctx
	if err := run.start(ctx); err != nil {
		logger.Error().Err(err).Msg("jobs: failed to mark job running")
		if errors.Is(err, domain.ErrJobFinalized) {
			return
		}
	}

	if payloadErr != nil {
		r.terminate(ctx, run, payloadErr, logger)
		return
	}

	if err := r.invoke(ctx, exec, run); err != nil {
		r.terminate(ctx, run, err, logger)
		return
	}
	if err := run.finish(ctx); err != nil {
		logger.Error().Err(err).Msg("jobs: failed to persist done snapshot")
		return
	}
	logger.Info().Msg("jobs: job done")
}

func (r *WorkerRegistry) invoke(ctx context.Context, exec Executor, run *Run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	if exec == nil {
		return fmt.Errorf("no executor for %s", run.Job.Type)
	}
	return exec(ctx, run)
}

func (r *WorkerRegistry) terminate(ctx context.Context, run *Run, cause error, logger zerolog.Logger) {
	if r.ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		cause = fmt.Errorf("worker shut down: %w", cause)
	}
	logEvent := logger.Error().Err(cause)
	var pe *PanicError
	if errors.As(cause, &pe) {
		logEvent = logEvent.Bool("panic", true)
	}
	logEvent.Msg("jobs: job failed")
	if err := run.fail(ctx, cause); err != nil {
		logger.Error().Err(err).Msg("jobs: failed to persist error snapshot")
	}
}
