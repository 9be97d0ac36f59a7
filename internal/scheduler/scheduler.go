// Package scheduler runs named jobs on a fixed interval and on demand.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bnema/nextmeeting/internal/logger"
)

// Job is one unit of scheduled work. ctx is cancelled when the job is
// unscheduled, replaced, or the scheduler stops.
type Job func(ctx context.Context)

type Options struct {
	// Debounce is the minimum gap between two manual triggers of the same job.
	Debounce time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler keeps at most one job per id. A job never runs concurrently
// with itself: ticks and triggers arriving while it runs are skipped.
type Scheduler struct {
	cron     *cron.Cron
	chain    cron.Chain
	debounce time.Duration
	now      func() time.Time
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*entry
}

type entry struct {
	id          cron.EntryID
	run         cron.Job
	cancel      context.CancelFunc
	lastTrigger time.Time
}

func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = logger.Logger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithLogger(cl)),
		chain:    cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		debounce: opts.Debounce,
		now:      now,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*entry),
	}
	s.cron.Start()
	return s
}

// Schedule runs job every interval under id, replacing any job already
// registered for id, and runs it once right away.
func (s *Scheduler) Schedule(id string, interval time.Duration, job Job) error {
	if interval < time.Second {
		interval = time.Second
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	run := s.chain.Then(cron.FuncJob(func() { job(jobCtx) }))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		cancel()
		return context.Canceled
	}
	s.removeLocked(id)

	entryID := s.cron.Schedule(cron.Every(interval), run)
	s.jobs[id] = &entry{id: entryID, run: run, cancel: cancel}
	s.logger.Debug("job scheduled", "job", id, "interval", interval.String())

	s.runAsync(run)
	return nil
}

// Unschedule removes the job for id and cancels it if it is running.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(id) {
		s.logger.Debug("job unscheduled", "job", id)
	}
}

// Trigger runs the job for id now. It reports false when id is unknown or
// the previous trigger is still inside the debounce window.
func (s *Scheduler) Trigger(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	now := s.now()
	if !e.lastTrigger.IsZero() && now.Sub(e.lastTrigger) < s.debounce {
		s.logger.Debug("trigger debounced", "job", id)
		return false
	}
	e.lastTrigger = now
	s.runAsync(e.run)
	return true
}

// Scheduled returns the ids of all registered jobs.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for id := range s.jobs {
		s.removeLocked(id)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.runs.Wait()
}

func (s *Scheduler) removeLocked(id string) bool {
	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	e.cancel()
	delete(s.jobs, id)
	return true
}

func (s *Scheduler) runAsync(run cron.Job) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		run.Run()
	}()
}

// cronLogger adapts slog to cron's logger. Routine cron chatter goes to debug.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
