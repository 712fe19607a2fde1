// Package scheduler implements the single driver loop: a 3-second tick
// that admits pending Jobs, stable-sorted pinned-first then by ascending
// artifact_id, into a semaphore-gated worker pool.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"vidreel/internal/downloader"
	"vidreel/internal/flags"
	"vidreel/internal/jobstore"
)

const (
	defaultTickInterval    = 3 * time.Second
	defaultMaxSimultaneous = 2
	interruptPollInterval  = 250 * time.Millisecond
)

// PostProcessor hands a successfully downloaded Job to compression and
// atomic placement. Defined here, not imported from
// internal/postprocess, so the Scheduler depends only on a narrow
// collaborator interface; the app container wires the concrete
// implementation in.
type PostProcessor interface {
	Process(ctx context.Context, job *jobstore.Job) error
}

// Deps bundles the Scheduler's collaborators, following the same
// explicit-dependency-injection shape as internal/downloader.Deps.
type Deps struct {
	Store       *jobstore.Store
	Flags       *flags.Flags
	Commands    flags.Commands
	Downloader  downloader.Deps
	PostProcess PostProcessor

	OperatorChatID           int64
	MaxSimultaneousDownloads int64
	TickInterval             time.Duration

	Logger *zap.Logger
}

// Scheduler is the single driver task. Only its goroutine applies
// control-plane commands to the shared run flags.
type Scheduler struct {
	deps Deps
	sem  *semaphore.Weighted

	mu      sync.Mutex
	running map[int64]struct{} // message_id_reference -> running
}

// New constructs a Scheduler, defaulting TickInterval and
// MaxSimultaneousDownloads when left zero.
func New(deps Deps) *Scheduler {
	if deps.TickInterval <= 0 {
		deps.TickInterval = defaultTickInterval
	}
	if deps.MaxSimultaneousDownloads <= 0 {
		deps.MaxSimultaneousDownloads = defaultMaxSimultaneous
	}
	return &Scheduler{
		deps:    deps,
		sem:     semaphore.NewWeighted(deps.MaxSimultaneousDownloads),
		running: map[int64]struct{}{},
	}
}

// Run drives ticks until ctx is cancelled or a "quit" command sets
// quit_program; the loop exits only after the current wave has been
// aggregated.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.deps.TickInterval)
	defer ticker.Stop()

	for {
		s.drainCommands()
		if s.deps.Flags.QuitProgram() {
			return nil
		}

		if err := s.tick(ctx); err != nil {
			s.deps.Logger.Warn("scheduler: tick failed", zap.Error(err))
		}

		if s.deps.Flags.QuitProgram() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) drainCommands() {
	for {
		select {
		case cmd := <-s.deps.Commands:
			s.deps.Flags.Apply(cmd)
		default:
			return
		}
	}
}

// tick runs one scan-sort-admit-await iteration.
func (s *Scheduler) tick(ctx context.Context) error {
	if !s.deps.Flags.StartDownload() {
		return nil
	}

	jobs, err := s.deps.Store.ListPending()
	if err != nil {
		return err
	}
	sortJobs(jobs)

	runnable := s.filterRunnable(jobs)
	if len(runnable) == 0 {
		return nil
	}

	waveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopWatch := make(chan struct{})
	go s.watchInterrupt(stopWatch, cancel)

	var wg sync.WaitGroup
	for _, job := range runnable {
		if err := s.sem.Acquire(waveCtx, 1); err != nil {
			// Wave cancelled (interrupt or ctx.Done): stop admitting more.
			break
		}
		s.markRunning(job.MessageIDReference)
		wg.Add(1)
		go func(job *jobstore.Job) {
			defer wg.Done()
			defer s.sem.Release(1)
			defer s.unmarkRunning(job.MessageIDReference)
			s.runOne(waveCtx, job)
		}(job)
	}
	wg.Wait()
	close(stopWatch)

	if s.deps.Flags.LockDownload() {
		s.deps.Flags.Apply(flags.LockDownload)
		s.deps.Logger.Info("scheduler: download_stopped (lock_download)")
	}
	return nil
}

// watchInterrupt drains commands and cancels the running wave when an
// interrupt lands mid-wave. Run is blocked in wg.Wait while this
// goroutine is alive, so command application still has a single writer
// at any instant.
func (s *Scheduler) watchInterrupt(stop <-chan struct{}, cancel context.CancelFunc) {
	t := time.NewTicker(interruptPollInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.drainCommands()
			if s.deps.Flags.Interrupt() {
				cancel()
				return
			}
		}
	}
}

func (s *Scheduler) filterRunnable(jobs []*jobstore.Job) []*jobstore.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	runnable := make([]*jobstore.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Completed {
			continue
		}
		if _, busy := s.running[job.MessageIDReference]; busy {
			continue
		}
		runnable = append(runnable, job)
	}
	return runnable
}

func (s *Scheduler) markRunning(mirrorID int64) {
	s.mu.Lock()
	s.running[mirrorID] = struct{}{}
	s.mu.Unlock()
}

func (s *Scheduler) unmarkRunning(mirrorID int64) {
	s.mu.Lock()
	delete(s.running, mirrorID)
	s.mu.Unlock()
}

func (s *Scheduler) runOne(ctx context.Context, job *jobstore.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.deps.Logger.Warn("scheduler: job failed terminally",
				zap.Int64("artifact_id", job.ArtifactID), zap.Any("panic", r))
		}
	}()
	outcome := downloader.Download(ctx, s.deps.Downloader, job, s.deps.OperatorChatID)
	if outcome.StopGlobal {
		// Worker goroutines never write flags directly; the stop request
		// rides the same command channel the operator's download:off uses.
		select {
		case s.deps.Commands <- flags.Stop:
		default:
		}
	}
	switch outcome.Kind {
	case downloader.OkDone:
		if s.deps.PostProcess == nil {
			return
		}
		if err := s.deps.PostProcess.Process(ctx, job); err != nil {
			s.deps.Logger.Warn("scheduler: post-process failed",
				zap.Int64("artifact_id", job.ArtifactID), zap.Error(err))
		}
	case downloader.Fatal:
		s.deps.Logger.Warn("scheduler: job failed terminally",
			zap.Int64("artifact_id", job.ArtifactID), zap.String("reason", outcome.Reason))
	case downloader.Transient, downloader.Corrupted, downloader.Skip:
		// Remains queued (or was already re-queued internally); next tick retries.
	}
}

// sortJobs orders admission: pinned first, then ascending artifact_id.
func sortJobs(jobs []*jobstore.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Pinned != jobs[j].Pinned {
			return jobs[i].Pinned
		}
		return jobs[i].ArtifactID < jobs[j].ArtifactID
	})
}
