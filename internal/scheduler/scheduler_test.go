package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"vidreel/internal/downloader"
	"vidreel/internal/flags"
	"vidreel/internal/jobstore"
	"vidreel/internal/reporter"
	"vidreel/internal/transport/fake"
)

type stubPostProcess struct {
	mu        sync.Mutex
	processed []int64
	err       error
}

func (p *stubPostProcess) Process(_ context.Context, job *jobstore.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, job.ArtifactID)
	return p.err
}

func (p *stubPostProcess) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

func newTestScheduler(t *testing.T) (*Scheduler, *jobstore.Store, *fake.Client, *stubPostProcess) {
	t.Helper()
	dir := t.TempDir()
	store, err := jobstore.Open(filepath.Join(dir, "jobs"), "tenant")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	client := fake.New("tester")
	pp := &stubPostProcess{}

	dl := downloader.Deps{
		Transport:         client,
		Reporter:          reporter.New(client, 999, zap.NewNop()),
		DiskSpaceLimitPct: 0,
		Logger:            zap.NewNop(),
		MinDelay:          time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		SettleDelay:       time.Millisecond,
	}

	s := New(Deps{
		Store:                    store,
		Flags:                    flags.New(),
		Commands:                 flags.NewCommands(),
		Downloader:               dl,
		PostProcess:              pp,
		OperatorChatID:           999,
		MaxSimultaneousDownloads: 2,
		TickInterval:             time.Millisecond,
		Logger:                   zap.NewNop(),
	})
	return s, store, client, pp
}

func seedJob(t *testing.T, dir string, store *jobstore.Store, client *fake.Client, artifactID int64, mirrorID int64, pinned bool, contents []byte) *jobstore.Job {
	t.Helper()
	job := &jobstore.Job{
		MessageIDReference: mirrorID,
		SourceChat:         "500500",
		SourceMessageID:    mirrorID,
		ArtifactID:         artifactID,
		DisplayName:        "Video",
		FileBasename:       "video.mp4",
		StagingPath:        filepath.Join(dir, "staging", "video.mp4"),
		TargetFolder:       filepath.Join(dir, "completed"),
		SizeBytes:          int64(len(contents)),
		Pinned:             pinned,
		Status:             jobstore.StatusAcquired,
	}
	client.RegisterMedia(int(mirrorID), &fake.Media{
		ID:       artifactID,
		Size:     job.SizeBytes,
		Name:     job.FileBasename,
		Contents: contents,
	})
	if err := store.Put(job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestTickDownloadsAndPostProcessesAJob(t *testing.T) {
	s, store, client, pp := newTestScheduler(t)
	dir := t.TempDir()
	seedJob(t, dir, store, client, 1, 1001, false, []byte("hello world"))

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if pp.count() != 1 {
		t.Fatalf("expected post-process to run once, ran %d times", pp.count())
	}
}

func TestTickSkipsAlreadyCompletedJobs(t *testing.T) {
	s, store, client, pp := newTestScheduler(t)
	dir := t.TempDir()
	job := seedJob(t, dir, store, client, 2, 1002, false, []byte("data"))
	job.Completed = true
	if err := store.Put(job); err != nil {
		t.Fatalf("update job: %v", err)
	}

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if pp.count() != 0 {
		t.Fatalf("expected no post-processing of a completed job, got %d", pp.count())
	}
}

func TestTickDoesNothingWhenStartDownloadDisabled(t *testing.T) {
	s, store, client, pp := newTestScheduler(t)
	dir := t.TempDir()
	seedJob(t, dir, store, client, 3, 1003, false, []byte("data"))
	s.deps.Flags.Apply(flags.Stop)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if pp.count() != 0 {
		t.Fatalf("expected no downloads while start_download is false, got %d", pp.count())
	}
}

func TestSortJobsOrdersPinnedFirstThenByArtifactID(t *testing.T) {
	jobs := []*jobstore.Job{
		{ArtifactID: 5, Pinned: false},
		{ArtifactID: 1, Pinned: true},
		{ArtifactID: 3, Pinned: false},
		{ArtifactID: 2, Pinned: true},
	}
	sortJobs(jobs)

	want := []int64{1, 2, 3, 5}
	for i, id := range want {
		if jobs[i].ArtifactID != id {
			t.Fatalf("position %d: expected artifact %d, got %d", i, id, jobs[i].ArtifactID)
		}
	}
}

func TestRunExitsWhenQuitCommandReceived(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	s.deps.Commands <- flags.Quit

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit on quit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not exit after quit command")
	}
}

func TestDrainCommandsAppliesAllQueuedCommands(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	s.deps.Commands <- flags.Stop
	s.deps.Commands <- flags.Start
	s.drainCommands()

	if !s.deps.Flags.StartDownload() {
		t.Fatalf("expected StartDownload true after Stop followed by Start")
	}
}
