// Package postprocess runs the optional CRF-estimated ffmpeg transcode
// and the atomic placement of a finished download into the Job's target
// folder.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vidreel/internal/jobstore"
	"vidreel/internal/reporter"
	"vidreel/internal/rules"
	"vidreel/internal/transport"
)

const (
	defaultPollInterval = 2 * time.Second
	watchdogPolls       = 30
)

// Deps bundles the Post-Processor's collaborators and configuration.
type Deps struct {
	Store     *jobstore.Store
	Reporter  *reporter.Reporter
	Rules     *rules.Engine
	Transport transport.Client
	Logger    *zap.Logger

	OperatorChatID int64

	EnableCompression bool
	CompressionRatio  int // ffmpeg CRF value, already clamped to [0,51] by config
	MinSizeBytes      int64

	FFmpegPath  string
	FFprobePath string

	PollInterval time.Duration
}

func (d Deps) ffmpegPath() string {
	if d.FFmpegPath != "" {
		return d.FFmpegPath
	}
	return "ffmpeg"
}

func (d Deps) pollInterval() time.Duration {
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return defaultPollInterval
}

// Processor drives compression and placement for a downloaded Job.
type Processor struct {
	deps Deps
}

func New(deps Deps) *Processor {
	return &Processor{deps: deps}
}

// estimateFactor maps the configured CRF to an expected output/input
// size ratio.
func estimateFactor(crf int) float64 {
	switch {
	case crf <= 18:
		return 1.2
	case crf <= 23:
		return 1.0
	case crf <= 28:
		return 0.75
	default:
		return 0.5
	}
}

// Process runs the Post-Processor over a Job whose bytes have already
// landed at job.StagingPath.
func (p *Processor) Process(ctx context.Context, job *jobstore.Job) error {
	sourcePath := job.StagingPath

	if p.deps.EnableCompression && job.SizeBytes > p.deps.MinSizeBytes {
		estimate := int64(float64(job.SizeBytes) * estimateFactor(p.deps.CompressionRatio))
		if estimate < job.SizeBytes {
			compressed, err := p.transcode(ctx, job, sourcePath)
			if err != nil {
				p.deps.Logger.Warn("postprocess: transcode failed, placing original",
					zap.Int64("artifact_id", job.ArtifactID), zap.Error(err))
			} else if compressed != "" {
				if err := os.Remove(sourcePath); err != nil {
					p.deps.Logger.Warn("postprocess: failed to remove original after compression", zap.Error(err))
				}
				sourcePath = compressed
			}
		}
	}

	return p.place(ctx, job, sourcePath)
}

// transcode launches ffmpeg writing to a sibling path and polls its
// output size, aborting via the watchdog if the size is unchanged for
// watchdogPolls consecutive polls.
func (p *Processor) transcode(ctx context.Context, job *jobstore.Job, sourcePath string) (string, error) {
	if err := p.deps.Reporter.SetStatus(ctx, job, jobstore.StatusCompressing); err != nil {
		p.deps.Logger.Warn("postprocess: status edit failed", zap.Error(err))
	}

	outPath := sourcePath + ".compressed.mp4"
	os.Remove(outPath)

	cmd := exec.CommandContext(ctx, p.deps.ffmpegPath(),
		"-y",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(p.deps.CompressionRatio),
		"-c:a", "copy",
		outPath,
	)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("postprocess: start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	watchdogCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	failed := make(chan struct{})
	go p.watch(watchdogCtx, outPath, job, failed, cmd)

	select {
	case err := <-done:
		cancel()
		if err != nil {
			os.Remove(outPath)
			return "", fmt.Errorf("postprocess: ffmpeg: %w", err)
		}
		return outPath, nil
	case <-failed:
		os.Remove(outPath)
		if err := p.deps.Reporter.SetLine(ctx, job, reporter.SlotLastError, "COMPRESSION_FAILED", true); err != nil {
			p.deps.Logger.Warn("postprocess: board edit failed", zap.Error(err))
		}
		return "", fmt.Errorf("postprocess: COMPRESSION_FAILED")
	}
}

func (p *Processor) watch(ctx context.Context, outPath string, job *jobstore.Job, failed chan<- struct{}, cmd *exec.Cmd) {
	ticker := time.NewTicker(p.deps.pollInterval())
	defer ticker.Stop()

	var lastSize int64 = -1
	unchanged := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(outPath)
			var size int64
			if err == nil {
				size = info.Size()
			}
			if size == lastSize {
				unchanged++
			} else {
				unchanged = 0
				lastSize = size
				if err := p.deps.Reporter.SetLine(ctx, job, reporter.SlotInfo, fmt.Sprintf("compressing (%d bytes)", size), false); err != nil {
					p.deps.Logger.Warn("postprocess: progress edit failed", zap.Error(err))
				}
			}
			if unchanged >= watchdogPolls {
				if cmd.Process != nil {
					cmd.Process.Kill()
				}
				select {
				case failed <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

// place performs the atomic placement: a per-title subfolder under
// target_folder, the file renamed after the display name, .mpv rewritten
// to .mp4 at move time. On move failure the Rule Engine is reloaded
// (rules may have been edited to correct a bad target) and the job is
// marked ERROR.
func (p *Processor) place(ctx context.Context, job *jobstore.Job, sourcePath string) error {
	title := sanitizeFolderName(job.DisplayName)
	subfolder := filepath.Join(job.TargetFolder, title)
	if err := os.MkdirAll(subfolder, 0o755); err != nil {
		return p.markPlacementFailed(ctx, job, fmt.Errorf("create subfolder: %w", err))
	}

	ext := filepath.Ext(job.FileBasename)
	if strings.EqualFold(ext, ".mpv") || ext == "" {
		ext = ".mp4"
	}
	finalName := title + ext
	finalPath := filepath.Join(subfolder, finalName)

	if err := moveFile(sourcePath, finalPath); err != nil {
		return p.markPlacementFailed(ctx, job, fmt.Errorf("move: %w", err))
	}

	job.StagingPath = finalPath
	job.FileBasename = finalName
	job.Completed = true
	job.Status = jobstore.StatusCompleted
	job.LastError = ""

	if err := p.deps.Reporter.SetStatus(ctx, job, jobstore.StatusCompleted); err != nil {
		p.deps.Logger.Warn("postprocess: completed status edit failed", zap.Error(err))
	}
	p.unpin(ctx, job)
	if err := p.deps.Store.Put(job); err != nil {
		return fmt.Errorf("postprocess: persist completed job: %w", err)
	}
	return nil
}

// unpin releases the mirror message's admission-time pin once the Job
// reaches a terminal badge.
func (p *Processor) unpin(ctx context.Context, job *jobstore.Job) {
	if p.deps.Transport == nil {
		return
	}
	if err := p.deps.Transport.UnpinMessage(ctx, p.deps.OperatorChatID, int(job.MessageIDReference)); err != nil {
		p.deps.Logger.Warn("postprocess: unpin failed", zap.Error(err))
	}
}

func (p *Processor) markPlacementFailed(ctx context.Context, job *jobstore.Job, cause error) error {
	if _, err := p.deps.Rules.Reload(); err != nil {
		p.deps.Logger.Warn("postprocess: rule reload after move failure also failed", zap.Error(err))
	}
	job.Status = jobstore.StatusError
	job.LastError = cause.Error()
	if err := p.deps.Reporter.SetStatus(ctx, job, jobstore.StatusError); err != nil {
		p.deps.Logger.Warn("postprocess: error status edit failed", zap.Error(err))
	}
	if err := p.deps.Reporter.SetLine(ctx, job, reporter.SlotLastError, cause.Error(), true); err != nil {
		p.deps.Logger.Warn("postprocess: error board edit failed", zap.Error(err))
	}
	p.unpin(ctx, job)
	if err := p.deps.Store.Put(job); err != nil {
		p.deps.Logger.Warn("postprocess: persist error job failed", zap.Error(err))
	}
	return cause
}

// moveFile renames sourcePath to destPath, falling back to copy+remove
// when rename fails across filesystems (staging and completed roots are
// not guaranteed to share a mount).
func moveFile(sourcePath, destPath string) error {
	if err := os.Rename(sourcePath, destPath); err == nil {
		return nil
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := copyAll(dst, src); err != nil {
		dst.Close()
		os.Remove(destPath)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(sourcePath)
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	buf := make([]byte, 256*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// sanitizeFolderName strips path-reserved characters from a display
// name before using it as a per-title subfolder.
func sanitizeFolderName(name string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	replaced = strings.TrimSpace(replaced)
	if replaced == "" {
		return "untitled"
	}
	return replaced
}
