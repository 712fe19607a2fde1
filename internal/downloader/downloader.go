// Package downloader implements the resumable byte-stream fetch with
// retry, backoff and rate limiting: chunked writes into a .temp sidecar
// that doubles as the resume point, renamed into place once the byte
// count matches the artifact's authoritative size.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"vidreel/internal/jobstore"
	"vidreel/internal/reporter"
	"vidreel/internal/transport"
)

const (
	maxAttempts = 20

	// Backpressure sleep bounds between chunks.
	defaultMinDelay = 500 * time.Millisecond
	defaultMaxDelay = 2000 * time.Millisecond

	// defaultSettleDelay is the brief pause before the final size
	// comparison, letting in-flight writes land.
	defaultSettleDelay = 3 * time.Second

	transientWait = 10 * time.Second
)

// Deps bundles the Downloader's external collaborators, threaded in
// explicitly by the app container. MinDelay/MaxDelay/SettleDelay
// default to production timings when left zero; tests override them to
// run the same logic without the wall-clock waits.
type Deps struct {
	Transport         transport.Client
	Reporter          *reporter.Reporter
	DiskSpaceLimitPct float64
	Logger            *zap.Logger

	MinDelay    time.Duration
	MaxDelay    time.Duration
	SettleDelay time.Duration
}

func (d Deps) minDelay() time.Duration {
	if d.MinDelay > 0 {
		return d.MinDelay
	}
	return defaultMinDelay
}

func (d Deps) maxDelay() time.Duration {
	if d.MaxDelay > 0 {
		return d.MaxDelay
	}
	return defaultMaxDelay
}

func (d Deps) settleDelay() time.Duration {
	if d.SettleDelay > 0 {
		return d.SettleDelay
	}
	return defaultSettleDelay
}

// Download drives one Job from its current staging state to either a
// completed-and-staged file (OkDone, ready for the Post-Processor) or a
// terminal/transient Outcome.
// It retries internally up to maxAttempts, honoring FloodWait/transient
// waits between attempts; callers (the Scheduler) do not re-invoke
// Download for the same wave.
func Download(ctx context.Context, d Deps, job *jobstore.Job, operatorChatID int64) Outcome {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Outcome{Kind: Transient, Reason: "interrupted"}
		default:
		}

		outcome := d.attempt(ctx, job, operatorChatID, attempt)
		switch outcome.Kind {
		case OkDone, Fatal, Skip:
			return outcome
		case Corrupted:
			// Discarded temp, resume from zero next attempt.
			d.Logger.Warn("downloader: staged file corrupted, retrying from zero",
				zap.Int64("artifact_id", job.ArtifactID))
			continue
		case Transient:
			if outcome.Wait > 0 {
				select {
				case <-time.After(outcome.Wait):
				case <-ctx.Done():
					return Outcome{Kind: Transient, Reason: "interrupted during retry wait"}
				}
			}
			continue
		}
	}
	return Outcome{Kind: Fatal, Reason: "retry budget exhausted"}
}

func (d Deps) attempt(ctx context.Context, job *jobstore.Job, operatorChatID int64, attemptNum int) Outcome {
	// Admission controls run before every streaming attempt.

	// 1. Duplicate done.
	if info, err := os.Stat(job.StagingPath); err == nil {
		if info.Size() == job.SizeBytes {
			return Outcome{Kind: OkDone}
		}
	}

	// 2. Folder existence.
	if err := os.MkdirAll(job.TargetFolder, 0o755); err != nil {
		d.Logger.Warn("downloader: admission failed", zap.Error(&ErrFolderMissing{Path: job.TargetFolder}))
		d.setError(ctx, job, operatorChatID, "folder_not_exist")
		return Outcome{Kind: Fatal, Reason: "folder_not_exist"}
	}

	// 3/4. Disk space, target and staging folders. Running out of space
	// is not a per-Job failure: StopGlobal asks the Scheduler to halt the
	// whole loop so the remaining queue doesn't churn against a full disk.
	if pct, err := freePercentAfter(job.TargetFolder, job.SizeBytes); err == nil {
		if pct <= d.DiskSpaceLimitPct {
			d.Logger.Warn("downloader: admission failed", zap.Error(ErrDiskFull), zap.Float64("free_pct", pct))
			d.setStatus(ctx, job, operatorChatID, jobstore.StatusCancelled, "disk_space_exhausted")
			return Outcome{Kind: Fatal, Reason: "disk_space_exhausted", StopGlobal: true}
		}
	}
	stagingDir := filepath.Dir(job.StagingPath)
	if pct, err := freePercentAfter(stagingDir, job.SizeBytes); err == nil {
		if pct <= d.DiskSpaceLimitPct {
			d.Logger.Warn("downloader: admission failed", zap.Error(ErrDiskFull), zap.Float64("free_pct", pct))
			d.setStatus(ctx, job, operatorChatID, jobstore.StatusCancelled, "disk_space_exhausted")
			return Outcome{Kind: Fatal, Reason: "disk_space_exhausted", StopGlobal: true}
		}
	}

	// 5. Pin the mirror message.
	if err := d.Transport.PinMessage(ctx, operatorChatID, int(job.MessageIDReference)); err != nil {
		d.Logger.Warn("downloader: pin failed, continuing", zap.Error(err))
	}

	if attemptNum == 1 {
		if err := d.Reporter.SetStatus(ctx, job, jobstore.StatusDownloading); err != nil {
			d.Logger.Warn("downloader: status edit failed", zap.Error(err))
		}
	}

	return d.streamOnce(ctx, job, operatorChatID)
}

func (d Deps) streamOnce(ctx context.Context, job *jobstore.Job, operatorChatID int64) Outcome {
	chatID, msgID := resolveSourceRef(job, operatorChatID)

	media, err := d.Transport.FetchMedia(ctx, chatID, msgID)
	if err != nil {
		return Outcome{Kind: Transient, Wait: transientWait, Reason: (&ErrTransientTransport{Err: err}).Error()}
	}

	tempPath := job.StagingPath + ".temp"
	if err := os.MkdirAll(filepath.Dir(tempPath), 0o755); err != nil {
		return Outcome{Kind: Fatal, Reason: "staging_mkdir_failed"}
	}

	offset := int64(0)
	if info, err := os.Stat(tempPath); err == nil {
		offset = info.Size()
	}

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Outcome{Kind: Fatal, Reason: fmt.Sprintf("open temp file: %v", err)}
	}
	defer f.Close()

	entitlement, err := d.Transport.Entitlement(ctx)
	if err != nil {
		entitlement = transport.Entitlement{MinChunkBytes: 64 * 1024, MaxChunkBytes: 256 * 1024}
	}
	chunkSize := entitlement.MaxChunkBytes
	if chunkSize <= 0 {
		chunkSize = entitlement.MinChunkBytes
	}

	stream, err := d.Transport.StreamBytes(ctx, media, offset, chunkSize)
	if err != nil {
		var fw *transport.FloodWaitError
		if errors.As(err, &fw) {
			return Outcome{Kind: Transient, Wait: fw.Wait + time.Second, Reason: (&ErrFloodWait{Wait: fw.Wait}).Error()}
		}
		return Outcome{Kind: Transient, Wait: transientWait, Reason: (&ErrTransientTransport{Err: err}).Error()}
	}
	defer stream.Close()

	buf := make([]byte, chunkSize)
	written := offset
	retryAttempts := maxAttempts

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return Outcome{Kind: Transient, Reason: "interrupted mid-stream"}
		default:
		}

		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return Outcome{Kind: Fatal, Reason: fmt.Sprintf("write temp file: %v", werr)}
			}
			written += int64(n)
			if err := d.Reporter.RecordProgress(ctx, job, written); err != nil {
				d.Logger.Warn("downloader: progress report failed", zap.Error(err))
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			var fw *transport.FloodWaitError
			if errors.As(readErr, &fw) {
				return Outcome{Kind: Transient, Wait: fw.Wait + time.Second, Reason: (&ErrFloodWait{Wait: fw.Wait}).Error()}
			}
			return Outcome{Kind: Transient, Wait: transientWait, Reason: (&ErrTransientTransport{Err: readErr}).Error()}
		}

		frac := 1 - float64(attempt)/float64(retryAttempts)
		if frac < 0 {
			frac = 0
		}
		sleep := d.minDelay() + time.Duration(float64(d.maxDelay()-d.minDelay())*frac)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return Outcome{Kind: Transient, Reason: "interrupted during backpressure sleep"}
		}
	}

	select {
	case <-time.After(d.settleDelay()):
	case <-ctx.Done():
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return (&ErrFilesystem{Op: "stat temp", Err: err}).outcome()
	}

	switch {
	case info.Size() == job.SizeBytes:
		if err := os.Rename(tempPath, job.StagingPath); err != nil {
			return (&ErrFilesystem{Op: "rename", Err: err}).outcome()
		}
		return Outcome{Kind: OkDone}
	case info.Size() > job.SizeBytes:
		os.Remove(tempPath)
		d.Logger.Warn("downloader: corrupted staged file", zap.Int64("artifact_id", job.ArtifactID))
		return Outcome{Kind: Corrupted, Reason: ErrCorrupted.Error()}
	default:
		return Outcome{Kind: Transient, Wait: transientWait, Reason: "staged file smaller than expected"}
	}
}

func (e *ErrFilesystem) outcome() Outcome {
	return Outcome{Kind: Fatal, Reason: e.Error()}
}

// resolveSourceRef picks where bytes come from: the source chat when the
// artifact is forward-protected, the mirror message in the operator chat
// otherwise.
func resolveSourceRef(job *jobstore.Job, operatorChatID int64) (chatID int64, messageID int) {
	if job.SourceIsForwardProtected {
		return hashChat(job.SourceChat), int(job.SourceMessageID)
	}
	return operatorChatID, int(job.MessageIDReference)
}

// hashChat resolves the configured chat name/id string into the int64
// peer id transport.Client expects. The config layer stores the
// numeric chat id as a decimal string; this is a thin parse, not a
// lookup.
func hashChat(chat string) int64 {
	var id int64
	for _, c := range chat {
		if c < '0' || c > '9' {
			if c == '-' {
				continue
			}
			return 0
		}
	}
	fmt.Sscanf(chat, "%d", &id)
	return id
}

func (d Deps) setStatus(ctx context.Context, job *jobstore.Job, operatorChatID int64, status jobstore.Status, boardMessage string) {
	job.Status = status
	job.LastError = boardMessage
	if err := d.Reporter.SetStatus(ctx, job, status); err != nil {
		d.Logger.Warn("downloader: status edit failed", zap.Error(err))
	}
	if err := d.Reporter.SetLine(ctx, job, reporter.SlotLastError, boardMessage, true); err != nil {
		d.Logger.Warn("downloader: last-error edit failed", zap.Error(err))
	}
	if err := d.Transport.UnpinMessage(ctx, operatorChatID, int(job.MessageIDReference)); err != nil {
		d.Logger.Warn("downloader: unpin failed", zap.Error(err))
	}
}

func (d Deps) setError(ctx context.Context, job *jobstore.Job, operatorChatID int64, boardMessage string) {
	d.setStatus(ctx, job, operatorChatID, jobstore.StatusError, boardMessage)
}
