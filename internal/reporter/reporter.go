package reporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vidreel/internal/jobstore"
	"vidreel/internal/transport"
)

// throttleInterval is the per-Job wall-clock ceiling on board edits.
const throttleInterval = 3 * time.Second

// maxSamples bounds the sliding window of speed samples that percent
// and ETA derive from.
const maxSamples = 20

type sample struct {
	at    time.Time
	bytes int64
}

// jobState is the Reporter's per-Job bookkeeping: the board as last set
// (to avoid clobbering other slots), the last write time (for
// throttling), and the speed sample ring.
type jobState struct {
	mu        sync.Mutex
	board     *Board
	lastWrite time.Time
	samples   []sample
}

// Reporter drives Progress Board edits against a transport.Client,
// rate-limited per Job.
type Reporter struct {
	client         transport.Client
	operatorChatID int64
	logger         *zap.Logger

	mu    sync.Mutex
	state map[int64]*jobState // keyed by message_id_reference
}

func New(client transport.Client, operatorChatID int64, logger *zap.Logger) *Reporter {
	return &Reporter{
		client:         client,
		operatorChatID: operatorChatID,
		logger:         logger,
		state:          map[int64]*jobState{},
	}
}

func (r *Reporter) stateFor(mirrorID int64, job *jobstore.Job) *jobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[mirrorID]
	if !ok {
		st = &jobState{board: NewBoard(job)}
		r.state[mirrorID] = st
	}
	return st
}

// Forget drops a Job's in-memory board/sample state once it reaches a
// terminal badge (COMPLETED/ERROR/CANCELLED/DELETED), since the mirror
// message itself no longer needs further edits.
func (r *Reporter) Forget(mirrorID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, mirrorID)
}

// SetLine edits exactly one slot, preserving the others, subject to the
// 3s-per-Job throttle. force bypasses the throttle for status-transition
// edits that must land immediately (ACQUIRED→DOWNLOADING, any terminal
// badge).
func (r *Reporter) SetLine(ctx context.Context, job *jobstore.Job, slot Slot, text string, force bool) error {
	st := r.stateFor(job.MessageIDReference, job)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.board.Set(slot, text)

	now := time.Now()
	if !force && now.Sub(st.lastWrite) < throttleInterval {
		return nil
	}
	st.lastWrite = now

	if err := r.client.EditMessageText(ctx, r.operatorChatID, int(job.MessageIDReference), st.board.String()); err != nil {
		r.logger.Warn("reporter: board edit failed",
			zap.Int64("mirror_id", job.MessageIDReference),
			zap.Error(err))
		return err
	}
	return nil
}

// SetStatus edits slot 1, always forcing the write through: a status
// transition is a single edit from the operator's view and must never
// be dropped by throttling.
func (r *Reporter) SetStatus(ctx context.Context, job *jobstore.Job, status jobstore.Status) error {
	return r.SetLine(ctx, job, SlotStatus, status.Glyph()+" "+string(status), true)
}

// RecordProgress appends a speed sample (bounded to maxSamples) and
// recomputes slot 7 (percent + ETA), subject to the normal throttle.
func (r *Reporter) RecordProgress(ctx context.Context, job *jobstore.Job, bytesSoFar int64) error {
	st := r.stateFor(job.MessageIDReference, job)

	st.mu.Lock()
	st.samples = append(st.samples, sample{at: time.Now(), bytes: bytesSoFar})
	if len(st.samples) > maxSamples {
		st.samples = st.samples[len(st.samples)-maxSamples:]
	}
	info := formatInfo(st.samples, bytesSoFar, job.SizeBytes)
	st.mu.Unlock()

	return r.SetLine(ctx, job, SlotInfo, info, false)
}

func formatInfo(samples []sample, bytesSoFar, total int64) string {
	if total <= 0 {
		return "-"
	}
	percent := float64(bytesSoFar) / float64(total) * 100
	if percent > 100 {
		percent = 100
	}

	if len(samples) < 2 {
		return fmt.Sprintf("%.1f%%", percent)
	}

	first, last := samples[0], samples[len(samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return fmt.Sprintf("%.1f%%", percent)
	}
	bytesPerSec := float64(last.bytes-first.bytes) / elapsed
	if bytesPerSec <= 0 {
		return fmt.Sprintf("%.1f%%", percent)
	}
	remaining := float64(total-bytesSoFar) / bytesPerSec
	eta := time.Duration(remaining) * time.Second
	return fmt.Sprintf("%.1f%% ETA %s", percent, eta.Round(time.Second))
}
