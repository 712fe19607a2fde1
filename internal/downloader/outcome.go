package downloader

import "time"

// Kind tags the terminal shape of one download attempt. No error crosses
// the worker-goroutine boundary except through the top-level recover(),
// which turns an unexpected panic into Fatal.
type Kind int

const (
	// OkDone means the file is fully staged; the Scheduler then hands the
	// Job to the Post-Processor, if one is configured.
	OkDone Kind = iota
	// Transient means the attempt failed in a retryable way. Download
	// waits Outcome.Wait itself between its own attempts; a Transient it
	// returns (an interrupted wave) leaves the Job queued for the next tick.
	Transient
	// Corrupted means the staged file was larger than expected and was
	// discarded; retried from byte zero.
	Corrupted
	// Fatal means the Job cannot proceed; it remains in the Job Store
	// (marked ERROR/CANCELLED on the board) but is not retried
	// automatically.
	Fatal
	// Skip marks an attempt short-circuited without failing. Download
	// does not produce it: a staged file that already has the full size
	// yields OkDone.
	Skip
)

func (k Kind) String() string {
	switch k {
	case OkDone:
		return "ok"
	case Transient:
		return "transient"
	case Corrupted:
		return "corrupted"
	case Fatal:
		return "fatal"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one download attempt.
type Outcome struct {
	Kind   Kind
	Wait   time.Duration
	Reason string

	// StopGlobal asks the Scheduler to halt the whole download loop
	// (start_download off, interrupt on), set when admission finds the
	// disk too full for any further work.
	StopGlobal bool
}
