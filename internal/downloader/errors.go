package downloader

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the download pipeline, modeled as small
// sentinel-wrapped types tested with errors.As/errors.Is.

// ErrCorrupted means the finished .temp file is larger than the
// authoritative size.
var ErrCorrupted = errors.New("downloader: staged file larger than expected size")

// ErrDiskFull is logged by admission control when free space would
// drop at or below the configured threshold; the attempt itself ends
// with a Fatal Outcome carrying StopGlobal.
var ErrDiskFull = errors.New("downloader: insufficient disk space")

// ErrFilesystem wraps a local I/O failure; terminal for the Job, never
// retried.
type ErrFilesystem struct {
	Op  string
	Err error
}

func (e *ErrFilesystem) Error() string {
	return fmt.Sprintf("downloader: filesystem %s: %v", e.Op, e.Err)
}

func (e *ErrFilesystem) Unwrap() error { return e.Err }

// ErrFloodWait is the downloader's own counterpart of
// transport.FloodWaitError; the Downloader unwraps the transport error
// into this shape so retry policy lives in one place.
type ErrFloodWait struct {
	Wait time.Duration
}

func (e *ErrFloodWait) Error() string {
	return fmt.Sprintf("downloader: flood wait %s", e.Wait)
}

// ErrTransientTransport marks a non-flood-wait transport failure that
// still warrants the fixed 10s retry wait.
type ErrTransientTransport struct {
	Err error
}

func (e *ErrTransientTransport) Error() string {
	return fmt.Sprintf("downloader: transient transport error: %v", e.Err)
}

func (e *ErrTransientTransport) Unwrap() error { return e.Err }

// ErrFolderMissing is the admission-control step-2 terminal failure
// ("folder_not_exist").
type ErrFolderMissing struct {
	Path string
}

func (e *ErrFolderMissing) Error() string {
	return fmt.Sprintf("downloader: target folder missing: %s", e.Path)
}
