package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// asFloodWait unwraps a gotd/td RPC error into the wait duration the
// server asked for.
func asFloodWait(err error) (time.Duration, bool) {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return d, true
	}
	return 0, false
}

// chunkReader adapts gotd/td's upload.GetFile RPC into an io.ReadCloser.
// Each Read issues one GetFile call for the next slice;
// the Downloader drives chunk size, so chunkReader only remembers where
// it left off.
type chunkReader struct {
	ctx       context.Context
	api       *tg.Client
	loc       tg.InputFileLocationClass
	offset    int64
	chunkSize int
	pending   []byte
	done      bool
}

func newChunkReader(ctx context.Context, api *tg.Client, loc tg.InputFileLocationClass, offset int64, chunkSize int) *chunkReader {
	return &chunkReader{ctx: ctx, api: api, loc: loc, offset: offset, chunkSize: chunkSize}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.fetchNext(); err != nil {
			return 0, err
		}
		if len(r.pending) == 0 {
			r.done = true
			return 0, io.EOF
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *chunkReader) fetchNext() error {
	resp, err := r.api.UploadGetFile(r.ctx, &tg.UploadGetFileRequest{
		Location: r.loc,
		Offset:   r.offset,
		Limit:    r.chunkSize,
	})
	if err != nil {
		if fw, ok := asFloodWait(err); ok {
			return &FloodWaitError{Wait: fw}
		}
		return fmt.Errorf("transport: upload.getFile at offset %d: %w", r.offset, err)
	}

	file, ok := resp.(*tg.UploadFile)
	if !ok {
		return fmt.Errorf("transport: unexpected upload.getFile response %T", resp)
	}
	if len(file.Bytes) == 0 {
		r.done = true
		return nil
	}

	r.offset += int64(len(file.Bytes))
	r.pending = file.Bytes
	if len(file.Bytes) < r.chunkSize {
		// A short read signals end-of-file for most DC configurations;
		// the Downloader's own size check is the final authority.
		r.done = true
	}
	return nil
}

func (r *chunkReader) Close() error {
	r.pending = nil
	r.done = true
	return nil
}
