// Package transport defines the narrow chat-transport interface the
// rest of the agent depends on, plus the concrete gotd/gotgproto
// adapter.
package transport

import (
	"context"
	"io"
	"time"
)

// Media is an opaque reference to a remote document, returned by
// FetchMedia (and carried on IncomingMessage) and consumed by
// StreamBytes. Concrete
// adapters carry whatever internal representation (tg.InputDocumentFileLocation,
// etc.) they need behind this interface.
type Media interface {
	// ArtifactID is the stable identifier of the remote artifact.
	ArtifactID() int64
	SizeBytes() int64
	FileName() string
	Geometry() (w, h int, ok bool)
}

// IncomingMessage is the subset of a chat message the Acquirer needs.
type IncomingMessage struct {
	ChatID           int64
	ChatUsername     string
	ChatTitle        string
	MessageID        int
	Text             string
	ReplyToMessageID int
	NoForwards       bool
	Media            Media
}

// Entitlement describes the caller's allowed chunk size range; request
// chunk size adapts to it.
type Entitlement struct {
	MinChunkBytes int
	MaxChunkBytes int
}

// FloodWaitError is returned by the transport when the server asks the
// caller to back off N seconds before retrying. Downloader unwraps it
// with errors.As.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return "transport: flood wait " + e.Wait.String()
}

// Client is the narrow transport surface the core depends on. A concrete
// adapter implements it against gotgproto/gotd-td; tests use an
// in-memory fake.
type Client interface {
	// Self returns the connected account's name, used at startup to
	// log which account is connected.
	Self() string

	// SendMirror posts the operator-chat mirror message for a newly
	// acquired artifact: a forward of the media when forwarding is
	// allowed, a text-only caption otherwise. It returns the posted
	// message's id, to become message_id_reference.
	SendMirror(ctx context.Context, operatorChatID int64, m IncomingMessage, caption string, forward bool) (int, error)

	// EditMessageText rewrites a message's full text in place (the
	// Reporter's board edits).
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error

	// DeleteMessage removes a message (source cleanup after a mirror
	// forward, the download:clean command).
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error

	// PinMessage/UnpinMessage implement the admission-control pin and
	// the terminal-state unpin.
	PinMessage(ctx context.Context, chatID int64, messageID int) error
	UnpinMessage(ctx context.Context, chatID int64, messageID int) error

	// ReplyText sends an ephemeral or durable text reply to a message,
	// used by the Control Plane's reply-based commands and the
	// self-deleting service messages.
	ReplyText(ctx context.Context, chatID int64, replyToMessageID int, text string) (int, error)

	// Entitlement reports the caller's allowed chunk-size window
	// (non-premium 64-256 KiB; premium up to a ceiling fixed by the
	// adapter). The config's max_download_size_request_limit_kb is not
	// applied to this window.
	Entitlement(ctx context.Context) (Entitlement, error)

	// FetchMedia re-reads media metadata fresh at download entry, from
	// the source chat for forward-protected artifacts and the mirror
	// message otherwise.
	FetchMedia(ctx context.Context, chatID int64, messageID int) (Media, error)

	// StreamBytes returns an io.ReadCloser positioned at offset; the
	// caller issues chunkSize-sized reads until io.EOF. The transport
	// may deliver smaller reads than chunkSize; callers must tolerate
	// that.
	StreamBytes(ctx context.Context, media Media, offset int64, chunkSize int) (io.ReadCloser, error)
}
