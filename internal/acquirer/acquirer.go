// Package acquirer turns one newly-observed chat message into a
// persisted Job plus a mirror message in the operator chat, or silently
// skips the message.
package acquirer

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"vidreel/internal/dedup"
	"vidreel/internal/jobstore"
	"vidreel/internal/reporter"
	"vidreel/internal/rules"
	"vidreel/internal/transport"
)

// videoExtensions gates which document filenames count as video.
var videoExtensions = map[string]struct{}{
	"mp4": {}, "mkv": {}, "avi": {}, "mov": {}, "wmv": {}, "flv": {}, "webm": {}, "mpv": {},
}

// reservedChars strips control and path-reserved characters from a
// candidate name.
var reservedChars = regexp.MustCompile(`[\x00-\x1f<>:"/\\|?*]`)

// Acquirer turns inbound media messages into durable Jobs.
type Acquirer struct {
	Transport      transport.Client
	Store          *jobstore.Store
	Rules          *rules.Engine
	Reporter       *reporter.Reporter
	Logger         *zap.Logger
	OperatorChatID int64
	AllowForward   bool

	// Dedup is the optional Redis accelerator for the artifact lookup;
	// nil is valid and always misses.
	Dedup *dedup.Cache

	// StagingFolder is the root in-progress downloads are written under.
	StagingFolder string

	// CompletedFolder is the default target_folder root; a rule's
	// folder_template nests a subfolder under it when one applies.
	CompletedFolder string
}

// Reply is a message observed to be a reply to another message; a
// qualifying reply names the video.
type Reply struct {
	ReplyToMessageID int
	Text             string
}

// Acquire runs the 9-step procedure over one inbound message, given any
// replies already observed for it. It returns (false, nil) for a message
// that is legitimately skipped (not a video, already processed, or a
// duplicate artifact) and a non-nil error only for a failure that
// prevented the attempt from completing.
func (a *Acquirer) Acquire(ctx context.Context, m transport.IncomingMessage, replies []Reply) (bool, error) {
	// 1. Media/extension gate.
	if m.Media == nil {
		return false, nil
	}
	if !hasVideoSemantics(m) {
		return false, nil
	}

	// 2. Idempotence: already-produced message.
	if bearsStatusGlyph(m.Text) {
		return false, nil
	}

	// 3. Candidate display name.
	displayName := candidateDisplayName(m, replies)
	if displayName == "" {
		return false, nil
	}

	// 4. Filename.
	fileBasename := sanitizeName(m.Media.FileName())
	if fileBasename == "" {
		fileBasename = sanitizeName(displayName) + ".mp4"
	}

	// 5. Rule Engine rewrite.
	originalName := displayName
	mctx := rules.MessageContext{
		ChatID:       m.ChatID,
		ChatUsername: m.ChatUsername,
		ChatTitle:    m.ChatTitle,
	}
	artifactID := m.Media.ArtifactID()
	rewritten, err := a.Rules.ApplyTranslate(displayName, fileBasename, mctx, artifactID)
	if err != nil {
		a.Logger.Warn("acquirer: rule translate failed, using untranslated name", zap.Error(err))
	} else {
		displayName = rewritten
	}

	// 6. Forward-protection.
	forwardProtected := m.NoForwards

	// 7. Dedup by artifact id: the cache hit short-circuits without a
	// directory scan; a miss still consults the store.
	if _, hit := a.Dedup.Lookup(ctx, artifactID); hit {
		return false, nil
	}
	existing, err := a.Store.GetByArtifact(artifactID)
	if err != nil {
		return false, fmt.Errorf("acquirer: artifact lookup: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	// 8. Post mirror message.
	canForward := a.AllowForward && !forwardProtected
	caption := displayName
	mirrorID, err := a.Transport.SendMirror(ctx, a.OperatorChatID, m, caption, canForward)
	if err != nil {
		return false, fmt.Errorf("acquirer: send mirror: %w", err)
	}

	var geom *jobstore.Geometry
	if w, h, ok := m.Media.Geometry(); ok {
		geom = &jobstore.Geometry{W: w, H: h}
	}

	job := &jobstore.Job{
		MessageIDReference:       int64(mirrorID),
		SourceChat:               chatKey(m),
		SourceMessageID:          int64(m.MessageID),
		SourceIsForwardProtected: forwardProtected,
		ArtifactID:               artifactID,
		DisplayName:              displayName,
		OriginalName:             originalName,
		FileBasename:             fileBasename,
		StagingPath:              filepath.Join(a.StagingFolder, fileBasename),
		TargetFolder:             a.targetFolder(displayName, artifactID),
		Attributes:               geom,
		Pinned:                   false,
		Completed:                false,
		SizeBytes:                m.Media.SizeBytes(),
		Status:                   jobstore.StatusAcquired,
	}

	board := reporter.NewBoard(job)
	if err := a.Transport.EditMessageText(ctx, a.OperatorChatID, mirrorID, board.String()); err != nil {
		a.Logger.Warn("acquirer: initial board render failed", zap.Error(err))
	}

	if err := a.Store.Put(job); err != nil {
		return false, fmt.Errorf("acquirer: persist job: %w", err)
	}
	a.Dedup.Put(ctx, artifactID, job.MessageIDReference)

	// 9. Delete source message when forwarding was allowed.
	if canForward {
		if err := a.Transport.DeleteMessage(ctx, m.ChatID, m.MessageID); err != nil {
			a.Logger.Warn("acquirer: source delete failed", zap.Error(err))
		}
	}

	return true, nil
}

// targetFolder derives a Job's destination folder: the configured
// completed-folder root, nested under any folder_template a bound rule
// supplies.
func (a *Acquirer) targetFolder(displayName string, artifactID int64) string {
	if sub := a.Rules.ApplyFolder(displayName, artifactID); sub != "" {
		return filepath.Join(a.CompletedFolder, sub)
	}
	return a.CompletedFolder
}

func chatKey(m transport.IncomingMessage) string {
	if m.ChatUsername != "" {
		return m.ChatUsername
	}
	return fmt.Sprintf("%d", m.ChatID)
}

func hasVideoSemantics(m transport.IncomingMessage) bool {
	if _, _, ok := m.Media.Geometry(); ok {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(m.Media.FileName()), "."))
	_, known := videoExtensions[ext]
	return known
}

// bearsStatusGlyph reports whether text already contains one of the
// badge glyphs the Reporter writes.
func bearsStatusGlyph(text string) bool {
	for _, glyph := range jobstore.AllGlyphs() {
		if glyph == "" {
			continue
		}
		if strings.Contains(text, glyph) {
			return true
		}
	}
	return false
}

// candidateDisplayName picks the display name: the first line of a
// qualifying reply, else the first three lines of m's text,
// else the filename stem.
func candidateDisplayName(m transport.IncomingMessage, replies []Reply) string {
	for _, r := range replies {
		if r.ReplyToMessageID != m.MessageID {
			continue
		}
		lines := strings.SplitN(r.Text, "\n", 2)
		first := sanitizeName(strings.TrimSpace(lines[0]))
		if first != "" && !bearsStatusGlyph(first) {
			return first
		}
	}

	if m.Text != "" {
		lines := strings.Split(m.Text, "\n")
		var parts []string
		for i := 0; i < len(lines) && i < 3; i++ {
			parts = append(parts, strings.TrimSpace(lines[i]))
		}
		joined := sanitizeName(strings.Join(parts, ""))
		if joined != "" {
			return joined
		}
	}

	if m.Media != nil {
		stem := strings.TrimSuffix(m.Media.FileName(), filepath.Ext(m.Media.FileName()))
		return sanitizeName(stem)
	}
	return ""
}

// sanitizeName strips control and reserved path characters.
func sanitizeName(name string) string {
	return strings.TrimSpace(reservedChars.ReplaceAllString(name, ""))
}
