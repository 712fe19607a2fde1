package jobstore

// Status is the ProgressBoard slot-1 badge.
type Status string

const (
	StatusAcquired    Status = "ACQUIRED"
	StatusDownloading Status = "DOWNLOADING"
	StatusCompressing Status = "COMPRESSING"
	StatusCompleted   Status = "COMPLETED"
	StatusDeleted     Status = "DELETED"
	StatusCancelled   Status = "CANCELLED"
	StatusError       Status = "ERROR"
)

// Glyph returns the single-glyph board badge for a Status. The Acquirer
// checks for these glyphs to decide whether a caption was already
// produced by this agent.
func (s Status) Glyph() string {
	switch s {
	case StatusAcquired:
		return "🔔"
	case StatusDownloading:
		return "⬇️"
	case StatusCompressing:
		return "🗜️"
	case StatusCompleted:
		return "✅"
	case StatusDeleted:
		return "🗑️"
	case StatusCancelled:
		return "🚫"
	case StatusError:
		return "❌"
	default:
		return ""
	}
}

// AllGlyphs lists every badge glyph the Reporter ever writes; the
// Acquirer uses this set to detect messages the system itself produced.
func AllGlyphs() []string {
	return []string{
		StatusAcquired.Glyph(),
		StatusDownloading.Glyph(),
		StatusCompressing.Glyph(),
		StatusCompleted.Glyph(),
		StatusDeleted.Glyph(),
		StatusCancelled.Glyph(),
		StatusError.Glyph(),
	}
}

// Geometry is a Job's optional media width/height.
type Geometry struct {
	W int `json:"w"`
	H int `json:"h"`
}

// Job is the persistent record for one artifact, tracked end-to-end
// from acquisition to placement.
type Job struct {
	MessageIDReference int64  `json:"message_id_reference"`
	SourceChat         string `json:"source_chat"`
	SourceMessageID    int64  `json:"source_message_id"`

	SourceIsForwardProtected bool `json:"source_is_forward_protected"`

	ArtifactID int64 `json:"artifact_id"`

	DisplayName  string `json:"display_name"`
	OriginalName string `json:"original_name"`
	FileBasename string `json:"file_basename"`

	StagingPath  string `json:"staging_path"`
	TargetFolder string `json:"target_folder"`

	Attributes *Geometry `json:"attributes,omitempty"`

	Pinned    bool `json:"pinned"`
	Completed bool `json:"completed"`

	SizeBytes int64 `json:"size_bytes"`

	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`

	// unknownFields preserves any JSON object keys this version of the
	// struct doesn't model, so Store.Put never silently drops operator
	// or third-party data written to the file by another process.
	unknownFields map[string]any
}
