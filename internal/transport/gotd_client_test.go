package transport

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestDocMediaFileNameAndGeometry(t *testing.T) {
	doc := &tg.Document{
		ID:   42,
		Size: 12345,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: "movie.mkv"},
			&tg.DocumentAttributeVideo{W: 1920, H: 1080, SupportsStreaming: true},
		},
	}
	m := &docMedia{doc: doc}

	if m.ArtifactID() != 42 {
		t.Errorf("ArtifactID() = %d, want 42", m.ArtifactID())
	}
	if m.SizeBytes() != 12345 {
		t.Errorf("SizeBytes() = %d, want 12345", m.SizeBytes())
	}
	if m.FileName() != "movie.mkv" {
		t.Errorf("FileName() = %q, want movie.mkv", m.FileName())
	}
	w, h, ok := m.Geometry()
	if !ok || w != 1920 || h != 1080 {
		t.Errorf("Geometry() = (%d, %d, %v), want (1920, 1080, true)", w, h, ok)
	}
}

func TestDocMediaFileNameFallsBackToArtifactID(t *testing.T) {
	doc := &tg.Document{ID: 7}
	m := &docMedia{doc: doc}
	if got := m.FileName(); got != "artifact_7" {
		t.Errorf("FileName() = %q, want artifact_7", got)
	}
	if _, _, ok := m.Geometry(); ok {
		t.Errorf("Geometry() ok = true, want false when no video attribute present")
	}
}
