package jobstore

import (
	"encoding/json"
	"os"
	"testing"
)

func readRaw(s *Store, name string) ([]byte, error) {
	return os.ReadFile(s.path(name))
}

func writeRaw(s *Store, name string, data []byte) error {
	return os.WriteFile(s.path(name), data, 0o644)
}

func appendUnknownField(data []byte, key, value string) []byte {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	m[key] = value
	out, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return out
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "tenant")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGetByMirrorAndArtifact(t *testing.T) {
	s := newTestStore(t)
	job := &Job{MessageIDReference: 1, ArtifactID: 100, SourceChat: "chatA", DisplayName: "foo"}
	if err := s.Put(job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.GetByMirror(1)
	if err != nil || got == nil {
		t.Fatalf("GetByMirror: %v, %v", got, err)
	}
	if got.DisplayName != "foo" {
		t.Fatalf("got display name %q", got.DisplayName)
	}

	got2, err := s.GetByArtifact(100)
	if err != nil || got2 == nil {
		t.Fatalf("GetByArtifact: %v, %v", got2, err)
	}
}

func TestGetByArtifactMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetByArtifact(999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListPendingExcludesCompleted(t *testing.T) {
	s := newTestStore(t)
	s.Put(&Job{MessageIDReference: 1, ArtifactID: 1, Completed: false})
	s.Put(&Job{MessageIDReference: 2, ArtifactID: 2, Completed: true})

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ArtifactID != 1 {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestListPendingPinnedFirst(t *testing.T) {
	s := newTestStore(t)
	s.Put(&Job{MessageIDReference: 1, ArtifactID: 5, Pinned: false})
	s.Put(&Job{MessageIDReference: 2, ArtifactID: 3, Pinned: true})
	s.Put(&Job{MessageIDReference: 3, ArtifactID: 9, Pinned: false})

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(pending))
	}
	if !pending[0].Pinned {
		t.Fatalf("expected pinned job first, got %+v", pending[0])
	}
	if pending[1].ArtifactID != 5 || pending[2].ArtifactID != 9 {
		t.Fatalf("expected ascending artifact id among non-pinned, got %+v", pending)
	}
}

func TestPutRejectsKeyConflicts(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&Job{MessageIDReference: 1, ArtifactID: 100, SourceChat: "c"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Put(&Job{MessageIDReference: 1, ArtifactID: 200, SourceChat: "c"}); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists for rebinding mirror id, got %v", err)
	}
	if err := s.Put(&Job{MessageIDReference: 2, ArtifactID: 100, SourceChat: "c"}); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists for rebinding artifact id, got %v", err)
	}

	// Rewriting the same (mirror, artifact) pair is a plain overwrite.
	if err := s.Put(&Job{MessageIDReference: 1, ArtifactID: 100, SourceChat: "c", DisplayName: "x"}); err != nil {
		t.Fatalf("overwrite with same keys: %v", err)
	}
	got, _ := s.GetByMirror(1)
	if got.DisplayName != "x" {
		t.Fatalf("overwrite did not take: %+v", got)
	}
}

func TestUpdatePreservesUnspecifiedFields(t *testing.T) {
	s := newTestStore(t)
	s.Put(&Job{MessageIDReference: 1, ArtifactID: 1, DisplayName: "orig", TargetFolder: "/a"})

	_, err := s.Update(1, func(j *Job) error {
		j.Pinned = true
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.GetByMirror(1)
	if !got.Pinned {
		t.Fatalf("expected pinned")
	}
	if got.DisplayName != "orig" || got.TargetFolder != "/a" {
		t.Fatalf("unspecified fields were clobbered: %+v", got)
	}
}

func TestDeleteRemovesFromBothIndexes(t *testing.T) {
	s := newTestStore(t)
	job := &Job{MessageIDReference: 1, ArtifactID: 1}
	s.Put(job)
	if err := s.Delete(job); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.GetByMirror(1); got != nil {
		t.Fatalf("expected deleted job to be gone from mirror index")
	}
	if got, _ := s.GetByArtifact(1); got != nil {
		t.Fatalf("expected deleted job to be gone from artifact index")
	}
}

func TestOpenRebuildsIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, "tenant")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Put(&Job{MessageIDReference: 42, ArtifactID: 7, SourceChat: "c"})

	s2, err := Open(dir, "tenant")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := s2.GetByMirror(42)
	if err != nil || got == nil {
		t.Fatalf("expected job to survive reopen, got %v, %v", got, err)
	}
}

func TestJobJSONPreservesUnknownFields(t *testing.T) {
	s := newTestStore(t)
	job := &Job{MessageIDReference: 1, ArtifactID: 1}
	if err := s.Put(job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	name := s.filename(job)
	data, err := readRaw(s, name)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	data = appendUnknownField(data, "future_field", "kept")

	if err := writeRaw(s, name, data); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	loaded, err := s.readFile(name)
	if err != nil {
		t.Fatalf("readFile: %v", err)
	}
	if loaded.unknownFields["future_field"] != "kept" {
		t.Fatalf("expected unknown field preserved, got %+v", loaded.unknownFields)
	}

	if err := s.writeAtomic(name, loaded); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}
	reread, err := s.readFile(name)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if reread.unknownFields["future_field"] != "kept" {
		t.Fatalf("expected unknown field to survive round-trip, got %+v", reread.unknownFields)
	}
}
