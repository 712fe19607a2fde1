package acquirer

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"vidreel/internal/jobstore"
	"vidreel/internal/reporter"
	"vidreel/internal/rules"
	"vidreel/internal/transport"
	"vidreel/internal/transport/fake"
)

func newAcquirer(t *testing.T) (*Acquirer, *fake.Client, *jobstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := jobstore.Open(filepath.Join(dir, "jobs"), "tenant")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	client := fake.New("tester")
	engine := rules.NewEngine(filepath.Join(dir, "rules"))
	if _, err := engine.Load(); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	a := &Acquirer{
		Transport:       client,
		Store:           store,
		Rules:           engine,
		Reporter:        reporter.New(client, 999, zap.NewNop()),
		Logger:          zap.NewNop(),
		OperatorChatID:  999,
		AllowForward:    true,
		StagingFolder:   filepath.Join(dir, "staging"),
		CompletedFolder: filepath.Join(dir, "completed"),
	}
	return a, client, store
}

func videoMessage(text string, noforwards bool) transport.IncomingMessage {
	return transport.IncomingMessage{
		ChatID:     42,
		MessageID:  7,
		Text:       text,
		NoForwards: noforwards,
		Media: &fake.Media{
			ID:      555,
			Size:    1024,
			Name:    "clip.mp4",
			HasGeom: true,
			W:       1920,
			H:       1080,
		},
	}
}

func TestAcquireCreatesJobAndDeletesSource(t *testing.T) {
	a, client, store := newAcquirer(t)
	m := videoMessage("My Cool Video\nsecond line\nthird line", false)

	ok, err := a.Acquire(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected acquire to accept the message")
	}

	job, err := store.GetByArtifact(555)
	if err != nil || job == nil {
		t.Fatalf("expected job persisted for artifact 555, got %v err=%v", job, err)
	}
	if job.DisplayName != "My Cool Videosecond linethird line" {
		t.Fatalf("unexpected display name %q", job.DisplayName)
	}
	if job.Status != jobstore.StatusAcquired {
		t.Fatalf("expected StatusAcquired, got %v", job.Status)
	}
	if job.StagingPath != filepath.Join(a.StagingFolder, "clip.mp4") {
		t.Fatalf("unexpected staging path %q", job.StagingPath)
	}
	if len(client.Deleted) != 1 || client.Deleted[0] != m.MessageID {
		t.Fatalf("expected source message %d to be deleted, got %v", m.MessageID, client.Deleted)
	}
	if len(client.Sent) != 1 || !client.Sent[0].Forward {
		t.Fatalf("expected a forwarded mirror send, got %+v", client.Sent)
	}
}

func TestAcquireSkipsNonVideoMessage(t *testing.T) {
	a, client, _ := newAcquirer(t)
	m := transport.IncomingMessage{
		ChatID:    42,
		MessageID: 8,
		Text:      "hello",
		Media: &fake.Media{
			ID:   1,
			Size: 10,
			Name: "notes.txt",
		},
	}

	ok, err := a.Acquire(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected non-video message to be skipped")
	}
	if len(client.Sent) != 0 {
		t.Fatalf("did not expect a mirror send for a skipped message")
	}
}

func TestAcquireSkipsMessageAlreadyBearingStatusGlyph(t *testing.T) {
	a, _, _ := newAcquirer(t)
	m := videoMessage("✅ Already completed video", false)

	ok, err := a.Acquire(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected idempotence skip for a message already bearing a status glyph")
	}
}

func TestAcquireSkipsDuplicateArtifact(t *testing.T) {
	a, _, _ := newAcquirer(t)
	m := videoMessage("First Pass", false)

	ok, err := a.Acquire(context.Background(), m, nil)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}

	m2 := videoMessage("First Pass", false)
	m2.MessageID = 9
	ok2, err := a.Acquire(context.Background(), m2, nil)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok2 {
		t.Fatalf("expected duplicate artifact id to be skipped")
	}
}

func TestAcquirePrefersQualifyingReplyOverMessageText(t *testing.T) {
	a, _, store := newAcquirer(t)
	m := videoMessage("ignored first line\nignored second", false)
	replies := []Reply{
		{ReplyToMessageID: m.MessageID, Text: "Reply Title\nextra reply line"},
	}

	ok, err := a.Acquire(context.Background(), m, replies)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	job, _ := store.GetByArtifact(555)
	if job.DisplayName != "Reply Title" {
		t.Fatalf("expected reply-derived display name, got %q", job.DisplayName)
	}
}

func TestAcquireSkipsReplyBearingStatusGlyph(t *testing.T) {
	a, _, store := newAcquirer(t)
	m := videoMessage("Fallback Name", false)
	replies := []Reply{
		{ReplyToMessageID: m.MessageID, Text: "✅ already handled"},
	}

	ok, err := a.Acquire(context.Background(), m, replies)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	job, _ := store.GetByArtifact(555)
	if job.DisplayName != "Fallback Name" {
		t.Fatalf("expected fallback to message text when reply bears a status glyph, got %q", job.DisplayName)
	}
}

func TestAcquireForwardProtectedSendsTextOnlyAndKeepsSource(t *testing.T) {
	a, client, store := newAcquirer(t)
	m := videoMessage("Protected Video", true)

	ok, err := a.Acquire(context.Background(), m, nil)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if len(client.Sent) != 1 || client.Sent[0].Forward {
		t.Fatalf("expected a non-forwarded mirror send, got %+v", client.Sent)
	}
	if len(client.Deleted) != 0 {
		t.Fatalf("expected source message to survive when forward-protected")
	}
	job, _ := store.GetByArtifact(555)
	if !job.SourceIsForwardProtected {
		t.Fatalf("expected SourceIsForwardProtected to be true")
	}
}

func TestAcquireSynthesizesFilenameWhenAttributeAbsent(t *testing.T) {
	a, _, store := newAcquirer(t)
	m := transport.IncomingMessage{
		ChatID:    42,
		MessageID: 11,
		Text:      "Unnamed Clip",
		Media: &fake.Media{
			ID:      909,
			Size:    2048,
			Name:    "",
			HasGeom: true,
		},
	}

	ok, err := a.Acquire(context.Background(), m, nil)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	job, _ := store.GetByArtifact(909)
	if job.FileBasename != "Unnamed Clip.mp4" {
		t.Fatalf("expected synthesized filename, got %q", job.FileBasename)
	}
}
