package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write rule: %v", err)
	}
}

// A rule scoped to a chat outranks a catch-all: the scoped rule must
// win even though both match.
func TestSpecificRuleWinsOverGeneric(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "r1.rule", `
on:message:pattern=".*Episode (\d+).*"
on:folder:pattern="Series-(.+)"
action:message:translate="E{0}"
action:folder:completed="/media/#0"
`)
	writeRule(t, dir, "r2.rule", `
on:message:pattern=".*"
set:chat:name="public"
action:message:translate="MISC"
`)

	e := NewEngine(dir)
	if _, err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx := MessageContext{ChatUsername: "public"}
	out, err := e.ApplyTranslate("Show Episode 07", "", ctx, 1)
	if err != nil {
		t.Fatalf("ApplyTranslate: %v", err)
	}
	if out != "E07" {
		t.Fatalf("expected E07, got %q", out)
	}

	folder := e.ApplyFolder("Series-Show", 1)
	if folder != "/media/Show" {
		t.Fatalf("expected /media/Show, got %q", folder)
	}
}

func TestApplyTranslateNoMatchReturnsInputUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "r1.rule", `
on:message:pattern="^Foo$"
action:message:translate="Bar"
`)
	e := NewEngine(dir)
	if _, err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	out, err := e.ApplyTranslate("Something Else", "", MessageContext{}, 42)
	if err != nil {
		t.Fatalf("ApplyTranslate: %v", err)
	}
	if out != "Something Else" {
		t.Fatalf("expected input unchanged, got %q", out)
	}
}

func TestApplyFolderRequiresBoundArtifact(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "r1.rule", `
on:message:pattern=".*"
on:folder:pattern="(.+)"
action:message:translate="X"
action:folder:completed="/m/#0"
`)
	e := NewEngine(dir)
	if _, err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Artifact never translated, so no rule is bound to it.
	if folder := e.ApplyFolder("anything", 999); folder != "" {
		t.Fatalf("expected empty folder for unbound artifact, got %q", folder)
	}
}

func TestReloadPreservesBoundArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "r1.rule", `
on:message:pattern="(.+)"
on:folder:pattern="(.+)"
action:message:translate="{0}"
action:folder:completed="/out/#0"
`)
	e := NewEngine(dir)
	if _, err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := e.ApplyTranslate("hello", "", MessageContext{}, 7); err != nil {
		t.Fatalf("ApplyTranslate: %v", err)
	}

	if _, err := e.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	folder := e.ApplyFolder("hello", 7)
	if folder != "/out/hello" {
		t.Fatalf("expected bound artifact to survive reload, got %q", folder)
	}
}

func TestLoadSkipsInvalidRuleButLoadsOthers(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "bad.rule", `
on:message:pattern="("
action:message:translate="X"
`)
	writeRule(t, dir, "good.rule", `
on:message:pattern=".*"
action:message:translate="OK"
`)
	e := NewEngine(dir)
	errs, err := e.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 load error, got %d: %+v", len(errs), errs)
	}
	out, err := e.ApplyTranslate("anything", "", MessageContext{}, 1)
	if err != nil {
		t.Fatalf("ApplyTranslate: %v", err)
	}
	if out != "OK" {
		t.Fatalf("expected good rule to still apply, got %q", out)
	}
}

func TestUnsafeTemplateRejected(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "r.rule", `
on:message:pattern=".*"
action:message:translate="{0}{bad"
`)
	e := NewEngine(dir)
	errs, err := e.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected unsafe template to be rejected, got %d errors", len(errs))
	}
}

func TestUseFilenameScopesMatchAgainstFilename(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "r.rule", `
on:message:pattern="^clip_(\d+)\.mp4$"
use:message:filename="1"
action:message:translate="Clip {0}"
`)
	e := NewEngine(dir)
	if _, err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	out, err := e.ApplyTranslate("some display name", "clip_09.mp4", MessageContext{}, 1)
	if err != nil {
		t.Fatalf("ApplyTranslate: %v", err)
	}
	if out != "Clip 09" {
		t.Fatalf("expected filename-matched translate, got %q", out)
	}
}
