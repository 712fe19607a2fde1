// Package rules implements the pattern-driven renaming and destination
// folder derivation engine: a directory of *.rule files, evaluated in
// specificity order, first match wins.
package rules

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// templateGrammar is the safety grammar every template must match
// before it is accepted at load time.
var templateGrammar = regexp.MustCompile(`^[^{]*({[^{}]*}|{}|[^{]*)*[^{]*$`)

// placeholderRe finds {0}, {1}, {} style positional placeholders.
var placeholderRe = regexp.MustCompile(`\{(\d*)\}`)

// folderPlaceholderRe finds #0, #1 style placeholders.
var folderPlaceholderRe = regexp.MustCompile(`#(\d+)`)

// LoadError describes one rule file that failed validation. Invalid
// files fail validation but do not abort the whole directory load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Path, e.Err)
}

// Engine is the Rule Engine. It is safe for concurrent use: ApplyFolder
// and Rules take a read lock; ApplyTranslate (which records bindings),
// Load and Reload take the write lock.
type Engine struct {
	dir string

	mu    sync.RWMutex
	rules []*Rule

	// itemRuleID finds which rule "owns" a Job. Keyed by the artifact
	// id, the one identifier stable across retries and reloads.
	itemRuleID map[int64]string
}

// NewEngine constructs an Engine rooted at dir. Call Load before use.
func NewEngine(dir string) *Engine {
	return &Engine{dir: dir, itemRuleID: map[int64]string{}}
}

// Load scans dir for "*.rule" files and (re)builds the rule set. Invalid
// files are skipped with a LoadError appended to the returned slice;
// Load itself only returns an error if the glob pattern built from the
// directory is malformed; a missing or unreadable directory yields an
// empty rule set.
//
// bound_artifacts are preserved across reloads (by matching each
// surviving rule's SourcePath) so running jobs keep their derived
// folders.
func (e *Engine) Load() ([]*LoadError, error) {
	matches, err := filepath.Glob(filepath.Join(e.dir, "*.rule"))
	if err != nil {
		return nil, fmt.Errorf("rules: glob %s: %w", e.dir, err)
	}

	e.mu.Lock()
	oldBySource := make(map[string]map[int64]struct{}, len(e.rules))
	for _, r := range e.rules {
		oldBySource[r.SourcePath] = r.BoundArtifacts
	}
	e.mu.Unlock()

	var loaded []*Rule
	var errs []*LoadError
	for _, path := range matches {
		rule, err := loadOne(path)
		if err != nil {
			errs = append(errs, &LoadError{Path: path, Err: err})
			continue
		}
		if bound, ok := oldBySource[path]; ok {
			rule.BoundArtifacts = bound
		}
		loaded = append(loaded, rule)
	}

	sortRules(loaded)

	e.mu.Lock()
	e.rules = loaded
	e.mu.Unlock()

	return errs, nil
}

// sortRules orders rules by (chat_id, chat_username, chat_title)
// descending specificity: a rule that pins more of these fields sorts
// before one that pins fewer, and among equally specific rules the
// actual filter values break ties deterministically.
func sortRules(rs []*Rule) {
	key := func(r *Rule) (int, string) {
		specificity := 0
		var parts []string
		if r.Scope.ChatID != nil {
			specificity++
			parts = append(parts, fmt.Sprintf("%020d", *r.Scope.ChatID))
		} else {
			parts = append(parts, "")
		}
		if r.Scope.ChatUsername != nil {
			specificity++
			parts = append(parts, *r.Scope.ChatUsername)
		} else {
			parts = append(parts, "")
		}
		if r.Scope.ChatTitle != nil {
			specificity++
			parts = append(parts, *r.Scope.ChatTitle)
		} else {
			parts = append(parts, "")
		}
		return specificity, strings.Join(parts, "\x00")
	}

	sort.SliceStable(rs, func(i, j int) bool {
		si, ki := key(rs[i])
		sj, kj := key(rs[j])
		if si != sj {
			return si > sj
		}
		return ki > kj
	})
}

func loadOne(path string) (*Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rule := &Rule{
		ID:             idFor(path),
		SourcePath:     path,
		BoundArtifacts: map[int64]struct{}{},
	}

	var (
		matchPattern  string
		folderPattern string
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		if v, ok := directive(line, "on:message:pattern"); ok {
			matchPattern = v
		}
		if v, ok := directive(line, "set:chat:id"); ok {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid set:chat:id %q: %w", v, err)
			}
			rule.Scope.ChatID = &id
		}
		if v, ok := directive(line, "set:chat:title"); ok {
			rule.Scope.ChatTitle = &v
		}
		if v, ok := directive(line, "set:chat:name"); ok {
			rule.Scope.ChatUsername = &v
		}
		if _, ok := directive(line, "use:message:filename"); ok {
			rule.Scope.UseFilename = true
		}
		if matchPattern != "" {
			if v, ok := directive(line, "on:folder:pattern"); ok {
				folderPattern = v
			}
		}
		if v, ok := directive(line, "action:message:translate"); ok {
			rule.NameTemplate = v
		}
		if folderPattern != "" {
			if v, ok := directive(line, "action:folder:completed"); ok {
				rule.FolderTemplate = v
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if matchPattern == "" {
		return nil, fmt.Errorf("missing on:message:pattern")
	}
	re, err := regexp.Compile(matchPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid on:message:pattern: %w", err)
	}
	rule.Match = re

	if folderPattern != "" {
		fre, err := regexp.Compile(folderPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid on:folder:pattern: %w", err)
		}
		rule.FolderPattern = fre
	}

	if rule.NameTemplate != "" && !templateGrammar.MatchString(rule.NameTemplate) {
		return nil, fmt.Errorf("unsafe name_template %q", rule.NameTemplate)
	}
	if rule.FolderTemplate != "" && !templateGrammar.MatchString(rule.FolderTemplate) {
		return nil, fmt.Errorf("unsafe folder_template %q", rule.FolderTemplate)
	}

	return rule, nil
}

// directive reports whether line begins with prefix followed by
// ="value", and returns the captured value.
func directive(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := line[len(prefix):]
	start := strings.Index(rest, `="`)
	if start == -1 {
		return "", false
	}
	rest = rest[start+2:]
	end := strings.Index(rest, `"`)
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}
