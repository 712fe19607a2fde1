package rules

import (
	"fmt"
	"strings"
)

// MessageContext carries the fields a Rule's MatchScope can filter on,
// derived from the inbound message/Job.
type MessageContext struct {
	ChatID       int64
	ChatUsername string
	ChatTitle    string
}

// scopeMatches reports whether every filter set is non-nil/true on the
// rule and all of them equal the corresponding context field.
func scopeMatches(scope MatchScope, ctx MessageContext) bool {
	if scope.ChatID != nil && *scope.ChatID != ctx.ChatID {
		return false
	}
	if scope.ChatUsername != nil && *scope.ChatUsername != ctx.ChatUsername {
		return false
	}
	if scope.ChatTitle != nil && *scope.ChatTitle != ctx.ChatTitle {
		return false
	}
	return true
}

// ApplyTranslate finds the first rule whose scope matches ctx and whose
// Match regex matches input (or filename, if the rule's use:message:
// filename directive is set), and returns the
// rewritten string. On a match, it records artifactID against the
// winning rule so ApplyFolder can find it later. If no rule matches,
// input is returned unchanged.
func (e *Engine) ApplyTranslate(input, filename string, ctx MessageContext, artifactID int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.rules {
		if !scopeMatches(rule.Scope, ctx) {
			continue
		}
		subject := input
		if rule.Scope.UseFilename {
			subject = filename
		}
		match := rule.Match.FindStringSubmatch(subject)
		if match == nil {
			continue
		}
		rule.BoundArtifacts[artifactID] = struct{}{}
		e.itemRuleID[artifactID] = rule.ID
		if rule.NameTemplate == "" {
			// Folder-only rule: bind it, keep the name untouched.
			return input, nil
		}
		out, err := safeFormat(rule.NameTemplate, match[1:])
		if err != nil {
			return input, err
		}
		return out, nil
	}
	return input, nil
}

// ApplyFolder finds the rule bound to artifactID and, if it has a
// folder_template, substitutes #0..#N from folder_pattern's capture
// groups applied to input. Returns "" if no
// bound rule has a folder_template, or if folder_pattern doesn't match
// input.
func (e *Engine) ApplyFolder(input string, artifactID int64) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ruleID, ok := e.itemRuleID[artifactID]
	if !ok {
		return ""
	}
	var rule *Rule
	for _, r := range e.rules {
		if r.ID == ruleID {
			rule = r
			break
		}
	}
	if rule == nil || rule.FolderTemplate == "" || rule.FolderPattern == nil {
		return ""
	}
	match := rule.FolderPattern.FindStringSubmatch(input)
	if match == nil {
		return ""
	}
	out := rule.FolderTemplate
	// Highest index first, so #1 never eats the prefix of #10.
	groups := match[1:]
	for i := len(groups) - 1; i >= 0; i-- {
		out = strings.ReplaceAll(out, fmt.Sprintf("#%d", i), groups[i])
	}
	return out
}

// safeFormat expands a {0}/{1}/... template with positional args, having
// already validated the template grammar at load time. An
// out-of-range placeholder index is a load-time bug, not a
// runtime one, so it degrades to an empty substitution rather than
// panicking.
func safeFormat(template string, args []string) (string, error) {
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		idxStr := sub[1]
		if idxStr == "" {
			if len(args) > 0 {
				return args[0]
			}
			return ""
		}
		idx := atoiSafe(idxStr)
		if idx < 0 || idx >= len(args) {
			return ""
		}
		return args[idx]
	})
	return out, nil
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Reload re-scans the rules directory, preserving BoundArtifacts for
// rules whose source file survives.
func (e *Engine) Reload() ([]*LoadError, error) {
	return e.Load()
}

// Rules returns a snapshot of the currently loaded rules, for the
// rules:show/rules:edit control-plane commands.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
