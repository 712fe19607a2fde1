// Package control implements the operator command table: trigger
// aliases resolved to canonical commands, reply requirements checked,
// then dispatched to small per-command handlers.
package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"vidreel/internal/config"
	"vidreel/internal/dedup"
	"vidreel/internal/flags"
	"vidreel/internal/jobstore"
	"vidreel/internal/reporter"
	"vidreel/internal/rules"
	"vidreel/internal/transport"
)

// Invocation is one parsed command-plane message.
type Invocation struct {
	Trigger          string // normalized, lowercase, no leading "/"
	Arg              string // remaining text after the trigger, trimmed
	ChatID           int64
	MessageID        int
	HasReply         bool
	ReplyToMessageID int
	ReplyText        string
}

// Control dispatches Invocations against the system's collaborators.
type Control struct {
	Store     *jobstore.Store
	Rules     *rules.Engine
	Flags     *flags.Flags
	Commands  flags.Commands
	Reporter  *reporter.Reporter
	Config    *config.Config
	Transport transport.Client
	Dedup     *dedup.Cache
	Logger    *zap.Logger

	OperatorChatID int64
}

// aliases maps every recognised trigger spelling to its canonical form.
var aliases = map[string]string{
	"help": "help", "command": "help", "commands": "help",
	"quit": "quit",
	"status": "status",

	"download:on": "download:on", "download:start": "download:on", "dl:start": "download:on", "dl:on": "download:on",
	"download:off": "download:off", "download:stop": "download:off", "dl:off": "download:off", "dl:stop": "download:off",

	"download:clean": "download:clean",
	"download:count": "download:count",

	"download:rename": "download:rename", "download:rn": "download:rename", "dl:rn": "download:rename", "dl:rename": "download:rename",

	"download:settarget": "download:settarget", "download:target": "download:settarget",
	"download:destination": "download:settarget", "dl:target": "download:settarget",
	"dl:destination": "download:settarget", "dl:dir": "download:settarget",

	"download:pin":   "download:pin",
	"download:unpin": "download:unpin",
	"download:info":  "download:info",

	"rules:show":   "rules:show",
	"rules:edit":   "rules:edit",
	"rules:delete": "rules:delete",
	"rules:add":    "rules:add",
	"rules:reload": "rules:reload",
}

// needsReply lists the canonical triggers that require the invocation to
// be a reply to a mirror message.
var needsReply = map[string]bool{
	"download:rename":    true,
	"download:settarget": true,
	"download:pin":       true,
	"download:unpin":     true,
	"download:info":      true,
}

// ParseTrigger normalizes raw command text into an Invocation's Trigger
// and Arg, splitting on the first space character.
func ParseTrigger(text string) (trigger, arg string) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "/")
	parts := strings.SplitN(text, " ", 2)
	trigger = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return trigger, arg
}

// Dispatch looks up inv.Trigger and runs its handler. It returns
// (reply text, recognised, error); recognised is false for a trigger
// not in the table (the caller should not reply for those).
func (c *Control) Dispatch(ctx context.Context, inv Invocation) (string, bool, error) {
	canonical, ok := aliases[inv.Trigger]
	if !ok {
		return "", false, nil
	}
	if needsReply[canonical] && !inv.HasReply {
		return "this command must be sent as a reply to a job's mirror message", true, nil
	}

	var (
		reply string
		err   error
	)
	switch canonical {
	case "help":
		reply = helpText()
	case "quit":
		c.Commands <- flags.Quit
		c.notify(ctx, inv, "shutting down after the current wave")
	case "status":
		reply = formatStatus(c.Config)
	case "download:on":
		c.Commands <- flags.Start
		c.notify(ctx, inv, "downloads resumed")
	case "download:off":
		c.Commands <- flags.Stop
		c.notify(ctx, inv, "downloads stopped")
	case "download:clean":
		var summary string
		summary, err = c.cleanCompleted(ctx)
		if err == nil {
			c.notify(ctx, inv, summary)
		}
	case "download:count":
		reply, err = c.count()
	case "download:rename":
		reply, err = c.rename(ctx, inv)
	case "download:settarget":
		reply, err = c.setTarget(ctx, inv)
	case "download:pin":
		reply, err = c.setPinned(ctx, inv, true)
	case "download:unpin":
		reply, err = c.setPinned(ctx, inv, false)
	case "download:info":
		reply, err = c.info(inv)
	case "rules:show":
		reply, err = c.rulesShow()
	case "rules:edit":
		reply, err = c.rulesEdit(inv)
	case "rules:delete":
		reply, err = c.rulesDelete(inv)
	case "rules:add":
		reply, err = c.rulesAdd(inv)
	case "rules:reload":
		var summary string
		summary, err = c.rulesReload()
		if err == nil {
			c.notify(ctx, inv, summary)
		}
	}
	return reply, true, err
}

func helpText() string {
	triggers := make(map[string]struct{}, len(aliases))
	for _, canonical := range aliases {
		triggers[canonical] = struct{}{}
	}
	list := make([]string, 0, len(triggers))
	for t := range triggers {
		list = append(list, t)
	}
	sort.Strings(list)
	return "commands:\n" + strings.Join(list, "\n")
}

func formatStatus(cfg *config.Config) string {
	redacted := cfg.Redacted()
	keys := make([]string, 0, len(redacted))
	for k := range redacted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, redacted[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Control) cleanCompleted(ctx context.Context) (string, error) {
	jobs, err := c.Store.ListAll()
	if err != nil {
		return "", err
	}
	removed := 0
	for _, job := range jobs {
		if job.Status != jobstore.StatusCompleted {
			continue
		}
		if err := c.Transport.DeleteMessage(ctx, c.OperatorChatID, int(job.MessageIDReference)); err != nil {
			c.Logger.Warn("control: delete completed mirror failed", zap.Error(err))
		}
		if err := c.Store.Delete(job); err != nil {
			c.Logger.Warn("control: delete completed job failed", zap.Error(err))
			continue
		}
		c.Dedup.Forget(ctx, job.ArtifactID)
		removed++
	}
	return fmt.Sprintf("removed %d completed job(s)", removed), nil
}

func (c *Control) count() (string, error) {
	jobs, err := c.Store.ListAll()
	if err != nil {
		return "", err
	}
	counts := map[jobstore.Status]int{}
	for _, job := range jobs {
		counts[job.Status]++
	}
	var sb strings.Builder
	for _, status := range []jobstore.Status{
		jobstore.StatusAcquired, jobstore.StatusDownloading, jobstore.StatusCompressing,
		jobstore.StatusCompleted, jobstore.StatusDeleted, jobstore.StatusCancelled, jobstore.StatusError,
	} {
		fmt.Fprintf(&sb, "%s: %d\n", status, counts[status])
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Control) jobForReply(inv Invocation) (*jobstore.Job, error) {
	job, err := c.Store.GetByMirror(int64(inv.ReplyToMessageID))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("no job found for message %d", inv.ReplyToMessageID)
	}
	return job, nil
}

func (c *Control) rename(ctx context.Context, inv Invocation) (string, error) {
	if inv.Arg == "" {
		return "usage: download:rename <new name> (as a reply)", nil
	}
	job, err := c.jobForReply(inv)
	if err != nil {
		return err.Error(), nil
	}
	job, err = c.Store.Update(job.MessageIDReference, func(j *jobstore.Job) error {
		j.DisplayName = inv.Arg
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := c.Reporter.SetLine(ctx, job, reporter.SlotDisplayName, job.DisplayName, true); err != nil {
		c.Logger.Warn("control: rename board edit failed", zap.Error(err))
	}
	return fmt.Sprintf("renamed to %q", job.DisplayName), nil
}

func (c *Control) setTarget(ctx context.Context, inv Invocation) (string, error) {
	if inv.Arg == "" {
		return "usage: download:settarget <absolute path> (as a reply)", nil
	}
	if !filepath.IsAbs(inv.Arg) {
		return "rejected: target_folder must be an absolute path", nil
	}
	if info, err := os.Stat(inv.Arg); err != nil || !info.IsDir() {
		return "rejected: target_folder does not exist", nil
	}
	job, err := c.jobForReply(inv)
	if err != nil {
		return err.Error(), nil
	}
	job, err = c.Store.Update(job.MessageIDReference, func(j *jobstore.Job) error {
		j.TargetFolder = inv.Arg
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := c.Reporter.SetLine(ctx, job, reporter.SlotTargetFolder, job.TargetFolder, true); err != nil {
		c.Logger.Warn("control: settarget board edit failed", zap.Error(err))
	}
	return fmt.Sprintf("target folder set to %q", job.TargetFolder), nil
}

func (c *Control) setPinned(ctx context.Context, inv Invocation, pinned bool) (string, error) {
	job, err := c.jobForReply(inv)
	if err != nil {
		return err.Error(), nil
	}
	job, err = c.Store.Update(job.MessageIDReference, func(j *jobstore.Job) error {
		j.Pinned = pinned
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := c.Reporter.SetLine(ctx, job, reporter.SlotPinned, fmt.Sprintf("%t", pinned), true); err != nil {
		c.Logger.Warn("control: pin board edit failed", zap.Error(err))
	}
	if pinned {
		return "pinned", nil
	}
	return "unpinned", nil
}

func (c *Control) info(inv Invocation) (string, error) {
	job, err := c.jobForReply(inv)
	if err != nil {
		return err.Error(), nil
	}
	return fmt.Sprintf("%+v", *job), nil
}

func (c *Control) rulesShow() (string, error) {
	rs := c.Rules.Rules()
	if len(rs) == 0 {
		return "no rules loaded", nil
	}
	var sb strings.Builder
	for _, r := range rs {
		fmt.Fprintf(&sb, "%s (%s)\n", r.ID, r.SourcePath)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Control) rulesEdit(inv Invocation) (string, error) {
	if inv.Arg == "" {
		return "usage: rules:edit <filename>\\n<new contents>", nil
	}
	parts := strings.SplitN(inv.Arg, "\n", 2)
	if len(parts) != 2 {
		return "usage: rules:edit <filename>\\n<new contents>", nil
	}
	path := c.rulePath(parts[0])
	if err := os.WriteFile(path, []byte(parts[1]), 0o644); err != nil {
		return "", err
	}
	return c.rulesReload()
}

func (c *Control) rulesAdd(inv Invocation) (string, error) {
	return c.rulesEdit(inv)
}

func (c *Control) rulesDelete(inv Invocation) (string, error) {
	if inv.Arg == "" {
		return "usage: rules:delete <filename>", nil
	}
	path := c.rulePath(inv.Arg)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	return c.rulesReload()
}

func (c *Control) rulesReload() (string, error) {
	errs, err := c.Rules.Reload()
	if err != nil {
		return "", err
	}
	if len(errs) == 0 {
		return "rules reloaded", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "rules reloaded with %d error(s):\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(&sb, "%s\n", e.Error())
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Control) rulePath(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, ".rule") {
		name += ".rule"
	}
	return filepath.Join(c.Config.RulesDir, filepath.Base(name))
}
