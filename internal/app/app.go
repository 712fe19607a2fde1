// Package app assembles the agent's collaborators into the single
// container every entry point shares: one place that owns every
// long-lived dependency, constructed once at startup and threaded
// explicitly into each component rather than resolved through globals.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"vidreel/internal/acquirer"
	"vidreel/internal/config"
	"vidreel/internal/control"
	"vidreel/internal/dedup"
	"vidreel/internal/downloader"
	"vidreel/internal/flags"
	"vidreel/internal/jobstore"
	"vidreel/internal/monitor"
	"vidreel/internal/postprocess"
	"vidreel/internal/reporter"
	"vidreel/internal/rules"
	"vidreel/internal/scheduler"
	"vidreel/internal/transport"
)

// App bundles every long-lived collaborator, constructed once by New and
// driven by main.go's Run.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *jobstore.Store
	Rules     *rules.Engine
	Flags     *flags.Flags
	Commands  flags.Commands
	Dedup     *dedup.Cache
	Reporter  *reporter.Reporter
	Transport transport.Client
	Acquirer  *acquirer.Acquirer
	Control   *control.Control
	Scheduler *scheduler.Scheduler
	Monitor   *monitor.Monitor

	stopRuleWatch func()
}

// Options carries the pieces New cannot derive from config alone (a
// dialed transport, since dialing needs network access the constructor
// itself shouldn't force during tests).
type Options struct {
	Transport transport.Client
}

// New wires every collaborator. It opens the Job Store and Rule Engine
// against the configured directories, so a failure here means a
// directory could not be created or read, or the rule watcher could not
// start, not a normal runtime condition. Unreadable Job files are
// skipped by the Job Store rather than failing New.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	store, err := jobstore.Open(cfg.DownloadFolder+"/.jobs", cfg.SessionName)
	if err != nil {
		return nil, fmt.Errorf("app: open job store: %w", err)
	}

	if err := os.MkdirAll(cfg.RulesDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create rules dir: %w", err)
	}
	engine := rules.NewEngine(cfg.RulesDir)
	if _, err := engine.Load(); err != nil {
		return nil, fmt.Errorf("app: load rules: %w", err)
	}

	f := flags.New()
	if cfg.LockDownload {
		f.SetLockDownload(true)
		f.Apply(flags.LockDownload)
	}
	commands := flags.NewCommands()

	rep := reporter.New(opts.Transport, cfg.OperatorChatID, logger)

	dedupCache := dedup.New(dedup.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUser,
		Password: cfg.RedisPass,
	}, logger)

	acq := &acquirer.Acquirer{
		Transport:       opts.Transport,
		Store:           store,
		Rules:           engine,
		Reporter:        rep,
		Logger:          logger,
		OperatorChatID:  cfg.OperatorChatID,
		AllowForward:    true,
		Dedup:           dedupCache,
		StagingFolder:   cfg.DownloadFolder,
		CompletedFolder: cfg.CompletedFolder,
	}

	proc := postprocess.New(postprocess.Deps{
		Store:             store,
		Reporter:          rep,
		Rules:             engine,
		Transport:         opts.Transport,
		Logger:            logger,
		OperatorChatID:    cfg.OperatorChatID,
		EnableCompression: cfg.EnableVideoCompression,
		CompressionRatio:  cfg.CompressionRatio,
		MinSizeBytes:      int64(cfg.CompressionMinSizeMB) * 1024 * 1024,
	})

	sched := scheduler.New(scheduler.Deps{
		Store:    store,
		Flags:    f,
		Commands: commands,
		Downloader: downloader.Deps{
			Transport:         opts.Transport,
			Reporter:          rep,
			DiskSpaceLimitPct: float64(cfg.DiskSpaceLimitPercentage),
			Logger:            logger,
		},
		PostProcess:              proc,
		OperatorChatID:           cfg.OperatorChatID,
		MaxSimultaneousDownloads: int64(cfg.MaxSimultaneousDownloads),
		Logger:                   logger,
	})

	ctl := &control.Control{
		Store:          store,
		Rules:          engine,
		Flags:          f,
		Commands:       commands,
		Reporter:       rep,
		Config:         cfg,
		Transport:      opts.Transport,
		Dedup:          dedupCache,
		Logger:         logger,
		OperatorChatID: cfg.OperatorChatID,
	}

	var mon *monitor.Monitor
	if cfg.MonitorAddr != "" {
		mon = monitor.New(store, f, 0, logger)
	}

	stopRuleWatch, err := engine.Watch(logger)
	if err != nil {
		return nil, fmt.Errorf("app: start rule watcher: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Rules:         engine,
		Flags:         f,
		Commands:      commands,
		Dedup:         dedupCache,
		Reporter:      rep,
		Transport:     opts.Transport,
		Acquirer:      acq,
		Control:       ctl,
		Scheduler:     sched,
		Monitor:       mon,
		stopRuleWatch: stopRuleWatch,
	}, nil
}

// Run starts the Scheduler loop and (if configured) the status Monitor,
// blocking until ctx is cancelled or the Scheduler exits on a quit
// command. The Rule Engine's filesystem watch was already started by New.
func (a *App) Run(ctx context.Context) error {
	if a.Monitor != nil {
		go func() {
			if err := a.Monitor.Serve(ctx, a.Config.MonitorAddr); err != nil {
				a.Logger.Warn("app: monitor server exited", zap.Error(err))
			}
		}()
	}

	return a.Scheduler.Run(ctx)
}

// Close releases resources New acquired.
func (a *App) Close() error {
	if a.stopRuleWatch != nil {
		a.stopRuleWatch()
	}
	return a.Dedup.Close()
}

// HandleIncoming runs the Acquirer over one observed chat message.
// replies is the window of replies observed so far; the Acquirer's
// candidateDisplayName picks out the ones that target this message.
func (a *App) HandleIncoming(ctx context.Context, m transport.IncomingMessage, replies []acquirer.Reply) {
	ok, err := a.Acquirer.Acquire(ctx, m, replies)
	if err != nil {
		a.Logger.Warn("app: acquire failed", zap.Int64("chat_id", m.ChatID), zap.Error(err))
		return
	}
	if ok {
		a.Logger.Info("app: acquired new job", zap.Int64("chat_id", m.ChatID), zap.Int("message_id", m.MessageID))
	}
}

// HandleCommand parses and dispatches an operator-chat message against
// the Control Plane, replying over Transport when the command produced
// operator-visible text.
func (a *App) HandleCommand(ctx context.Context, chatID int64, messageID int, text string, hasReply bool, replyToMessageID int) {
	trigger, arg := control.ParseTrigger(text)
	inv := control.Invocation{
		Trigger:          trigger,
		Arg:              arg,
		ChatID:           chatID,
		MessageID:        messageID,
		HasReply:         hasReply,
		ReplyToMessageID: replyToMessageID,
	}
	reply, recognised, err := a.Control.Dispatch(ctx, inv)
	if err != nil {
		a.Logger.Warn("app: command dispatch failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if !recognised || reply == "" {
		return
	}
	if _, err := a.Transport.ReplyText(ctx, chatID, messageID, reply); err != nil {
		a.Logger.Warn("app: command reply failed", zap.Error(err))
	}
}

// WaitAndClose blocks for a grace period after ctx is done, giving
// in-flight board edits time to land, then closes the App.
func (a *App) WaitAndClose(grace time.Duration) error {
	if grace > 0 {
		time.Sleep(grace)
	}
	return a.Close()
}
