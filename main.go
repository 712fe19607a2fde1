// Command vidreel runs the download orchestration agent: it watches a
// set of upstream chats for video artifacts, mirrors each one into an
// operator chat, and drives it through the acquisition/download/post-
// process pipeline: flag parsing, config load, transport dial, then a
// long-running listener shut down gracefully on signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vidreel/internal/acquirer"
	"vidreel/internal/app"
	"vidreel/internal/config"
	"vidreel/internal/logging"
	"vidreel/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env secrets overlay")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	logger, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vidreel: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, *envPath, logger); err != nil {
		logger.Error("vidreel: fatal", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, envPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := transport.Dial(transport.Credentials{
		APIID:     cfg.APIID,
		APIHash:   cfg.APIHash,
		Phone:     cfg.Phone,
		SessionID: cfg.SessionName,
	})
	if err != nil {
		return fmt.Errorf("dial transport: %w", err)
	}
	logger.Info("vidreel: connected", zap.String("account", client.Self()))

	a, err := app.New(cfg, logger, app.Options{Transport: client})
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		if err := a.WaitAndClose(2 * time.Second); err != nil {
			logger.Warn("vidreel: close", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("vidreel: shutdown signal received")
		cancel()
	}()

	watched := watchedChats(cfg)
	router := newMessageRouter(a, watched, cfg.OperatorChatID, logger)
	client.Listen(router.handle)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Run(ctx); err != nil {
			logger.Error("vidreel: scheduler exited", zap.Error(err))
		}
	}()

	wg.Wait()
	return nil
}

// watchedChats builds the lookup set of the [groups] section's values
// of the config: a watched chat may be identified by numeric id or
// username, so both forms are indexed.
func watchedChats(cfg *config.Config) map[string]struct{} {
	set := make(map[string]struct{}, len(cfg.Groups))
	for _, v := range cfg.Groups {
		set[v] = struct{}{}
	}
	return set
}

// replyBuffer retains a bounded window of recently observed messages so
// the Acquirer can find a reply targeting an earlier media message
// without re-fetching chat history.
type replyBuffer struct {
	mu      sync.Mutex
	entries []acquirer.Reply
	cap     int
}

func newReplyBuffer(capacity int) *replyBuffer {
	return &replyBuffer{cap: capacity}
}

func (b *replyBuffer) observe(m transport.IncomingMessage) {
	if m.ReplyToMessageID == 0 || m.Text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, acquirer.Reply{ReplyToMessageID: m.ReplyToMessageID, Text: m.Text})
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
}

func (b *replyBuffer) snapshot() []acquirer.Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]acquirer.Reply, len(b.entries))
	copy(out, b.entries)
	return out
}

// messageRouter dispatches every inbound chat message either to the
// Control Plane (operator chat) or the Acquirer (a watched upstream
// chat).
type messageRouter struct {
	app            *app.App
	watched        map[string]struct{}
	operatorChatID int64
	replies        *replyBuffer
	logger         *zap.Logger
}

func newMessageRouter(a *app.App, watched map[string]struct{}, operatorChatID int64, logger *zap.Logger) *messageRouter {
	return &messageRouter{
		app:            a,
		watched:        watched,
		operatorChatID: operatorChatID,
		replies:        newReplyBuffer(500),
		logger:         logger,
	}
}

func (r *messageRouter) handle(ctx context.Context, m transport.IncomingMessage) {
	r.replies.observe(m)

	if m.ChatID == r.operatorChatID {
		r.app.HandleCommand(ctx, m.ChatID, m.MessageID, m.Text, m.ReplyToMessageID != 0, m.ReplyToMessageID)
		return
	}

	if !r.isWatched(m) {
		return
	}
	r.app.HandleIncoming(ctx, m, r.replies.snapshot())
}

func (r *messageRouter) isWatched(m transport.IncomingMessage) bool {
	if _, ok := r.watched[m.ChatUsername]; ok {
		return true
	}
	if _, ok := r.watched[strconv.FormatInt(m.ChatID, 10)]; ok {
		return true
	}
	return false
}
