// Package monitor implements an optional read-only status surface: a
// local HTTP endpoint plus a websocket broadcast of periodic snapshots,
// for an operator who isn't watching the chat. Nothing here accepts
// commands; the operator chat remains the sole command path.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vidreel/internal/flags"
	"vidreel/internal/jobstore"
)

// Snapshot is the read-only status payload served at /status and pushed
// over /ws/state.
type Snapshot struct {
	DownloadEnabled bool           `json:"download_enabled"`
	Counts          map[string]int `json:"counts"`
	Pending         []PendingJob   `json:"pending"`
}

type PendingJob struct {
	ArtifactID  int64  `json:"artifact_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	Pinned      bool   `json:"pinned"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Monitor serves a read-only view of the Job Store and run flags.
type Monitor struct {
	Store *jobstore.Store
	Flags *flags.Flags

	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
}

// New constructs a Monitor pushing snapshots every interval (0 defaults
// to 2s).
func New(store *jobstore.Store, f *flags.Flags, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		Store:       store,
		Flags:       f,
		interval:    interval,
		logger:      logger,
		subscribers: map[chan []byte]struct{}{},
	}
}

func (m *Monitor) snapshot() (Snapshot, error) {
	jobs, err := m.Store.ListAll()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		DownloadEnabled: m.Flags.StartDownload(),
		Counts:          map[string]int{},
	}
	for _, job := range jobs {
		snap.Counts[string(job.Status)]++
		if job.Completed {
			continue
		}
		snap.Pending = append(snap.Pending, PendingJob{
			ArtifactID:  job.ArtifactID,
			DisplayName: job.DisplayName,
			Status:      string(job.Status),
			Pinned:      job.Pinned,
		})
	}
	return snap, nil
}

// Routes returns the Monitor's http.Handler: GET /status for a
// one-shot snapshot, GET /ws/state for a streaming one.
func (m *Monitor) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", m.handleStatus)
	mux.HandleFunc("/ws/state", m.handleStateWS)
	return mux
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := m.snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (m *Monitor) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := m.subscribe()
	defer m.unsubscribe(ch)

	for b := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (m *Monitor) subscribe() chan []byte {
	ch := make(chan []byte, 4)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

func (m *Monitor) unsubscribe(ch chan []byte) {
	m.mu.Lock()
	delete(m.subscribers, ch)
	m.mu.Unlock()
	close(ch)
}

func (m *Monitor) broadcast(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- b:
		default:
		}
	}
}

// Run ticks every m.interval, broadcasting the current snapshot to any
// websocket subscribers, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := m.snapshot()
			if err != nil {
				m.logger.Warn("monitor: snapshot failed", zap.Error(err))
				continue
			}
			b, err := json.Marshal(snap)
			if err != nil {
				m.logger.Warn("monitor: marshal failed", zap.Error(err))
				continue
			}
			m.broadcast(b)
		}
	}
}

// Serve runs an http.Server on addr until ctx is cancelled, then shuts
// it down gracefully.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: m.Routes()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	go m.Run(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
