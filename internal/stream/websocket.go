package stream

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/sim"
)

// SnapshotPath is where the WebSocket feed is mounted.
const SnapshotPath = "/snapshots"

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketFeed pushes the latest snapshot as JSON text messages to every
// connected subscriber. A subscriber never receives the same frame twice
// and skips frames published between two of its pushes.
type WebSocketFeed struct {
	exchange *sim.Exchange
	cfg      Config
	logger   log.Log
	clients  atomic.Int64
}

func NewWebSocketFeed(exchange *sim.Exchange, cfg Config, logger log.Log) *WebSocketFeed {
	if logger == nil {
		logger = log.Provide()
	}
	return &WebSocketFeed{
		exchange: exchange,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(log.String("component", "websocket_feed")),
	}
}

// Clients returns the number of connected subscribers.
func (f *WebSocketFeed) Clients() int64 { return f.clients.Load() }

// Handler returns a mux serving the feed at SnapshotPath.
func (f *WebSocketFeed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(SnapshotPath, f.handleSubscribe)
	return mux
}

// Run serves the feed on addr until ctx is cancelled.
func (f *WebSocketFeed) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           f.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		f.logger.Info("WebSocket feed listening", log.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "websocket feed")
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown websocket feed")
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (f *WebSocketFeed) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if err := f.cfg.Auth.Authenticate(r.URL.Query().Get("token")); err != nil {
		f.logger.Debug("Subscriber rejected", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("WebSocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	f.clients.Add(1)
	defer f.clients.Add(-1)
	logger := f.logger.With(log.String("remote_addr", conn.RemoteAddr().String()))
	logger.Info("Subscriber connected")

	// the read pump only exists to notice the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err = f.push(r.Context(), conn, gone); err != nil {
		logger.Debug("Subscriber stream ended", log.Error(err))
	}
	logger.Info("Subscriber disconnected")
}

func (f *WebSocketFeed) push(ctx context.Context, conn *websocket.Conn, gone <-chan struct{}) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	var sent *sim.Snapshot
	for {
		if s := f.exchange.Latest(); s != nil && s != sent {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(Encode(s)); err != nil {
				return errors.Wrap(err, "write snapshot")
			}
			sent = s
		}

		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return ctx.Err()
		case <-gone:
			return nil
		case <-ticker.C:
		}
	}
}
