package stream

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/sim"
)

const (
	quicIdleTimeout = 30 * time.Second
	quicKeepAlive   = 10 * time.Second
	helloTimeout    = 5 * time.Second
)

// Application error codes sent when the feed closes a connection.
const (
	codeNormal       quic.ApplicationErrorCode = 0
	codeUnauthorized quic.ApplicationErrorCode = 1
	codeProtocol     quic.ApplicationErrorCode = 2
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: quicKeepAlive,
	}
}

// QUICFeed streams snapshots to QUIC subscribers. A subscriber opens one
// bidirectional stream, sends a hello frame and then receives
// length-prefixed JSON frames on it.
type QUICFeed struct {
	exchange *sim.Exchange
	cfg      Config
	tls      *tls.Config
	logger   log.Log
	clients  atomic.Int64

	mu       sync.Mutex
	listener *quic.Listener
}

func NewQUICFeed(exchange *sim.Exchange, cfg Config, tlsConf *tls.Config, logger log.Log) *QUICFeed {
	if logger == nil {
		logger = log.Provide()
	}
	return &QUICFeed{
		exchange: exchange,
		cfg:      cfg.withDefaults(),
		tls:      tlsConf,
		logger:   logger.With(log.String("component", "quic_feed")),
	}
}

func (f *QUICFeed) Clients() int64 { return f.clients.Load() }

// Addr returns the bound address once Run is listening, or nil.
func (f *QUICFeed) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return nil
	}
	return f.listener.Addr()
}

// Run listens on addr and serves subscribers until ctx is cancelled.
func (f *QUICFeed) Run(ctx context.Context, addr string) error {
	if f.tls == nil {
		return errors.New("quic feed: tls config is required")
	}
	ln, err := quic.ListenAddr(addr, f.tls, quicConfig())
	if err != nil {
		return errors.Wrap(err, "start quic feed")
	}
	f.mu.Lock()
	f.listener = ln
	f.mu.Unlock()
	f.logger.Info("QUIC feed listening", log.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept quic connection")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.serve(ctx, conn)
		}()
	}
}

func (f *QUICFeed) serve(ctx context.Context, conn *quic.Conn) {
	logger := f.logger.With(log.String("remote_addr", conn.RemoteAddr().String()))

	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	str, err := conn.AcceptStream(helloCtx)
	cancel()
	if err != nil {
		logger.Debug("No subscription stream", log.Error(err))
		_ = conn.CloseWithError(codeProtocol, "no stream")
		return
	}

	_ = str.SetReadDeadline(time.Now().Add(helloTimeout))
	var h hello
	if err = readFrame(str, &h); err != nil {
		logger.Debug("Bad hello", log.Error(err))
		_ = conn.CloseWithError(codeProtocol, "bad hello")
		return
	}
	if err = f.cfg.Auth.Authenticate(h.Token); err != nil {
		logger.Debug("Subscriber rejected", log.Error(err))
		_ = conn.CloseWithError(codeUnauthorized, "unauthorized")
		return
	}

	f.clients.Add(1)
	defer f.clients.Add(-1)
	logger.Info("Subscriber connected")

	if err = f.push(ctx, conn, str); err != nil && ctx.Err() == nil {
		logger.Debug("Subscriber stream ended", log.Error(err))
	}
	if ctx.Err() != nil {
		_ = conn.CloseWithError(codeNormal, "shutting down")
	}
	logger.Info("Subscriber disconnected")
}

func (f *QUICFeed) push(ctx context.Context, conn *quic.Conn, str *quic.Stream) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	var sent *sim.Snapshot
	for {
		if s := f.exchange.Latest(); s != nil && s != sent {
			if err := writeFrame(str, Encode(s)); err != nil {
				return err
			}
			sent = s
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Context().Done():
			return context.Cause(conn.Context())
		case <-ticker.C:
		}
	}
}

// Subscriber is the client side of a QUICFeed.
type Subscriber struct {
	conn *quic.Conn
	str  *quic.Stream
}

// DialQUIC connects to a QUIC feed and subscribes with token.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, token string) (*Subscriber, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "dial quic feed")
	}
	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeNormal, "open stream failed")
		return nil, errors.Wrap(err, "open subscription stream")
	}
	if err = writeFrame(str, hello{Token: token}); err != nil {
		_ = conn.CloseWithError(codeNormal, "hello failed")
		return nil, err
	}
	return &Subscriber{conn: conn, str: str}, nil
}

// Next blocks until the next frame arrives.
func (s *Subscriber) Next() (Frame, error) {
	var f Frame
	if err := readFrame(s.str, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (s *Subscriber) Close() error {
	return s.conn.CloseWithError(codeNormal, "bye")
}
