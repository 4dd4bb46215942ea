// Package broker serves the channel registry to TCP clients.
//
// Every connection gets a reader goroutine that decodes and dispatches
// frames and a pump goroutine that owns the socket's write side. Replies and
// deliveries reach the pump through an unbounded mailbox.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/synonym"
	"github.com/hay-kot/weave/internal/core/werr"
	"github.com/hay-kot/weave/internal/core/wire"
	"github.com/hay-kot/weave/internal/metrics"
	"github.com/hay-kot/weave/pkg/randid"
)

const (
	DefaultPort = 11023

	writeTimeout = 10 * time.Second
	drainTimeout = time.Second
)

// Config holds the listener settings.
type Config struct {
	// Addr is the listen address, e.g. ":11023".
	Addr string
	// MaxConnections caps concurrent connections. 0 means unlimited.
	MaxConnections int
	// MaxLineBytes bounds a single header line.
	MaxLineBytes int
}

// Deps are the registries the broker serves. Metrics and Activity are
// optional.
type Deps struct {
	Apps     *apps.Registry
	Channels *channel.Registry
	Synonyms *synonym.Table
	Metrics  *metrics.Broker
	Activity activity.Recorder
}

// Server is the TCP broker.
type Server struct {
	cfg  Config
	deps Deps
	root zerolog.Logger
	log  zerolog.Logger
	ids  randid.Sequence

	listener net.Listener

	mu       sync.Mutex
	conns    map[*conn]struct{}
	shutdown bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Server {
	if deps.Activity == nil {
		deps.Activity = activity.Discard{}
	}
	if deps.Synonyms == nil {
		deps.Synonyms = synonym.New()
	}

	return &Server{
		cfg:   cfg,
		deps:  deps,
		root:  log,
		log:   log.With().Str("component", "broker").Logger(),
		conns: make(map[*conn]struct{}),
		done:  make(chan struct{}),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run binds and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Shutdown is called. It
// returns once every connection has been torn down.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("broker: Serve called before Listen")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.done:
		}
	}()

	s.log.Info().Str("addr", s.listener.Addr().String()).Msg("broker listening")

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.isShutdown() || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}

		s.accept(nc)
	}

	s.wg.Wait()
	s.log.Info().Msg("broker stopped")
	return nil
}

func (s *Server) accept(nc net.Conn) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = nc.Close()
		return
	}
	if s.cfg.MaxConnections > 0 && len(s.conns) >= s.cfg.MaxConnections {
		s.mu.Unlock()
		s.reject(nc)
		return
	}

	c := newConn(s, nc, s.ids.Next(12))
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.deps.Metrics.ConnOpened()
	go func() {
		defer s.wg.Done()
		c.serve()
	}()
}

// reject tells the peer why it is being turned away and closes the socket.
func (s *Server) reject(nc net.Conn) {
	s.deps.Metrics.ConnRejected()
	s.log.Warn().
		Str("remote", nc.RemoteAddr().String()).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("connection limit reached")

	_ = nc.SetWriteDeadline(time.Now().Add(time.Second))
	_ = wire.NewWriter(nc).Write(wire.Exception(werr.New(werr.KindInternal, "connection limit reached")))
	_ = nc.Close()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.deps.Metrics.ConnClosed()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Shutdown closes the channel registry, releasing parked pops, stops
// accepting, then tears down every connection. Safe to call more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.log.Info().Msg("shutting down broker")

		s.deps.Channels.Shutdown()

		s.mu.Lock()
		s.shutdown = true
		conns := make([]*conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		if s.listener != nil {
			_ = s.listener.Close()
		}

		for _, c := range conns {
			c.stop()
		}

		close(s.done)
	})
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
