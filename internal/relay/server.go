package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/chronologos/terminus/internal/auth"
	"github.com/chronologos/terminus/internal/protocol"
	"github.com/chronologos/terminus/internal/transport"
)

// registerTimeout bounds how long a fresh connection may take to send its
// Connect frame.
const registerTimeout = 10 * time.Second

// Delay bounds between consecutive failed accepts.
const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// Config holds relay configuration.
type Config struct {
	Address        string // host:port; port 0 picks one
	Credentials    auth.Credentials
	AEAD           bool
	MaxConnections int // 0 means unlimited
	BufferSize     int
	TCPNoDelay     bool
	QUIC           bool // also accept QUIC on the same port number
}

// Server accepts peer connections, registers them by client ID and role,
// and forwards frames between the master and slave of each ID.
type Server struct {
	cfg    Config
	log    *slog.Logger
	parser *protocol.Parser
	reg    *registry
	ln     transport.Listener

	mu    sync.Mutex
	conns map[*transport.Conn]struct{}
	wg    sync.WaitGroup

	open  atomic.Int64
	total atomic.Int64

	// Ready is closed once the listener is bound; Addr is valid after.
	Ready chan struct{}
}

// New creates a relay but does not start it. Call Run to begin.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	mode := protocol.EnvelopeCBC
	if cfg.AEAD {
		mode = protocol.EnvelopeAEAD
	}
	parser, err := protocol.NewParser(mode, cfg.Credentials.EnvelopeKey(), cfg.Credentials.EnvelopeIV())
	if err != nil {
		return nil, fmt.Errorf("envelope cipher: %w", err)
	}
	return &Server{
		cfg:    cfg,
		log:    logger.With("component", "relay"),
		parser: parser,
		reg:    newRegistry(),
		conns:  make(map[*transport.Conn]struct{}),
		Ready:  make(chan struct{}),
	}, nil
}

// Addr returns the bound listener address. Only valid after Ready.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run binds the listener and serves until ctx is cancelled. Shutdown closes
// the listener and every live connection, then waits for handlers to exit.
// A cancelled context is a clean shutdown and returns nil.
func (s *Server) Run(ctx context.Context) error {
	opts := transport.Options{NoDelay: s.cfg.TCPNoDelay, BufferSize: s.cfg.BufferSize}
	var err error
	if s.cfg.QUIC {
		s.ln, err = transport.ListenDual(s.cfg.Address, opts)
	} else {
		s.ln, err = transport.ListenTCP(s.cfg.Address, opts)
	}
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.log.Info("listening", "addr", s.ln.Addr(), "quic", s.cfg.QUIC, "envelope", s.parser.Mode())
	close(s.Ready)
	return s.serve(ctx)
}

// serve accepts from s.ln until ctx is cancelled or the listener closes.
// Accept errors back off so a persistent failure such as EMFILE does not
// spin.
func (s *Server) serve(ctx context.Context) error {
	defer func() {
		s.ln.Close()
		s.closeAll()
		s.wg.Wait()
		s.log.Info("stopped", "connections_served", s.total.Load())
	}()

	b := &backoff.Backoff{Min: acceptRetryMin, Max: acceptRetryMax, Factor: 2}
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || transport.IsClosed(err) {
				return nil
			}
			d := b.Duration()
			s.log.Warn("accept error", "err", err, "retry_in", d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		b.Reset()
		s.total.Add(1)

		if limit := s.cfg.MaxConnections; limit > 0 && int(s.open.Load()) >= limit {
			s.log.Warn("connection limit reached, rejecting", "remote", conn.RemoteAddr(), "max", limit)
			conn.Close()
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn)
		}()
	}
}

// OpenConnections returns the number of connections being served.
func (s *Server) OpenConnections() int {
	return int(s.open.Load())
}

func (s *Server) track(conn *transport.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.open.Add(1)
}

func (s *Server) untrack(conn *transport.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.open.Add(-1)
}

// closeAll closes every live connection; their handlers clean up and exit.
func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// respond sends a relay-originated Response, sealed with the relay's
// envelope cipher.
func (s *Server) respond(conn *transport.Conn, code protocol.ResponseCode, meta map[string]any) error {
	frame, err := s.parser.SealFrame(&protocol.Response{Code: code, Metadata: meta})
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame)
}
