package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jpillora/backoff"

	"github.com/chronologos/terminus/internal/auth"
	"github.com/chronologos/terminus/internal/protocol"
	"github.com/chronologos/terminus/internal/transport"
)

const (
	readBufSize      = 32 * 1024
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxRetryInterval = 10 * time.Second
)

var (
	// ErrRejected is returned when the relay refuses the registration.
	ErrRejected = errors.New("relay rejected registration")
	// ErrNoTerminal is returned when a role's terminal collaborator is missing.
	ErrNoTerminal = errors.New("no terminal for role")
)

// Config holds client configuration.
type Config struct {
	Address     string // relay host:port
	Role        protocol.Role
	ClientID    string
	Credentials auth.Credentials
	AEAD        bool
	BufferSize  int           // coalescing threshold and socket buffers
	KeepAlive   time.Duration // 0 disables keepalive frames
	DialMode    transport.DialMode
	NoDelay     bool
	Retries     int // reconnect attempts after a lost connection; 0 never reconnects
	Scrollback  int // slave output retained for late masters
}

// Shell is the slave's terminal: a shell on a PTY.
type Shell interface {
	io.ReadWriter
	Resize(width, height uint32) error
	Wait() error
	Close() error
}

// Screen is the master's local terminal.
type Screen interface {
	io.Reader
	Display(p []byte) error
	Size() (width, height uint32, ok bool)
	MakeRaw() (restore func(), err error)
	WatchResize() (ch <-chan os.Signal, stop func())
}

// Terminal holds the collaborator for the configured role: Screen for a
// master, Spawn for a slave.
type Terminal struct {
	Screen Screen
	Spawn  func(clientID string, width, height uint32) (Shell, error)
}

// Client is one end of a relayed terminal session.
type Client struct {
	cfg    Config
	log    *slog.Logger
	parser *protocol.Parser
	term   Terminal
}

// exitReason describes why a connected session ended.
type exitReason int

const (
	exitNetwork   exitReason = iota // connection error or relay closed it
	exitDetach                      // master typed ~.
	exitInputEOF                    // master's input closed
	exitShellDone                   // slave's shell exited
	exitCancelled                   // context cancelled
)

// New validates cfg against the role's collaborator and builds the
// envelope parser.
func New(cfg Config, logger *slog.Logger, term Terminal) (*Client, error) {
	if !cfg.Role.Valid() {
		return nil, protocol.ErrInvalidRole
	}
	if cfg.ClientID == "" {
		return nil, protocol.ErrEmptyClientID
	}
	if cfg.Role == protocol.RoleMaster && term.Screen == nil {
		return nil, fmt.Errorf("%w: master needs a screen", ErrNoTerminal)
	}
	if cfg.Role == protocol.RoleSlave && term.Spawn == nil {
		return nil, fmt.Errorf("%w: slave needs a shell", ErrNoTerminal)
	}
	mode := protocol.EnvelopeCBC
	if cfg.AEAD {
		mode = protocol.EnvelopeAEAD
	}
	parser, err := protocol.NewParser(mode, cfg.Credentials.EnvelopeKey(), cfg.Credentials.EnvelopeIV())
	if err != nil {
		return nil, fmt.Errorf("envelope cipher: %w", err)
	}
	return &Client{
		cfg:    cfg,
		log:    logger.With("component", "client", "role", cfg.Role, "client_id", cfg.ClientID),
		parser: parser,
		term:   term,
	}, nil
}

// Run connects to the relay and drives the role's session until it ends.
// Lost connections are retried with backoff up to cfg.Retries times.
// Detaching, end of input, shell exit and a cancelled context return nil.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.Role == protocol.RoleSlave {
		return c.runSlave(ctx)
	}
	return c.runMaster(ctx)
}

// sessionFunc runs one connected session. It returns why it ended and, for
// exitNetwork, the underlying error.
type sessionFunc func(ctx context.Context, conn *transport.Conn, hs *handshake) (exitReason, error)

// loop connects, runs session, and reconnects after network failures.
func (c *Client) loop(ctx context.Context, session sessionFunc) error {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: maxRetryInterval, Factor: 2, Jitter: true}
	for {
		conn, hs, err := c.connect(ctx)
		if err == nil {
			b.Reset()
			var reason exitReason
			reason, err = session(ctx, conn, hs)
			conn.Close()
			c.logStats(conn, hs.start, reason)
			if reason != exitNetwork {
				return nil
			}
			err = fmt.Errorf("connection lost: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		if !c.wait(ctx, b, err) {
			return err
		}
	}
}

// wait sleeps for the next backoff interval. It returns false when the
// retry budget is spent or ctx ends.
func (c *Client) wait(ctx context.Context, b *backoff.Backoff, cause error) bool {
	attempt := int(b.Attempt())
	if attempt >= c.cfg.Retries {
		return false
	}
	d := b.Duration()
	c.log.Warn("connection error, retrying", "err", cause, "attempt", attempt+1, "max", c.cfg.Retries, "delay", d)
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// inbound is one parsed frame or the error that ended the read loop.
type inbound struct {
	msg protocol.Message
	err error
}

// readLoop parses frames from conn until it fails. Keepalives are skipped;
// frames that fail to parse are logged and dropped.
func (c *Client) readLoop(conn *transport.Conn, ch chan<- inbound, done <-chan struct{}) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			select {
			case ch <- inbound{err: err}:
			case <-done:
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		msg, err := c.parser.Parse(frame)
		if err != nil {
			c.log.Debug("dropping undecodable frame", "err", err, "bytes", len(frame))
			continue
		}
		select {
		case ch <- inbound{msg: msg}:
		case <-done:
			return
		}
	}
}

// send seals m and writes it.
func (c *Client) send(conn *transport.Conn, m protocol.Message) error {
	frame, err := c.parser.SealFrame(m)
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame)
}

// sendText sends data as PutChar frames small enough to seal.
func (c *Client) sendText(conn *transport.Conn, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), protocol.MaxSealedText)
		if err := c.send(conn, &protocol.PutChar{Text: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// keepAliveTicker returns a ticker channel for keepalive frames, or nil
// when keepalive is off.
func (c *Client) keepAliveTicker() (<-chan time.Time, func()) {
	if c.cfg.KeepAlive <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(c.cfg.KeepAlive)
	return t.C, t.Stop
}

// batchSize is the coalescing threshold: the configured buffer size, capped
// so every batch fits one sealed PutChar.
func (c *Client) batchSize() int {
	n := c.cfg.BufferSize
	if n <= 0 {
		n = readBufSize
	}
	return min(n, protocol.MaxSealedText)
}

// isEvent reports whether resp is a relay notification rather than a
// registration answer, and returns the event name.
func isEvent(resp *protocol.Response) (string, bool) {
	ev, ok := resp.Metadata["event"].(string)
	return ev, ok
}
