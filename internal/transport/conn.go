package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronologos/terminus/internal/protocol"
)

// DialMode selects which transport to use when dialing.
type DialMode int

const (
	DialTCP DialMode = iota
	DialQUIC
)

func (m DialMode) String() string {
	switch m {
	case DialQUIC:
		return "QUIC"
	case DialTCP:
		return "TCP"
	default:
		return "unknown"
	}
}

// Options tune sockets on both the accepting and the dialing side.
type Options struct {
	// NoDelay disables Nagle's algorithm on TCP sockets.
	NoDelay bool
	// BufferSize sets the socket send/receive buffers and the read buffer
	// in front of the frame decoder. Zero keeps the system defaults.
	BufferSize int
}

// Listener accepts framed connections.
type Listener interface {
	Accept(ctx context.Context) (*Conn, error)
	Addr() net.Addr
	Close() error
}

// stream is the byte stream a Conn frames: a TCP socket or one QUIC stream.
type stream interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// Conn carries length-prefixed frames over a stream. Writes are serialized
// so frames from different goroutines never interleave; reads must come
// from a single goroutine.
type Conn struct {
	s         stream
	r         io.Reader
	closer    func() error
	remote    net.Addr
	mode      DialMode
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	sent     atomic.Int64
	received atomic.Int64
}

func newConn(s stream, closer func() error, remote net.Addr, mode DialMode, bufSize int) *Conn {
	var r io.Reader = s
	if bufSize > 0 {
		r = bufio.NewReaderSize(s, bufSize)
	}
	return &Conn{s: s, r: r, closer: closer, remote: remote, mode: mode}
}

// ReadFrame reads the next frame. A keepalive yields an empty, non-nil
// slice.
func (c *Conn) ReadFrame() ([]byte, error) {
	frame, err := protocol.ReadFrame(c.r)
	if err != nil {
		return nil, err
	}
	c.received.Add(int64(protocol.FrameHeaderSize + len(frame)))
	return frame, nil
}

// WriteFrame writes one frame; an empty frame is a keepalive.
func (c *Conn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteFrame(c.s, frame); err != nil {
		return err
	}
	c.sent.Add(int64(protocol.FrameHeaderSize + len(frame)))
	return nil
}

// WriteMessage encodes m and writes it as one frame.
func (c *Conn) WriteMessage(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.WriteFrame(frame)
}

// SetReadDeadline bounds the next ReadFrame. A zero time clears it.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.s.SetReadDeadline(t)
}

// Close tears down the stream. Safe to call more than once; a blocked
// ReadFrame returns an error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.closer()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Mode reports whether the connection runs over TCP or QUIC.
func (c *Conn) Mode() DialMode { return c.mode }

// Stats returns the bytes written and read so far, frame headers included.
func (c *Conn) Stats() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

// Dial connects to a relay at addr ("host:port") over the chosen transport.
func Dial(ctx context.Context, mode DialMode, addr string, opts Options) (*Conn, error) {
	switch mode {
	case DialQUIC:
		return dialQUIC(ctx, addr, opts)
	default:
		return dialTCP(ctx, addr, opts)
	}
}

// IsClosed reports whether err comes from a listener that was closed.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
