package transport

import (
	"context"
	"fmt"
	"net"
)

// tcpListener accepts plain TCP connections and applies Options to each
// socket before handing it out.
type tcpListener struct {
	ln   net.Listener
	opts Options
}

// ListenTCP binds a TCP listener on addr ("host:port", port 0 for any).
func ListenTCP(addr string, opts Options) (Listener, error) {
	return listenTCP(addr, opts)
}

func listenTCP(addr string, opts Options) (*tcpListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP listen: %w", err)
	}
	return &tcpListener{ln: ln, opts: opts}, nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection. Cancelling ctx returns early; the
// pending accept is abandoned and unblocks when the listener closes.
func (l *tcpListener) Accept(ctx context.Context) (*Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		return wrapTCP(res.conn, l.opts), nil
	case <-ctx.Done():
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func dialTCP(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP dial: %w", err)
	}
	return wrapTCP(nc, opts), nil
}

func wrapTCP(nc net.Conn, opts Options) *Conn {
	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(opts.NoDelay)
		if opts.BufferSize > 0 {
			tc.SetReadBuffer(opts.BufferSize)
			tc.SetWriteBuffer(opts.BufferSize)
		}
	}
	return newConn(nc, nc.Close, nc.RemoteAddr(), DialTCP, opts.BufferSize)
}
