package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// dualListener accepts connections from a TCP and a QUIC (UDP) listener
// bound to the same port number. Accept returns whichever arrives first.
type dualListener struct {
	tcp  *tcpListener
	quic *quicListener

	connCh chan acceptRes
	cancel context.CancelFunc
}

// ListenDual binds TCP on addr, then QUIC on the same port number. With
// port 0 the QUIC side reuses whatever port the OS gave TCP.
func ListenDual(addr string, opts Options) (Listener, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}

	tl, err := listenTCP(addr, opts)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("parse %s: %w", addr, err)
	}
	port := tl.Addr().(*net.TCPAddr).Port
	ql, err := listenQUIC(net.JoinHostPort(host, strconv.Itoa(port)), opts, cert)
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("QUIC listen on port %d: %w", port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dl := &dualListener{
		tcp:    tl,
		quic:   ql,
		connCh: make(chan acceptRes, 4),
		cancel: cancel,
	}
	go dl.acceptLoop(ctx, tl)
	go dl.acceptLoop(ctx, ql)
	return dl, nil
}

func (dl *dualListener) acceptLoop(ctx context.Context, l Listener) {
	for {
		conn, err := l.Accept(ctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		select {
		case dl.connCh <- acceptRes{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			return
		}
	}
}

// Accept returns the next connection from either transport.
func (dl *dualListener) Accept(ctx context.Context) (*Conn, error) {
	select {
	case res := <-dl.connCh:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the TCP address; QUIC listens on the same port over UDP.
func (dl *dualListener) Addr() net.Addr { return dl.tcp.Addr() }

// Close shuts down both listeners. A pending Accept returns net.ErrClosed.
func (dl *dualListener) Close() error {
	dl.cancel()
	tcpErr := dl.tcp.Close()
	quicErr := dl.quic.Close()
	select {
	case dl.connCh <- acceptRes{err: fmt.Errorf("accept: %w", net.ErrClosed)}:
	default:
	}
	if quicErr != nil {
		return quicErr
	}
	return tcpErr
}
