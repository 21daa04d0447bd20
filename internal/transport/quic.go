package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// streamAcceptTimeout bounds how long a QUIC connection may sit without
	// opening its stream.
	streamAcceptTimeout = 10 * time.Second
	// closeLinger lets a FIN and any queued frames reach the peer before the
	// QUIC connection is torn down.
	closeLinger = 2 * time.Second
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		KeepAlivePeriod:   10 * time.Second,
		InitialPacketSize: 1200, // Tailscale MTU is 1280; default 1350 gets dropped
	}
}

// quicListener accepts QUIC connections, each carrying exactly one
// bidirectional stream opened by the client.
type quicListener struct {
	tr     *quic.Transport
	ln     *quic.Listener
	addr   net.Addr
	opts   Options
	connCh chan acceptRes
	cancel context.CancelFunc
	ctx    context.Context
}

type acceptRes struct {
	conn *Conn
	err  error
}

// ListenQUIC binds a QUIC listener on addr ("host:port", UDP) with an
// ephemeral self-signed certificate.
func ListenQUIC(addr string, opts Options) (Listener, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return listenQUIC(addr, opts, cert)
}

func listenQUIC(addr string, opts Options, cert tls.Certificate) (*quicListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}
	if opts.BufferSize > 0 {
		udpConn.SetReadBuffer(opts.BufferSize)
		udpConn.SetWriteBuffer(opts.BufferSize)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(serverTLSConfig(cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		tr:     tr,
		ln:     ln,
		addr:   udpConn.LocalAddr(),
		opts:   opts,
		connCh: make(chan acceptRes, 4),
		cancel: cancel,
		ctx:    ctx,
	}
	go l.acceptLoop()
	return l, nil
}

func (l *quicListener) acceptLoop() {
	for {
		qconn, err := l.ln.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			select {
			case l.connCh <- acceptRes{err: fmt.Errorf("accept QUIC connection: %w", err)}:
			case <-l.ctx.Done():
			}
			return
		}
		// A slow client must not hold up the next accept.
		go l.acceptStream(qconn)
	}
}

func (l *quicListener) acceptStream(qconn *quic.Conn) {
	ctx, cancel := context.WithTimeout(l.ctx, streamAcceptTimeout)
	defer cancel()
	str, err := qconn.AcceptStream(ctx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		return
	}
	conn := wrapQUIC(qconn, str, nil, l.opts)
	select {
	case l.connCh <- acceptRes{conn: conn}:
	case <-l.ctx.Done():
		conn.Close()
	}
}

func (l *quicListener) Accept(ctx context.Context) (*Conn, error) {
	select {
	case res := <-l.connCh:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Addr() net.Addr { return l.addr }

func (l *quicListener) Close() error {
	l.cancel()
	l.ln.Close()
	return l.tr.Close()
}

func dialQUIC(ctx context.Context, addr string, opts Options) (*Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	// Fresh UDP socket per dial.
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}
	tr := &quic.Transport{Conn: udpConn}

	qconn, err := tr.Dial(ctx, udpAddr, clientTLSConfig(), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	// The stream is announced to the relay with its first write, which is
	// the Connect frame.
	str, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(1, "open stream")
		tr.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return wrapQUIC(qconn, str, tr, opts), nil
}

// wrapQUIC builds a Conn over str. tr is closed with the connection when
// the caller owns it (dial side).
func wrapQUIC(qconn *quic.Conn, str *quic.Stream, tr *quic.Transport, opts Options) *Conn {
	closer := func() error {
		str.CancelRead(0)
		err := str.Close()
		go func() {
			select {
			case <-qconn.Context().Done():
			case <-time.After(closeLinger):
			}
			qconn.CloseWithError(0, "closed")
			if tr != nil {
				tr.Close()
			}
		}()
		return err
	}
	return newConn(str, closer, qconn.RemoteAddr(), DialQUIC, opts.BufferSize)
}
