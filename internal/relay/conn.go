package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/chronologos/terminus/internal/protocol"
	"github.com/chronologos/terminus/internal/transport"
)

// peer is a registered connection.
type peer struct {
	conn *transport.Conn
	id   string
	role protocol.Role
}

// serveConn runs one connection through registration and forwarding, and
// cleans up its registry entry on the way out.
func (s *Server) serveConn(conn *transport.Conn) {
	log := s.log.With("remote", conn.RemoteAddr(), "transport", conn.Mode())
	start := time.Now()
	defer func() {
		conn.Close()
		sent, recv := conn.Stats()
		log.Info("connection closed",
			"duration", time.Since(start).Round(time.Millisecond),
			"sent", sizestr.ToString(sent),
			"received", sizestr.ToString(recv),
			"open", s.open.Load()-1)
	}()
	log.Debug("connection opened")

	opts, err := s.awaitConnect(conn)
	if err != nil {
		log.Debug("registration failed", "err", err)
		return
	}
	p := &peer{conn: conn, id: opts.ClientID, role: opts.Role()}
	log = log.With("client_id", p.id, "role", p.role)

	opposite, err := s.reg.register(p)
	if err != nil {
		log.Warn("rejecting registration", "err", err)
		s.respond(conn, protocol.ResponseErr, map[string]any{"error": err.Error()})
		return
	}
	defer s.unregister(p, log)
	log.Info("registered", "peer_connected", opposite != nil)

	if err := s.respond(conn, protocol.ResponseOK, map[string]any{
		"clientId":      p.id,
		"role":          p.role.String(),
		"peerConnected": opposite != nil,
	}); err != nil {
		log.Debug("write registration ack", "err", err)
		return
	}
	if opposite != nil {
		s.notify(opposite, protocol.EventPeerConnected, p.role, log)
	}

	if err := s.forward(p, opts, log); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("connection ended", "err", err)
	}
}

// awaitConnect reads frames until the first non-keepalive one, which must
// be a Connect.
func (s *Server) awaitConnect(conn *transport.Conn) (protocol.ConnectOptions, error) {
	conn.SetReadDeadline(time.Now().Add(registerTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return protocol.ConnectOptions{}, err
		}
		if len(frame) == 0 {
			continue
		}
		msg, err := s.parser.Parse(frame)
		if err != nil {
			return protocol.ConnectOptions{}, fmt.Errorf("parse first frame: %w", err)
		}
		c, ok := msg.(*protocol.Connect)
		if !ok {
			return protocol.ConnectOptions{}, fmt.Errorf("expected Connect, got %s", msg.Tag())
		}
		return c.ConnectOptions, nil
	}
}

// forward relays frames from p to the opposite peer under the same ID until
// p's connection fails. Frames with no peer to receive them are dropped.
func (s *Server) forward(p *peer, opts protocol.ConnectOptions, log *slog.Logger) error {
	var deadline time.Duration
	if opts.KeepAlive {
		deadline = 3 * time.Duration(opts.KeepAliveInterval) * time.Second
	}
	for {
		if deadline > 0 {
			p.conn.SetReadDeadline(time.Now().Add(deadline))
		}
		frame, err := p.conn.ReadFrame()
		if err != nil {
			return err
		}
		if len(frame) == 0 {
			continue
		}
		target := s.reg.lookup(p.role.Opposite(), p.id)
		if target == nil {
			log.Debug("no peer, dropping frame", "bytes", len(frame))
			continue
		}
		if err := target.conn.WriteFrame(frame); err != nil {
			// The target's own handler notices the closed socket and cleans up.
			log.Debug("forward failed, closing peer", "err", err)
			target.conn.Close()
		}
	}
}

func (s *Server) unregister(p *peer, log *slog.Logger) {
	opposite, removed := s.reg.unregister(p)
	if !removed {
		return
	}
	log.Info("unregistered")
	if opposite != nil {
		s.notify(opposite, protocol.EventPeerDisconnected, p.role, log)
	}
}

// notify tells target about a change to the peer playing role.
func (s *Server) notify(target *peer, event string, role protocol.Role, log *slog.Logger) {
	err := s.respond(target.conn, protocol.ResponseOK, map[string]any{
		"event": event,
		"role":  role.String(),
	})
	if err != nil {
		log.Debug("notify peer", "event", event, "err", err)
	}
}
