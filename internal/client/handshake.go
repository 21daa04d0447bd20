package client

import (
	"context"
	"fmt"
	"time"

	"github.com/chronologos/terminus/internal/protocol"
	"github.com/chronologos/terminus/internal/transport"
)

// handshake is what the client learned while registering.
type handshake struct {
	start         time.Time
	peerConnected bool
	// early holds frames that arrived before the registration answer; the
	// session handles them first.
	early []protocol.Message
}

// connect dials the relay and registers under the configured role and ID.
func (c *Client) connect(ctx context.Context) (*transport.Conn, *handshake, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	opts := transport.Options{NoDelay: c.cfg.NoDelay, BufferSize: c.cfg.BufferSize}
	conn, err := transport.Dial(dialCtx, c.cfg.DialMode, c.cfg.Address, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", c.cfg.Address, err)
	}

	// Cancelling ctx mid-handshake unblocks the read below.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hs, err := c.register(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	c.log.Info("registered", "relay", c.cfg.Address, "transport", conn.Mode(), "peer_connected", hs.peerConnected)
	return conn, hs, nil
}

// keepAliveSeconds converts the keepalive period to the Connect field.
func keepAliveSeconds(d time.Duration) uint16 {
	s := int64(d / time.Second)
	switch {
	case s < 1:
		return 1
	case s > 0xFFFF:
		return 0xFFFF
	default:
		return uint16(s)
	}
}

func (c *Client) register(conn *transport.Conn) (*handshake, error) {
	keepAlive := c.cfg.KeepAlive > 0
	var interval uint16
	if keepAlive {
		interval = keepAliveSeconds(c.cfg.KeepAlive)
	}
	opts, err := protocol.NewConnectOptions(c.cfg.Role, c.cfg.ClientID, keepAlive, interval)
	if err != nil {
		return nil, err
	}
	hs := &handshake{start: time.Now()}
	if err := c.send(conn, &protocol.Connect{ConnectOptions: opts}); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("await registration: %w", err)
		}
		if len(frame) == 0 {
			continue
		}
		msg, err := c.parser.Parse(frame)
		if err != nil {
			return nil, fmt.Errorf("registration reply: %w", err)
		}
		resp, ok := msg.(*protocol.Response)
		if !ok {
			hs.early = append(hs.early, msg)
			continue
		}
		if _, ok := isEvent(resp); ok {
			hs.early = append(hs.early, msg)
			continue
		}
		if resp.Code != protocol.ResponseOK {
			reason, _ := resp.Metadata["error"].(string)
			return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
		}
		hs.peerConnected, _ = resp.Metadata["peerConnected"].(bool)
		return hs, nil
	}
}
