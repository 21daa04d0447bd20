package client

import (
	"context"
	"fmt"
	"io"

	"github.com/chronologos/terminus/internal/coalesce"
	"github.com/chronologos/terminus/internal/protocol"
	"github.com/chronologos/terminus/internal/transport"
)

// runMaster puts the screen in raw mode and relays keystrokes to the slave
// and its output back to the screen.
func (c *Client) runMaster(ctx context.Context) error {
	screen := c.term.Screen
	restore, err := screen.MakeRaw()
	if err != nil {
		return fmt.Errorf("make raw: %w", err)
	}
	defer restore()

	// Input outlives any single connection.
	input := make(chan []byte, 4)
	go pump(screen, input)

	esc := newEscapeFilter()
	return c.loop(ctx, func(ctx context.Context, conn *transport.Conn, hs *handshake) (exitReason, error) {
		esc.reset()
		return c.masterSession(ctx, conn, hs, input, esc)
	})
}

func (c *Client) masterSession(ctx context.Context, conn *transport.Conn, hs *handshake, input <-chan []byte, esc *escapeFilter) (exitReason, error) {
	screen := c.term.Screen

	resized, stopResize := screen.WatchResize()
	defer stopResize()
	sendSize := func() error {
		w, h, ok := screen.Size()
		if !ok {
			return nil
		}
		return c.send(conn, &protocol.ResizeTerminal{Width: w, Height: h})
	}
	if err := sendSize(); err != nil {
		return exitNetwork, err
	}

	coal := coalesce.New(c.batchSize())
	defer coal.Stop()
	flush := func() error {
		for _, batch := range coal.Flush() {
			if err := c.sendText(conn, batch); err != nil {
				return err
			}
		}
		return nil
	}

	msgs := make(chan inbound, 16)
	done := make(chan struct{})
	defer close(done)
	go c.readLoop(conn, msgs, done)

	for _, m := range hs.early {
		if err := c.handleMaster(m, sendSize); err != nil {
			return exitNetwork, err
		}
	}

	keepAlive, stopKeepAlive := c.keepAliveTicker()
	defer stopKeepAlive()

	for {
		select {
		case data, ok := <-input:
			if !ok {
				coal.Add(esc.release())
				flush() // best effort; exiting anyway
				return exitInputEOF, nil
			}
			out, detach := esc.filter(data)
			if detach {
				coal.Add(out)
				flush() // best effort; detaching anyway
				c.log.Info("detached")
				return exitDetach, nil
			}
			if coal.Add(out) {
				if err := flush(); err != nil {
					return exitNetwork, err
				}
			}

		case <-coal.Timer():
			if err := flush(); err != nil {
				return exitNetwork, err
			}

		case in := <-msgs:
			if in.err != nil {
				return exitNetwork, in.err
			}
			if err := c.handleMaster(in.msg, sendSize); err != nil {
				return exitNetwork, err
			}

		case <-resized:
			if err := sendSize(); err != nil {
				return exitNetwork, err
			}

		case <-keepAlive:
			if err := conn.WriteFrame(nil); err != nil {
				return exitNetwork, err
			}

		case <-ctx.Done():
			return exitCancelled, nil
		}
	}
}

// handleMaster acts on one frame from the slave or the relay. Only a
// failed write to the relay is returned as an error.
func (c *Client) handleMaster(msg protocol.Message, sendSize func() error) error {
	switch m := msg.(type) {
	case *protocol.PutChar:
		if err := c.term.Screen.Display(m.Text); err != nil {
			c.log.Debug("display", "err", err)
		}
	case *protocol.Response:
		switch ev, _ := isEvent(m); ev {
		case protocol.EventPeerConnected:
			c.log.Info("slave attached")
			// A new slave starts at the default size.
			return sendSize()
		case protocol.EventPeerDisconnected:
			c.log.Info("slave detached")
		default:
			c.log.Debug("response", "code", m.Code, "metadata", m.Metadata)
		}
	default:
		c.log.Debug("ignoring message", "tag", msg.Tag())
	}
	return nil
}

// pump copies reads from r to ch until r fails, then closes ch.
func pump(r io.Reader, ch chan<- []byte) {
	defer close(ch)
	for {
		buf := make([]byte, readBufSize)
		n, err := r.Read(buf)
		if n > 0 {
			ch <- buf[:n]
		}
		if err != nil {
			return
		}
	}
}
