package client

import (
	"context"
	"fmt"
	"time"

	"github.com/chronologos/terminus/internal/coalesce"
	"github.com/chronologos/terminus/internal/protocol"
	"github.com/chronologos/terminus/internal/scrollback"
	"github.com/chronologos/terminus/internal/transport"
)

// drainTimeout bounds how long a finished shell's remaining output is read.
const drainTimeout = 500 * time.Millisecond

// slaveState is what outlives a single relay connection: the shell, its
// output stream and the scrollback a late master is replayed.
type slaveState struct {
	shell   Shell
	output  chan []byte
	exited  chan struct{}
	exitErr error
	history *scrollback.Buffer
}

// runSlave starts the shell and shares it through the relay until the shell
// exits or the connection is given up.
func (c *Client) runSlave(ctx context.Context) error {
	shell, err := c.term.Spawn(c.cfg.ClientID, 0, 0)
	if err != nil {
		return fmt.Errorf("spawn shell: %w", err)
	}
	defer shell.Close()

	st := &slaveState{
		shell:   shell,
		output:  make(chan []byte, 4),
		exited:  make(chan struct{}),
		history: scrollback.New(c.cfg.Scrollback),
	}
	go pump(shell, st.output)
	go func() {
		st.exitErr = shell.Wait()
		close(st.exited)
	}()

	err = c.loop(ctx, func(ctx context.Context, conn *transport.Conn, hs *handshake) (exitReason, error) {
		return c.slaveSession(ctx, conn, hs, st)
	})
	select {
	case <-st.exited:
		if st.exitErr != nil {
			c.log.Info("shell exited", "err", st.exitErr)
		} else {
			c.log.Info("shell exited")
		}
	default:
	}
	return err
}

func (c *Client) slaveSession(ctx context.Context, conn *transport.Conn, hs *handshake, st *slaveState) (exitReason, error) {
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
	// replay sends everything retained to a newly attached master. Pending
	// output is already part of the snapshot.
	replay := func() error {
		coal.Flush()
		return c.sendText(conn, st.history.Snapshot())
	}

	msgs := make(chan inbound, 16)
	done := make(chan struct{})
	defer close(done)
	go c.readLoop(conn, msgs, done)

	if hs.peerConnected {
		if err := replay(); err != nil {
			return exitNetwork, err
		}
	}
	for _, m := range hs.early {
		if err := c.handleSlave(m, st, replay); err != nil {
			return exitNetwork, err
		}
	}

	keepAlive, stopKeepAlive := c.keepAliveTicker()
	defer stopKeepAlive()

	for {
		select {
		case data, ok := <-st.output:
			if !ok {
				// PTY closed: the shell is gone or about to be.
				if err := flush(); err != nil {
					return exitNetwork, err
				}
				select {
				case <-st.exited:
				case <-time.After(drainTimeout):
				}
				return exitShellDone, nil
			}
			st.history.Write(data)
			if coal.Add(data) {
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
			if err := c.handleSlave(in.msg, st, replay); err != nil {
				return exitNetwork, err
			}

		case <-st.exited:
			c.drain(st, coal)
			if err := flush(); err != nil {
				return exitNetwork, err
			}
			return exitShellDone, nil

		case <-keepAlive:
			if err := conn.WriteFrame(nil); err != nil {
				return exitNetwork, err
			}

		case <-ctx.Done():
			return exitCancelled, nil
		}
	}
}

// drain collects output still buffered after the shell exited.
func (c *Client) drain(st *slaveState, coal *coalesce.Coalescer) {
	deadline := time.After(drainTimeout)
	for {
		select {
		case data, ok := <-st.output:
			if !ok {
				return
			}
			st.history.Write(data)
			coal.Add(data)
		case <-deadline:
			return
		}
	}
}

// handleSlave acts on one frame from the master or the relay. Only a
// failed write to the relay is returned as an error.
func (c *Client) handleSlave(msg protocol.Message, st *slaveState, replay func() error) error {
	switch m := msg.(type) {
	case *protocol.PutChar:
		if _, err := st.shell.Write(m.Text); err != nil {
			c.log.Debug("shell write", "err", err)
		}
	case *protocol.ResizeTerminal:
		if err := st.shell.Resize(m.Width, m.Height); err != nil {
			c.log.Debug("resize", "err", err, "width", m.Width, "height", m.Height)
		} else {
			c.log.Debug("resized", "width", m.Width, "height", m.Height)
		}
	case *protocol.Response:
		switch ev, _ := isEvent(m); ev {
		case protocol.EventPeerConnected:
			c.log.Info("master attached", "replay", st.history.Len())
			return replay()
		case protocol.EventPeerDisconnected:
			c.log.Info("master detached")
		default:
			c.log.Debug("response", "code", m.Code, "metadata", m.Metadata)
		}
	default:
		c.log.Debug("ignoring message", "tag", msg.Tag())
	}
	return nil
}
