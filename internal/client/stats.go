package client

import (
	"time"

	"github.com/jpillora/sizestr"

	"github.com/chronologos/terminus/internal/transport"
)

func (r exitReason) String() string {
	switch r {
	case exitNetwork:
		return "network"
	case exitDetach:
		return "detach"
	case exitInputEOF:
		return "input closed"
	case exitShellDone:
		return "shell exited"
	case exitCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// logStats records how much a finished connection carried.
func (c *Client) logStats(conn *transport.Conn, start time.Time, reason exitReason) {
	sent, recv := conn.Stats()
	c.log.Info("session ended",
		"reason", reason,
		"transport", conn.Mode(),
		"duration", time.Since(start).Round(time.Millisecond),
		"sent", sizestr.ToString(sent),
		"received", sizestr.ToString(recv))
}
