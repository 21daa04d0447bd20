// Package coalesce batches terminal reads into fewer PutChar frames.
//
// Each PTY read on the slave and each stdin read on the master would
// otherwise become its own sealed frame. The Coalescer accumulates bytes and
// flushes when:
//
//   - the 2ms deadline expires (measured from the first byte in the batch,
//     not reset by later adds)
//   - the batch reaches the size threshold
//   - the owner calls Flush explicitly, e.g. before the connection closes
package coalesce

import "time"

const (
	// Delay is the coalescing deadline from the first byte in a batch.
	Delay = 2 * time.Millisecond

	// DefaultThreshold is used when New is given a non-positive size.
	DefaultThreshold = 32 * 1024
)

// Coalescer accumulates bytes and flushes on deadline or threshold.
// All methods are used from a single goroutine (the select loop).
type Coalescer struct {
	buf       []byte
	threshold int
	timer     *time.Timer
	armed     bool
}

// New creates a Coalescer that asks for a flush once threshold bytes are
// pending. Flushed batches are never larger than threshold.
func New(threshold int) *Coalescer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	t := time.NewTimer(0)
	if !t.Stop() {
		<-t.C
	}
	return &Coalescer{
		buf:       make([]byte, 0, threshold),
		threshold: threshold,
		timer:     t,
	}
}

// Threshold returns the batch size limit.
func (c *Coalescer) Threshold() int { return c.threshold }

// Add appends data and reports whether the threshold was reached and the
// caller should flush now. The deadline is armed by the first byte of a
// batch only.
func (c *Coalescer) Add(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if len(c.buf) == 0 && !c.armed {
		c.timer.Reset(Delay)
		c.armed = true
	}
	c.buf = append(c.buf, data...)
	return len(c.buf) >= c.threshold
}

// Flush returns everything pending as batches of at most Threshold bytes,
// in order, and disarms the deadline. It returns nil when nothing is
// pending. The caller owns the returned slices.
func (c *Coalescer) Flush() [][]byte {
	if len(c.buf) == 0 {
		return nil
	}
	c.disarm()

	var out [][]byte
	for rest := c.buf; len(rest) > 0; {
		n := min(len(rest), c.threshold)
		batch := make([]byte, n)
		copy(batch, rest[:n])
		out = append(out, batch)
		rest = rest[n:]
	}
	c.buf = c.buf[:0]
	return out
}

func (c *Coalescer) disarm() {
	if !c.armed {
		return
	}
	if !c.timer.Stop() {
		// Already fired; drain so a later select does not see a stale tick.
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.armed = false
}

// Timer returns the channel that fires when the deadline expires, or nil
// (blocks forever in a select) when no batch is pending:
//
//	case <-coal.Timer():
//	    for _, batch := range coal.Flush() { ... }
func (c *Coalescer) Timer() <-chan time.Time {
	if !c.armed {
		return nil
	}
	return c.timer.C
}

// Stop releases the timer.
func (c *Coalescer) Stop() {
	c.timer.Stop()
	c.armed = false
}

// Pending returns the number of buffered bytes.
func (c *Coalescer) Pending() int {
	return len(c.buf)
}
