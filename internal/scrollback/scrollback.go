// Package scrollback keeps the most recent terminal output of a slave so a
// master that attaches later sees the current screen instead of a blank one.
package scrollback

import "sync"

// DefaultSize is the retained output when New is given a non-positive size.
const DefaultSize = 256 * 1024

// Buffer retains the last Size bytes written to it. It is safe for
// concurrent use.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	size int
}

// New creates a buffer holding at most size bytes.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{size: size}
}

// Write appends p, discarding the oldest bytes beyond the size limit. It
// never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= b.size {
		p = p[n-b.size:]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data)+len(p) > b.size {
		// Keep the tail that still fits, compacting in place so the backing
		// array stays bounded.
		keep := b.size - len(p)
		copy(b.data, b.data[len(b.data)-keep:])
		b.data = b.data[:keep]
	}
	b.data = append(b.data, p...)
	return n, nil
}

// Snapshot returns a copy of the retained output, oldest byte first.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Size returns the retention limit.
func (b *Buffer) Size() int { return b.size }

// Reset drops all retained output.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
