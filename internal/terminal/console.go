package terminal

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// Console is the master's local terminal: keystrokes in, slave output out.
type Console struct {
	in  *os.File
	out io.Writer
	fd  int // -1 when in is not a terminal
}

// NewConsole wraps in and out. Raw mode and size queries are skipped when
// in is not a terminal (pipes, tests).
func NewConsole(in *os.File, out io.Writer) *Console {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return &Console{in: in, out: out, fd: fd}
}

// IsTerminal reports whether the console input is a terminal.
func (c *Console) IsTerminal() bool { return c.fd >= 0 }

// Read returns keystrokes.
func (c *Console) Read(p []byte) (int, error) { return c.in.Read(p) }

// Display writes slave output to the screen.
func (c *Console) Display(p []byte) error {
	_, err := c.out.Write(p)
	return err
}

// MakeRaw puts the terminal in raw mode and returns the function that
// restores it. It is a no-op for non-terminals.
func (c *Console) MakeRaw() (restore func(), err error) {
	if c.fd < 0 {
		return func() {}, nil
	}
	old, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(c.fd, old) }, nil
}

// Size returns the terminal's columns and rows; ok is false when unknown.
func (c *Console) Size() (width, height uint32, ok bool) {
	if c.fd < 0 {
		return 0, 0, false
	}
	cols, rows, err := term.GetSize(c.fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return 0, 0, false
	}
	return uint32(cols), uint32(rows), true
}

// WatchResize delivers a value on the returned channel whenever the terminal
// is resized (SIGWINCH). stop releases the signal handler.
func (c *Console) WatchResize() (ch <-chan os.Signal, stop func()) {
	sig := make(chan os.Signal, 1)
	if c.fd < 0 {
		return sig, func() {}
	}
	signal.Notify(sig, syscall.SIGWINCH)
	return sig, func() { signal.Stop(sig) }
}
