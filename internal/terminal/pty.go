// Package terminal provides the slave's PTY shell and the master's console.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// Default PTY size until the master reports its own.
const (
	DefaultWidth  = 80
	DefaultHeight = 24
)

// PTY is a login shell running on a pseudo-terminal.
type PTY struct {
	ptmx *os.File
	cmd  *exec.Cmd

	waitOnce sync.Once
	waitErr  error
}

// StartPTY starts $SHELL (or /bin/sh) as a login shell on a new PTY. The
// shell sees TERMINUS_CLIENT_ID so prompts and scripts can tell which
// session they run in.
func StartPTY(clientID string, width, height uint32) (*PTY, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell)
	// Leading "-" in argv[0] makes it a login shell.
	cmd.Args[0] = "-" + filepath.Base(shell)

	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "TERM=") && !strings.HasPrefix(e, "TERMINUS_CLIENT_ID=") {
			env = append(env, e)
		}
	}
	env = append(env, "TERM="+sanitizeTerm(os.Getenv("TERM")))
	cmd.Env = append(env, "TERMINUS_CLIENT_ID="+clientID)

	ptmx, err := pty.StartWithSize(cmd, winsize(width, height))
	if err != nil {
		return nil, fmt.Errorf("start PTY: %w", err)
	}
	return &PTY{ptmx: ptmx, cmd: cmd}, nil
}

func winsize(width, height uint32) *pty.Winsize {
	if width == 0 || height == 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return &pty.Winsize{Cols: clamp16(width), Rows: clamp16(height)}
}

func clamp16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// Read returns shell output.
func (p *PTY) Read(b []byte) (int, error) { return p.ptmx.Read(b) }

// Write sends keystrokes to the shell.
func (p *PTY) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

// Resize sets the PTY window size. Zero dimensions are ignored.
func (p *PTY) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	return pty.Setsize(p.ptmx, winsize(width, height))
}

// Size returns the current PTY window size.
func (p *PTY) Size() (width, height uint32, err error) {
	sz, err := pty.GetsizeFull(p.ptmx)
	if err != nil {
		return 0, 0, fmt.Errorf("get PTY size: %w", err)
	}
	return uint32(sz.Cols), uint32(sz.Rows), nil
}

// Wait blocks until the shell exits. Safe to call from several goroutines.
func (p *PTY) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Close closes the PTY and kills the shell if it is still running.
func (p *PTY) Close() error {
	err := p.ptmx.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return err
}

// sanitizeTerm returns term if it looks like a terminal name, or
// xterm-256color otherwise.
func sanitizeTerm(term string) string {
	if term == "" || len(term) > 128 {
		return "xterm-256color"
	}
	for _, c := range term {
		if c < 0x20 || c == '=' || c > 0x7e {
			return "xterm-256color"
		}
	}
	return term
}
