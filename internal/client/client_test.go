package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/chronologos/terminus/internal/auth"
	"github.com/chronologos/terminus/internal/logging"
	"github.com/chronologos/terminus/internal/protocol"
	"github.com/chronologos/terminus/internal/relay"
	"github.com/chronologos/terminus/internal/transport"
)

var testCreds = auth.Credentials{Login: "admin", Key: "hunter2"}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls b until it contains substr.
func waitFor(t *testing.T, b *syncBuffer, substr string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %q (got %q)", substr, b.String())
}

// fakeShell echoes what it is sent, like a PTY in cooked mode.
type fakeShell struct {
	out     chan []byte
	pending []byte
	input   syncBuffer
	sizes   chan [2]uint32
	exit    chan struct{}
	once    sync.Once
}

func newFakeShell() *fakeShell {
	return &fakeShell{
		out:   make(chan []byte, 4096),
		sizes: make(chan [2]uint32, 16),
		exit:  make(chan struct{}),
	}
}

func (s *fakeShell) emit(p string) {
	s.out <- []byte(p)
}

func (s *fakeShell) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case s.pending = <-s.out:
		default:
			select {
			case s.pending = <-s.out:
			case <-s.exit:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *fakeShell) Write(p []byte) (int, error) {
	s.input.Write(p)
	s.out <- bytes.Clone(p)
	return len(p), nil
}

func (s *fakeShell) Resize(width, height uint32) error {
	select {
	case s.sizes <- [2]uint32{width, height}:
	default:
	}
	return nil
}

func (s *fakeShell) Wait() error {
	<-s.exit
	return nil
}

func (s *fakeShell) Close() error {
	s.once.Do(func() { close(s.exit) })
	return nil
}

// expectSize waits for the shell to be resized to w x h.
func (s *fakeShell) expectSize(t *testing.T, w, h uint32) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case got := <-s.sizes:
			if got == [2]uint32{w, h} {
				return
			}
		case <-timeout:
			t.Fatalf("shell never resized to %dx%d", w, h)
		}
	}
}

// fakeScreen is a master console fed from a pipe.
type fakeScreen struct {
	in      *io.PipeReader
	keys    *io.PipeWriter
	display syncBuffer
	size    atomic.Uint64 // width<<32 | height
	resize  chan os.Signal
}

func newFakeScreen(w, h uint32) *fakeScreen {
	r, wr := io.Pipe()
	s := &fakeScreen{in: r, keys: wr, resize: make(chan os.Signal, 1)}
	s.size.Store(uint64(w)<<32 | uint64(h))
	return s
}

func (s *fakeScreen) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *fakeScreen) Display(p []byte) error {
	_, err := s.display.Write(p)
	return err
}

func (s *fakeScreen) Size() (uint32, uint32, bool) {
	v := s.size.Load()
	return uint32(v >> 32), uint32(v), true
}

func (s *fakeScreen) MakeRaw() (func(), error) { return func() {}, nil }

func (s *fakeScreen) WatchResize() (<-chan os.Signal, func()) {
	return s.resize, func() {}
}

func (s *fakeScreen) typeKeys(t *testing.T, keys string) {
	t.Helper()
	if _, err := s.keys.Write([]byte(keys)); err != nil {
		t.Fatalf("type %q: %v", keys, err)
	}
}

func (s *fakeScreen) setSize(w, h uint32) {
	s.size.Store(uint64(w)<<32 | uint64(h))
	s.resize <- syscall.SIGWINCH
}

// startRelay runs a relay until stop is called or the test ends.
func startRelay(t *testing.T, cfg relay.Config) (addr string, stop func()) {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	cfg.Credentials = testCreds
	srv, err := relay.New(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("relay did not stop")
			}
		})
	}
	t.Cleanup(stop)

	select {
	case <-srv.Ready:
	case err := <-done:
		t.Fatalf("relay exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay not ready")
	}
	return srv.Addr().String(), stop
}

func baseConfig(addr string, role protocol.Role, id string) Config {
	return Config{
		Address:     addr,
		Role:        role,
		ClientID:    id,
		Credentials: testCreds,
		KeepAlive:   time.Second,
		Scrollback:  4096,
	}
}

// running is a client started in the background.
type running struct {
	cancel context.CancelFunc
	errCh  chan error
}

func start(t *testing.T, cfg Config, term Terminal) *running {
	t.Helper()
	c, err := New(cfg, logging.Discard(), term)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel, errCh: make(chan error, 1)}
	go func() { r.errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.errCh:
		case <-time.After(5 * time.Second):
		}
	})
	return r
}

// wait returns Run's result.
func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errCh:
		r.errCh <- err // let cleanup see it too
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("client did not exit")
		return nil
	}
}

func startSlave(t *testing.T, cfg Config) (*fakeShell, *running) {
	t.Helper()
	sh := newFakeShell()
	sh.emit("PROMPT$ ")
	r := start(t, cfg, Terminal{Spawn: func(string, uint32, uint32) (Shell, error) { return sh, nil }})
	return sh, r
}

// attach starts a master and waits until the slave's prompt is on screen.
func attach(t *testing.T, cfg Config) (*fakeScreen, *running) {
	t.Helper()
	screen := newFakeScreen(100, 40)
	t.Cleanup(func() { screen.keys.Close() })
	r := start(t, cfg, Terminal{Screen: screen})
	waitFor(t, &screen.display, "PROMPT$ ")
	return screen, r
}

func TestEndToEnd(t *testing.T) {
	tests := []struct {
		name string
		cfg  relay.Config
		mode transport.DialMode
	}{
		{"tcp", relay.Config{}, transport.DialTCP},
		{"quic-aead", relay.Config{QUIC: true, AEAD: true}, transport.DialQUIC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, _ := startRelay(t, tt.cfg)

			slaveCfg := baseConfig(addr, protocol.RoleSlave, "e2e")
			slaveCfg.AEAD, slaveCfg.DialMode = tt.cfg.AEAD, tt.mode
			sh, _ := startSlave(t, slaveCfg)

			masterCfg := baseConfig(addr, protocol.RoleMaster, "e2e")
			masterCfg.AEAD, masterCfg.DialMode = tt.cfg.AEAD, tt.mode
			screen, _ := attach(t, masterCfg)

			screen.typeKeys(t, "echo MARKER_12345\n")
			waitFor(t, &sh.input, "echo MARKER_12345\n")
			waitFor(t, &screen.display, "echo MARKER_12345\n")

			sh.emit("OUTPUT_67890")
			waitFor(t, &screen.display, "OUTPUT_67890")
		})
	}
}

func TestResizePropagates(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	sh, _ := startSlave(t, baseConfig(addr, protocol.RoleSlave, "resize"))
	screen, _ := attach(t, baseConfig(addr, protocol.RoleMaster, "resize"))

	sh.expectSize(t, 100, 40)
	screen.setSize(132, 50)
	sh.expectSize(t, 132, 50)
}

func TestScrollbackReplayedToLateMaster(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	sh, _ := startSlave(t, baseConfig(addr, protocol.RoleSlave, "late"))
	sh.emit("HISTORY_LINE\r\n")

	// No master yet: the relay drops this output, only scrollback keeps it.
	time.Sleep(100 * time.Millisecond)

	screen, _ := attach(t, baseConfig(addr, protocol.RoleMaster, "late"))
	waitFor(t, &screen.display, "HISTORY_LINE")
}

func TestDetachEscape(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	sh, slave := startSlave(t, baseConfig(addr, protocol.RoleSlave, "detach"))
	screen, master := attach(t, baseConfig(addr, protocol.RoleMaster, "detach"))

	screen.typeKeys(t, "ls\n~.")
	if err := master.wait(t); err != nil {
		t.Fatalf("detach should return nil, got %v", err)
	}
	waitFor(t, &sh.input, "ls\n")

	// The slave keeps its shell for the next master.
	select {
	case err := <-slave.errCh:
		t.Fatalf("slave exited after master detached: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if strings.Contains(sh.input.String(), "~") {
		t.Fatalf("escape reached the shell: %q", sh.input.String())
	}
}

func TestInputEOFEndsMaster(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	startSlave(t, baseConfig(addr, protocol.RoleSlave, "eof"))
	screen, master := attach(t, baseConfig(addr, protocol.RoleMaster, "eof"))

	screen.keys.Close()
	if err := master.wait(t); err != nil {
		t.Fatalf("input EOF should return nil, got %v", err)
	}
}

func TestInputEOFSendsHeldTilde(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	sh, _ := startSlave(t, baseConfig(addr, protocol.RoleSlave, "tilde"))
	screen, master := attach(t, baseConfig(addr, protocol.RoleMaster, "tilde"))

	screen.typeKeys(t, "echo\n~")
	screen.keys.Close()
	if err := master.wait(t); err != nil {
		t.Fatalf("input EOF should return nil, got %v", err)
	}
	waitFor(t, &sh.input, "echo\n~")
}

func TestShellExitEndsSlave(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	sh, slave := startSlave(t, baseConfig(addr, protocol.RoleSlave, "exit"))
	screen, _ := attach(t, baseConfig(addr, protocol.RoleMaster, "exit"))

	sh.emit("logout")
	waitFor(t, &screen.display, "logout")
	sh.Close()
	if err := slave.wait(t); err != nil {
		t.Fatalf("shell exit should return nil, got %v", err)
	}
}

func TestDuplicateRejected(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	cfg := baseConfig(addr, protocol.RoleSlave, "dup")
	startSlave(t, cfg)
	attach(t, baseConfig(addr, protocol.RoleMaster, "dup"))

	// Retries never apply to a rejection.
	cfg.Retries = 5
	_, second := startSlave(t, cfg)
	err := second.wait(t)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSlaveReconnects(t *testing.T) {
	addr, stop := startRelay(t, relay.Config{})
	cfg := baseConfig(addr, protocol.RoleSlave, "again")
	cfg.Retries = 10
	sh, slave := startSlave(t, cfg)
	attach(t, baseConfig(addr, protocol.RoleMaster, "again"))

	stop()
	sh.emit("WHILE_DOWN")
	startRelay(t, relay.Config{Address: addr})

	screen, _ := attach(t, baseConfig(addr, protocol.RoleMaster, "again"))
	waitFor(t, &screen.display, "WHILE_DOWN")

	select {
	case err := <-slave.errCh:
		t.Fatalf("slave gave up: %v", err)
	default:
	}
}

func TestConnectFailureWithoutRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, r := startSlave(t, baseConfig(addr, protocol.RoleSlave, "nobody"))
	err = r.wait(t)
	if err == nil {
		t.Fatal("expected a dial error")
	}
	if errors.Is(err, ErrRejected) {
		t.Fatalf("dial failure reported as rejection: %v", err)
	}
}

func TestCancelStopsClient(t *testing.T) {
	addr, _ := startRelay(t, relay.Config{})
	_, slave := startSlave(t, baseConfig(addr, protocol.RoleSlave, "cancel"))
	attach(t, baseConfig(addr, protocol.RoleMaster, "cancel"))

	slave.cancel()
	if err := slave.wait(t); err != nil {
		t.Fatalf("cancel should return nil, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	spawn := func(string, uint32, uint32) (Shell, error) { return newFakeShell(), nil }
	screen := newFakeScreen(80, 24)
	tests := []struct {
		name string
		cfg  Config
		term Terminal
		want error
	}{
		{"bad role", Config{Role: 7, ClientID: "x"}, Terminal{Spawn: spawn}, protocol.ErrInvalidRole},
		{"empty id", Config{Role: protocol.RoleSlave}, Terminal{Spawn: spawn}, protocol.ErrEmptyClientID},
		{"master without screen", Config{Role: protocol.RoleMaster, ClientID: "x"}, Terminal{Spawn: spawn}, ErrNoTerminal},
		{"slave without shell", Config{Role: protocol.RoleSlave, ClientID: "x"}, Terminal{Screen: screen}, ErrNoTerminal},
		{"master ok", Config{Role: protocol.RoleMaster, ClientID: "x"}, Terminal{Screen: screen}, nil},
		{"slave ok", Config{Role: protocol.RoleSlave, ClientID: "x", AEAD: true}, Terminal{Spawn: spawn}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, logging.Discard(), tt.term)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeepAliveSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want uint16
	}{
		{0, 1},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{30 * time.Second, 30},
		{100 * time.Hour, 0xFFFF},
	}
	for _, tt := range tests {
		if got := keepAliveSeconds(tt.in); got != tt.want {
			t.Errorf("keepAliveSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBatchSize(t *testing.T) {
	tests := []struct {
		buf  int
		want int
	}{
		{0, readBufSize},
		{-1, readBufSize},
		{1024, 1024},
		{1 << 20, protocol.MaxSealedText},
	}
	for _, tt := range tests {
		c := &Client{cfg: Config{BufferSize: tt.buf}}
		if got := c.batchSize(); got != tt.want {
			t.Errorf("batchSize(%d) = %d, want %d", tt.buf, got, tt.want)
		}
	}
}

func TestExitReasonString(t *testing.T) {
	if exitDetach.String() != "detach" || exitReason(99).String() != "unknown" {
		t.Fatal("unexpected exit reason names")
	}
}
