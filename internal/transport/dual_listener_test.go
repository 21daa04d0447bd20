package transport

import (
	"context"
	"testing"
	"time"
)

func TestDualListenerAcceptsBothTransports(t *testing.T) {
	dl, err := ListenDual("127.0.0.1:0", Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverConns := make(chan *Conn, 2)
	go func() {
		for range 2 {
			conn, err := dl.Accept(ctx)
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}
			serverConns <- conn
		}
	}()

	addr := dl.Addr().String()
	for _, mode := range []DialMode{DialQUIC, DialTCP} {
		cc, err := Dial(ctx, mode, addr, Options{})
		if err != nil {
			t.Fatalf("%s dial: %v", mode, err)
		}
		defer cc.Close()
		if err := cc.WriteFrame([]byte{1, 2, 3, 4}); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[DialMode]bool{}
	for range 2 {
		select {
		case sc := <-serverConns:
			defer sc.Close()
			frame, err := sc.ReadFrame()
			if err != nil {
				t.Fatal(err)
			}
			if len(frame) != 4 {
				t.Fatalf("frame length %d", len(frame))
			}
			seen[sc.Mode()] = true
		case <-ctx.Done():
			t.Fatal("timeout")
		}
	}
	if !seen[DialTCP] || !seen[DialQUIC] {
		t.Fatalf("expected one connection per transport, got %v", seen)
	}
}

func TestDualListenerClose(t *testing.T) {
	dl, err := ListenDual("127.0.0.1:0", Options{})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := dl.Accept(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	dl.Close()
	select {
	case err := <-done:
		if !IsClosed(err) {
			t.Fatalf("expected closed-listener error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not unblock")
	}
}
