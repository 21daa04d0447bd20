// terminus-relay pairs terminus masters with the slaves they attach to and
// forwards frames between them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/chronologos/terminus/internal/auth"
	"github.com/chronologos/terminus/internal/config"
	"github.com/chronologos/terminus/internal/logging"
	"github.com/chronologos/terminus/internal/relay"
	"github.com/chronologos/terminus/internal/version"
)

// usageError marks errors caused by how the binary was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }
func (usageError) ExitCode() int   { return 2 }

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "terminus-relay: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}

	fs := pflag.NewFlagSet("terminus-relay", pflag.ContinueOnError)
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose output")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "listening port")
	fs.StringVarP(&cfg.Address, "address", "a", cfg.Address, "listening address")
	fs.StringVarP(&cfg.Login, "login", "l", cfg.Login, "relay login")
	fs.StringVarP(&cfg.Key, "key", "k", cfg.Key, "relay key")
	fs.IntVarP(&cfg.MaxConnections, "max-connections", "m", cfg.MaxConnections, "maximum open connections (0 = unlimited)")
	fs.IntVarP(&cfg.BufferSize, "buffer-size", "b", cfg.BufferSize, "socket buffer size in bytes")
	fs.BoolVarP(&cfg.TCPNoDelay, "tcp-no-delay", "t", cfg.TCPNoDelay, "enable TCP_NODELAY on accepted connections")
	fs.BoolVar(&cfg.AEAD, "aead", cfg.AEAD, "use the ChaCha20-Poly1305 envelope")
	fs.BoolVar(&cfg.QUIC, "quic", cfg.QUIC, "also accept QUIC on the same port")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.String("terminus-relay"))
		return nil
	}
	if fs.NArg() > 0 {
		return usageError{fmt.Errorf("unexpected argument: %s", fs.Arg(0))}
	}
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}

	logger := logging.New(os.Stderr, cfg.Verbose)
	srv, err := relay.New(relay.Config{
		Address:        cfg.ListenAddr(),
		Credentials:    auth.Credentials{Login: cfg.Login, Key: cfg.Key},
		AEAD:           cfg.AEAD,
		MaxConnections: cfg.MaxConnections,
		BufferSize:     cfg.BufferSize,
		TCPNoDelay:     cfg.TCPNoDelay,
		QUIC:           cfg.QUIC,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
