// terminus shares a terminal through a relay. A slave runs a shell on a
// PTY and registers it under an identifier; a master attaches to that
// identifier from anywhere the relay is reachable.
//
//	terminus -t slave -a relay.example -i devbox
//	terminus -t master -a relay.example -i devbox
//
// Type ~. at the start of a line to detach a master.
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
	"github.com/chronologos/terminus/internal/client"
	"github.com/chronologos/terminus/internal/config"
	"github.com/chronologos/terminus/internal/logging"
	"github.com/chronologos/terminus/internal/terminal"
	"github.com/chronologos/terminus/internal/transport"
	"github.com/chronologos/terminus/internal/version"
)

// usageError marks errors caused by how the binary was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }
func (usageError) ExitCode() int   { return 2 }

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "terminus: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	fs := pflag.NewFlagSet("terminus", pflag.ContinueOnError)
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose output")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "relay port")
	fs.StringVarP(&cfg.Address, "address", "a", cfg.Address, "relay address")
	fs.StringVarP(&cfg.Type, "type", "t", cfg.Type, "client type (master/slave)")
	fs.StringVarP(&cfg.Login, "login", "l", cfg.Login, "relay login")
	fs.StringVarP(&cfg.Key, "key", "k", cfg.Key, "relay key")
	fs.StringVarP(&cfg.Identifier, "identifier", "i", cfg.Identifier, "client identifier (generated for a slave when empty)")
	fs.IntVarP(&cfg.BufferSize, "buffer-size", "b", cfg.BufferSize, "coalescing and socket buffer size in bytes")
	fs.BoolVar(&cfg.AEAD, "aead", cfg.AEAD, "use the ChaCha20-Poly1305 envelope (relay must match)")
	fs.BoolVar(&cfg.QUIC, "quic", cfg.QUIC, "connect over QUIC instead of TCP")
	fs.DurationVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "keepalive interval (0 disables)")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "reconnect attempts after a lost connection")
	fs.IntVar(&cfg.Scrollback, "scrollback", cfg.Scrollback, "slave output kept for late masters, in bytes")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.String("terminus"))
		return nil
	}
	if fs.NArg() > 0 {
		return usageError{fmt.Errorf("unexpected argument: %s", fs.Arg(0))}
	}
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}
	role, _ := cfg.Role()

	if cfg.Identifier == "" {
		id, err := auth.GenerateIdentifier()
		if err != nil {
			return fmt.Errorf("generate identifier: %w", err)
		}
		cfg.Identifier = id
		fmt.Fprintf(os.Stderr, "identifier: %s\n", id)
	}

	mode := transport.DialTCP
	if cfg.QUIC {
		mode = transport.DialQUIC
	}
	logger := logging.New(os.Stderr, cfg.Verbose)

	term := client.Terminal{
		Screen: terminal.NewConsole(os.Stdin, os.Stdout),
		Spawn: func(clientID string, width, height uint32) (client.Shell, error) {
			p, err := terminal.StartPTY(clientID, width, height)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	}
	c, err := client.New(client.Config{
		Address:     cfg.RelayAddr(),
		Role:        role,
		ClientID:    cfg.Identifier,
		Credentials: auth.Credentials{Login: cfg.Login, Key: cfg.Key},
		AEAD:        cfg.AEAD,
		BufferSize:  cfg.BufferSize,
		KeepAlive:   cfg.KeepAlive,
		DialMode:    mode,
		NoDelay:     true,
		Retries:     cfg.Retries,
		Scrollback:  cfg.Scrollback,
	}, logger, term)
	if err != nil {
		return usageError{err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.Run(ctx)
}
