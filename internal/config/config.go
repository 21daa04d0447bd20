// Package config loads flag defaults for the terminus binaries from the
// environment and validates the final settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/chronologos/terminus/internal/protocol"
)

// DefaultPort is the relay port when none is configured.
const DefaultPort = 7150

var ErrInvalid = errors.New("invalid configuration")

// Relay settings. Environment variables use the TERMINUS_RELAY prefix,
// e.g. TERMINUS_RELAY_MAX_CONNECTIONS.
type Relay struct {
	Verbose        bool   `envconfig:"VERBOSE" default:"false"`
	Address        string `envconfig:"ADDRESS" default:"0.0.0.0"`
	Port           int    `envconfig:"PORT" default:"7150"`
	Login          string `envconfig:"LOGIN" default:""`
	Key            string `envconfig:"KEY" default:""`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"0"`
	BufferSize     int    `envconfig:"BUFFER_SIZE" default:"32768"`
	TCPNoDelay     bool   `envconfig:"TCP_NO_DELAY" default:"false"`
	AEAD           bool   `envconfig:"AEAD" default:"false"`
	QUIC           bool   `envconfig:"QUIC" default:"false"`
}

// Client settings. Environment variables use the TERMINUS prefix, e.g.
// TERMINUS_ADDRESS.
type Client struct {
	Verbose    bool          `envconfig:"VERBOSE" default:"false"`
	Address    string        `envconfig:"ADDRESS" default:"127.0.0.1"`
	Port       int           `envconfig:"PORT" default:"7150"`
	Type       string        `envconfig:"TYPE" default:"master"`
	Login      string        `envconfig:"LOGIN" default:""`
	Key        string        `envconfig:"KEY" default:""`
	Identifier string        `envconfig:"IDENTIFIER" default:""`
	BufferSize int           `envconfig:"BUFFER_SIZE" default:"32768"`
	AEAD       bool          `envconfig:"AEAD" default:"false"`
	QUIC       bool          `envconfig:"QUIC" default:"false"`
	KeepAlive  time.Duration `envconfig:"KEEPALIVE" default:"10s"`
	Retries    int           `envconfig:"RETRIES" default:"0"`
	Scrollback int           `envconfig:"SCROLLBACK" default:"262144"`
}

// LoadRelay reads relay defaults from the environment.
func LoadRelay() (Relay, error) {
	var r Relay
	if err := envconfig.Process("TERMINUS_RELAY", &r); err != nil {
		return Relay{}, fmt.Errorf("load relay config: %w", err)
	}
	return r, nil
}

// LoadClient reads client defaults from the environment.
func LoadClient() (Client, error) {
	var c Client
	if err := envconfig.Process("TERMINUS", &c); err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	return c, nil
}

func checkPort(port int, allowZero bool) error {
	if port < 0 || port > 65535 || (port == 0 && !allowZero) {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, port)
	}
	return nil
}

// Validate reports the first setting the relay cannot run with. Port 0
// picks a free port.
func (r Relay) Validate() error {
	if err := checkPort(r.Port, true); err != nil {
		return err
	}
	if r.MaxConnections < 0 {
		return fmt.Errorf("%w: max connections %d", ErrInvalid, r.MaxConnections)
	}
	if r.BufferSize < 0 {
		return fmt.Errorf("%w: buffer size %d", ErrInvalid, r.BufferSize)
	}
	return nil
}

// ListenAddr is the host:port the relay binds.
func (r Relay) ListenAddr() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

// Validate reports the first setting the client cannot run with. A master
// must name the slave it attaches to; a slave may leave its identifier
// empty to have one generated.
func (c Client) Validate() error {
	role, err := c.Role()
	if err != nil {
		return err
	}
	if err := checkPort(c.Port, false); err != nil {
		return err
	}
	if c.Address == "" {
		return fmt.Errorf("%w: empty relay address", ErrInvalid)
	}
	if role == protocol.RoleMaster && c.Identifier == "" {
		return fmt.Errorf("%w: master needs an identifier", ErrInvalid)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: buffer size %d", ErrInvalid, c.BufferSize)
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("%w: keepalive %v", ErrInvalid, c.KeepAlive)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries %d", ErrInvalid, c.Retries)
	}
	if c.Scrollback < 0 {
		return fmt.Errorf("%w: scrollback %d", ErrInvalid, c.Scrollback)
	}
	return nil
}

// Role parses Type.
func (c Client) Role() (protocol.Role, error) {
	role, ok := protocol.ParseRole(c.Type)
	if !ok {
		return 0, fmt.Errorf("%w: type %q is not master or slave", ErrInvalid, c.Type)
	}
	return role, nil
}

// RelayAddr is the host:port the client dials.
func (c Client) RelayAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}
