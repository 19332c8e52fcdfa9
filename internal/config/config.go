// Package config holds the transport configuration and its YAML form.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/channel"
)

// Defaults.
const (
	DefaultPort              = 7777
	DefaultBindAddress       = "127.0.0.1"
	DefaultMaxPacketSize     = 16 * 1024
	DefaultMaxPeers          = 4095
	DefaultTimeoutBase       = 5 * time.Second
	DefaultTimeoutMultiplier = 3
	DefaultStatsInterval     = 3 * time.Second
	DefaultPollTimeout       = 15 * time.Millisecond
	DefaultReceiveInterval   = 5 * time.Millisecond
)

// Role represents which side of a session this process plays.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Config stores every recognized transport option.
type Config struct {
	// BindAddress is the local address a server binds. Ignored when BindAll is set.
	BindAddress string `yaml:"bind_address"`
	// BindAll binds every interface instead of BindAddress.
	BindAll bool `yaml:"bind_all"`
	// Port is the server port, and the port a client dials.
	Port int `yaml:"port"`
	// Channels lists delivery flag names; the index is the channel id.
	Channels []string `yaml:"channels"`
	// MaxPacketSize is the largest payload accepted in either direction.
	MaxPacketSize int `yaml:"max_packet_size"`
	// MaxPeers bounds simultaneously connected peers on a server.
	MaxPeers int `yaml:"max_peers"`
	// TimeoutBase enables custom peer timeouts when positive; peers time out
	// after TimeoutBase × TimeoutMultiplier of silence.
	TimeoutBase       time.Duration `yaml:"timeout_base"`
	TimeoutMultiplier int           `yaml:"timeout_multiplier"`
	// StatsInterval is how often engine counters are sampled. Zero disables sampling.
	StatsInterval time.Duration `yaml:"stats_interval"`
	// PollTimeout bounds one blocking engine poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// ReceiveInterval bounds one wait in Receive before the queue is rechecked.
	ReceiveInterval time.Duration `yaml:"receive_interval"`
	// Debug turns on debug logging.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		BindAddress:       DefaultBindAddress,
		Port:              DefaultPort,
		Channels:          []string{"reliable", "unreliable"},
		MaxPacketSize:     DefaultMaxPacketSize,
		MaxPeers:          DefaultMaxPeers,
		TimeoutMultiplier: DefaultTimeoutMultiplier,
		StatsInterval:     DefaultStatsInterval,
		PollTimeout:       DefaultPollTimeout,
		ReceiveInterval:   DefaultReceiveInterval,
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and that every channel name is known.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 0-65535", c.Port))
	}
	if !c.BindAll && c.BindAddress != "" && net.ParseIP(c.BindAddress) == nil {
		if _, err := net.LookupHost(c.BindAddress); err != nil {
			errs = append(errs, fmt.Errorf("bind address %q: %w", c.BindAddress, err))
		}
	}
	if _, err := channel.Parse(c.Channels); err != nil {
		errs = append(errs, fmt.Errorf("channels: %w", err))
	}
	if c.MaxPacketSize <= 0 {
		errs = append(errs, errors.New("max packet size must be positive"))
	}
	if c.MaxPeers < 1 || c.MaxPeers > DefaultMaxPeers {
		errs = append(errs, fmt.Errorf("max peers %d out of range 1-%d", c.MaxPeers, DefaultMaxPeers))
	}
	if c.TimeoutBase < 0 {
		errs = append(errs, errors.New("timeout base must not be negative"))
	}
	if c.TimeoutBase > 0 && c.TimeoutMultiplier < 1 {
		errs = append(errs, errors.New("timeout multiplier must be at least 1"))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, errors.New("stats interval must not be negative"))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, errors.New("poll timeout must be positive"))
	}
	if c.ReceiveInterval <= 0 {
		errs = append(errs, errors.New("receive interval must be positive"))
	}

	return errors.Join(errs...)
}

// Policy builds the channel policy described by Channels.
func (c Config) Policy() (*channel.Policy, error) {
	return channel.Parse(c.Channels)
}

// ListenAddress returns the address a server host binds.
func (c Config) ListenAddress() string {
	if c.BindAll {
		return ""
	}
	return c.BindAddress
}

// Timeouts returns the engine's minimum and maximum peer timeout, or zeros
// when custom timeouts are disabled.
func (c Config) Timeouts() (base, max time.Duration) {
	if c.TimeoutBase <= 0 {
		return 0, 0
	}
	return c.TimeoutBase, c.TimeoutBase * time.Duration(c.TimeoutMultiplier)
}

// HostConfig translates the configuration into an engine host description.
// listen selects a server host bound to the configured address and port;
// otherwise a client host on an ephemeral port is described.
func (c Config) HostConfig(policy *channel.Policy, listen bool) engine.HostConfig {
	base, max := c.Timeouts()
	hc := engine.HostConfig{
		Listen:        listen,
		MaxPeers:      1,
		Channels:      policy.Flags(),
		TimeoutBase:   base,
		TimeoutMax:    max,
		MaxPacketSize: c.MaxPacketSize,
	}
	if listen {
		hc.Address = c.ListenAddress()
		hc.Port = c.Port
		hc.MaxPeers = c.MaxPeers
	}
	return hc
}
