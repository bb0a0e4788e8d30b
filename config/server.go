package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/vinayprograms/failsafe/bus"
	"github.com/vinayprograms/failsafe/envelope"
	"github.com/vinayprograms/failsafe/heartbeat"
	"github.com/vinayprograms/failsafe/server"
	"github.com/vinayprograms/failsafe/telemetry"
)

// ServerConfig is the on-disk server configuration.
//
//	[listen]
//	host = "0.0.0.0"
//	ws_port = 8765
//	http_port = 8080
//
//	[identity]
//	key_file = "/etc/failsafe/server.key"
//	fingerprint = "0x1234ABCD"
//	passphrase_env = "FAILSAFE_PASSPHRASE"
//
//	[heartbeat]
//	interval = "5s"
type ServerConfig struct {
	Listen    ListenSection    `toml:"listen"`
	Identity  IdentitySection  `toml:"identity"`
	Heartbeat HeartbeatSection `toml:"heartbeat"`
	NATS      NATSSection      `toml:"nats"`
	Metrics   MetricsSection   `toml:"metrics"`
	Telemetry TelemetrySection `toml:"telemetry"`
	Logging   LoggingSection   `toml:"logging"`
}

// ListenSection names the listener addresses.
type ListenSection struct {
	Host     string `toml:"host"`
	WSPort   int    `toml:"ws_port"`
	HTTPPort int    `toml:"http_port"`
}

// IdentitySection locates the server signing key.
type IdentitySection struct {
	KeyFile string `toml:"key_file"`

	// Fingerprint selects a key inside an OpenPGP keyring.
	Fingerprint string `toml:"fingerprint"`

	// PassphraseEnv names the variable holding the key passphrase.
	PassphraseEnv string `toml:"passphrase_env"`
}

// HeartbeatSection configures emitters and command delivery.
type HeartbeatSection struct {
	Interval    Duration `toml:"interval"`
	SendTimeout Duration `toml:"send_timeout"`
	Header      string   `toml:"header"`
}

// NATSSection enables the bus command bridge when URL is set.
type NATSSection struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	Name    string `toml:"name"`
	Token   string `toml:"token"`
	User    string `toml:"user"`
	// Password is read from the file only; prefer Token.
	Password string `toml:"password"`

	// EventSubject prefixes client presence events. Empty disables them.
	EventSubject string `toml:"event_subject"`
}

// MetricsSection configures the Prometheus collector.
type MetricsSection struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen: ListenSection{
			Host:     "0.0.0.0",
			WSPort:   8765,
			HTTPPort: 8080,
		},
		Identity: IdentitySection{
			PassphraseEnv: DefaultPassphraseEnv,
		},
		Heartbeat: HeartbeatSection{
			Interval:    Duration(heartbeat.DefaultInterval),
			SendTimeout: Duration(server.DefaultConfig().SendTimeout),
			Header:      server.DefaultClientIDHeader,
		},
		NATS: NATSSection{
			Subject:      bus.DefaultCommandSubject,
			EventSubject: "failsafe.client",
			Name:         "failsafe-server",
		},
		Metrics: MetricsSection{
			Enabled:   true,
			Namespace: "failsafe",
		},
		Logging: LoggingSection{Level: "info"},
	}
}

// LoadServer reads path over the defaults. An empty path returns the
// defaults.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if !validPort(c.Listen.WSPort) {
		return fmt.Errorf("%w: listen.ws_port %d", ErrInvalid, c.Listen.WSPort)
	}
	if c.Listen.HTTPPort != 0 && !validPort(c.Listen.HTTPPort) {
		return fmt.Errorf("%w: listen.http_port %d", ErrInvalid, c.Listen.HTTPPort)
	}
	if c.Heartbeat.Interval < 0 || c.Heartbeat.SendTimeout < 0 {
		return fmt.Errorf("%w: negative heartbeat duration", ErrInvalid)
	}
	if c.NATS.URL != "" {
		if err := bus.ValidateSubject(c.NATS.Subject, true); err != nil {
			return fmt.Errorf("%w: nats.subject %q", ErrInvalid, c.NATS.Subject)
		}
		if c.NATS.EventSubject != "" {
			if err := bus.ValidateSubject(c.NATS.EventSubject, false); err != nil {
				return fmt.Errorf("%w: nats.event_subject %q", ErrInvalid, c.NATS.EventSubject)
			}
		}
	}
	return nil
}

// WSAddr is the websocket listen address.
func (c *ServerConfig) WSAddr() string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.WSPort))
}

// HTTPAddr is the operator API listen address, or "" when disabled.
func (c *ServerConfig) HTTPAddr() string {
	if c.Listen.HTTPPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.HTTPPort))
}

// Server returns the server package configuration.
func (c *ServerConfig) Server() server.Config {
	cfg := server.DefaultConfig()
	cfg.Header = c.Heartbeat.Header
	cfg.HeartbeatInterval = c.Heartbeat.Interval.Std()
	cfg.SendTimeout = c.Heartbeat.SendTimeout.Std()
	return cfg
}

// Bus returns the NATS configuration.
func (c *ServerConfig) Bus() bus.NATSConfig {
	cfg := bus.DefaultNATSConfig()
	cfg.URL = c.NATS.URL
	cfg.Name = c.NATS.Name
	cfg.Token = c.NATS.Token
	cfg.User = c.NATS.User
	cfg.Password = c.NATS.Password
	return cfg
}

// Tracing returns the telemetry provider configuration.
func (c *ServerConfig) Tracing(version string) telemetry.ProviderConfig {
	return c.Telemetry.provider("server", version)
}

// LoadSigner reads the identity key file and builds the signer. The key
// file must pass CheckKeyPermissions.
func (c *ServerConfig) LoadSigner() (envelope.Signer, error) {
	if c.Identity.KeyFile == "" {
		return nil, fmt.Errorf("%w: identity.key_file is required", ErrInvalid)
	}
	if err := CheckKeyPermissions(c.Identity.KeyFile); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.Identity.KeyFile)
	if err != nil {
		return nil, err
	}
	return envelope.ParseSigner(data, c.Identity.Fingerprint, Passphrase(c.Identity.PassphraseEnv))
}

func (t TelemetrySection) provider(role, version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    "failsafe-" + role,
		ServiceVersion: version,
		Role:           role,
		Endpoint:       t.Endpoint,
		Protocol:       t.Protocol,
		Insecure:       t.Insecure,
		Debug:          t.Debug,
		SampleRatio:    t.SampleRatio,
	}
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}
