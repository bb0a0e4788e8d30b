package config

import (
	"fmt"
	"net"
	"os"

	"github.com/vinayprograms/failsafe/client"
	"github.com/vinayprograms/failsafe/envelope"
	"github.com/vinayprograms/failsafe/telemetry"
)

// ClientConfig is the on-disk client configuration.
//
//	[server]
//	url = "ws://failsafe.internal:8765/"
//	client_id = "laptop-7"
//
//	[trust]
//	key_files = ["/etc/failsafe/server.pub"]
//
//	[[break_command]]
//	command = "lock"
//
//	[[break_command]]
//	command = "wipe"
//	args = { path = "/home/me/.secrets" }
type ClientConfig struct {
	Server        ServerSection         `toml:"server"`
	Trust         TrustSection          `toml:"trust"`
	Timing        TimingSection         `toml:"timing"`
	BreakCommands []client.BreakCommand `toml:"break_command"`
	Executor      ExecutorSection       `toml:"executor"`
	Metrics       ClientMetricsSection  `toml:"metrics"`
	Telemetry     TelemetrySection      `toml:"telemetry"`
	Logging       LoggingSection        `toml:"logging"`
}

// ServerSection names the server to connect to.
type ServerSection struct {
	URL      string `toml:"url"`
	ClientID string `toml:"client_id"`
	Header   string `toml:"header"`
}

// TrustSection lists the public key files the client accepts.
type TrustSection struct {
	KeyFiles []string `toml:"key_files"`
}

// TimingSection overrides protocol timing. Zero keeps the default.
type TimingSection struct {
	FailsafeTimeout Duration `toml:"failsafe_timeout"`
	CheckInterval   Duration `toml:"check_interval"`
	RecvTimeout     Duration `toml:"recv_timeout"`
	FreshnessWindow Duration `toml:"freshness_window"`
}

// ExecutorSection configures the shell command executor.
type ExecutorSection struct {
	// Shell runs each command as `shell -c "<command> <args>"`.
	Shell string `toml:"shell"`

	// DryRun logs commands without running them.
	DryRun bool `toml:"dry_run"`

	// Allow limits remote commands by name. Empty allows all. Break
	// commands are always allowed.
	Allow []string `toml:"allow"`

	Timeout Duration `toml:"timeout"`
}

// ClientMetricsSection exposes client metrics for scraping.
type ClientMetricsSection struct {
	// Listen is the /metrics address, such as "127.0.0.1:9101". Empty
	// disables metrics.
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() *ClientConfig {
	d := client.DefaultConfig()
	return &ClientConfig{
		Server: ServerSection{
			URL:    "ws://localhost:8765/",
			Header: d.Header,
		},
		Executor: ExecutorSection{Shell: "/bin/sh"},
		Metrics:  ClientMetricsSection{Namespace: "failsafe"},
		Logging:  LoggingSection{Level: "info"},
	}
}

// LoadClient reads path over the defaults. An empty path returns the
// defaults.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
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
func (c *ClientConfig) Validate() error {
	cc := c.Client()
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Executor.Timeout < 0 {
		return fmt.Errorf("%w: negative executor.timeout", ErrInvalid)
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("%w: metrics.listen %q", ErrInvalid, c.Metrics.Listen)
		}
	}
	return nil
}

// Client returns the client package configuration. RecvTimeout follows
// FailsafeTimeout unless set.
func (c *ClientConfig) Client() client.Config {
	cfg := client.DefaultConfig()
	cfg.ServerURL = c.Server.URL
	cfg.ClientID = c.Server.ClientID
	if c.Server.Header != "" {
		cfg.Header = c.Server.Header
	}
	if c.Timing.FailsafeTimeout != 0 {
		cfg.FailsafeTimeout = c.Timing.FailsafeTimeout.Std()
		cfg.RecvTimeout = 0
	}
	if c.Timing.CheckInterval != 0 {
		cfg.CheckInterval = c.Timing.CheckInterval.Std()
	}
	if c.Timing.RecvTimeout != 0 {
		cfg.RecvTimeout = c.Timing.RecvTimeout.Std()
	}
	if c.Timing.FreshnessWindow != 0 {
		cfg.FreshnessWindow = c.Timing.FreshnessWindow.Std()
	}
	cfg.BreakCommands = c.BreakCommands
	return cfg
}

// Tracing returns the telemetry provider configuration.
func (c *ClientConfig) Tracing(version string) telemetry.ProviderConfig {
	return c.Telemetry.provider("client", version)
}

// LoadVerifier reads every trusted key file.
func (c *ClientConfig) LoadVerifier() (*envelope.MultiVerifier, error) {
	if len(c.Trust.KeyFiles) == 0 {
		return nil, fmt.Errorf("%w: trust.key_files is required", ErrInvalid)
	}
	files := make([][]byte, 0, len(c.Trust.KeyFiles))
	for _, path := range c.Trust.KeyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, data)
	}
	return envelope.ParseVerifier(files...)
}
