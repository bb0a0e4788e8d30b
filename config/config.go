// Package config loads failsafe server and client configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPassphraseEnv names the variable holding the signing key passphrase.
const DefaultPassphraseEnv = "FAILSAFE_PASSPHRASE"

// Errors.
var (
	ErrInsecurePermissions = errors.New("key file has insecure permissions")
	ErrInvalid             = errors.New("invalid configuration")
)

// Duration is a time.Duration written as a string ("5s", "1m30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoggingSection configures log output.
type LoggingSection struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
}

// TelemetrySection configures OTLP tracing. Tracing is off without an
// endpoint.
type TelemetrySection struct {
	Endpoint    string  `toml:"endpoint"`
	Protocol    string  `toml:"protocol"`
	Insecure    bool    `toml:"insecure"`
	Debug       bool    `toml:"debug"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// StandardPaths returns config file locations for role ("server" or
// "client") in order of priority.
func StandardPaths(role string) []string {
	paths := []string{"failsafe-" + role + ".toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "failsafe", role+".toml"))
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, filepath.Join("/etc", "failsafe", role+".toml"))
	}
	return paths
}

// Find returns the first existing standard path for role, or "".
func Find(role string) string {
	for _, path := range StandardPaths(role) {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// decodeFile decodes path into v and rejects keys v does not define.
func decodeFile(path string, v any) error {
	md, err := toml.DecodeFile(path, v)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: %s: unknown key %q", ErrInvalid, path, undecoded[0].String())
	}
	return nil
}

// CheckKeyPermissions rejects key files readable or writable by group or
// others. Windows is not checked.
func CheckKeyPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o (must be 0600 or 0400)",
			ErrInsecurePermissions, path, mode)
	}
	return nil
}

// Passphrase reads the signing key passphrase from the named environment
// variable, or DefaultPassphraseEnv when name is empty. Unset yields nil.
func Passphrase(name string) []byte {
	if name == "" {
		name = DefaultPassphraseEnv
	}
	if v, ok := os.LookupEnv(name); ok {
		return []byte(v)
	}
	return nil
}
