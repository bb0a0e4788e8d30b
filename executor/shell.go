// Package executor provides command executors for the failsafe client.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
)

// DefaultTimeout bounds one command when the caller sets no deadline.
const DefaultTimeout = 5 * time.Minute

// ShellConfig configures a Shell executor.
type ShellConfig struct {
	// Shell runs each command as `Shell -c <command>`.
	// Default: /bin/sh
	Shell string

	// DryRun logs commands without running them.
	DryRun bool

	// Allow limits commands by name. Empty allows all: any command the
	// server signs runs as `Shell -c <command>` with no further check, so
	// leave it empty only when the signing key is as trusted as a root
	// shell on this machine.
	Allow []string

	// Timeout per command.
	// Default: 5 minutes
	Timeout time.Duration

	// Dir is the working directory. Empty uses the current one.
	Dir string

	Logger *logging.Logger
}

// Shell runs commands through a shell. Args reach the process as
// environment variables: FAILSAFE_ARGS holds the JSON object and each
// scalar arg is also set as FAILSAFE_ARG_<KEY>.
type Shell struct {
	shell   string
	dryRun  bool
	allow   map[string]bool
	timeout time.Duration
	dir     string
	logger  *logging.Logger
}

// NewShell creates a shell executor.
func NewShell(cfg ShellConfig) *Shell {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}

	var allow map[string]bool
	if len(cfg.Allow) > 0 {
		allow = make(map[string]bool, len(cfg.Allow))
		for _, name := range cfg.Allow {
			allow[name] = true
		}
	}

	return &Shell{
		shell:   cfg.Shell,
		dryRun:  cfg.DryRun,
		allow:   allow,
		timeout: cfg.Timeout,
		dir:     cfg.Dir,
		logger:  logger.WithComponent("executor"),
	}
}

// ExecuteCommand implements client.CommandExecutor.
func (s *Shell) ExecuteCommand(ctx context.Context, command string, args map[string]any) error {
	if s.allow != nil && !s.allow[command] {
		s.logger.SecurityWarning("command not allowed", map[string]interface{}{"command": command})
		return ferrors.New(ferrors.ErrCodeInvalidInput, "command not allowed", ferrors.WithCommand(command))
	}

	env, err := argsEnv(args)
	if err != nil {
		return ferrors.WrapWithCode(err, ferrors.ErrCodeInvalidInput, "encode args", ferrors.WithCommand(command))
	}

	if s.dryRun {
		s.logger.Info("dry run", map[string]interface{}{
			"command": command,
			"args":    env[0],
		})
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = time.Second

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	fields := map[string]interface{}{
		"command":  command,
		"duration": time.Since(start).String(),
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		fields["stdout"] = truncate(out, 512)
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ferrors.New(ferrors.ErrCodeTimeout, "command timed out",
				ferrors.WithCommand(command),
				ferrors.WithMetadata("timeout", s.timeout.String()))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ferrors.New(ferrors.ErrCodeCommand, fmt.Sprintf("exit status %d", exitErr.ExitCode()),
				ferrors.WithCommand(command),
				ferrors.WithMetadata("stderr", truncate(strings.TrimSpace(stderr.String()), 512)))
		}
		return ferrors.WrapWithCode(err, ferrors.ErrCodeCommand, "start command", ferrors.WithCommand(command))
	}

	s.logger.Info("command executed", fields)
	return nil
}

// argsEnv renders args as environment entries. The first entry is always
// FAILSAFE_ARGS.
func argsEnv(args map[string]any) ([]string, error) {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	env := []string{"FAILSAFE_ARGS=" + string(data)}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := envName(k)
		if name == "" {
			continue
		}
		switch v := args[k].(type) {
		case string:
			env = append(env, "FAILSAFE_ARG_"+name+"="+v)
		case bool, float64, int, int64:
			env = append(env, fmt.Sprintf("FAILSAFE_ARG_%s=%v", name, v))
		}
	}
	return env, nil
}

// envName upper-cases k and maps anything outside [A-Z0-9_] to '_'.
func envName(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
