// failsafe is a dead man's switch for remote machines.
//
// A server signs a heartbeat for every connected client at a fixed
// interval. A client that stops receiving verified heartbeats runs its
// configured break commands (lock the screen, unmount volumes, wipe keys).
//
// Subcommands:
//
//	failsafe serve    run the heartbeat server and operator API
//	failsafe connect  run a client against a server
//	failsafe keygen   generate a signing keypair
//	failsafe send     ask a server to dispatch a signed command
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/vinayprograms/failsafe/logging"
)

// version is set by the linker.
var version = "dev"

// exitError carries a process exit code out of a subcommand.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"serve", "run the heartbeat server and operator API", runServe},
	{"connect", "connect to a server and arm the failsafe", runConnect},
	{"keygen", "generate a signing keypair", runKeygen},
	{"send", "dispatch a signed command through a server", runSend},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return &exitError{code: 2, err: errors.New("no subcommand given")}
	}

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return nil
	case "--version", "version":
		fmt.Printf("failsafe %s\n", version)
		return nil
	}

	for _, c := range commands {
		if c.name == args[0] {
			return c.run(args[1:])
		}
	}
	printUsage()
	return &exitError{code: 2, err: fmt.Errorf("unknown subcommand %q", args[0])}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: failsafe <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'failsafe <command> --help' for command flags.\n")
}

// newFlagSet returns a flag set whose usage names the subcommand.
func newFlagSet(name, usage string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("failsafe "+name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: failsafe %s %s\n\nFlags:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// newLogger builds the process logger. flagLevel wins over the config file.
func newLogger(fileLevel, flagLevel string) (*logging.Logger, error) {
	level := fileLevel
	if flagLevel != "" {
		level = flagLevel
	}
	logger := logging.New()
	if level == "" {
		return logger, nil
	}
	l, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(l)
	return logger, nil
}
