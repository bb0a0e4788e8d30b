package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/failsafe/client"
	"github.com/vinayprograms/failsafe/config"
	"github.com/vinayprograms/failsafe/executor"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
	"github.com/vinayprograms/failsafe/shutdown"
	"github.com/vinayprograms/failsafe/telemetry"
)

// exitFailsafe is the exit code after the break commands ran.
const exitFailsafe = 3

type connectFlags struct {
	configPath      string
	serverURL       string
	clientID        string
	trust           []string
	failsafeTimeout time.Duration
	dryRun          bool
	metricsListen   string
	logLevel        string
}

func runConnect(args []string) error {
	var f connectFlags
	fs := newFlagSet("connect", "[flags]")
	fs.StringVarP(&f.configPath, "config", "c", "", "client config file (default: first of the standard paths)")
	fs.StringVar(&f.serverURL, "server-url", "", "server websocket URL, ws:// or wss://")
	fs.StringVar(&f.clientID, "client-id", "", "identity presented to the server")
	fs.StringSliceVar(&f.trust, "trust", nil, "trusted public key file, repeatable")
	fs.DurationVar(&f.failsafeTimeout, "failsafe-timeout", 0, "silence allowed before the break commands run")
	fs.BoolVar(&f.dryRun, "dry-run", false, "log commands instead of running them")
	fs.StringVar(&f.metricsListen, "metrics-listen", "", "serve /metrics on this address")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig(fs, &f)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging.Level, f.logLevel)
	if err != nil {
		return err
	}
	return connect(cfg, logger)
}

func loadClientConfig(fs interface{ Changed(string) bool }, f *connectFlags) (*config.ClientConfig, error) {
	path := f.configPath
	if path == "" {
		path = config.Find("client")
	}
	cfg, err := config.LoadClient(path)
	if err != nil {
		return nil, err
	}

	if fs.Changed("server-url") {
		cfg.Server.URL = f.serverURL
	}
	if fs.Changed("client-id") {
		cfg.Server.ClientID = f.clientID
	}
	if fs.Changed("trust") {
		cfg.Trust.KeyFiles = f.trust
	}
	if fs.Changed("failsafe-timeout") {
		cfg.Timing.FailsafeTimeout = config.Duration(f.failsafeTimeout)
	}
	if fs.Changed("dry-run") {
		cfg.Executor.DryRun = f.dryRun
	}
	if fs.Changed("metrics-listen") {
		cfg.Metrics.Listen = f.metricsListen
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// shellConfig builds the executor settings. A non-empty allow-list always
// admits the break commands.
func shellConfig(cfg *config.ClientConfig, logger *logging.Logger) executor.ShellConfig {
	allow := cfg.Executor.Allow
	if len(allow) > 0 {
		allow = append([]string(nil), allow...)
		for _, bc := range cfg.BreakCommands {
			allow = append(allow, bc.Command)
		}
	}
	return executor.ShellConfig{
		Shell:   cfg.Executor.Shell,
		DryRun:  cfg.Executor.DryRun,
		Allow:   allow,
		Timeout: cfg.Executor.Timeout.Std(),
		Logger:  logger,
	}
}

// warnUnrestricted reports an executor that will run any signed command
// through the shell. It returns true when it logged a warning.
func warnUnrestricted(cfg *config.ClientConfig, logger *logging.Logger) bool {
	if len(cfg.Executor.Allow) > 0 || cfg.Executor.DryRun {
		return false
	}
	logger.SecurityWarning("executor allow-list is empty; every signed command runs in the shell", map[string]interface{}{
		"shell": cfg.Executor.Shell,
	})
	return true
}

// clientMetrics returns the collector and its /metrics handler. Disabled
// metrics yield a no-op collector and a nil handler.
func clientMetrics(cfg *config.ClientConfig) (metrics.Collector, http.Handler) {
	if cfg.Metrics.Listen == "" {
		return metrics.NewNop(), nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return metrics.NewPrometheus(reg, cfg.Metrics.Namespace), r
}

func connect(cfg *config.ClientConfig, logger *logging.Logger) error {
	verifier, err := cfg.LoadVerifier()
	if err != nil {
		return err
	}

	coord, err := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         10 * time.Second,
		ContinueOnError: true,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	warnUnrestricted(cfg, logger)

	collector, metricsHandler := clientMetrics(cfg)
	if metricsHandler != nil {
		// A broken metrics listener must not take the failsafe down with it.
		listenErrs := make(chan error, 1)
		if err := listen(coord, "metrics", cfg.Metrics.Listen, metricsHandler, logger, listenErrs); err != nil {
			return err
		}
		go func() {
			select {
			case err := <-listenErrs:
				logger.Warn("metrics listener failed", map[string]interface{}{"error": err.Error()})
			case <-coord.Done():
			}
		}()
	}

	opts := []client.Option{client.WithLogger(logger), client.WithMetrics(collector)}
	if tcfg := cfg.Tracing(version); tcfg.Enabled() {
		provider, err := telemetry.InitProvider(context.Background(), tcfg)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithTracer(provider.Tracer()))
		coord.RegisterFunc("tracing", shutdown.PhaseTelemetry, provider.Shutdown)
	}

	c, err := client.New(cfg.Client(), verifier, executor.NewShell(shellConfig(cfg, logger)), opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runErr error
	finished := make(chan struct{})
	go func() {
		runErr = c.Run(ctx)
		close(finished)
	}()

	// Cancelling disarms the session, so a signal never runs the break
	// commands.
	coord.RegisterFunc("session", shutdown.PhaseSessions, func(sctx context.Context) error {
		cancel()
		select {
		case <-finished:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	})
	coord.HandleSignals()

	select {
	case <-coord.Done():
		return coord.Err()
	case <-finished:
	}

	if errors.Is(runErr, context.Canceled) {
		<-coord.Done()
		return coord.Err()
	}
	_ = coord.ShutdownWithTimeout(0)
	if runErr == nil {
		return nil
	}
	return &exitError{code: exitFailsafe, err: runErr}
}
