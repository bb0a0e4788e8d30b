package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vinayprograms/failsafe/bus"
	"github.com/vinayprograms/failsafe/config"
	"github.com/vinayprograms/failsafe/inject"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
	"github.com/vinayprograms/failsafe/server"
	"github.com/vinayprograms/failsafe/shutdown"
	"github.com/vinayprograms/failsafe/telemetry"
)

type serveFlags struct {
	configPath    string
	host          string
	wsPort        int
	httpPort      int
	keyFile       string
	fingerprint   string
	passphraseEnv string
	natsURL       string
	logLevel      string
}

func runServe(args []string) error {
	var f serveFlags
	fs := newFlagSet("serve", "[flags]")
	fs.StringVarP(&f.configPath, "config", "c", "", "server config file (default: first of the standard paths)")
	fs.StringVar(&f.host, "host", "", "listen host")
	fs.IntVar(&f.wsPort, "ws-port", 0, "websocket port for clients")
	fs.IntVar(&f.httpPort, "http-port", 0, "operator API port, 0 keeps the config value")
	fs.StringVar(&f.keyFile, "key-file", "", "signing key file")
	fs.StringVar(&f.fingerprint, "key-fingerprint", "", "fingerprint of the OpenPGP signing key")
	fs.StringVar(&f.passphraseEnv, "passphrase-env-var", "", "environment variable holding the key passphrase")
	fs.StringVar(&f.natsURL, "nats-url", "", "NATS server for the command bridge")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadServerConfig(fs, &f)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging.Level, f.logLevel)
	if err != nil {
		return err
	}
	return serve(cfg, logger)
}

// loadServerConfig reads the config file and applies the flags that were
// set explicitly.
func loadServerConfig(fs interface{ Changed(string) bool }, f *serveFlags) (*config.ServerConfig, error) {
	path := f.configPath
	if path == "" {
		path = config.Find("server")
	}
	cfg, err := config.LoadServer(path)
	if err != nil {
		return nil, err
	}

	if fs.Changed("host") {
		cfg.Listen.Host = f.host
	}
	if fs.Changed("ws-port") {
		cfg.Listen.WSPort = f.wsPort
	}
	if fs.Changed("http-port") {
		cfg.Listen.HTTPPort = f.httpPort
	}
	if fs.Changed("key-file") {
		cfg.Identity.KeyFile = f.keyFile
	}
	if fs.Changed("key-fingerprint") {
		cfg.Identity.Fingerprint = f.fingerprint
	}
	if fs.Changed("passphrase-env-var") {
		cfg.Identity.PassphraseEnv = f.passphraseEnv
	}
	if fs.Changed("nats-url") {
		cfg.NATS.URL = f.natsURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(cfg *config.ServerConfig, logger *logging.Logger) error {
	signer, err := cfg.LoadSigner()
	if err != nil {
		return err
	}
	logger.Info("signing key loaded", map[string]interface{}{
		"alg":         string(signer.Algorithm()),
		"fingerprint": signer.Fingerprint(),
	})

	coord, err := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         15 * time.Second,
		ContinueOnError: true,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithLogger(logger)}

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, server.WithMetrics(metrics.NewPrometheus(reg, cfg.Metrics.Namespace)))
		gatherer = reg
	}

	if tcfg := cfg.Tracing(version); tcfg.Enabled() {
		provider, err := telemetry.InitProvider(context.Background(), tcfg)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithTracer(provider.Tracer()))
		coord.RegisterFunc("tracing", shutdown.PhaseTelemetry, provider.Shutdown)
	}

	srv, err := server.New(cfg.Server(), signer, opts...)
	if err != nil {
		return err
	}
	coord.RegisterFunc("server", shutdown.PhaseSessions, func(ctx context.Context) error {
		return srv.Close()
	})
	coord.RegisterFunc("registry", shutdown.PhaseBackends, func(ctx context.Context) error {
		return srv.Registry().Close()
	})

	// Listener failures after startup end the process.
	fatal := make(chan error, 3)

	if err := listen(coord, "websocket", cfg.WSAddr(), srv.Handler(), logger, fatal); err != nil {
		return err
	}
	if addr := cfg.HTTPAddr(); addr != "" {
		api := inject.NewHTTPHandler(srv, inject.HTTPConfig{Gatherer: gatherer, Logger: logger})
		if err := listen(coord, "http", addr, api, logger, fatal); err != nil {
			_ = coord.ShutdownWithTimeout(0)
			return err
		}
	}

	if cfg.NATS.URL != "" {
		if err := startBridge(cfg, srv, coord, logger, fatal); err != nil {
			_ = coord.ShutdownWithTimeout(0)
			return err
		}
	}

	coord.HandleSignals()

	select {
	case <-coord.Done():
		return coord.Err()
	case err := <-fatal:
		logger.Error("serve failed", map[string]interface{}{"error": err.Error()})
		_ = coord.ShutdownWithTimeout(0)
		return &exitError{code: 1, err: err}
	}
}

// listen binds addr before returning so port conflicts surface at startup.
func listen(coord *shutdown.Coordinator, name, addr string, h http.Handler, logger *logging.Logger, fatal chan<- error) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	coord.RegisterFunc(name, shutdown.PhaseIngress, hs.Shutdown)

	logger.Info("listening", map[string]interface{}{"listener": name, "addr": ln.Addr().String()})
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal <- err
		}
	}()
	return nil
}

// startBridge connects to NATS, feeds bus requests to srv and publishes
// client presence events.
func startBridge(cfg *config.ServerConfig, srv *server.Server, coord *shutdown.Coordinator, logger *logging.Logger, fatal chan<- error) error {
	bcfg := cfg.Bus()
	bcfg.Logger = logger
	nb, err := bus.NewNATSBus(bcfg)
	if err != nil {
		return err
	}

	bridge, err := inject.NewBusBridge(nb, srv, inject.BridgeConfig{
		Subject: cfg.NATS.Subject,
		Timeout: cfg.Heartbeat.SendTimeout.Std() * 3,
		Logger:  logger,
	})
	if err != nil {
		nb.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	coord.RegisterFunc("bridge", shutdown.PhaseIngress, func(context.Context) error {
		cancel()
		return nil
	})
	coord.RegisterFunc("nats", shutdown.PhaseBackends, func(context.Context) error {
		return nb.Close()
	})

	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fatal <- err
		}
	}()

	if cfg.NATS.EventSubject != "" {
		events, err := inject.NewEventPublisher(nb, srv.Registry(), cfg.NATS.EventSubject, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := events.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("client events stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
	return nil
}
