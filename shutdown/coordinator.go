package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/failsafe/logging"
)

// Coordinator runs registered handlers phase by phase. Handlers in the same
// phase run concurrently.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	err      error
	result   *Result
	done     chan struct{}
	signals  chan os.Signal
}

type registration struct {
	name    string
	handler Handler
	phase   int
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.DefaultPhase == 0 {
		cfg.DefaultPhase = d.DefaultPhase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}

	return &Coordinator{
		config:  cfg,
		logger:  logger.WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}, nil
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, h Handler) {
	c.RegisterWithPhase(name, h, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler in phase.
func (c *Coordinator) RegisterWithPhase(name string, h Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: h, phase: phase})
}

// RegisterFunc registers fn in phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.RegisterWithPhase(name, HandlerFunc(fn), phase)
}

// Shutdown runs every handler once. Later calls wait for the first to finish
// and return ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if !first {
		<-c.done
		return ErrAlreadyShutdown
	}
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or the configured
// timeout when zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-c.signals:
			c.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
			_ = c.ShutdownWithTimeout(c.config.Timeout)
		case <-c.done:
		}
		signal.Stop(c.signals)
	}()
}

// Done is closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns the per-handler outcome once Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	defer func() {
		result.TotalDuration = time.Since(start)
		c.result = result
	}()

	var failed []error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			result.Err = ErrTimeout
			return ErrTimeout
		}

		for _, hr := range c.runPhase(ctx, group) {
			result.Results = append(result.Results, hr)
			if hr.Err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
		if len(failed) > 0 && !c.config.ContinueOnError {
			break
		}
	}

	if len(failed) > 0 {
		result.Err = fmt.Errorf("%w: %w", ErrHandlerFailed, errors.Join(failed...))
	}
	return result.Err
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup

	for i, r := range group {
		wg.Add(1)
		go func(i int, r registration) {
			defer wg.Done()
			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			results[i] = HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{
				"handler":  r.name,
				"phase":    r.phase,
				"duration": results[i].Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Warn("handler failed", fields)
				return
			}
			c.logger.Debug("handler stopped", fields)
		}(i, r)
	}

	wg.Wait()
	return results
}

// groupByPhase splits handlers, already sorted by phase, into runs of the
// same phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
