package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/failsafe/envelope"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/heartbeat"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
	"github.com/vinayprograms/failsafe/transport"
)

// call is one command seen by the recording executor.
type call struct {
	Command string
	Args    map[string]any
	At      time.Time
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	delay map[string]time.Duration
	seen  chan call
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		fail:  make(map[string]error),
		delay: make(map[string]time.Duration),
		seen:  make(chan call, 64),
	}
}

// ExecuteCommand records the call, then blocks for the command's delay or
// until ctx ends.
func (e *recordingExecutor) ExecuteCommand(ctx context.Context, command string, args map[string]any) error {
	c := call{Command: command, Args: args, At: time.Now()}
	e.mu.Lock()
	e.calls = append(e.calls, c)
	err := e.fail[command]
	d := e.delay[command]
	e.mu.Unlock()
	e.seen <- c

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (e *recordingExecutor) Calls() []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]call(nil), e.calls...)
}

func (e *recordingExecutor) Commands() []string {
	var out []string
	for _, c := range e.Calls() {
		out = append(out, c.Command)
	}
	return out
}

type recordingMetrics struct {
	*metrics.NopMetrics
	mu        sync.Mutex
	accepted  []string
	rejected  []string
	failsafes []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{NopMetrics: metrics.NewNop()}
}

func (m *recordingMetrics) RecordMessageAccepted(kind string) {
	m.mu.Lock()
	m.accepted = append(m.accepted, kind)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordMessageRejected(reason string) {
	m.mu.Lock()
	m.rejected = append(m.rejected, reason)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordFailsafe(reason string) {
	m.mu.Lock()
	m.failsafes = append(m.failsafes, reason)
	m.mu.Unlock()
}

func (m *recordingMetrics) snapshot() (accepted, rejected, failsafes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.accepted...),
		append([]string(nil), m.rejected...),
		append([]string(nil), m.failsafes...)
}

var testBreakCommands = []BreakCommand{
	{Command: "lock", Args: map[string]any{"screen": "all"}},
	{Command: "logout"},
	{Command: "wipe", Args: map[string]any{"path": "/tmp/secrets"}},
}

// fixture wires a client session to an in-memory pipe whose other end plays
// the server.
type fixture struct {
	signer   *envelope.Ed25519Signer
	client   *Client
	session  *Session
	server   *transport.PipeConn
	executor *recordingExecutor
	metrics  *recordingMetrics
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()

	signer, pub, err := envelope.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 error: %v", err)
	}
	ring := envelope.NewKeyring()
	if _, err := ring.AddEd25519(pub); err != nil {
		t.Fatalf("AddEd25519 error: %v", err)
	}

	exec := newRecordingExecutor()
	rec := newRecordingMetrics()
	opts = append([]Option{WithLogger(logging.Nop()), WithMetrics(rec)}, opts...)

	c, err := New(cfg, ring, exec, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	clientEnd, serverEnd := transport.Pipe(transport.DefaultConfig())
	s, err := c.NewSession(clientEnd)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	return &fixture{signer: signer, client: c, session: s, server: serverEnd, executor: exec, metrics: rec}
}

func (f *fixture) send(t *testing.T, p *envelope.Payload) {
	t.Helper()
	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	f.sendRaw(t, f.sign(t, data))
}

func (f *fixture) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	signed, err := f.signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	return signed
}

func (f *fixture) sendRaw(t *testing.T, raw []byte) {
	t.Helper()
	if err := f.server.Send(context.Background(), raw); err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

// run starts Session.Run and returns a channel carrying its result.
func (f *fixture) run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.session.Run(ctx) }()
	return done
}

func scaledConfig() Config {
	cfg := DefaultConfig()
	cfg.FailsafeTimeout = 150 * time.Millisecond
	cfg.CheckInterval = 10 * time.Millisecond
	cfg.RecvTimeout = 2 * time.Second
	cfg.BreakCommands = testBreakCommands
	return cfg
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Unit Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Header != "X-Client-ID" {
		t.Errorf("Header = %q", cfg.Header)
	}
	if cfg.FailsafeTimeout != 15*time.Second {
		t.Errorf("FailsafeTimeout = %v", cfg.FailsafeTimeout)
	}
	if cfg.CheckInterval != 5*time.Second {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if cfg.RecvTimeout != 20*time.Second {
		t.Errorf("RecvTimeout = %v", cfg.RecvTimeout)
	}
	if cfg.FreshnessWindow != 60*time.Second {
		t.Errorf("FreshnessWindow = %v", cfg.FreshnessWindow)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"ws url", func(c *Config) { c.ServerURL = "ws://localhost:8765/" }, false},
		{"wss url", func(c *Config) { c.ServerURL = "wss://example.com/hb" }, false},
		{"http url", func(c *Config) { c.ServerURL = "http://localhost:8765/" }, true},
		{"no host", func(c *Config) { c.ServerURL = "ws:///path" }, true},
		{"negative timeout", func(c *Config) { c.FailsafeTimeout = -time.Second }, true},
		{"negative window", func(c *Config) { c.FreshnessWindow = -time.Second }, true},
		{"empty break command", func(c *Config) { c.BreakCommands = []BreakCommand{{}} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_RecvTimeoutFollowsFailsafeTimeout(t *testing.T) {
	cfg := Config{FailsafeTimeout: time.Second}.withDefaults()
	if cfg.RecvTimeout != 6*time.Second {
		t.Errorf("RecvTimeout = %v, want 6s", cfg.RecvTimeout)
	}
}

func TestNew_RequiresVerifierAndExecutor(t *testing.T) {
	ring := envelope.NewKeyring()
	exec := newRecordingExecutor()

	if _, err := New(DefaultConfig(), nil, exec); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil verifier: err = %v", err)
	}
	if _, err := New(DefaultConfig(), ring, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil executor: err = %v", err)
	}
}

func TestNew_BreakCommandsCopied(t *testing.T) {
	cmds := []BreakCommand{{Command: "lock", Args: map[string]any{"a": 1}}}
	cfg := DefaultConfig()
	cfg.BreakCommands = cmds

	c, err := New(cfg, envelope.NewKeyring(), newRecordingExecutor(), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	cmds[0].Command = "changed"
	cmds[0].Args["a"] = 2

	got := c.Config().BreakCommands[0]
	if got.Command != "lock" || got.Args["a"] != 1 {
		t.Errorf("break command mutated through caller slice: %+v", got)
	}
}

func TestExecutorFunc(t *testing.T) {
	var got string
	f := ExecutorFunc(func(_ context.Context, command string, _ map[string]any) error {
		got = command
		return nil
	})
	if err := f.ExecuteCommand(context.Background(), "lock", nil); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	if got != "lock" {
		t.Errorf("got %q", got)
	}
}

func TestExecuteBreakCommands_FailureDoesNotStopSequence(t *testing.T) {
	f := newFixture(t, scaledConfig())
	f.executor.fail["lock"] = errors.New("no display")
	f.executor.fail["logout"] = errors.New("no session")

	f.session.ExecuteBreakCommands(context.Background())

	want := []string{"lock", "logout", "wipe"}
	if got := f.executor.Commands(); !equalStrings(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	calls := f.executor.Calls()
	if calls[2].Args["path"] != "/tmp/secrets" {
		t.Errorf("wipe args = %v", calls[2].Args)
	}
}

func TestExecuteBreakCommands_PanicDoesNotStopSequence(t *testing.T) {
	cfg := scaledConfig()
	var ran []string
	exec := ExecutorFunc(func(_ context.Context, command string, _ map[string]any) error {
		ran = append(ran, command)
		if command == "lock" {
			panic("boom")
		}
		return nil
	})

	c, err := New(cfg, envelope.NewKeyring(), exec, WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.ExecuteBreakCommands(context.Background())

	if !equalStrings(ran, []string{"lock", "logout", "wipe"}) {
		t.Errorf("ran = %v", ran)
	}
}

// --- Integration Tests ---

func TestSession_ThreeHeartbeatsThenSilence(t *testing.T) {
	f := newFixture(t, scaledConfig())
	done := f.run(context.Background())

	var last time.Time
	for i := 0; i < 3; i++ {
		last = time.Now()
		f.send(t, envelope.NewHeartbeat(last))
		time.Sleep(50 * time.Millisecond)
	}

	err := waitResult(t, done)
	if !ferrors.Is(err, ferrors.ErrCodeTimeoutExpired) {
		t.Fatalf("Run() error = %v, want TIMEOUT_EXPIRED", err)
	}

	calls := f.executor.Calls()
	want := []string{"lock", "logout", "wipe"}
	if got := f.executor.Commands(); !equalStrings(got, want) {
		t.Fatalf("failsafe commands = %v, want %v exactly once", got, want)
	}

	// The failsafe may not run before the timeout elapsed since the last
	// verified heartbeat.
	if elapsed := calls[0].At.Sub(last); elapsed < 150*time.Millisecond {
		t.Errorf("failsafe ran %v after last heartbeat, before the timeout", elapsed)
	}
	if elapsed := calls[0].At.Sub(last); elapsed > 2*time.Second {
		t.Errorf("failsafe ran %v after last heartbeat", elapsed)
	}

	accepted, rejected, failsafes := f.metrics.snapshot()
	if len(accepted) != 3 || len(rejected) != 0 {
		t.Errorf("accepted = %v, rejected = %v", accepted, rejected)
	}
	if !equalStrings(failsafes, []string{string(ferrors.ErrCodeTimeoutExpired)}) {
		t.Errorf("failsafes = %v", failsafes)
	}
	if f.session.State() != heartbeat.StateExpired {
		t.Errorf("State() = %v", f.session.State())
	}
}

func TestSession_RejectedMessagesDoNotResetClock(t *testing.T) {
	other, _, err := envelope.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 error: %v", err)
	}

	tests := []struct {
		name   string
		reason ferrors.ErrorCode
		frame  func(t *testing.T, f *fixture) []byte
	}{
		{
			name:   "untrusted signer",
			reason: ferrors.ErrCodeVerification,
			frame: func(t *testing.T, f *fixture) []byte {
				data, _ := envelope.NewHeartbeat(time.Now()).Marshal()
				signed, err := other.Sign(data)
				if err != nil {
					t.Fatalf("Sign error: %v", err)
				}
				return signed
			},
		},
		{
			name:   "not an envelope",
			reason: ferrors.ErrCodeVerification,
			frame: func(t *testing.T, f *fixture) []byte {
				return []byte(`{"timestamp":1}`)
			},
		},
		{
			name:   "malformed payload",
			reason: ferrors.ErrCodeMalformed,
			frame: func(t *testing.T, f *fixture) []byte {
				return f.sign(t, []byte("not json"))
			},
		},
		{
			name:   "stale timestamp",
			reason: ferrors.ErrCodeStale,
			frame: func(t *testing.T, f *fixture) []byte {
				data, _ := envelope.NewHeartbeat(time.Now().Add(-61 * time.Second)).Marshal()
				return f.sign(t, data)
			},
		},
		{
			name:   "future timestamp",
			reason: ferrors.ErrCodeStale,
			frame: func(t *testing.T, f *fixture) []byte {
				data, _ := envelope.NewHeartbeat(time.Now().Add(61 * time.Second)).Marshal()
				return f.sign(t, data)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, scaledConfig())
			start := f.session.LastVerified()
			done := f.run(context.Background())

			stop := make(chan struct{})
			go func() {
				ticker := time.NewTicker(20 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
						_ = f.server.Send(context.Background(), tt.frame(t, f))
					}
				}
			}()

			err := waitResult(t, done)
			close(stop)

			if !ferrors.Is(err, ferrors.ErrCodeTimeoutExpired) {
				t.Fatalf("Run() error = %v, want TIMEOUT_EXPIRED", err)
			}
			if !f.session.LastVerified().Equal(start) {
				t.Errorf("LastVerified moved from %v to %v", start, f.session.LastVerified())
			}
			if got := f.executor.Commands(); len(got) != 3 {
				t.Errorf("failsafe commands = %v", got)
			}

			accepted, rejected, _ := f.metrics.snapshot()
			if len(accepted) != 0 {
				t.Errorf("accepted = %v", accepted)
			}
			if len(rejected) == 0 {
				t.Fatal("no rejections recorded")
			}
			for _, r := range rejected {
				if r != string(tt.reason) {
					t.Errorf("rejection reason = %q, want %q", r, tt.reason)
				}
			}
		})
	}
}

func TestSession_ExecutesRemoteCommand(t *testing.T) {
	f := newFixture(t, scaledConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx)

	f.send(t, envelope.NewCommand(time.Now(), "lock", map[string]any{"reason": "drill"}))

	select {
	case c := <-f.executor.seen:
		if c.Command != "lock" || c.Args["reason"] != "drill" {
			t.Errorf("executed %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not executed")
	}

	cancel()
	if err := waitResult(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if got := f.executor.Commands(); len(got) != 1 {
		t.Errorf("commands = %v, want only the remote one", got)
	}
}

func TestSession_RemoteCommandFailureKeepsSession(t *testing.T) {
	f := newFixture(t, scaledConfig())
	f.executor.fail["reboot"] = errors.New("not permitted")
	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx)

	f.send(t, envelope.NewCommand(time.Now(), "reboot", nil))
	<-f.executor.seen
	f.send(t, envelope.NewHeartbeat(time.Now()))

	time.Sleep(50 * time.Millisecond)
	if f.session.State() != heartbeat.StateActive {
		t.Fatalf("State() = %v after failing command", f.session.State())
	}

	cancel()
	waitResult(t, done)
	accepted, _, _ := f.metrics.snapshot()
	if !equalStrings(accepted, []string{"command", "heartbeat"}) {
		t.Errorf("accepted = %v", accepted)
	}
}

func TestSession_SlowCommandDoesNotStarveHeartbeats(t *testing.T) {
	f := newFixture(t, scaledConfig())
	f.executor.delay["backup"] = 400 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx)

	f.send(t, envelope.NewCommand(time.Now(), "backup", nil))
	<-f.executor.seen

	// Heartbeats keep arriving well inside the timeout while backup runs
	// for longer than the timeout.
	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		f.send(t, envelope.NewHeartbeat(time.Now()))
		time.Sleep(50 * time.Millisecond)
	}

	if f.session.State() != heartbeat.StateActive {
		t.Fatalf("State() = %v while heartbeats were arriving (reason %v)", f.session.State(), f.session.Reason())
	}

	cancel()
	if err := waitResult(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if got := f.executor.Commands(); !equalStrings(got, []string{"backup"}) {
		t.Errorf("commands = %v, want only backup", got)
	}
	if _, _, failsafes := f.metrics.snapshot(); len(failsafes) != 0 {
		t.Errorf("failsafes = %v", failsafes)
	}
}

func TestSession_RemoteCommandsKeepOrder(t *testing.T) {
	f := newFixture(t, scaledConfig())
	f.executor.delay["first"] = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx)

	for _, cmd := range []string{"first", "second", "third"} {
		f.send(t, envelope.NewCommand(time.Now(), cmd, nil))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-f.executor.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("commands not executed")
		}
	}

	cancel()
	waitResult(t, done)
	if got := f.executor.Commands(); !equalStrings(got, []string{"first", "second", "third"}) {
		t.Errorf("commands = %v, want arrival order", got)
	}
}

func TestSession_FailsafeStopsQueuedCommands(t *testing.T) {
	f := newFixture(t, scaledConfig())
	f.executor.delay["backup"] = 2 * time.Second
	done := f.run(context.Background())

	// backup outlives the timeout; reboot waits behind it. No heartbeat
	// follows, so the failsafe fires while backup is running.
	f.send(t, envelope.NewCommand(time.Now(), "backup", nil))
	f.send(t, envelope.NewCommand(time.Now(), "reboot", nil))

	err := waitResult(t, done)
	if !ferrors.Is(err, ferrors.ErrCodeTimeoutExpired) {
		t.Fatalf("Run() error = %v, want TIMEOUT_EXPIRED", err)
	}

	want := []string{"backup", "lock", "logout", "wipe"}
	if got := f.executor.Commands(); !equalStrings(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestSession_PeerCloseRunsFailsafeOnce(t *testing.T) {
	f := newFixture(t, scaledConfig())
	done := f.run(context.Background())

	f.send(t, envelope.NewHeartbeat(time.Now()))
	f.server.Close()

	err := waitResult(t, done)
	if !ferrors.Is(err, ferrors.ErrCodePeerClosed) {
		t.Fatalf("Run() error = %v, want PEER_CLOSED", err)
	}

	// Let the watchdog tick past the timeout; it must not run again.
	time.Sleep(250 * time.Millisecond)
	if got := f.executor.Commands(); len(got) != 3 {
		t.Errorf("failsafe commands = %v, want one run", got)
	}
	if !ferrors.Is(f.session.Reason(), ferrors.ErrCodePeerClosed) {
		t.Errorf("Reason() = %v", f.session.Reason())
	}
}

func TestSession_TransportErrorRunsFailsafe(t *testing.T) {
	f := newFixture(t, scaledConfig())
	done := f.run(context.Background())

	f.server.CloseWithError(errors.New("connection reset"))

	err := waitResult(t, done)
	if !ferrors.Is(err, ferrors.ErrCodeConnection) {
		t.Fatalf("Run() error = %v, want CONNECTION_FAILED", err)
	}
	if got := f.executor.Commands(); len(got) != 3 {
		t.Errorf("failsafe commands = %v", got)
	}
}

func TestSession_ReceiveTimeout(t *testing.T) {
	cfg := scaledConfig()
	cfg.FailsafeTimeout = 10 * time.Second
	cfg.CheckInterval = 5 * time.Second
	cfg.RecvTimeout = 100 * time.Millisecond
	f := newFixture(t, cfg)

	err := waitResult(t, f.run(context.Background()))
	if !ferrors.Is(err, ferrors.ErrCodeTimeoutExpired) {
		t.Fatalf("Run() error = %v, want TIMEOUT_EXPIRED", err)
	}
	if got := ferrors.GetMetadata(err)["timeout"]; got != "100ms" {
		t.Errorf("timeout metadata = %q", got)
	}
	if got := f.executor.Commands(); len(got) != 3 {
		t.Errorf("failsafe commands = %v", got)
	}
}

func TestSession_CancelDisarms(t *testing.T) {
	f := newFixture(t, scaledConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx)

	f.send(t, envelope.NewHeartbeat(time.Now()))
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := waitResult(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	time.Sleep(250 * time.Millisecond)
	if got := f.executor.Commands(); len(got) != 0 {
		t.Errorf("failsafe ran after cancel: %v", got)
	}
	select {
	case <-f.server.Done():
	default:
		t.Error("connection not closed after cancel")
	}
}

func TestSession_Stop(t *testing.T) {
	f := newFixture(t, scaledConfig())
	done := f.run(context.Background())

	f.session.Stop()
	f.session.Stop()

	if err := waitResult(t, done); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if got := f.executor.Commands(); len(got) != 0 {
		t.Errorf("failsafe ran after Stop: %v", got)
	}
}

func TestSession_RunTwice(t *testing.T) {
	f := newFixture(t, scaledConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx)

	// An accepted heartbeat proves the first Run owns the session.
	f.send(t, envelope.NewHeartbeat(time.Now()))
	deadline := time.Now().Add(2 * time.Second)
	for {
		if accepted, _, _ := f.metrics.snapshot(); len(accepted) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat not accepted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.session.Run(ctx); !errors.Is(err, heartbeat.ErrAlreadyStarted) {
		t.Errorf("second Run() error = %v", err)
	}
	cancel()
	waitResult(t, done)
}

func TestClient_DialFailureRunsFailsafe(t *testing.T) {
	cfg := scaledConfig()
	cfg.ServerURL = "ws://127.0.0.1:1/"
	exec := newRecordingExecutor()

	dialErr := errors.New("connection refused")
	c, err := New(cfg, envelope.NewKeyring(), exec,
		WithLogger(logging.Nop()),
		WithDialer(func(context.Context, string, http.Header) (transport.Conn, error) {
			return nil, dialErr
		}),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	err = c.Run(context.Background())
	if !ferrors.Is(err, ferrors.ErrCodeConnection) {
		t.Fatalf("Run() error = %v, want CONNECTION_FAILED", err)
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("cause lost: %v", err)
	}
	if got := exec.Commands(); !equalStrings(got, []string{"lock", "logout", "wipe"}) {
		t.Errorf("failsafe commands = %v", got)
	}
}

func TestClient_ConnectPresentsClientID(t *testing.T) {
	cfg := scaledConfig()
	cfg.ServerURL = "ws://failsafe.test/"
	cfg.ClientID = "laptop-7"
	cfg.Header = "X-Device"

	var gotURL string
	var gotHeader http.Header
	clientEnd, _ := transport.Pipe(transport.DefaultConfig())

	c, err := New(cfg, envelope.NewKeyring(), newRecordingExecutor(),
		WithLogger(logging.Nop()),
		WithDialer(func(_ context.Context, url string, h http.Header) (transport.Conn, error) {
			gotURL, gotHeader = url, h
			return clientEnd, nil
		}),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer s.Stop()

	if gotURL != cfg.ServerURL {
		t.Errorf("url = %q", gotURL)
	}
	if got := gotHeader.Get("X-Device"); got != "laptop-7" {
		t.Errorf("header = %q", got)
	}
	if s.Conn() != clientEnd {
		t.Error("session not bound to dialed connection")
	}
}

func TestClient_WithClockDrivesFreshness(t *testing.T) {
	// A clock two minutes ahead makes a heartbeat stamped with real time
	// stale.
	skew := 2 * time.Minute
	f := newFixture(t, scaledConfig(), WithClock(func() time.Time { return time.Now().Add(skew) }))
	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx)

	f.send(t, envelope.NewHeartbeat(time.Now()))
	f.send(t, envelope.NewHeartbeat(time.Now().Add(skew)))
	time.Sleep(50 * time.Millisecond)
	cancel()
	waitResult(t, done)

	accepted, rejected, _ := f.metrics.snapshot()
	if len(accepted) != 1 || !equalStrings(rejected, []string{string(ferrors.ErrCodeStale)}) {
		t.Errorf("accepted = %v, rejected = %v", accepted, rejected)
	}
}
