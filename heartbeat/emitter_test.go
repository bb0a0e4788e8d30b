package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/failsafe/envelope"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
)

// recordingSink captures everything sent and can be told to fail.
type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	failAt int // 1-based send number that fails; 0 never
	ch     chan []byte
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan []byte, 64)}
}

func (s *recordingSink) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errors.New("peer gone")
	}
	s.frames = append(s.frames, data)
	s.ch <- data
	return nil
}

func (s *recordingSink) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

type failingSigner struct{}

func (failingSigner) Sign([]byte) ([]byte, error) {
	return nil, ferrors.Signing("key locked")
}
func (failingSigner) Fingerprint() string           { return "none" }
func (failingSigner) Algorithm() envelope.Algorithm { return envelope.AlgEd25519 }

func testSigner(t *testing.T) (*envelope.Ed25519Signer, *envelope.Keyring) {
	t.Helper()
	signer, pub, err := envelope.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 error: %v", err)
	}
	ring := envelope.NewKeyring()
	if _, err := ring.AddEd25519(pub); err != nil {
		t.Fatalf("AddEd25519 error: %v", err)
	}
	return signer, ring
}

// --- Unit Tests ---

func TestEmitterConfig_Validate(t *testing.T) {
	signer, _ := testSigner(t)
	tests := []struct {
		name    string
		cfg     EmitterConfig
		wantErr bool
	}{
		{name: "valid", cfg: EmitterConfig{Signer: signer, Sink: newRecordingSink()}},
		{name: "missing signer", cfg: EmitterConfig{Sink: newRecordingSink()}, wantErr: true},
		{name: "missing sink", cfg: EmitterConfig{Signer: signer}, wantErr: true},
		{name: "negative interval", cfg: EmitterConfig{Signer: signer, Sink: newRecordingSink(), Interval: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultEmitterConfig(t *testing.T) {
	if got := DefaultEmitterConfig().Interval; got != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", got)
	}
}

// --- Integration Tests ---

func TestEmitter_SendsSignedHeartbeats(t *testing.T) {
	signer, ring := testSigner(t)
	sink := newRecordingSink()

	em, err := NewEmitter(EmitterConfig{
		Signer:   signer,
		Sink:     sink,
		ClientID: "client-1",
		Interval: 20 * time.Millisecond,
		Logger:   logging.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEmitter error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- em.Run(ctx) }()

	// First heartbeat goes out immediately.
	select {
	case <-sink.ch:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("no immediate heartbeat")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-sink.ch:
		case <-time.After(time.Second):
			t.Fatal("missing periodic heartbeat")
		}
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	for i, frame := range sink.Frames() {
		v, err := ring.Verify(frame)
		if err != nil {
			t.Fatalf("frame %d: Verify error: %v", i, err)
		}
		p, err := envelope.ParsePayload(v.Payload)
		if err != nil {
			t.Fatalf("frame %d: ParsePayload error: %v", i, err)
		}
		if p.IsCommand() {
			t.Errorf("frame %d: heartbeat carries command %q", i, p.Command)
		}
		if err := envelope.CheckFresh(p, time.Now(), 0); err != nil {
			t.Errorf("frame %d: %v", i, err)
		}
	}
	if em.Sent() < 3 {
		t.Errorf("Sent = %d, want >= 3", em.Sent())
	}
}

func TestEmitter_SignFailureStops(t *testing.T) {
	sink := newRecordingSink()
	em, _ := NewEmitter(EmitterConfig{
		Signer:   failingSigner{},
		Sink:     sink,
		Interval: 10 * time.Millisecond,
		Logger:   logging.Nop(),
	})

	err := em.Run(context.Background())
	if !ferrors.Is(err, ferrors.ErrCodeSigning) {
		t.Fatalf("Run() = %v, want SIGNING_FAILED", err)
	}
	if len(sink.Frames()) != 0 {
		t.Error("nothing may be sent when signing fails")
	}
}

func TestEmitter_SendFailureStops(t *testing.T) {
	signer, _ := testSigner(t)
	sink := newRecordingSink()
	sink.failAt = 2

	em, _ := NewEmitter(EmitterConfig{
		Signer:   signer,
		Sink:     sink,
		Interval: 10 * time.Millisecond,
		Logger:   logging.Nop(),
	})

	done := make(chan error, 1)
	go func() { done <- em.Run(context.Background()) }()

	select {
	case err := <-done:
		if !ferrors.Is(err, ferrors.ErrCodeSendFailed) {
			t.Errorf("Run() = %v, want SEND_FAILED", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after send failure")
	}
	if em.Sent() != 1 {
		t.Errorf("Sent = %d, want 1", em.Sent())
	}
}

func TestEmitter_DoubleRun(t *testing.T) {
	signer, _ := testSigner(t)
	em, _ := NewEmitter(EmitterConfig{
		Signer:   signer,
		Sink:     newRecordingSink(),
		Interval: time.Hour,
		Logger:   logging.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go em.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := em.Run(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run() = %v, want ErrAlreadyStarted", err)
	}
}

func TestEmitter_CanceledBeforeStart(t *testing.T) {
	signer, _ := testSigner(t)
	sink := newRecordingSink()
	em, _ := NewEmitter(EmitterConfig{Signer: signer, Sink: sink, Logger: logging.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := em.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if len(sink.Frames()) != 0 {
		t.Error("canceled emitter sent a heartbeat")
	}
}

func BenchmarkEmitter_Emit(b *testing.B) {
	signer, _, _ := envelope.GenerateEd25519()
	em, _ := NewEmitter(EmitterConfig{Signer: signer, Sink: discardSink{}, Logger: logging.Nop()})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		em.emit(ctx)
	}
}

type discardSink struct{}

func (discardSink) Send(context.Context, []byte) error { return nil }
