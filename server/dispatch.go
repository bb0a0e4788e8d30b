package server

import (
	"context"
	"sync"

	"github.com/vinayprograms/failsafe/envelope"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/registry"
	"github.com/vinayprograms/failsafe/telemetry"
)

// DispatchResult summarizes one command dispatch.
type DispatchResult struct {
	Command   string          `json:"command"`
	Signer    string          `json:"signer"`
	Delivered []string        `json:"delivered"`
	Failed    []TargetFailure `json:"failed"`
}

// TargetFailure is one client the command could not be written to.
type TargetFailure struct {
	ClientID string `json:"client_id"`
	Error    string `json:"error"`

	err error
}

// Err returns the underlying send error.
func (f TargetFailure) Err() error {
	return f.err
}

// SendCommand signs one command payload and writes the identical bytes to
// target, or to every registered client when target is empty. A failure on
// one target is recorded in the result and does not affect the others.
//
// Errors:
//   - INVALID_INPUT: empty command or args that are not JSON
//   - NOT_FOUND: target is not registered
//   - SIGNING_FAILED: nothing was sent
func (s *Server) SendCommand(ctx context.Context, command string, args map[string]any, target string) (result *DispatchResult, err error) {
	ctx, span := s.tracer.StartDispatchSpan(ctx, command, target)
	start := s.now()
	defer func() {
		opts := telemetry.DispatchSpanOptions{Signer: s.signer.Fingerprint(), Args: args}
		if result != nil {
			opts.Targets = len(result.Delivered) + len(result.Failed)
			opts.Delivered = len(result.Delivered)
			opts.Failed = len(result.Failed)
		}
		s.tracer.EndDispatchSpan(span, opts, err)
	}()

	if command == "" {
		return nil, ferrors.InvalidInput("command is required")
	}

	targets, err := s.registry.Targets(target)
	if err != nil {
		return nil, ferrors.Wrap(err, "resolve dispatch target",
			ferrors.WithClientID(target), ferrors.WithCommand(command))
	}

	data, err := envelope.NewCommand(start, command, args).Marshal()
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeInvalidInput, "encode command payload",
			ferrors.WithCommand(command))
	}

	signed, err := s.signer.Sign(data)
	if err != nil {
		s.metrics.RecordSignFailure("command")
		s.logger.Error("command signing failed", map[string]interface{}{
			"command": command,
			"error":   err.Error(),
		})
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeSigning, "sign command",
			ferrors.WithCommand(command),
			ferrors.WithMetadata("signer", s.signer.Fingerprint()))
	}

	result = s.deliver(ctx, command, signed, targets)

	duration := s.now().Sub(start)
	s.metrics.RecordDispatch(len(result.Delivered), len(result.Failed), duration.Seconds())
	s.logger.CommandDispatched(command, len(result.Delivered), len(result.Failed), duration)
	return result, nil
}

// deliver writes signed to every target concurrently, each bounded by
// SendTimeout.
func (s *Server) deliver(ctx context.Context, command string, signed []byte, targets []registry.Target) *DispatchResult {
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t registry.Target) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
			defer cancel()
			errs[i] = t.Conn.Send(sendCtx, signed)
		}(i, t)
	}
	wg.Wait()

	result := &DispatchResult{
		Command:   command,
		Signer:    s.signer.Fingerprint(),
		Delivered: make([]string, 0, len(targets)),
		Failed:    make([]TargetFailure, 0),
	}
	for i, t := range targets {
		if errs[i] == nil {
			result.Delivered = append(result.Delivered, t.ClientID)
			continue
		}
		err := ferrors.Wrap(errs[i], "deliver command",
			ferrors.WithClientID(t.ClientID), ferrors.WithCommand(command))
		s.logger.Warn("command delivery failed", map[string]interface{}{
			"client":  t.ClientID,
			"conn":    t.Conn.ID(),
			"command": command,
			"error":   err.Error(),
		})
		result.Failed = append(result.Failed, TargetFailure{ClientID: t.ClientID, Error: err.Error(), err: err})
	}
	return result
}
