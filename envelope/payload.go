package envelope

import (
	"bytes"
	"encoding/json"
	"time"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// FreshnessWindow is the maximum distance between a payload timestamp and
// the receiver's clock. It is fixed and not negotiable per message.
const FreshnessWindow = 60 * time.Second

// Payload is the signed content of every message.
type Payload struct {
	// Timestamp is when the server produced the message (UTC).
	Timestamp time.Time

	// Command is empty for heartbeats.
	Command string

	// Args are the command arguments. Always present on the wire for
	// commands, absent for heartbeats.
	Args map[string]any
}

type wirePayload struct {
	Timestamp string          `json:"timestamp"`
	Command   string          `json:"command,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// NewHeartbeat builds a heartbeat payload stamped at now.
func NewHeartbeat(now time.Time) *Payload {
	return &Payload{Timestamp: now.UTC()}
}

// NewCommand builds a command payload stamped at now.
func NewCommand(now time.Time, command string, args map[string]any) *Payload {
	if args == nil {
		args = map[string]any{}
	}
	return &Payload{Timestamp: now.UTC(), Command: command, Args: args}
}

// IsCommand reports whether the payload carries a command.
func (p *Payload) IsCommand() bool {
	return p.Command != ""
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	w := wirePayload{
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339Nano),
		Command:   p.Command,
	}
	if p.Command != "" {
		args := p.Args
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		w.Args = raw
	}
	return json.Marshal(w)
}

// Marshal serializes the payload to the bytes that get signed.
func (p *Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// ParsePayload decodes verified payload bytes. The timestamp is required
// and must carry a zone offset; args, if present, must be an object.
func ParsePayload(data []byte) (*Payload, error) {
	var w wirePayload
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, ferrors.Malformed("payload is not a JSON object", ferrors.WithCause(err))
	}
	if w.Timestamp == "" {
		return nil, ferrors.Malformed("payload missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return nil, ferrors.Malformed("payload timestamp is not ISO-8601", ferrors.WithCause(err))
	}

	p := &Payload{Timestamp: ts.UTC(), Command: w.Command}
	if len(w.Args) > 0 && string(w.Args) != "null" {
		if err := json.Unmarshal(w.Args, &p.Args); err != nil {
			return nil, ferrors.Malformed("payload args must be an object", ferrors.WithCause(err))
		}
	}
	if p.Command != "" && p.Args == nil {
		p.Args = map[string]any{}
	}
	return p, nil
}

// CheckFresh accepts the payload iff |now - timestamp| < window.
// A non-positive window means FreshnessWindow.
func CheckFresh(p *Payload, now time.Time, window time.Duration) error {
	if window <= 0 {
		window = FreshnessWindow
	}
	skew := now.Sub(p.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew >= window {
		return ferrors.Stale("timestamp outside freshness window",
			ferrors.WithMetadata("skew", skew.String()),
			ferrors.WithMetadata("window", window.String()),
		)
	}
	return nil
}
