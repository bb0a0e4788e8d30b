package inject

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/server"
)

// Dispatcher signs and delivers commands. *server.Server implements it.
type Dispatcher interface {
	SendCommand(ctx context.Context, command string, args map[string]any, target string) (*server.DispatchResult, error)
	Clients() []string
}

// CommandRequest is an operator's request to dispatch one command. An empty
// Target means every registered client.
type CommandRequest struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
	Target  string         `json:"target,omitempty"`
}

// ParseRequest decodes and validates a JSON command request.
func ParseRequest(data []byte) (*CommandRequest, error) {
	var req CommandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeInvalidInput, "request is not JSON")
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return nil, ferrors.InvalidInput("command is required")
	}
	return &req, nil
}

// Dispatch runs req against d.
func Dispatch(ctx context.Context, d Dispatcher, req *CommandRequest) (*server.DispatchResult, error) {
	return d.SendCommand(ctx, req.Command, req.Args, req.Target)
}

// Reply is published back to bus requesters.
type Reply struct {
	Result *server.DispatchResult `json:"result,omitempty"`
	Error  *ferrors.Error         `json:"error,omitempty"`
}

// StatusCode maps a dispatch error to an HTTP status.
func StatusCode(err error) int {
	switch ferrors.Code(err) {
	case ferrors.ErrCodeInvalidInput, ferrors.ErrCodeMalformed:
		return http.StatusBadRequest
	case ferrors.ErrCodeNotFound:
		return http.StatusNotFound
	case ferrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// asError returns err as a coded error for serialization.
func asError(err error) *ferrors.Error {
	var coded *ferrors.Error
	if errors.As(err, &coded) {
		return coded
	}
	return ferrors.Wrap(err, "dispatch failed")
}
