package client

import "context"

// CommandExecutor runs commands on behalf of the embedding application.
// The client never interprets command names.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, command string, args map[string]any) error
}

// ExecutorFunc adapts a function to CommandExecutor.
type ExecutorFunc func(ctx context.Context, command string, args map[string]any) error

// ExecuteCommand implements CommandExecutor.
func (f ExecutorFunc) ExecuteCommand(ctx context.Context, command string, args map[string]any) error {
	return f(ctx, command, args)
}
