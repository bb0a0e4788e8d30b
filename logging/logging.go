// Package logging provides leveled, line-oriented log output for the
// failsafe server and client.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string such as "debug" into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := levelPriority[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// sink is shared by a logger and every logger derived from it so that
// concurrent components never interleave partial lines.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes one line per entry:
// LEVEL TIMESTAMP [component] message key=value ...
type Logger struct {
	sink      *sink
	component string
	fields    map[string]interface{}
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		sink: &sink{output: os.Stdout, minLevel: LevelInfo},
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		sink: &sink{output: io.Discard, minLevel: LevelError},
	}
}

// WithComponent returns a logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, fields: l.fields}
}

// WithFields returns a logger that adds the given fields to every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, component: l.component, fields: merged}
}

// SetLevel sets the minimum log level for this logger and its derivatives.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	all := l.fields
	if len(fields) > 0 && fields[0] != nil {
		all = make(map[string]interface{}, len(l.fields)+len(fields[0]))
		for k, v := range l.fields {
			all[k] = v
		}
		for k, v := range fields[0] {
			all[k] = v
		}
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	fieldStr := formatFields(all)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.output.Write([]byte(line))
}

// --- Protocol event helpers ---

// ClientConnected logs a registered connection on the server.
func (l *Logger) ClientConnected(clientID, connID string, replaced bool) {
	l.Info("client_connected", map[string]interface{}{
		"client":   clientID,
		"conn":     connID,
		"replaced": replaced,
	})
}

// ClientDisconnected logs the end of a server-side connection handler.
func (l *Logger) ClientDisconnected(clientID, connID string, err error) {
	fields := map[string]interface{}{
		"client": clientID,
		"conn":   connID,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Info("client_disconnected", fields)
}

// HeartbeatSent logs a signed heartbeat leaving the server.
func (l *Logger) HeartbeatSent(clientID string, timestamp time.Time) {
	l.Debug("heartbeat_sent", map[string]interface{}{
		"client":    clientID,
		"timestamp": timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// MessageAccepted logs a verified, fresh inbound message on the client.
func (l *Logger) MessageAccepted(signer, command string) {
	fields := map[string]interface{}{"signer": signer}
	if command != "" {
		fields["command"] = command
	}
	l.Debug("message_accepted", fields)
}

// MessageRejected logs a dropped inbound message.
func (l *Logger) MessageRejected(reason string, err error) {
	l.Warn("message_rejected", map[string]interface{}{
		"reason": reason,
		"error":  err.Error(),
	})
}

// CommandDispatched logs the outcome of one server dispatch.
func (l *Logger) CommandDispatched(command string, delivered, failed int, duration time.Duration) {
	l.Info("command_dispatched", map[string]interface{}{
		"command":   command,
		"delivered": delivered,
		"failed":    failed,
		"duration":  duration.String(),
	})
}

// CommandFailed logs a failing application command handler.
func (l *Logger) CommandFailed(command string, err error) {
	l.Error("command_failed", map[string]interface{}{
		"command": command,
		"error":   err.Error(),
	})
}

// FailsafeTriggered logs the single failsafe execution of a session.
func (l *Logger) FailsafeTriggered(reason error, commands int) {
	l.Warn("failsafe_triggered", map[string]interface{}{
		"reason":   reason.Error(),
		"commands": commands,
	})
}

// SecurityWarning logs a security-relevant warning.
func (l *Logger) SecurityWarning(msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["security"] = true
	l.Warn(msg, fields)
}
