// Package logger is the component-scoped structured logger used across
// wabridge. Every call names the component that logged it ("api", "relay",
// "recovery", ...) and may attach a field map.
//
// Output goes to stderr as slog text. EnableFileLogging mirrors every
// record as JSON into a file, which is recreated on each start so a stale
// file from a crashed run never carries over.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Level mirrors slog levels so callers don't import log/slog for SetLevel.
type Level = slog.Level

const (
	DEBUG = slog.LevelDebug
	INFO  = slog.LevelInfo
	WARN  = slog.LevelWarn
	ERROR = slog.LevelError
)

var (
	mu      sync.RWMutex
	level   = new(slog.LevelVar)
	logFile *os.File
)

var console io.Writer = os.Stderr

var base = build()

func build() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(console, opts)}
	if logFile != nil {
		handlers = append(handlers, slog.NewJSONHandler(logFile, opts))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(fanout(handlers))
}

// SetLevel changes the minimum level for all outputs.
func SetLevel(l Level) {
	level.Set(l)
}

// ParseLevel maps "debug", "info", "warn" and "error" onto a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// SetOutput replaces the console writer. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = w
	base = build()
}

// EnableFileLogging deletes any existing file at path and starts mirroring
// records into a fresh one.
func EnableFileLogging(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	base = build()
	return nil
}

// DisableFileLogging closes the mirror file, if any.
func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	base = build()
}

func logMessage(l Level, component, message string, fields map[string]interface{}) {
	mu.RLock()
	lg := base
	mu.RUnlock()

	ctx := context.Background()
	if !lg.Enabled(ctx, l) {
		return
	}

	attrs := make([]any, 0, 2+2*len(fields))
	if component != "" {
		attrs = append(attrs, "component", component)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, fields[k])
	}
	lg.Log(ctx, l, message, attrs...)
}

func DebugC(component, message string) {
	logMessage(DEBUG, component, message, nil)
}

func InfoC(component, message string) {
	logMessage(INFO, component, message, nil)
}

func WarnC(component, message string) {
	logMessage(WARN, component, message, nil)
}

func ErrorC(component, message string) {
	logMessage(ERROR, component, message, nil)
}

func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (h fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (h fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, hh := range h {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
