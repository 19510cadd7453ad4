// Package logging writes sidebar activity as JSON lines.
package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (lv Level) rank() int {
	switch lv {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ParseLevel maps a config string to a Level. Unknown values fall back to info.
func ParseLevel(raw string) Level {
	switch lv := Level(strings.ToLower(strings.TrimSpace(raw))); lv {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return lv
	}
	return LevelInfo
}

// Category names the subsystem that emitted an event.
type Category string

const (
	CategorySidebar   Category = "sidebar"
	CategoryTransport Category = "transport"
	CategoryCache     Category = "cache"
	CategoryMetadata  Category = "metadata"
	CategoryServer    Category = "server"
	CategoryConfig    Category = "config"
)

// Event is one line of a log file.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Category   Category       `json:"category"`
	EventType  string         `json:"type"`
	InstanceID string         `json:"instance_id,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// output is shared by a logger and every child derived from it.
type output struct {
	mu       sync.Mutex
	primary  io.Writer
	errors   io.Writer
	owned    []io.Closer
	minLevel Level
}

func (o *output) write(ev Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ev.Level.rank() < o.minLevel.rank() || o.primary == nil {
		return nil
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode log event: %w", err)
	}
	line = append(line, '\n')

	if _, err := o.primary.Write(line); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}
	if ev.Level == LevelError && o.errors != nil {
		if _, err := o.errors.Write(line); err != nil {
			return fmt.Errorf("write error log: %w", err)
		}
	}
	return nil
}

// Logger stamps events with an instance and target before writing them.
// A nil *Logger discards everything.
type Logger struct {
	out        *output
	instanceID string
	targetID   string
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// NewLogger appends to <baseDir>/sessions/<instanceID>.jsonl and copies
// error events to <baseDir>/errors.jsonl.
func NewLogger(baseDir, instanceID string) (*Logger, error) {
	dir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	name := instanceID
	if name == "" {
		name = "sidebar"
	}
	session, err := openAppend(filepath.Join(dir, name+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	errLog, err := openAppend(filepath.Join(baseDir, "errors.jsonl"))
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("open error log: %w", err)
	}

	out := &output{
		primary:  session,
		errors:   errLog,
		owned:    []io.Closer{session, errLog},
		minLevel: LevelInfo,
	}
	return &Logger{out: out, instanceID: instanceID}, nil
}

// NewWriterLogger writes every event to w. Close does not close w.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{out: &output{primary: w, minLevel: LevelInfo}}
}

// ForInstance derives a logger that stamps events with the given ids.
func (l *Logger) ForInstance(instanceID, targetID string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.instanceID = instanceID
	child.targetID = targetID
	return &child
}

// SetMinLevel applies to this logger and every logger sharing its output.
func (l *Logger) SetMinLevel(level Level) {
	if l == nil || l.out == nil {
		return
	}
	l.out.mu.Lock()
	l.out.minLevel = level
	l.out.mu.Unlock()
}

func (l *Logger) Log(event Event) error {
	if l == nil || l.out == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.InstanceID == "" {
		event.InstanceID = l.instanceID
	}
	if event.TargetID == "" {
		event.TargetID = l.targetID
	}
	return l.out.write(event)
}

func (l *Logger) emit(level Level, category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     level,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) error {
	return l.emit(LevelDebug, category, eventType, message, details)
}

func (l *Logger) Info(category Category, eventType, message string, details map[string]any) error {
	return l.emit(LevelInfo, category, eventType, message, details)
}

func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) error {
	return l.emit(LevelWarn, category, eventType, message, details)
}

func (l *Logger) Error(category Category, eventType, message string, details map[string]any) error {
	return l.emit(LevelError, category, eventType, message, details)
}

// Close releases files opened by NewLogger. Children share those files,
// so close only the root logger. Later writes are discarded.
func (l *Logger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}
	o := l.out
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for _, c := range o.owned {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	o.owned = nil
	o.primary = nil
	o.errors = nil
	return errors.Join(errs...)
}

// ReadRecentEvents returns up to the last count events in a JSONL file.
// Lines that do not decode are skipped.
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if count <= 0 {
		return nil, nil
	}

	ring := make([]Event, 0, count)
	next := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var ev Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		if len(ring) < count {
			ring = append(ring, ev)
			continue
		}
		ring[next] = ev
		next = (next + 1) % count
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return append(ring[next:], ring[:next]...), nil
}
