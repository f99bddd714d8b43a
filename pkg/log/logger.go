// Structured logging for the disaster manager
//
// Every component logs through a prefixed Logger obtained from GetLogger.
// Loggers derived from the same root share one output, so swapping the
// writer on the root (for a rotating file, or a buffer in tests) redirects
// all of them.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}

// String returns the string representation of the log level
func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a string into a LogLevel. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// output is shared by a logger and everything derived from it.
type output struct {
	mu         sync.Mutex
	w          io.Writer
	level      LogLevel
	timeFormat string
	colorize   bool
	format     OutputFormat
	caller     bool
}

// Logger writes leveled, prefixed records.
type Logger struct {
	prefix string
	fields Fields
	out    *output
}

// Entry is a pending record carrying fields.
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger

	ansiColors = map[LogLevel]string{
		DEBUG: "\x1b[36m",
		INFO:  "\x1b[32m",
		WARN:  "\x1b[33m",
		ERROR: "\x1b[31m",
	}
)

const ansiReset = "\x1b[0m"

// New creates a root logger writing text to stderr at INFO.
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		out: &output{
			w:          os.Stderr,
			level:      INFO,
			timeFormat: "2006-01-02 15:04:05.000",
			colorize:   os.Getenv("NO_COLOR") == "",
			format:     FormatText,
		},
	}
}

func (l *Logger) set(fn func(o *output)) {
	l.out.mu.Lock()
	fn(l.out)
	l.out.mu.Unlock()
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) { l.set(func(o *output) { o.level = level }) }

// SetWriter sets the output writer
func (l *Logger) SetWriter(w io.Writer) { l.set(func(o *output) { o.w = w }) }

// SetTimeFormat sets the text timestamp layout
func (l *Logger) SetTimeFormat(format string) { l.set(func(o *output) { o.timeFormat = format }) }

// SetColorize enables or disables ANSI colors on the prefix
func (l *Logger) SetColorize(enable bool) { l.set(func(o *output) { o.colorize = enable }) }

// SetFormat sets the output format
func (l *Logger) SetFormat(format OutputFormat) { l.set(func(o *output) { o.format = format }) }

// SetCaller enables file:line annotations
func (l *Logger) SetCaller(enable bool) { l.set(func(o *output) { o.caller = enable }) }

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level
}

// Enabled reports whether a record at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.GetLevel()
}

// Prefix returns the component name of the logger.
func (l *Logger) Prefix() string { return l.prefix }

// WithPrefix returns a logger for another component sharing this output.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix, fields: l.fields, out: l.out}
}

// With returns a logger that attaches fields to every record.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{prefix: l.prefix, fields: merge(l.fields, fields), out: l.out}
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: merge(nil, fields)}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", errString(err))
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.emit(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...interface{})  { l.emit(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.emit(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...interface{}) { l.emit(ERROR, msg, args, nil) }

// record is one formatted log line before encoding.
type record struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// emit is called from exactly one frame below the public method, so the
// caller of that method sits three frames above runtime.Caller here.
func (l *Logger) emit(level LogLevel, msg string, args []interface{}, fields Fields) {
	o := l.out
	o.mu.Lock()
	defer o.mu.Unlock()
	if level < o.level || o.w == nil {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	rec := record{Level: level.String(), Logger: l.prefix, Message: msg, Fields: merge(l.fields, fields)}
	if o.caller {
		rec.Caller = callerAt(3)
	}
	now := time.Now()
	var line string
	if o.format == FormatJSON {
		rec.Timestamp = now.Format(time.RFC3339Nano)
		line = encodeJSON(rec)
	} else {
		rec.Timestamp = now.Format(o.timeFormat)
		line = encodeText(rec, level, o.colorize)
	}
	io.WriteString(o.w, line)
}

func encodeText(rec record, level LogLevel, colorize bool) string {
	var sb strings.Builder
	sb.WriteString(rec.Timestamp)
	fmt.Fprintf(&sb, " [%-5s] ", rec.Level)
	if colorize {
		sb.WriteString(ansiColors[level])
		sb.WriteString(rec.Logger)
		sb.WriteString(ansiReset)
	} else {
		sb.WriteString(rec.Logger)
	}
	sb.WriteString(": ")
	sb.WriteString(rec.Message)
	if rec.Caller != "" {
		sb.WriteString(" (" + rec.Caller + ")")
	}
	if len(rec.Fields) > 0 {
		keys := make([]string, 0, len(rec.Fields))
		for k := range rec.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, rec.Fields[k])
		}
		sb.WriteString("}")
	}
	sb.WriteByte('\n')
	return sb.String()
}

func encodeJSON(rec record) string {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","message":"unencodable log record: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

func callerAt(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func merge(a, b Fields) Fields {
	if len(a)+len(b) == 0 {
		return nil
	}
	out := make(Fields, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: e.logger, fields: merge(e.fields, Fields{key: value})}
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{logger: e.logger, fields: merge(e.fields, fields)}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", errString(err))
}

func (e *Entry) Debug(msg string) { e.logger.emit(DEBUG, msg, nil, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.emit(INFO, msg, nil, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.emit(WARN, msg, nil, e.fields) }
func (e *Entry) Error(msg string) { e.logger.emit(ERROR, msg, nil, e.fields) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.emit(DEBUG, format, args, e.fields)
}

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.emit(INFO, format, args, e.fields)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.emit(WARN, format, args, e.fields)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.emit(ERROR, format, args, e.fields)
}

// SetDefaultLogger replaces the root used by GetLogger.
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// Default returns the root logger.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New("disaster")
		ConfigureFromEnv(defaultLogger)
	}
	return defaultLogger
}

// GetLogger returns a component logger sharing the default output.
func GetLogger(prefix string) *Logger {
	return Default().WithPrefix(prefix)
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - DISASTER_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - DISASTER_LOG_FORMAT: text, json
//   - DISASTER_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("DISASTER_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	if v := os.Getenv("DISASTER_LOG_FORMAT"); v != "" {
		l.SetFormat(ParseFormat(v))
	}
	if os.Getenv("DISASTER_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
