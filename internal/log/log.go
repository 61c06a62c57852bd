// Package log writes leveled, categorized key=value lines for dyncomp.
// Nothing is written until Init or InitWithWriter runs; the CLI does that
// when --debug or DYNCOMP_DEBUG is set.
package log

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level orders log lines by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel accepts debug, info, warn/warning and error in any case.
// Anything else means LevelDebug.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelDebug
}

// Category names the subsystem a line comes from.
type Category string

const (
	CatRegistry Category = "registry"
	CatSchema   Category = "schema"
	CatBuild    Category = "build"
	CatInvoke   Category = "invoke"
	CatCommands Category = "commands" // serial executor
	CatConfig   Category = "config"
	CatAPI      Category = "api"
	CatJournal  Category = "journal"
	CatCache    Category = "cache"
	CatWatcher  Category = "watcher"
)

const timeLayout = "2006-01-02T15:04:05"

// Logger serializes lines onto one writer.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	closer  io.Closer
	min     Level
	enabled bool
	now     func() time.Time
}

var current atomic.Pointer[Logger]

func install(l *Logger) {
	if old := current.Swap(l); old != nil && old.closer != nil {
		_ = old.closer.Close()
	}
}

// Init routes logging to the file at path, appending to it. The returned
// function closes the file and disables logging.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: debug log path chosen by the user
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := &Logger{out: f, closer: f, enabled: true, now: time.Now}
	install(l)
	return func() {
		if current.CompareAndSwap(l, nil) {
			_ = f.Close()
		}
	}, nil
}

// InitWithWriter routes logging to w, dropping lines below minLevel.
func InitWithWriter(w io.Writer, minLevel Level) {
	install(&Logger{out: w, min: minLevel, enabled: true, now: time.Now})
}

// SetEnabled pauses or resumes output.
func SetEnabled(enabled bool) {
	if l := current.Load(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel drops lines below level.
func SetMinLevel(level Level) {
	if l := current.Load(); l != nil {
		l.mu.Lock()
		l.min = level
		l.mu.Unlock()
	}
}

func Debug(cat Category, msg string, fields ...any) { write(LevelDebug, cat, msg, fields) }

func Info(cat Category, msg string, fields ...any) { write(LevelInfo, cat, msg, fields) }

func Warn(cat Category, msg string, fields ...any) { write(LevelWarn, cat, msg, fields) }

func Error(cat Category, msg string, fields ...any) { write(LevelError, cat, msg, fields) }

// ErrorErr logs at error level with err appended as the "error" field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	text := "<nil>"
	if err != nil {
		text = err.Error()
	}
	write(LevelError, cat, msg, append(fields, "error", text))
}

func write(level Level, cat Category, msg string, fields []any) {
	l := current.Load()
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || level < l.min {
		return
	}
	_, _ = io.WriteString(l.out, format(l.now(), level, cat, msg, fields))
}

// format renders one line:
//
//	2026-03-01T12:00:00 [INFO] [build] instance created id=lbl1 type=Label
//
// Values containing spaces or quotes are quoted. A trailing key without a
// value is written as key=<missing>.
func format(at time.Time, level Level, cat Category, msg string, fields []any) string {
	var b strings.Builder
	b.WriteString(at.Format(timeLayout))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		b.WriteByte(' ')
		fmt.Fprint(&b, fields[i])
		b.WriteByte('=')
		if i+1 == len(fields) {
			b.WriteString("<missing>")
			break
		}
		b.WriteString(value(fields[i+1]))
	}
	b.WriteByte('\n')
	return b.String()
}

func value(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
