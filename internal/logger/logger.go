// Package logger writes leveled, module-tagged log lines:
//
//	2026/01/02 15:04:05.000000 [INFO] [Engine] History reset after 12 frames
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel is the severity of a message.
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // suppresses everything
)

const (
	timeLayout = "2006/01/02 15:04:05.000000"
	resetColor = "\033[0m"
)

var levels = [...]struct {
	name  string
	color string
}{
	DEBUG:  {"DEBUG", "\033[36m"},
	INFO:   {"INFO", "\033[32m"},
	WARN:   {"WARN", "\033[33m"},
	ERROR:  {"ERROR", "\033[31m"},
	SILENT: {"SILENT", ""},
}

// String returns the level name, e.g. "WARN".
func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levels) {
		return "UNKNOWN"
	}
	return levels[l].name
}

// ParseLevel parses a level name case-insensitively. The empty string is INFO.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none", "off":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

// Logger writes lines at or above its level to one writer.
type Logger struct {
	level atomic.Int32
	color bool
	now   func() time.Time

	mu  sync.Mutex
	out io.Writer
	buf []byte
}

// New returns a Logger writing to output, or stderr when output is nil.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	l := &Logger{color: useColor, now: time.Now, out: output}
	l.level.Store(int32(level))
	return l
}

// SetLevel changes the minimum level written.
func (l *Logger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

// GetLevel returns the minimum level written.
func (l *Logger) GetLevel() LogLevel { return LogLevel(l.level.Load()) }

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level < SILENT && level >= l.GetLevel()
}

func (l *Logger) write(level LogLevel, module, format string, args []any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.now().AppendFormat(l.buf[:0], timeLayout)
	b = append(b, ' ')
	if l.color {
		b = append(b, levels[level].color...)
	}
	b = append(b, '[')
	b = append(b, levels[level].name...)
	b = append(b, ']')
	if l.color {
		b = append(b, resetColor...)
	}
	if module != "" {
		b = append(b, " ["...)
		b = append(b, module...)
		b = append(b, ']')
	}
	b = append(b, ' ')
	b = append(b, strings.TrimSuffix(msg, "\n")...)
	b = append(b, '\n')
	l.buf = b
	_, _ = l.out.Write(b)
}

func (l *Logger) Debug(module, format string, args ...any) { l.write(DEBUG, module, format, args) }
func (l *Logger) Info(module, format string, args ...any)  { l.write(INFO, module, format, args) }
func (l *Logger) Warn(module, format string, args ...any)  { l.write(WARN, module, format, args) }
func (l *Logger) Error(module, format string, args ...any) { l.write(ERROR, module, format, args) }

var std atomic.Pointer[Logger]

// Init installs the process-wide logger. Until Init runs the package-level
// functions discard their messages. Only the first call takes effect.
func Init(level LogLevel, output io.Writer, useColor bool) {
	std.CompareAndSwap(nil, New(level, output, useColor))
}

// SetLevel changes the process-wide level.
func SetLevel(level LogLevel) {
	if l := std.Load(); l != nil {
		l.SetLevel(level)
	}
}

// GetLevel returns the process-wide level, INFO before Init.
func GetLevel() LogLevel {
	if l := std.Load(); l != nil {
		return l.GetLevel()
	}
	return INFO
}

// Enabled reports whether the process-wide logger writes level.
func Enabled(level LogLevel) bool {
	l := std.Load()
	return l != nil && l.Enabled(level)
}

func logStd(level LogLevel, module, format string, args []any) {
	if l := std.Load(); l != nil {
		l.write(level, module, format, args)
	}
}

func Debug(module, format string, args ...any) { logStd(DEBUG, module, format, args) }
func Info(module, format string, args ...any)  { logStd(INFO, module, format, args) }
func Warn(module, format string, args ...any)  { logStd(WARN, module, format, args) }
func Error(module, format string, args ...any) { logStd(ERROR, module, format, args) }
