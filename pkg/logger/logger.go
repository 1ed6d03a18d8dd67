package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level represents the severity of a log message
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var (
	timeColor   = color.New(color.FgHiBlack)
	prefixColor = color.New(color.FgCyan)
	fieldColor  = color.New(color.FgHiBlack)
	levelColors = map[Level]*color.Color{
		DebugLevel: color.New(color.FgHiBlack),
		InfoLevel:  color.New(color.FgGreen),
		WarnLevel:  color.New(color.FgYellow),
		ErrorLevel: color.New(color.FgRed),
		FatalLevel: color.New(color.FgRed, color.Bold),
	}
)

// Logger is the main logger interface
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithPrefix(prefix string) Logger
}

// sink is shared by a logger and every child derived from it, so that
// level and output changes apply to the whole tree.
type sink struct {
	mu       sync.Mutex
	level    Level
	writer   io.Writer
	file     io.Writer
	noColor  bool
	showTime bool
}

type logger struct {
	sink   *sink
	fields map[string]interface{}
	prefix string
}

var defaultLogger = New()

// Config holds logger configuration
type Config struct {
	Level    Level
	Writer   io.Writer
	NoColor  bool
	ShowTime bool
	// File receives an uncolored copy of every line when set.
	File io.Writer
}

// New creates a new logger with default configuration
func New() Logger {
	return NewWithConfig(Config{
		Level:    InfoLevel,
		Writer:   os.Stdout,
		ShowTime: true,
	})
}

// NewWithConfig creates a new logger with custom configuration
func NewWithConfig(cfg Config) Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return &logger{
		sink: &sink{
			level:    cfg.Level,
			writer:   w,
			file:     cfg.File,
			noColor:  cfg.NoColor,
			showTime: cfg.ShowTime,
		},
		fields: make(map[string]interface{}),
	}
}

// Default returns the package level logger
func Default() Logger { return defaultLogger }

func defaultSink() *sink {
	return defaultLogger.(*logger).sink
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	s := defaultSink()
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// SetNoColor disables color output
func SetNoColor(noColor bool) {
	s := defaultSink()
	s.mu.Lock()
	s.noColor = noColor
	s.mu.Unlock()
}

// SetOutput replaces the console writer of the default logger
func SetOutput(w io.Writer) {
	s := defaultSink()
	s.mu.Lock()
	s.writer = w
	s.mu.Unlock()
}

// Helper methods for the default logger
func Debug(args ...interface{})                       { defaultLogger.Debug(args...) }
func Debugf(format string, args ...interface{})       { defaultLogger.Debugf(format, args...) }
func Info(args ...interface{})                        { defaultLogger.Info(args...) }
func Infof(format string, args ...interface{})        { defaultLogger.Infof(format, args...) }
func Warn(args ...interface{})                        { defaultLogger.Warn(args...) }
func Warnf(format string, args ...interface{})        { defaultLogger.Warnf(format, args...) }
func Error(args ...interface{})                       { defaultLogger.Error(args...) }
func Errorf(format string, args ...interface{})       { defaultLogger.Errorf(format, args...) }
func Fatal(args ...interface{})                       { defaultLogger.Fatal(args...) }
func Fatalf(format string, args ...interface{})       { defaultLogger.Fatalf(format, args...) }
func WithField(key string, value interface{}) Logger  { return defaultLogger.WithField(key, value) }
func WithFields(fields map[string]interface{}) Logger { return defaultLogger.WithFields(fields) }
func WithPrefix(prefix string) Logger                 { return defaultLogger.WithPrefix(prefix) }

func (l *logger) log(level Level, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	if level < s.level {
		s.mu.Unlock()
		return
	}

	plain, colored := l.format(level, fmt.Sprint(args...), time.Now())
	if s.noColor {
		_, _ = fmt.Fprintln(s.writer, plain)
	} else {
		_, _ = fmt.Fprintln(s.writer, colored)
	}
	if s.file != nil {
		_, _ = fmt.Fprintln(s.file, plain)
	}
	s.mu.Unlock()

	if level == FatalLevel {
		os.Exit(1)
	}
}

// format renders the line twice: once plain for files and no-color
// terminals, once with color escapes.
func (l *logger) format(level Level, message string, now time.Time) (string, string) {
	var plain, colored []string

	if l.sink.showTime {
		ts := now.Format("15:04:05")
		plain = append(plain, ts)
		colored = append(colored, timeColor.Sprint(ts))
	}

	name := levelName(level)
	plain = append(plain, name)
	if c, ok := levelColors[level]; ok {
		colored = append(colored, c.Sprint(name))
	} else {
		colored = append(colored, name)
	}

	if l.prefix != "" {
		p := "[" + l.prefix + "]"
		plain = append(plain, p)
		colored = append(colored, prefixColor.Sprint(p))
	}

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
		}
		fields := strings.Join(parts, " ")
		plain = append(plain, fields)
		colored = append(colored, fieldColor.Sprint(fields))
	}

	plain = append(plain, message)
	colored = append(colored, message)
	return strings.Join(plain, " "), strings.Join(colored, " ")
}

func (l *logger) logf(level Level, format string, args ...interface{}) {
	l.log(level, fmt.Sprintf(format, args...))
}

func levelName(level Level) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO "
	case WarnLevel:
		return "WARN "
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l *logger) Debug(args ...interface{})                 { l.log(DebugLevel, args...) }
func (l *logger) Debugf(format string, args ...interface{}) { l.logf(DebugLevel, format, args...) }
func (l *logger) Info(args ...interface{})                  { l.log(InfoLevel, args...) }
func (l *logger) Infof(format string, args ...interface{})  { l.logf(InfoLevel, format, args...) }
func (l *logger) Warn(args ...interface{})                  { l.log(WarnLevel, args...) }
func (l *logger) Warnf(format string, args ...interface{})  { l.logf(WarnLevel, format, args...) }
func (l *logger) Error(args ...interface{})                 { l.log(ErrorLevel, args...) }
func (l *logger) Errorf(format string, args ...interface{}) { l.logf(ErrorLevel, format, args...) }
func (l *logger) Fatal(args ...interface{})                 { l.log(FatalLevel, args...) }
func (l *logger) Fatalf(format string, args ...interface{}) { l.logf(FatalLevel, format, args...) }

func (l *logger) derive(prefix string, extra map[string]interface{}) *logger {
	child := &logger{
		sink:   l.sink,
		fields: make(map[string]interface{}, len(l.fields)+len(extra)),
		prefix: prefix,
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range extra {
		child.fields[k] = v
	}
	return child
}

func (l *logger) WithField(key string, value interface{}) Logger {
	return l.derive(l.prefix, map[string]interface{}{key: value})
}

func (l *logger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(l.prefix, fields)
}

func (l *logger) WithPrefix(prefix string) Logger {
	return l.derive(prefix, nil)
}

// ParseLevel parses a string log level
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}
