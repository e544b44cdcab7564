package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/rs/zerolog"
)

// Tag selects the stamp and colour of a console message
type Tag string

const (
	TagNone    Tag = "none"
	TagStatus  Tag = "status"
	TagDone    Tag = "done"
	TagFail    Tag = "fail"
	TagWarning Tag = "warning"
	TagLog     Tag = "log"
	TagCreate  Tag = "create"
)

var stamps = map[Tag]string{
	TagNone:    "",
	TagStatus:  "[%] ",
	TagDone:    "[V] ",
	TagFail:    "[X] ",
	TagWarning: "[!] ",
	TagLog:     "[$] ",
	TagCreate:  "[+] ",
}

// Config holds logger configuration options
type Config struct {
	// Console receives the stamped messages (defaults to os.Stdout)
	Console io.Writer
	// Color enables ANSI colours on the console
	Color bool
	// LogFile enables the structured debug log when not empty
	LogFile string
	// Level is the minimum level written to the structured log
	Level string
}

// Logger is the sink shared by the engines. It is safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	console io.Writer
	au      aurora.Aurora
	log     zerolog.Logger
	file    *os.File
}

// New creates a logger. The structured log is written to cfg.LogFile if set.
func New(cfg Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		console: console,
		au:      aurora.NewAurora(cfg.Color),
		log:     zerolog.Nop(),
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		l.log = zerolog.New(f).Level(level).With().Timestamp().Logger()
		l.log.Info().Msgf("--- debug log started at %s ---", time.Now().Format(time.RFC3339))
	}

	return l, nil
}

// Discard returns a logger that drops all output (useful for tests)
func Discard() *Logger {
	return &Logger{console: io.Discard, au: aurora.NewAurora(false), log: zerolog.Nop()}
}

// Close flushes and closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.log.Info().Msgf("--- debug log closed at %s ---", time.Now().Format(time.RFC3339))
		l.file.Close()
		l.file = nil
		l.log = zerolog.Nop()
	}
}

// Print writes a stamped message. When newline is set the message starts on
// a new line, otherwise it continues the current one after a space.
func (l *Logger) Print(tag Tag, message string, newline bool) {
	stamp, ok := stamps[tag]
	if !ok {
		stamp = ""
	}

	sep := " "
	if newline {
		sep = "\n"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.console, sep+l.colorize(tag, stamp+message))
	l.event(tag).Str("tag", string(tag)).Msg(message)
}

// Printf formats and prints a stamped message on a new line
func (l *Logger) Printf(tag Tag, format string, args ...interface{}) {
	l.Print(tag, fmt.Sprintf(format, args...), true)
}

// Debug writes to the structured log only
func (l *Logger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Debug().Msgf(format, args...)
}

// Warn writes a warning to the structured log only
func (l *Logger) Warn(err error, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Warn().Err(err).Msgf(format, args...)
}

// Error writes an error to the structured log only
func (l *Logger) Error(err error, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Error().Err(err).Msgf(format, args...)
}

func (l *Logger) event(tag Tag) *zerolog.Event {
	switch tag {
	case TagFail:
		return l.log.Error()
	case TagWarning:
		return l.log.Warn()
	case TagLog, TagNone:
		return l.log.Debug()
	default:
		return l.log.Info()
	}
}

func (l *Logger) colorize(tag Tag, s string) string {
	var v aurora.Value
	switch tag {
	case TagStatus:
		v = l.au.BrightMagenta(s)
	case TagDone:
		v = l.au.Green(s)
	case TagFail:
		v = l.au.Red(s)
	case TagWarning:
		v = l.au.Yellow(s)
	case TagLog:
		v = l.au.BrightBlack(s)
	case TagCreate:
		v = l.au.Cyan(s)
	default:
		return l.au.Bold(s).String()
	}
	return l.au.Bold(v).String()
}
