// Package logging provides structured logging for the CLI and the upload core.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/events"
)

// Logger wraps zerolog with console formatting, an optional rotating log file and
// forwarding of warnings and errors to an event bus.
type Logger struct {
	mu       sync.RWMutex
	zlog     zerolog.Logger
	eventBus *events.EventBus
	output   io.Writer          // current console writer
	file     *lumberjack.Logger // nil unless EnableFile was called
}

// NewLogger creates a logger writing human-readable lines to out.
// eventBus may be nil.
func NewLogger(out io.Writer, eventBus *events.EventBus) *Logger {
	l := &Logger{eventBus: eventBus}
	l.rebuild(out)
	return l
}

// Nop returns a logger that discards everything. Used by tests and library callers
// that do not configure logging.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop(), output: io.Discard}
}

func (l *Logger) rebuild(out io.Writer) {
	l.output = out
	var w io.Writer = zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    !isTerminal(out),
	}
	if l.file != nil {
		// The file gets plain JSON lines so it stays machine readable.
		w = zerolog.MultiLevelWriter(w, l.file)
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	if l.eventBus != nil {
		zl = zl.Hook(busHook{bus: l.eventBus})
	}
	l.zlog = zl
}

// EnableFile adds a rotating JSON log file at path.
func (l *Logger) EnableFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    constants.LogFileMaxSizeMB,
		MaxBackups: constants.LogFileMaxBackups,
		MaxAge:     constants.LogFileMaxAgeDays,
		Compress:   true,
	}
	l.rebuild(l.output)
	return nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.rebuild(l.output)
	return err
}

func (l *Logger) logger() *zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	zl := l.zlog
	return &zl
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.logger().Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.logger().Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.logger().Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.logger().Warn()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.logger().With()
}

// WithSession returns a copy of the logger that stamps every line with the session id.
func (l *Logger) WithSession(id string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		zlog:     l.zlog.With().Str("session", id).Logger(),
		eventBus: l.eventBus,
		output:   l.output,
		file:     l.file,
	}
}

// SetOutput changes the console writer for the logger.
// This is useful for redirecting logs through progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rebuild(w)
}

// Output returns the current console writer.
func (l *Logger) Output() io.Writer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
// This is only shown when debug/verbose mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger().Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger().Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger().Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger().Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// busHook mirrors warnings and errors onto the event bus as LogEvents.
type busHook struct {
	bus *events.EventBus
}

func (h busHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		h.bus.PublishLog(events.WarnLevel, msg, "", nil)
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		h.bus.PublishLog(events.ErrorLevel, msg, "", nil)
	}
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
