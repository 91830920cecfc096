// Package logger provides leveled logging for the harvest CLI and daemon.
// Console output is human-readable and gated by --verbose; an optional
// rotated JSON file receives every entry at or above its configured level.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	file    *lumberjack.Logger
	fileLvl = log.InfoLevel
	current = build()
)

// FileOptions configures the rotated JSON log file.
type FileOptions struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetVerbose enables or disables verbose logging.
// Without it the console only shows warnings and errors.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	current = build()
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the console writer.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	current = build()
}

// SetFile enables the JSON log file. An empty path disables it.
func SetFile(opts FileOptions) error {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		_ = file.Close()
		file = nil
	}
	if opts.Path == "" {
		current = build()
		return nil
	}

	lvl := log.InfoLevel
	if opts.Level != "" {
		lvl = log.ParseLevel(opts.Level)
	}
	file = &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	fileLvl = lvl
	current = build()
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	current = build()
	return err
}

// L returns the structured logger for callers that attach fields,
// e.g. logger.L().Info().Str("run_id", id).Msg("chunk committed").
func L() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	L().Debug().Msgf(format, args...)
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	L().Info().Msgf(format, args...)
}

// Warn prints a warning message.
func Warn(format string, args ...any) {
	L().Warn().Msgf(format, args...)
}

// Error prints an error message.
func Error(format string, args ...any) {
	L().Error().Msgf(format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// build assembles the logger from the current settings (caller must hold lock).
func build() *log.Logger {
	consoleLvl := log.WarnLevel
	if verbose {
		consoleLvl = log.DebugLevel
	}

	writers := log.MultiEntryWriter{
		&levelWriter{min: consoleLvl, w: &log.ConsoleWriter{Writer: output, Formatter: formatConsole}},
	}
	lowest := consoleLvl
	if file != nil {
		writers = append(writers, &levelWriter{min: fileLvl, w: &log.IOWriter{Writer: file}})
		if fileLvl < lowest {
			lowest = fileLvl
		}
	}

	return &log.Logger{
		Level:      lowest,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Writer:     &writers,
	}
}

// levelWriter drops entries below min so each sink keeps its own level.
type levelWriter struct {
	min log.Level
	w   log.Writer
}

func (lw *levelWriter) WriteEntry(e *log.Entry) (int, error) {
	if e.Level < lw.min {
		return 0, nil
	}
	return lw.w.WriteEntry(e)
}

// formatConsole renders "[LEVEL] message key=value ..." lines.
func formatConsole(w io.Writer, a *log.FormatterArgs) (int, error) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(a.Level))
	b.WriteString("] ")
	b.WriteString(a.Message)
	for _, kv := range a.KeyValues {
		b.WriteString(" ")
		b.WriteString(kv.Key)
		b.WriteString("=")
		b.WriteString(kv.Value)
	}
	b.WriteString("\n")
	return io.WriteString(w, b.String())
}
