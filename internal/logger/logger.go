package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name such as "info" or "WARN" into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %q", s)
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Format selects the line layout
type Format string

const (
	// FormatText writes "2006/01/02 15:04:05 [INFO] message key=value" lines
	FormatText Format = "text"
	// FormatJSON writes one JSON object per line
	FormatJSON Format = "json"
)

// Config holds logger configuration
type Config struct {
	// LogDir enables daily rotating files when non-empty
	LogDir        string
	Level         Level
	RetentionDays int
	Format        Format
	// Console receives every line in addition to the file. Nil disables it.
	Console io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = "."
	}

	return Config{
		LogDir:        filepath.Join(cacheDir, "camstream", "logs"),
		Level:         INFO,
		RetentionDays: 7,
		Format:        FormatText,
		Console:       os.Stderr,
	}
}

// core is shared between a Logger and everything derived from it with With
type core struct {
	mu            sync.RWMutex
	level         Level
	base          *logrus.Logger
	file          *os.File
	console       io.Writer
	logDir        string
	currentDay    string
	retentionDays int
}

// Logger writes leveled, printf-style messages through logrus
type Logger struct {
	core   *core
	fields logrus.Fields
}

// New creates a new logger
func New(config Config) (*Logger, error) {
	base := logrus.New()
	base.SetLevel(logrus.DebugLevel)
	if config.Format == FormatJSON {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		base.SetFormatter(&lineFormatter{})
	}

	c := &core{
		level:         config.Level,
		base:          base,
		console:       config.Console,
		logDir:        config.LogDir,
		retentionDays: config.RetentionDays,
	}

	if c.logDir == "" {
		c.setOutput()
		return &Logger{core: c}, nil
	}

	if err := c.rotateLog(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &Logger{core: c}, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	l, _ := New(Config{Level: ERROR})
	l.core.base.SetOutput(io.Discard)
	return l
}

// setOutput must be called with c.mu held for writing, or before c is shared
func (c *core) setOutput() {
	var writers []io.Writer
	if c.console != nil {
		writers = append(writers, c.console)
	}
	if c.file != nil {
		writers = append(writers, c.file)
	}

	switch len(writers) {
	case 0:
		c.base.SetOutput(io.Discard)
	case 1:
		c.base.SetOutput(writers[0])
	default:
		c.base.SetOutput(io.MultiWriter(writers...))
	}
}

// rotateLog rotates the log file if necessary
func (c *core) rotateLog() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := time.Now().Format("20060102")

	// Check if we need to rotate (new day)
	if c.currentDay == today && c.file != nil {
		return nil
	}

	if err := os.MkdirAll(c.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("camstream-%s.log", today)
	file, err := os.OpenFile(filepath.Join(c.logDir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	old := c.file
	c.file = file
	c.currentDay = today
	c.setOutput()
	if old != nil {
		old.Close()
	}

	if err := c.cleanOldLogs(); err != nil {
		c.base.Warnf("Failed to clean old logs: %v", err)
	}

	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (c *core) cleanOldLogs() error {
	if c.retentionDays <= 0 {
		return nil
	}
	cutoffDate := time.Now().AddDate(0, 0, -c.retentionDays)

	entries, err := os.ReadDir(c.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// Continue even if we can't delete a file
			_ = os.Remove(filepath.Join(c.logDir, entry.Name()))
		}
	}

	return nil
}

// checkRotation checks if log rotation is needed and performs it
func (c *core) checkRotation() {
	c.mu.RLock()
	currentDay := c.currentDay
	logDir := c.logDir
	c.mu.RUnlock()

	if logDir == "" {
		return
	}

	if currentDay != time.Now().Format("20060102") {
		if err := c.rotateLog(); err != nil {
			// Can't log this error since logging is failing
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}
}

// With returns a logger that attaches key=value to every line
func (l *Logger) With(key string, value interface{}) *Logger {
	fields := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{core: l.core, fields: fields}
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	c := l.core
	c.mu.RLock()
	enabled := c.level <= level
	c.mu.RUnlock()

	if !enabled {
		return
	}

	c.checkRotation()
	c.base.WithFields(l.fields).Logf(level.logrus(), format, v...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(DEBUG, format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(ERROR, format, v...)
}

// Close closes the log file
func (l *Logger) Close() error {
	c := l.core
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	c.currentDay = ""
	c.setOutput()
	return err
}

// lineFormatter keeps the "[LEVEL]" line layout of the file logs
type lineFormatter struct{}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format("2006/01/02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(levelName(entry.Level))
	b.WriteString("] ")
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return DEBUG.String()
	case logrus.InfoLevel:
		return INFO.String()
	case logrus.WarnLevel:
		return WARN.String()
	default:
		return ERROR.String()
	}
}
