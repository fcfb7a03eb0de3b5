// Package logging provides config-driven categorized logging for testnerd.
// Each subsystem logs through its own category so noisy areas (checker scans,
// knowledge persistence) can be silenced independently. Output is produced by
// zap; when debug mode is off every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryChecker   Category = "checker"   // Local heuristic chain
	CategoryKnowledge Category = "knowledge" // Knowledge base matching and persistence
	CategoryActions   Category = "actions"   // Action handler registry and handlers
	CategoryExecutor  Category = "executor"  // Remediation plan walking
	CategoryCascade   Category = "cascade"   // Orchestrator rounds
	CategoryGateway   Category = "gateway"   // Remote analysis calls
	CategoryBrowser   Category = "browser"   // Browser automation, live state
	CategoryUnknowns  Category = "unknowns"  // Unknown-condition sink
)

// Config mirrors config.LoggingConfig to avoid circular imports.
type Config struct {
	DebugMode  bool
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // empty = stderr
	Categories map[string]bool // nil = all enabled
}

// Logger writes to a single category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	cfg     Config
	loggers = make(map[Category]*Logger)
	logFile *os.File
)

// Initialize builds the root zap logger from cfg. Calling it again replaces
// the previous configuration and drops cached category loggers.
func Initialize(c Config) error {
	if !c.DebugMode {
		install(zap.NewNop(), c, nil)
		return nil
	}

	level, err := zapcore.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if c.Format == "console" || c.Format == "text" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var (
		sink zapcore.WriteSyncer
		file *os.File
	)
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", c.File, err)
		}
		sink = zapcore.AddSync(file)
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	install(zap.New(zapcore.NewCore(enc, sink, level)), c, file)

	boot := Get(CategoryBoot)
	boot.Info("=== testnerd logging initialized ===")
	boot.Info("Log level: %s, format: %s", level, c.Format)
	if len(c.Categories) > 0 {
		enabled := 0
		for _, on := range c.Categories {
			if on {
				enabled++
			}
		}
		boot.Info("Enabled categories: %d/%d", enabled, len(c.Categories))
	}
	return nil
}

// InitializeWith installs an existing zap logger with every category enabled.
// The CLI uses it to share its own logger; tests use it with an observer core.
func InitializeWith(l *zap.Logger) {
	install(l, Config{DebugMode: true}, nil)
}

func install(l *zap.Logger, c Config, file *os.File) {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	if logFile != nil {
		_ = logFile.Close()
	}
	root = l
	cfg = c
	logFile = file
	loggers = make(map[Category]*Logger)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// StructuredLog writes a message with custom key-value fields.
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch level {
	case "debug":
		l.sugar.Debugw(msg, kv...)
	case "warn":
		l.sugar.Warnw(msg, kv...)
	case "error":
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// CloseAll flushes buffered output and closes the log file (call at shutdown)
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootWarn logs a warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// Checker logs to the checker category
func Checker(format string, args ...interface{}) { Get(CategoryChecker).Info(format, args...) }

// CheckerDebug logs debug to the checker category
func CheckerDebug(format string, args ...interface{}) { Get(CategoryChecker).Debug(format, args...) }

// CheckerWarn logs a warning to the checker category
func CheckerWarn(format string, args ...interface{}) { Get(CategoryChecker).Warn(format, args...) }

// Knowledge logs to the knowledge category
func Knowledge(format string, args ...interface{}) { Get(CategoryKnowledge).Info(format, args...) }

// KnowledgeDebug logs debug to the knowledge category
func KnowledgeDebug(format string, args ...interface{}) {
	Get(CategoryKnowledge).Debug(format, args...)
}

// KnowledgeError logs an error to the knowledge category
func KnowledgeError(format string, args ...interface{}) {
	Get(CategoryKnowledge).Error(format, args...)
}

// Actions logs to the actions category
func Actions(format string, args ...interface{}) { Get(CategoryActions).Info(format, args...) }

// ActionsDebug logs debug to the actions category
func ActionsDebug(format string, args ...interface{}) { Get(CategoryActions).Debug(format, args...) }

// Executor logs to the executor category
func Executor(format string, args ...interface{}) { Get(CategoryExecutor).Info(format, args...) }

// ExecutorDebug logs debug to the executor category
func ExecutorDebug(format string, args ...interface{}) { Get(CategoryExecutor).Debug(format, args...) }

// ExecutorWarn logs a warning to the executor category
func ExecutorWarn(format string, args ...interface{}) { Get(CategoryExecutor).Warn(format, args...) }

// Cascade logs to the cascade category
func Cascade(format string, args ...interface{}) { Get(CategoryCascade).Info(format, args...) }

// CascadeWarn logs a warning to the cascade category
func CascadeWarn(format string, args ...interface{}) { Get(CategoryCascade).Warn(format, args...) }

// CascadeError logs an error to the cascade category
func CascadeError(format string, args ...interface{}) { Get(CategoryCascade).Error(format, args...) }

// Gateway logs to the gateway category
func Gateway(format string, args ...interface{}) { Get(CategoryGateway).Info(format, args...) }

// GatewayError logs an error to the gateway category
func GatewayError(format string, args ...interface{}) { Get(CategoryGateway).Error(format, args...) }

// Browser logs to the browser category
func Browser(format string, args ...interface{}) { Get(CategoryBrowser).Info(format, args...) }

// BrowserDebug logs debug to the browser category
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }

// BrowserWarn logs a warning to the browser category
func BrowserWarn(format string, args ...interface{}) { Get(CategoryBrowser).Warn(format, args...) }

// Unknowns logs to the unknowns category
func Unknowns(format string, args ...interface{}) { Get(CategoryUnknowns).Info(format, args...) }

// UnknownsError logs an error to the unknowns category
func UnknownsError(format string, args ...interface{}) { Get(CategoryUnknowns).Error(format, args...) }

// =============================================================================
// REQUEST ID TRACING - correlates every log line of one cascade run
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	sugar *zap.SugaredLogger
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{sugar: Get(category).sugar.With("req", requestID)}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	return &RequestLogger{sugar: r.sugar.With(key, value)}
}

func (r *RequestLogger) Debug(format string, args ...interface{}) { r.sugar.Debugf(format, args...) }
func (r *RequestLogger) Info(format string, args ...interface{})  { r.sugar.Infof(format, args...) }
func (r *RequestLogger) Warn(format string, args ...interface{})  { r.sugar.Warnf(format, args...) }
func (r *RequestLogger) Error(format string, args ...interface{}) { r.sugar.Errorf(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
