// Package logging provides categorized, config-driven logging for dqlfmt.
// Every subsystem logs through its own category so that noisy parts (the
// parser, the splice engine) can be switched off independently. Logging is
// backed by zap; until Initialize is called every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // CLI startup, config resolution
	CategoryParse     Category = "parse"     // tree-sitter front-end
	CategoryEmbed     Category = "embed"     // recognizer and splice engine
	CategoryFormatter Category = "formatter" // external formatter calls
	CategoryStore     Category = "store"     // formatter cache
	CategoryWorkspace Category = "workspace" // file discovery and the runner
	CategoryWatch     Category = "watch"     // filesystem watcher
)

// Options configures the logging backend.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means warn.
	Level string
	// JSON selects the JSON encoder instead of the console encoder.
	JSON bool
	// Categories enables or disables individual categories. Categories
	// not listed are enabled.
	Categories map[string]bool
	// Output defaults to stderr so stdout stays free for formatted source.
	Output zapcore.WriteSyncer
}

// Logger is a category logger with printf-style methods.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the zap backend from opts. It may be called again to
// reconfigure; existing category loggers are discarded.
func Initialize(opts Options) error {
	level := zapcore.WarnLevel
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = lvl
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	out := opts.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}
	InitializeWithCore(zapcore.NewCore(enc, out, level), opts.Categories)
	return nil
}

// InitializeWithCore installs an arbitrary zap core. Tests use it with an
// observer core.
func InitializeWithCore(core zapcore.Core, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = zap.New(core)
	categories = cats
	loggers = make(map[Category]*Logger)
}

// Reset restores the no-op backend.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	base = zap.NewNop()
	categories = nil
	loggers = make(map[Category]*Logger)
}

// SetRunID tags every subsequent log entry with run_id.
func SetRunID(id string) {
	mu.Lock()
	defer mu.Unlock()
	base = base.With(zap.String("run_id", id))
	loggers = make(map[Category]*Logger)
}

// Base returns the underlying zap logger.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries.
func Sync() error {
	return Base().Sync()
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabled(category)
}

func categoryEnabled(category Category) bool {
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
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
	l := &Logger{category: category}
	if categoryEnabled(category) {
		l.sugar = base.Named(string(category)).Sugar()
	}
	loggers[category] = l
	return l
}

// With returns a logger carrying additional structured fields.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// =============================================================================
// CATEGORY HELPERS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func ParseDebug(format string, args ...interface{}) { Get(CategoryParse).Debug(format, args...) }
func ParseWarn(format string, args ...interface{})  { Get(CategoryParse).Warn(format, args...) }

func Embed(format string, args ...interface{})      { Get(CategoryEmbed).Info(format, args...) }
func EmbedDebug(format string, args ...interface{}) { Get(CategoryEmbed).Debug(format, args...) }

func FormatterDebug(format string, args ...interface{}) {
	Get(CategoryFormatter).Debug(format, args...)
}
func FormatterWarn(format string, args ...interface{}) {
	Get(CategoryFormatter).Warn(format, args...)
}

func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }

func Workspace(format string, args ...interface{}) { Get(CategoryWorkspace).Info(format, args...) }
func WorkspaceDebug(format string, args ...interface{}) {
	Get(CategoryWorkspace).Debug(format, args...)
}
func WorkspaceWarn(format string, args ...interface{}) {
	Get(CategoryWorkspace).Warn(format, args...)
}
func WorkspaceError(format string, args ...interface{}) {
	Get(CategoryWorkspace).Error(format, args...)
}

func Watch(format string, args ...interface{})      { Get(CategoryWatch).Info(format, args...) }
func WatchDebug(format string, args ...interface{}) { Get(CategoryWatch).Debug(format, args...) }
func WatchError(format string, args ...interface{}) { Get(CategoryWatch).Error(format, args...) }

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures one operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
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
