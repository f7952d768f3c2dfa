// Package logging provides category-scoped structured logging for queryloom.
// Every subsystem logs through a named zap logger; trace and tenant ids are
// attached by the observability context helpers so each line carries them.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"
	CategoryOrchestrator Category = "orchestrator"
	CategoryPipeline     Category = "pipeline"
	CategoryAdapter      Category = "adapter"
	CategorySchema       Category = "schema"
	CategoryIndex        Category = "index"
	CategoryEmbedding    Category = "embedding"
	CategoryArtifact     Category = "artifact"
	CategorySandbox      Category = "sandbox"
	CategoryPolicy       Category = "policy"
	CategoryRuntime      Category = "runtime"
	CategoryAgents       Category = "agents"
	CategoryEngine       Category = "engine"
	CategorySecrets      Category = "secrets"
)

// Config controls log output.
type Config struct {
	Level      string `json:"level" yaml:"level"`             // debug | info | warn | error
	JSONFormat bool   `json:"json_format" yaml:"json_format"` // JSON lines vs console
	// FilePath, when set, duplicates output to the file.
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Level: "info", JSONFormat: true}
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize sets up the root logger. Safe to call more than once; the last
// call wins. Without initialization, Get falls back to a no-op logger.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.JSONFormat {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(core)
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns (or creates) the sugared logger for a category.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	r := root
	mu.RUnlock()

	if r == nil {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Convenience wrappers for the hottest categories.

// Boot logs to the boot category at info level.
func Boot(format string, args ...any) { Get(CategoryBoot).Infof(format, args...) }

// Orchestrator logs to the orchestrator category at info level.
func Orchestrator(format string, args ...any) { Get(CategoryOrchestrator).Infof(format, args...) }

// Pipeline logs to the pipeline category at info level.
func Pipeline(format string, args ...any) { Get(CategoryPipeline).Infof(format, args...) }

// PipelineDebug logs to the pipeline category at debug level.
func PipelineDebug(format string, args ...any) { Get(CategoryPipeline).Debugf(format, args...) }

// Sandbox logs to the sandbox category at info level.
func Sandbox(format string, args ...any) { Get(CategorySandbox).Infof(format, args...) }

// Runtime logs to the runtime category at info level.
func Runtime(format string, args ...any) { Get(CategoryRuntime).Infof(format, args...) }
