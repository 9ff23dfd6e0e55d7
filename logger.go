package qudicore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is one of the five qudi log levels named in spec §7. It is distinct
// from zapcore.Level because "critical" has no direct zap equivalent:
// Logger.Critical logs it at zap's error level with a CRITICAL marker and
// separately routes it to whatever shutdown hook the owning Application
// registered.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// CriticalHook is invoked whenever a Logger records a critical-level entry.
// Application wires this to its own orderly-shutdown sequence per spec §7:
// "critical additionally initiates orderly shutdown".
type CriticalHook func(namespace, msg string)

// Logger is the module-scoped, thread-safe logger handed to every module
// instance. Records cross threads through zap's own synchronized core; the
// "central queue" described in spec §5 is zap's core, not something this
// package reimplements.
type Logger struct {
	base      *zap.SugaredLogger
	namespace string
	onCritical CriticalHook
}

// NewLogger builds the process-wide root logger. logDir receives rotated
// plain-text session logs (spec §6: "Last 5 sessions of log output are
// rotated in a parallel log/ subdirectory"); debug enables debug-level
// console output.
func NewLogger(logDir string, debug bool) (*Logger, error) {
	if err := rotateSessionLogs(logDir, 5); err != nil {
		return nil, fmt.Errorf("rotate session logs: %w", err)
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stdout), level),
	}
	if logDir != "" {
		f, err := os.OpenFile(filepath.Join(logDir, "session-0.log"),
			os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open session log: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(f), zapcore.DebugLevel))
	}

	zl := zap.New(zapcore.NewTee(cores...))
	return &Logger{base: zl.Sugar(), namespace: "qudi"}, nil
}

// rotateSessionLogs shifts session-0..session-(keep-2) up by one, dropping
// the oldest, so a fresh session-0.log can be created for this run.
func rotateSessionLogs(logDir string, keep int) error {
	if logDir == "" {
		return nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	oldest := filepath.Join(logDir, fmt.Sprintf("session-%d.log", keep-1))
	_ = os.Remove(oldest)
	for i := keep - 2; i >= 0; i-- {
		src := filepath.Join(logDir, fmt.Sprintf("session-%d.log", i))
		dst := filepath.Join(logDir, fmt.Sprintf("session-%d.log", i+1))
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	return nil
}

// Named returns a logger scoped to the given module namespace, e.g. the
// module's name. Every record it emits carries a "module" field.
func (l *Logger) Named(namespace string) *Logger {
	return &Logger{
		base:       l.base.Named(namespace).With("module", namespace),
		namespace:  namespace,
		onCritical: l.onCritical,
	}
}

// WithCriticalHook returns a copy of the logger that invokes hook whenever a
// critical-level record is emitted.
func (l *Logger) WithCriticalHook(hook CriticalHook) *Logger {
	return &Logger{base: l.base, namespace: l.namespace, onCritical: hook}
}

func (l *Logger) Debug(msg string, args ...any)    { l.base.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.base.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.base.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.base.Errorw(msg, args...) }

// Critical logs at error level with a CRITICAL marker and fires the
// critical hook, if any, which per spec §7 "additionally initiates orderly
// shutdown". zap has no native "critical" level, so this deliberately does
// not use DPanicLevel (which panics in development builds); it logs at
// ErrorLevel and lets the hook drive the actual shutdown.
func (l *Logger) Critical(msg string, args ...any) {
	l.base.Errorw("CRITICAL: "+msg, args...)
	if l.onCritical != nil {
		l.onCritical(l.namespace, msg)
	}
}

// Exception logs err at error level with a timestamped, exception-style
// message, mirroring the teacher's `log.Error("...", "error", err)` idiom.
func (l *Logger) Exception(msg string, err error) {
	l.base.Errorw(msg, "error", err, "at", time.Now().Format(time.RFC3339))
}

func (l *Logger) Sync() error { return l.base.Sync() }
