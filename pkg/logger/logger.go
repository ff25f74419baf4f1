// Package logger provides component-tagged structured logging for budgetsim.
// It is a thin facade over zap so call sites stay short: every message names
// the component it came from, optionally with a field map.
package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	DEBUG = zapcore.DebugLevel
	INFO  = zapcore.InfoLevel
	WARN  = zapcore.WarnLevel
	ERROR = zapcore.ErrorLevel
)

var (
	level  = zap.NewAtomicLevelAt(INFO)
	active atomic.Pointer[zap.Logger]
)

func init() {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	active.Store(zap.New(core))
}

// SetLevel changes the minimum level for all subsequent log calls.
func SetLevel(l Level) {
	level.SetLevel(l)
}

// SetLogger replaces the backing logger. Tests use this to capture output.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	active.Store(l)
}

func log(l Level, component, msg string, fields map[string]interface{}) {
	zl := active.Load()
	if zl == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("component", component))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	switch l {
	case DEBUG:
		zl.Debug(msg, zf...)
	case WARN:
		zl.Warn(msg, zf...)
	case ERROR:
		zl.Error(msg, zf...)
	default:
		zl.Info(msg, zf...)
	}
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { log(DEBUG, component, msg, nil) }

// DebugCF logs a debug message with fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	log(DEBUG, component, msg, fields)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) { log(INFO, component, msg, nil) }

// InfoCF logs an info message with fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	log(INFO, component, msg, fields)
}

// WarnCF logs a warning with fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	log(WARN, component, msg, fields)
}

// ErrorCF logs an error with fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	log(ERROR, component, msg, fields)
}
