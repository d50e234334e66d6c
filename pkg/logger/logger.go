// Package logger provides the engine's structured logging sink: a zap
// sugared logger backed by a lumberjack rotating file writer, with the
// session's own call-site scope (component name) carried as a field on
// every line so the on-disk JSONL reads the same way the rollout does.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log levels. Kept as the engine's own small enum (rather
// than exposing zapcore.Level directly) so callers across cmd/ and
// pkg/engine/ that already pass logger.DEBUG/INFO/WARN/ERROR keep compiling
// unchanged.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

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

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger wraps a zap SugaredLogger with the engine's service name so every
// emitted line carries it as a field.
type Logger struct {
	sugar   *zap.SugaredLogger
	Level   Level
	Service string
}

var globalLogger *Logger

// Init initializes the global logger. logPath's directory is created if
// missing; the file is rotated by lumberjack once it crosses 20MB, keeping
// 5 backups for up to 28 days, matching the rotation defaults the pack's
// zap+lumberjack users (vellankikoti-kubilitics-os-emergent) run with.
func Init(logPath string, level Level, serviceName string) error {
	logDir := filepath.Dir(logPath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to create log directory %s: %v\n", logDir, err)
			fmt.Fprintf(os.Stderr, "Logging to stdout only\n")
			globalLogger = newLogger(zapcore.AddSync(os.Stdout), level, serviceName)
			return nil
		}
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	globalLogger = newLogger(zapcore.AddSync(rotator), level, serviceName)
	return nil
}

func newLogger(sink zapcore.WriteSyncer, level Level, serviceName string) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level.zapLevel())
	base := zap.New(core).With(zap.String("service", serviceName))
	return &Logger{sugar: base.Sugar(), Level: level, Service: serviceName}
}

// callerField mirrors the hand-rolled logger's relative-path caller tag so
// existing log lines stay greppable by file:line the same way.
func callerField() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown:0"
	}
	if root, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(root, file); err == nil {
			return fmt.Sprintf("%s:%d", rel, line)
		}
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) log(level Level, scope string, msg string, ctx map[string]interface{}) {
	fields := make([]interface{}, 0, 4+2*len(ctx))
	fields = append(fields, "scope", scope, "caller", callerField())
	for k, v := range ctx {
		fields = append(fields, k, v)
	}
	switch level {
	case DEBUG:
		l.sugar.Debugw(msg, fields...)
	case WARN:
		l.sugar.Warnw(msg, fields...)
	case ERROR:
		l.sugar.Errorw(msg, fields...)
	default:
		l.sugar.Infow(msg, fields...)
	}
}

// Sync flushes any buffered log lines; callers should defer this after Init.
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.sugar.Sync()
	}
}

// Global functions
func Info(scope string, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(INFO, scope, msg, getCtx(args))
}

func Error(scope string, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(ERROR, scope, msg, getCtx(args))
}

func Debug(scope string, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(DEBUG, scope, msg, getCtx(args))
}

func Warn(scope string, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(WARN, scope, msg, getCtx(args))
}

func getCtx(args []map[string]interface{}) map[string]interface{} {
	if len(args) > 0 {
		return args[0]
	}
	return nil
}
