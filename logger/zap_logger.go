package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	lConfig := &ZapLoggerConfig{
		Format: "console",
		Output: "stdout",
		Level:  config.Level,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, lConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
	}

	zl, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	l := NewZapWrapper(zl)

	l.Info("Logger initialized",
		zap.String("level", lConfig.Level),
		zap.String("format", lConfig.Format),
		zap.String("output", lConfig.Output),
	)

	return l, nil
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	level := parseLogLevel(config.Level)

	var zapConfig zap.Config
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	switch config.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		if config.File != "" {
			if err := ensureLogDir(config.File); err != nil {
				return nil, err
			}
			zapConfig.OutputPaths = []string{config.File}
			zapConfig.ErrorOutputPaths = []string{config.File}
		} else {
			zapConfig.OutputPaths = []string{"stdout"}
			zapConfig.ErrorOutputPaths = []string{"stderr"}
		}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build(zap.AddCaller())
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	lastSlash := strings.LastIndex(logFile, "/")
	if lastSlash == -1 {
		return types.ErrLogFileWrongFormat
	}

	dir := logFile[:lastSlash]
	err := os.MkdirAll(dir, 0755)

	return types.WrapError(err, "access denied to log directory")
}

type ZapWrapper struct {
	Logger *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) types.Logger {
	return &ZapWrapper{Logger: logger}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Log(lvl, msg, fields...)
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorWithCause logs the root cause of a wrapped error alongside msg,
// appending the pkg/errors stack trace when one is attached.
func (z *ZapWrapper) ErrorWithCause(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+1)
	allFields = append(allFields, zap.String("cause", errors.Cause(err).Error()))
	allFields = append(allFields, fields...)

	z.Logger.WithOptions(zap.AddCallerSkip(2)).Error(msg, allFields...)

	if st, ok := errors.Cause(err).(stackTracer); ok {
		z.Logger.Debug("error stack", zap.String("stack", fmt.Sprintf("%+v", st.StackTrace())))
	}
}
