package logging

import (
	"github.com/elmanelman/sql-judge/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the logger described by cfg.LoggerConfig. When a log file is
// configured, every entry is additionally written as JSON to a rotated file.
func New(cfg config.JudgesConfig) (*zap.Logger, error) {
	logger, err := cfg.LoggerConfig.Build()
	if err != nil {
		return nil, err
	}
	if cfg.LogFile.Filename == "" {
		return logger, nil
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile.Filename,
		MaxSize:    cfg.LogFile.MaxSize,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAge:     cfg.LogFile.MaxAge,
		Compress:   cfg.LogFile.Compress,
	})
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		fileWriter,
		cfg.LoggerConfig.Level,
	)

	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}
