// Package logger builds the process-wide zap logger.
package logger

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger settings. An empty Filename logs to stdout only.
type Config struct {
	Level      string `mapstructure:"level"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// New builds a JSON logger from cfg and installs it as the zap global.
// Call Sync before exit to flush the buffered file output.
func New(cfg *Config) (*zap.Logger, error) {
	return build(cfg, os.Stdout)
}

func build(cfg *Config, console io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	core := zapcore.NewCore(encoder(), writer(cfg, console), level)
	l := zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(l)
	return l, nil
}

func encoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func writer(cfg *Config, console io.Writer) zapcore.WriteSyncer {
	consoleSyncer := zapcore.AddSync(console)
	if cfg.Filename == "" {
		return consoleSyncer
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	buffered := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(rotating),
		Size:          256 * 1024,
		FlushInterval: 5 * time.Second,
	}
	return zapcore.NewMultiWriteSyncer(consoleSyncer, buffered)
}
