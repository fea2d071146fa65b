package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DevelopmentConfig returns a logging configuration with reasonable defaults
// for interactive use.
// Time is encoded in ISO8601 format and level is encoded in capital letters.
func DevelopmentConfig(level zapcore.Level) func(*zap.Config) {
	return func(config *zap.Config) {
		config.Level = zap.NewAtomicLevelAt(level)
		config.Development = true
		config.DisableCaller = false
		// Failures carry their own errortrace field.
		config.DisableStacktrace = true
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}
}

// New builds a logger from the development config, adjusted by opts
func New(opts ...func(*zap.Config)) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config.Build()
}
