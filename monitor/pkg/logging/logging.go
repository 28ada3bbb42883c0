// Package logging builds zap configurations for the monitor's logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config returns a zap config option for the given level and encoding.
// Console output favors readability; JSON output is meant for log collectors.
func Config(level zapcore.Level, format string) (func(*zap.Config), error) {
	switch format {
	case "", FormatConsole:
		return func(config *zap.Config) {
			config.Level = zap.NewAtomicLevelAt(level)
			config.Development = true
			config.DisableCaller = false
			config.DisableStacktrace = false
			config.Encoding = FormatConsole
			config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
		}, nil
	case FormatJSON:
		return func(config *zap.Config) {
			config.Level = zap.NewAtomicLevelAt(level)
			config.Development = false
			// Stack traces only from error level up.
			config.DisableStacktrace = level > zapcore.ErrorLevel
			config.Encoding = FormatJSON
			config.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
			config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
			config.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
		}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
