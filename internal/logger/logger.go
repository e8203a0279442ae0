package logger

import (
	"fmt"

	"arbitrage-platform-go/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from the logger section of the config.
// An unset level defaults to info; a "json" format selects the production
// encoder, anything else the development console encoder. Subsystems derive
// their own loggers from the returned one with Named.
func NewLogger(cfg config.Logger) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
		// The settlement log is an audit trail, never sample it.
		zcfg.Sampling = nil
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return log.Named("platform"), nil
}
