package app

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"

	"github.com/afrojet/seed/config"
)

// NewLogger builds the zap backed logger; pretty logs switch to the
// development encoder.
func NewLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zapConfig.Level = level
	zapConfig.InitialFields = map[string]any{"app": cfg.AppName}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}
