package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fatflowers/billing/pkg/config"
)

func New(cfg *config.Config) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	if cfg != nil && !cfg.IsProd() {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		zc.Development = true
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "time"
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar().With("service", "billing", "env", envOf(cfg)), nil
}

func envOf(cfg *config.Config) string {
	if cfg == nil {
		return string(config.EnvDev)
	}
	return string(cfg.Env)
}

var Module = fx.Options(
	fx.Provide(New),
)
