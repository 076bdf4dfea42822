package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the root logger for one cardsense binary, named after
// component ("api", "catalogload"). prod writes JSON; local, dev and docker
// write console output. A non-empty level overrides the environment default.
func NewLogger(env, component, level string) (*zap.Logger, error) {
	cfg, err := configFor(env, level)
	if err != nil {
		return nil, err
	}
	return build(cfg, component, zap.AddStacktrace(zapcore.ErrorLevel))
}

func configFor(env, level string) (zap.Config, error) {
	var cfg zap.Config
	switch env {
	case "prod":
		cfg = zap.NewProductionConfig()
	case "local", "dev", "docker":
		cfg = zap.NewDevelopmentConfig()
	default:
		return cfg, fmt.Errorf("unknown environment %q for logger", env)
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return cfg, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg, nil
}

func build(cfg zap.Config, component string, opts ...zap.Option) (*zap.Logger, error) {
	l, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if component == "" {
		component = "cardsense"
	}
	return l.Named(component).With(zap.String("service", "cardsense")), nil
}
