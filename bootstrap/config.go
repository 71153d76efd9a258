package bootstrap

import (
	"fmt"
	"io"
	"os"
	"time"

	"tdrf/config"
	"tdrf/detect"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds a logger at level writing to stderr. Format "json"
// selects the production JSON encoder; anything else gives colored console
// output.
func InitLogger(level, format string) (*zap.Logger, *zap.SugaredLogger, error) {
	return newLogger(level, format, os.Stderr)
}

func newLogger(level, format string, w io.Writer) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var encoder zapcore.Encoder
	if format == "json" {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration.
func InitConfig(path string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ConfigFile == "" {
		sugar.Info("No config file found, using defaults and env vars")
	} else {
		sugar.Infof("Config loaded from %s", cfg.ConfigFile)
	}
	sugar.Infow("Correlation settings",
		"enabled", cfg.Correlation.Enabled,
		"type_match", cfg.Correlation.TypeMatch,
		"rules_file", cfg.Correlation.RulesFile,
		"inline_rules", len(cfg.Correlation.Rules),
		"failed_login_threshold", cfg.BruteForce.FailedLoginThreshold)
	return cfg, nil
}

// BuildEngineConfig converts the loaded configuration into engine settings.
// Rules come from the rules file, else the inline list, else the built-ins.
func BuildEngineConfig(cfg *config.Config, sugar *zap.SugaredLogger) (detect.EngineConfig, error) {
	ec := detect.DefaultEngineConfig()
	ec.Enabled = cfg.Correlation.Enabled
	ec.TypeMatch = detect.TypeMatch(cfg.Correlation.TypeMatch)

	ec.TimeWindows = make(map[string]time.Duration, len(cfg.Correlation.TimeWindows))
	for name, secs := range cfg.Correlation.TimeWindows {
		ec.TimeWindows[name] = time.Duration(secs) * time.Second
	}

	ec.BruteForce = detect.BruteForceConfig{
		Threshold:                   cfg.BruteForce.FailedLoginThreshold,
		Window:                      time.Duration(cfg.BruteForce.TimeWindowSeconds) * time.Second,
		AlertOnSuccessAfterFailures: cfg.BruteForce.AlertOnSuccessAfterFailures,
		MinFailuresBeforeSuccess:    cfg.BruteForce.MinFailuresBeforeSuccess,
	}
	ec.FailedLoginTypes = cfg.BruteForce.FailedEventTypes
	ec.SuccessLoginTypes = cfg.BruteForce.SuccessEventTypes

	if cfg.Correlation.RulesFile != "" {
		rules, err := detect.LoadRulesFile(cfg.Correlation.RulesFile, sugar)
		if err != nil {
			return ec, fmt.Errorf("failed to load correlation rules: %w", err)
		}
		ec.Rules = rules
	} else if len(cfg.Correlation.Rules) > 0 {
		ec.Rules = append([]detect.Rule(nil), cfg.Correlation.Rules...)
	}

	if err := ec.Validate(); err != nil {
		return ec, err
	}
	return ec, nil
}
