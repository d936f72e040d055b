package logging

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a configured level name to a zap level. Unknown names fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger returns a zap logger configured for structured production logging
// together with the atomic level controlling it.
func NewLogger(level string) (*zap.Logger, zap.AtomicLevel, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, cfg.Level, nil
}

// WatchLevel re-reads log.level whenever the config file changes and applies it
// to the atomic level. It is a no-op when no config file is in use.
func WatchLevel(configViper *viper.Viper, level zap.AtomicLevel, logger *zap.Logger) {
	if configViper.ConfigFileUsed() == "" {
		return
	}
	configViper.OnConfigChange(LevelReloader(configViper, level, logger))
	configViper.WatchConfig()
}

// LevelReloader builds the config change callback used by WatchLevel.
func LevelReloader(configViper *viper.Viper, level zap.AtomicLevel, logger *zap.Logger) func(fsnotify.Event) {
	return func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		next := ParseLevel(configViper.GetString("log.level"))
		if next == level.Level() {
			return
		}
		level.SetLevel(next)
		logger.Info("log level changed",
			zap.String("file", event.Name),
			zap.String("level", next.String()))
	}
}
