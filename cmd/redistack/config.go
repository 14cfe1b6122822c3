package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the CLI configuration, read from redistack.yaml and overridden
// by REDISTACK_* environment variables.
type Config struct {
	Addr      string        `mapstructure:"addr"`
	DB        int           `mapstructure:"db"`
	Password  string        `mapstructure:"password"`
	IOTimeout time.Duration `mapstructure:"io_timeout"`
	Log       LogConfig     `mapstructure:"log"`
}

// LogConfig defines logging verbosity and output style.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig reads the configuration file (if any) and applies env
// overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	viper.SetDefault("addr", "127.0.0.1:6379")
	viper.SetDefault("db", 0)
	viper.SetDefault("io_timeout", "1s")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	viper.SetConfigName("redistack")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("REDISTACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MakeLogger creates a configured zap logger.
func MakeLogger(cfg LogConfig) *zap.Logger {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(lvl),
		Development: cfg.Format == "console",
		Encoding:    cfg.Format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		os.Stderr.WriteString("failed to init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	return logger
}
