package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/goja-nng/bridge"
	"github.com/joeycumines/goja-nng/receiver"
	"github.com/joeycumines/goja-nng/socket"
	"github.com/joeycumines/logiface"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "GOJANNG"

// config is the resolved command line, environment and file configuration.
type config struct {
	Script           string
	LogLevel         logiface.Level
	PollInterval     time.Duration
	RegistryCapacity int
	BridgeCapacity   int
	ErrorBackoff     time.Duration
	MaxErrorBackoff  time.Duration
	Timeout          time.Duration
	MetricsAddr      string
}

// loadConfig parses args (excluding the program name). Flags take
// precedence over GOJANNG_* environment variables, which take precedence
// over the optional --config file.
func loadConfig(args []string) (*config, error) {
	fs := pflag.NewFlagSet("gojanng", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.String("config", "", "path to a config file (yaml, json or toml)")
	fs.String("log-level", "info", "log level: emerg, alert, crit, err, warning, notice, info, debug, trace or disabled")
	fs.Duration("poll-interval", socket.DefaultPollInterval, "receive poll interval, bounding how long a cancel takes")
	fs.Int("registry-capacity", receiver.DefaultCapacity, "maximum number of sockets with continuous receives")
	fs.Int("bridge-capacity", bridge.DefaultCapacity, "maximum deliveries queued per subscription")
	fs.Duration("error-backoff", receiver.DefaultErrorBackoff, "initial delay before retrying a failed receive")
	fs.Duration("max-error-backoff", receiver.DefaultMaxErrorBackoff, "maximum delay before retrying a failed receive")
	fs.Duration("timeout", 0, "stop the script after this long (0 disables)")
	fs.String("metrics-addr", "", "serve prometheus metrics on this address")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, errors.New("usage: gojanng [flags] script.js")
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	level, err := parseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	cfg := &config{
		Script:           fs.Arg(0),
		LogLevel:         level,
		PollInterval:     v.GetDuration("poll-interval"),
		RegistryCapacity: v.GetInt("registry-capacity"),
		BridgeCapacity:   v.GetInt("bridge-capacity"),
		ErrorBackoff:     v.GetDuration("error-backoff"),
		MaxErrorBackoff:  v.GetDuration("max-error-backoff"),
		Timeout:          v.GetDuration("timeout"),
		MetricsAddr:      v.GetString("metrics-addr"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch {
	case c.PollInterval <= 0:
		return errors.New("poll-interval must be positive")
	case c.RegistryCapacity <= 0:
		return errors.New("registry-capacity must be positive")
	case c.BridgeCapacity < 0:
		return errors.New("bridge-capacity must not be negative")
	case c.ErrorBackoff < 0 || c.MaxErrorBackoff < c.ErrorBackoff:
		return errors.New("error-backoff must be non-negative and at most max-error-backoff")
	case c.Timeout < 0:
		return errors.New("timeout must not be negative")
	}
	return nil
}

var levelNames = map[string]logiface.Level{
	"disabled":      logiface.LevelDisabled,
	"emerg":         logiface.LevelEmergency,
	"emergency":     logiface.LevelEmergency,
	"alert":         logiface.LevelAlert,
	"crit":          logiface.LevelCritical,
	"critical":      logiface.LevelCritical,
	"err":           logiface.LevelError,
	"error":         logiface.LevelError,
	"warning":       logiface.LevelWarning,
	"warn":          logiface.LevelWarning,
	"notice":        logiface.LevelNotice,
	"info":          logiface.LevelInformational,
	"informational": logiface.LevelInformational,
	"debug":         logiface.LevelDebug,
	"trace":         logiface.LevelTrace,
}

func parseLevel(s string) (logiface.Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}
