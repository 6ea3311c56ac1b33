// Package config loads application configuration: file paths, connection
// timing and every hardware-tuned heuristic of the telemetry interpreter.
// Values come from an optional YAML config file with sane defaults; flags
// bound by the caller override both.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/engine"
)

// Config is the fully resolved application configuration.
type Config struct {
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	DBFile        string

	ConnectTimeout time.Duration

	Tuning  engine.Tuning
	Session engine.SessionConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.file", "phoenix.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("db.file", "phoenix.db")

	v.SetDefault("machine.connect_timeout", "10s")

	tuning := engine.DefaultTuning()
	v.SetDefault("tuning.rep_top_threshold_mm", tuning.RepTopThresholdMM)
	v.SetDefault("tuning.rep_bottom_threshold_mm", tuning.RepBottomThresholdMM)
	v.SetDefault("tuning.rep_min_velocity_mms", tuning.RepMinVelocityMMS)
	v.SetDefault("tuning.rep_debounce_samples", tuning.RepDebounceSamples)
	v.SetDefault("tuning.auto_stop_velocity_mms", tuning.AutoStopVelocityMMS)
	v.SetDefault("tuning.auto_stop_samples", tuning.AutoStopSamples)
	v.SetDefault("tuning.echo_alpha", tuning.EchoAlpha)
	v.SetDefault("tuning.echo_min_kg", tuning.EchoMinKg)
	v.SetDefault("tuning.echo_max_kg", tuning.EchoMaxKg)
	v.SetDefault("tuning.echo_max_step_kg", tuning.EchoMaxStepKg)
	v.SetDefault("tuning.grip_threshold_mm", tuning.GripThresholdMM)

	session := engine.DefaultSessionConfig()
	v.SetDefault("session.countdown_seconds", session.CountdownSeconds)
	v.SetDefault("session.summary_seconds", session.SummarySeconds)
	v.SetDefault("session.default_rest_seconds", session.DefaultRestSeconds)
	v.SetDefault("session.error_dismiss_seconds", session.ErrorDismissSeconds)
	v.SetDefault("session.auto_start_on_grip", session.AutoStartOnGrip)
}

// Load reads configuration from the given file path. An empty path means
// defaults only; a missing file at an explicit path is an error, a missing
// default-location file is not. Recognized flags already parsed into
// flagSet override file values; pass nil to skip flag binding.
func Load(path string, flagSet *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PHOENIX")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("phoenix")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/phoenix")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if flagSet != nil {
		bindings := map[string]string{
			"log.file":                   "log-file",
			"db.file":                    "db",
			"machine.connect_timeout":    "connect-timeout",
			"session.auto_start_on_grip": "auto-start",
		}
		for key, name := range bindings {
			f := flagSet.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	cfg := Config{
		LogFile:        v.GetString("log.file"),
		LogMaxSizeMB:   v.GetInt("log.max_size_mb"),
		LogMaxBackups:  v.GetInt("log.max_backups"),
		DBFile:         v.GetString("db.file"),
		ConnectTimeout: v.GetDuration("machine.connect_timeout"),
		Tuning: engine.Tuning{
			RepTopThresholdMM:    uint16(v.GetUint("tuning.rep_top_threshold_mm")),
			RepBottomThresholdMM: uint16(v.GetUint("tuning.rep_bottom_threshold_mm")),
			RepMinVelocityMMS:    int16(v.GetInt("tuning.rep_min_velocity_mms")),
			RepDebounceSamples:   v.GetInt("tuning.rep_debounce_samples"),
			AutoStopVelocityMMS:  int16(v.GetInt("tuning.auto_stop_velocity_mms")),
			AutoStopSamples:      v.GetInt("tuning.auto_stop_samples"),
			EchoAlpha:            v.GetFloat64("tuning.echo_alpha"),
			EchoMinKg:            v.GetFloat64("tuning.echo_min_kg"),
			EchoMaxKg:            v.GetFloat64("tuning.echo_max_kg"),
			EchoMaxStepKg:        v.GetFloat64("tuning.echo_max_step_kg"),
			GripThresholdMM:      uint16(v.GetUint("tuning.grip_threshold_mm")),
		},
		Session: engine.SessionConfig{
			CountdownSeconds:    v.GetInt("session.countdown_seconds"),
			SummarySeconds:      v.GetInt("session.summary_seconds"),
			DefaultRestSeconds:  v.GetInt("session.default_rest_seconds"),
			ErrorDismissSeconds: v.GetInt("session.error_dismiss_seconds"),
			AutoStartOnGrip:     v.GetBool("session.auto_start_on_grip"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Tuning.RepBottomThresholdMM >= c.Tuning.RepTopThresholdMM {
		return fmt.Errorf("rep bottom threshold %dmm must be below top threshold %dmm",
			c.Tuning.RepBottomThresholdMM, c.Tuning.RepTopThresholdMM)
	}
	if c.Tuning.RepDebounceSamples < 1 {
		return fmt.Errorf("rep debounce samples must be at least 1")
	}
	if c.Tuning.AutoStopSamples < 1 {
		return fmt.Errorf("auto-stop samples must be at least 1")
	}
	if c.Tuning.EchoAlpha <= 0 || c.Tuning.EchoAlpha > 1 {
		return fmt.Errorf("echo alpha %v must be in (0, 1]", c.Tuning.EchoAlpha)
	}
	if c.Tuning.EchoMinKg > c.Tuning.EchoMaxKg {
		return fmt.Errorf("echo clamp range [%v, %v] is inverted", c.Tuning.EchoMinKg, c.Tuning.EchoMaxKg)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}
