// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the backend's policy knobs. Everything here has a safe
// default; a config file and VDEV_* environment variables can override.
type Settings struct {
	// FlushDisable suppresses cache-flush transfers globally; flushes
	// complete as already successful.
	FlushDisable bool `mapstructure:"flush_disable"`

	// TrimDisable suppresses discard transfers globally.
	TrimDisable bool `mapstructure:"trim_disable"`

	// WriteClaimAttempts bounds the retry loop for escalating to a
	// write claim during open.
	WriteClaimAttempts int `mapstructure:"write_claim_attempts"`

	// WriteClaimDelay is the sleep between write-claim attempts; the
	// topology lock is dropped around it.
	WriteClaimDelay time.Duration `mapstructure:"write_claim_delay"`

	// AllowUnverifiedPath permits the last-resort open of the stored
	// path without an identity match, for vdevs never opened this boot
	// outside a pool load, or during a pool split. Safe only when the
	// caller guarantees the path; disable to require identity proof.
	AllowUnverifiedPath bool `mapstructure:"allow_unverified_path"`

	// CompletionQueueDepth bounds the completion queue fed by the
	// dispatcher.
	CompletionQueueDepth int `mapstructure:"completion_queue_depth"`
}

// Default returns the built-in settings, matching the retry and policy
// behavior the backend shipped with.
func Default() *Settings {
	return &Settings{
		FlushDisable:         false,
		TrimDisable:          false,
		WriteClaimAttempts:   5,
		WriteClaimDelay:      500 * time.Millisecond,
		AllowUnverifiedPath:  true,
		CompletionQueueDepth: 256,
	}
}

// Load reads settings using Viper. A missing config file is fine; the
// defaults above apply.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("vdev-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.vdev")
	v.AddConfigPath("/etc/vdev")

	def := Default()
	v.SetDefault("flush_disable", def.FlushDisable)
	v.SetDefault("trim_disable", def.TrimDisable)
	v.SetDefault("write_claim_attempts", def.WriteClaimAttempts)
	v.SetDefault("write_claim_delay", def.WriteClaimDelay)
	v.SetDefault("allow_unverified_path", def.AllowUnverifiedPath)
	v.SetDefault("completion_queue_depth", def.CompletionQueueDepth)

	v.SetEnvPrefix("VDEV")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &s, nil
}
