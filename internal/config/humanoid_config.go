// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which holds the tunable parameters of
// the interaction simulator: pointer movement, click timing, and typing cadence with
// occasional corrected typos.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// HumanoidConfig controls the "personality" of simulated input.
type HumanoidConfig struct {
	// -- Pointer movement --
	// FittsA and FittsB are the intercept (ms) and slope of the movement time model.
	FittsA float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	// MoveSteps bounds the number of intermediate pointer events on a path.
	MoveStepsMin int `mapstructure:"move_steps_min" yaml:"move_steps_min"`
	MoveStepsMax int `mapstructure:"move_steps_max" yaml:"move_steps_max"`
	// NoiseAmplitude is the perlin deviation in pixels applied mid-path.
	NoiseAmplitude float64 `mapstructure:"noise_amplitude" yaml:"noise_amplitude"`
	// ClickJitter is the fraction of the box's half-extent the target point may stray.
	ClickJitter float64 `mapstructure:"click_jitter" yaml:"click_jitter"`

	// -- Click timing --
	PrePressMinMs  int `mapstructure:"pre_press_min_ms" yaml:"pre_press_min_ms"`
	PrePressMaxMs  int `mapstructure:"pre_press_max_ms" yaml:"pre_press_max_ms"`
	ClickHoldMinMs int `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	// -- Typing --
	KeyDelayMinMs int `mapstructure:"key_delay_min_ms" yaml:"key_delay_min_ms"`
	KeyDelayMaxMs int `mapstructure:"key_delay_max_ms" yaml:"key_delay_max_ms"`
	// TypoRate is the per-character probability of a corrected neighbor-key typo.
	TypoRate float64 `mapstructure:"typo_rate" yaml:"typo_rate"`
	// TypoMinRemaining suppresses typos near the end of the text.
	TypoMinRemaining int `mapstructure:"typo_min_remaining" yaml:"typo_min_remaining"`
	TypoPauseMinMs   int `mapstructure:"typo_pause_min_ms" yaml:"typo_pause_min_ms"`
	TypoPauseMaxMs   int `mapstructure:"typo_pause_max_ms" yaml:"typo_pause_max_ms"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.fitts_a", 80.0)
	v.SetDefault("browser.humanoid.fitts_b", 110.0)
	v.SetDefault("browser.humanoid.move_steps_min", 12)
	v.SetDefault("browser.humanoid.move_steps_max", 28)
	v.SetDefault("browser.humanoid.noise_amplitude", 6.0)
	v.SetDefault("browser.humanoid.click_jitter", 0.35)

	v.SetDefault("browser.humanoid.pre_press_min_ms", 40)
	v.SetDefault("browser.humanoid.pre_press_max_ms", 140)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 55)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 130)

	v.SetDefault("browser.humanoid.key_delay_min_ms", 30)
	v.SetDefault("browser.humanoid.key_delay_max_ms", 100)
	v.SetDefault("browser.humanoid.typo_rate", 0.03)
	v.SetDefault("browser.humanoid.typo_min_remaining", 10)
	v.SetDefault("browser.humanoid.typo_pause_min_ms", 150)
	v.SetDefault("browser.humanoid.typo_pause_max_ms", 400)
}

// DefaultHumanoidConfig returns the default tunables without going through viper.
func DefaultHumanoidConfig() HumanoidConfig {
	return NewDefaultConfig().BrowserCfg.Humanoid
}

// Validate checks that every min/max pair is ordered and probabilities are in range.
func (h *HumanoidConfig) Validate() error {
	pairs := []struct {
		name     string
		min, max int
	}{
		{"move_steps", h.MoveStepsMin, h.MoveStepsMax},
		{"pre_press", h.PrePressMinMs, h.PrePressMaxMs},
		{"click_hold", h.ClickHoldMinMs, h.ClickHoldMaxMs},
		{"key_delay", h.KeyDelayMinMs, h.KeyDelayMaxMs},
		{"typo_pause", h.TypoPauseMinMs, h.TypoPauseMaxMs},
	}
	for _, p := range pairs {
		if p.min < 0 || p.max < p.min {
			return fmt.Errorf("browser.humanoid.%s range is invalid (%d..%d)", p.name, p.min, p.max)
		}
	}
	if h.MoveStepsMin < 1 {
		return fmt.Errorf("browser.humanoid.move_steps_min must be at least 1")
	}
	if h.TypoRate < 0 || h.TypoRate > 1 {
		return fmt.Errorf("browser.humanoid.typo_rate must be between 0.0 and 1.0")
	}
	if h.ClickJitter < 0 || h.ClickJitter >= 1 {
		return fmt.Errorf("browser.humanoid.click_jitter must be in [0, 1)")
	}
	return nil
}
