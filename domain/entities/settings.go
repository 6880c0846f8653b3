package entities

import (
	"fmt"
	"time"
)

// Sensitivity selects how aggressively sampled frames are analyzed and encoded
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Quality returns the JPEG encode quality for the sensitivity tier
func (s Sensitivity) Quality() int {
	switch s {
	case SensitivityHigh:
		return 90
	case SensitivityLow:
		return 50
	default:
		return 75
	}
}

// Valid reports whether s is one of the known tiers
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

// Legal setting values
var (
	AnalysisIntervals = []time.Duration{
		2 * time.Second, 3 * time.Second, 5 * time.Second,
		10 * time.Second, 15 * time.Second, 30 * time.Second,
	}
	ContextLengths = []int{3, 5, 10}
	PlaybackSpeeds = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}
	Voices         = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
)

// AnalysisSettings configures the frame sampling and analysis cadence
type AnalysisSettings struct {
	Interval      time.Duration `json:"interval" mapstructure:"interval"`
	Sensitivity   Sensitivity   `json:"sensitivity" mapstructure:"sensitivity"`
	ContextLength int           `json:"context_length" mapstructure:"context_length"`
}

// AudioSettings configures speech synthesis and playback
type AudioSettings struct {
	Enabled  bool    `json:"enabled" mapstructure:"enabled"`
	AutoPlay bool    `json:"auto_play" mapstructure:"auto_play"`
	Volume   float64 `json:"volume" mapstructure:"volume"`
	Speed    float64 `json:"speed" mapstructure:"speed"`
	Voice    string  `json:"voice" mapstructure:"voice"`
}

// DefaultAnalysisSettings returns the settings a new session starts with
func DefaultAnalysisSettings() AnalysisSettings {
	return AnalysisSettings{
		Interval:      5 * time.Second,
		Sensitivity:   SensitivityMedium,
		ContextLength: 5,
	}
}

// DefaultAudioSettings returns the settings a new session starts with
func DefaultAudioSettings() AudioSettings {
	return AudioSettings{
		Enabled:  true,
		AutoPlay: true,
		Volume:   0.8,
		Speed:    1,
		Voice:    "alloy",
	}
}

// Validate checks the settings against the legal values
func (s AnalysisSettings) Validate() error {
	if !containsDuration(AnalysisIntervals, s.Interval) {
		return fmt.Errorf("analysis interval %s is not supported", s.Interval)
	}
	if !s.Sensitivity.Valid() {
		return fmt.Errorf("invalid sensitivity: %s", s.Sensitivity)
	}
	if !containsInt(ContextLengths, s.ContextLength) {
		return fmt.Errorf("context length %d is not supported", s.ContextLength)
	}
	return nil
}

// Validate checks the settings against the legal values
func (s AudioSettings) Validate() error {
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1, got %f", s.Volume)
	}
	if !containsFloat(PlaybackSpeeds, s.Speed) {
		return fmt.Errorf("playback speed %.2f is not supported", s.Speed)
	}
	if !containsString(Voices, s.Voice) {
		return fmt.Errorf("unknown voice: %s", s.Voice)
	}
	return nil
}

func containsDuration(values []time.Duration, v time.Duration) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsFloat(values []float64, v float64) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
