package config

import (
	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/stream"
)

const (
	DefaultLogLevel        = "info"
	DefaultWindowSeconds   = 1.0
	DefaultEnergyThreshold = 0.01
	DefaultFlatnessCeiling = 0.6
	DefaultHoldWindows     = 2
)

// DefaultWakeWords applies when no wake words are configured anywhere.
var DefaultWakeWords = []string{"Wake"}

// Config is the host application's configuration, loaded from a YAML
// file and overridable through the environment.
type Config struct {
	Engine         EngineConfig `yaml:"engine"`
	ModelPath      string       `yaml:"model_path"`
	WakeWords      []string     `yaml:"wake_words"`
	StreamCapacity int          `yaml:"stream_capacity"`
	LogLevel       string       `yaml:"log_level"`
	Audio          AudioConfig  `yaml:"audio"`
}

// EngineConfig selects and bounds the engine module.
type EngineConfig struct {
	// ModulePath locates the compiled engine. Empty selects the stub.
	ModulePath string `yaml:"module_path"`

	// UseStub forces the in-process stub even when a module is set.
	UseStub bool `yaml:"use_stub"`

	// MemoryLimitPages caps engine memory in 64 KiB pages. Zero means
	// the engine default.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// EnableWASI instantiates WASI for engines linked against it.
	EnableWASI bool `yaml:"enable_wasi"`
}

// AudioConfig shapes the file-driven listening loop.
type AudioConfig struct {
	// WindowSeconds is the length of each audio window fed to the
	// engine.
	WindowSeconds float64 `yaml:"window_seconds"`

	VAD VADConfig `yaml:"vad"`
}

// VADConfig tunes the voice activity gate.
type VADConfig struct {
	// EnergyThreshold is the RMS level above which a window may hold
	// speech.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// FlatnessCeiling rejects windows whose spectral flatness exceeds
	// it; broadband noise is flat, speech is not.
	FlatnessCeiling float64 `yaml:"flatness_ceiling"`

	// HoldWindows keeps the gate open this many windows past the last
	// active one, so trailing words are not clipped.
	HoldWindows int `yaml:"hold_windows"`
}

// Validate applies defaults, checks required fields, and rejects
// out-of-range values.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.InvalidInput(errors.PhaseConfig, "model path is required")
	}
	if len(c.WakeWords) == 0 {
		c.WakeWords = append([]string(nil), DefaultWakeWords...)
	}
	if c.StreamCapacity == 0 {
		c.StreamCapacity = stream.DefaultCapacity
	}
	if c.StreamCapacity < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "stream capacity must be positive")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.InvalidInput(errors.PhaseConfig, "log level must be debug, info, warn, or error")
	}

	if c.Audio.WindowSeconds == 0 {
		c.Audio.WindowSeconds = DefaultWindowSeconds
	}
	if c.Audio.WindowSeconds < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "audio window must be positive")
	}
	if c.Audio.VAD.EnergyThreshold == 0 {
		c.Audio.VAD.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.Audio.VAD.EnergyThreshold < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "energy threshold must be positive")
	}
	if c.Audio.VAD.FlatnessCeiling == 0 {
		c.Audio.VAD.FlatnessCeiling = DefaultFlatnessCeiling
	}
	if c.Audio.VAD.FlatnessCeiling < 0 || c.Audio.VAD.FlatnessCeiling > 1 {
		return errors.InvalidInput(errors.PhaseConfig, "flatness ceiling must be within [0, 1]")
	}
	if c.Audio.VAD.HoldWindows == 0 {
		c.Audio.VAD.HoldWindows = DefaultHoldWindows
	}
	if c.Audio.VAD.HoldWindows < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "hold windows must be positive")
	}
	return nil
}
