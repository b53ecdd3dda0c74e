package config

import (
	"os"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/auricleai/voice-runtime/errors"
)

// Environment variables recognized by the loader. Each overrides the
// corresponding file value.
const (
	EnvEngineModule = "VOICERT_ENGINE_MODULE"
	EnvModelPath    = "VOICERT_MODEL_PATH"
	EnvWakeWords    = "VOICERT_WAKE_WORDS" // comma-separated
	EnvLogLevel     = "VOICERT_LOG_LEVEL"
	EnvUseStub      = "VOICERT_USE_STUB"
)

// Loader loads configuration from a YAML file and the environment.
// Tests inject FS and Lookup for deterministic input.
type Loader struct {
	// FS reads the config file. nil means the operating system
	// filesystem.
	FS afero.Fs

	// Lookup resolves environment variables. nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load reads path (skipped when empty), applies environment overrides,
// and validates. The returned Config is complete: every unset field
// holds its default.
func (l Loader) Load(path string) (Config, error) {
	if l.FS == nil {
		l.FS = afero.NewOsFs()
	}
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	var cfg Config
	if path != "" {
		raw, err := afero.ReadFile(l.FS, path)
		if err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read config file")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config file")
		}
	}

	overrideString(l.Lookup, EnvEngineModule, &cfg.Engine.ModulePath)
	overrideString(l.Lookup, EnvModelPath, &cfg.ModelPath)
	overrideString(l.Lookup, EnvLogLevel, &cfg.LogLevel)
	overrideBool(l.Lookup, EnvUseStub, &cfg.Engine.UseStub)
	if raw, ok := l.Lookup(EnvWakeWords); ok && strings.TrimSpace(raw) != "" {
		var words []string
		for _, w := range strings.Split(raw, ",") {
			if w = strings.TrimSpace(w); w != "" {
				words = append(words, w)
			}
		}
		cfg.WakeWords = words
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) {
	if value, ok := lookup(key); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			*target = true
		case "0", "false", "no", "off":
			*target = false
		}
	}
}
