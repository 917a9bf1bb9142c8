package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAPIKey   = "GEMINI_API_KEY"
	EnvModel    = "GEMINI_MODEL"
	EnvVoice    = "GEMINI_VOICE"
	EnvUserID   = "COMPANION_USER_ID"
	EnvLogLevel = "COMPANION_LOG_LEVEL"
	EnvProfiles = "COMPANION_PROFILES"
)

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the process environment, and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with any of the Env* variables that are set and
// non-empty.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAPIKey, &cfg.Gemini.APIKey)
	set(EnvModel, &cfg.Gemini.Model)
	set(EnvVoice, &cfg.Gemini.Voice)
	set(EnvUserID, &cfg.UserID)
	set(EnvProfiles, &cfg.Profiles)

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = LogLevel(v)
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if _, err := orchestrator.ParseDisplayMode(cfg.Mode); err != nil {
		errs = append(errs, fmt.Errorf("mode: %w", err))
	}
	if _, err := orchestrator.ParseFlushPolicy(cfg.Session.FlushPolicy); err != nil {
		errs = append(errs, fmt.Errorf("session.flush_policy: %w", err))
	}

	if cfg.Gemini.APIKey == "" {
		errs = append(errs, fmt.Errorf("gemini.api_key is required (or set %s)", EnvAPIKey))
	}
	if cfg.Gemini.CompressionTarget > 0 && cfg.Gemini.CompressionTarget >= cfg.Gemini.CompressionTrigger {
		errs = append(errs, fmt.Errorf("gemini.compression_target_tokens %d must be below compression_trigger_tokens %d",
			cfg.Gemini.CompressionTarget, cfg.Gemini.CompressionTrigger))
	}

	a := cfg.Audio
	positive := []struct {
		name  string
		value int
	}{
		{"audio.send_sample_rate", a.SendSampleRate},
		{"audio.receive_sample_rate", a.ReceiveSampleRate},
		{"audio.channels", a.Channels},
		{"audio.frame_size", a.FrameSize},
		{"audio.outbound_capacity", a.OutboundCapacity},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if a.EchoGuard.Threshold < 0 || a.EchoGuard.Threshold > 1 {
		errs = append(errs, fmt.Errorf("audio.echo_guard.threshold %.2f is out of range [0, 1]", a.EchoGuard.Threshold))
	}
	if a.EchoGuard.Window < 0 {
		errs = append(errs, fmt.Errorf("audio.echo_guard.window %s must not be negative", a.EchoGuard.Window))
	}

	return errors.Join(errs...)
}
