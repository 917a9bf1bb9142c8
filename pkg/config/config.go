// Package config loads the companion's settings: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"time"

	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-companion/pkg/providers/gemini"
)

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root of the YAML document.
type Config struct {
	LogLevel LogLevel `yaml:"log_level"`
	UserID   string   `yaml:"user_id"`
	Mode     string   `yaml:"mode"`
	// Profiles is the path of the YAML risk profile store. Empty means every
	// user is treated as new.
	Profiles string        `yaml:"profiles"`
	Gemini   GeminiConfig  `yaml:"gemini"`
	Audio    AudioConfig   `yaml:"audio"`
	Session  SessionConfig `yaml:"session"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

type GeminiConfig struct {
	APIKey              string `yaml:"api_key"`
	Model               string `yaml:"model"`
	BaseURL             string `yaml:"base_url"`
	Voice               string `yaml:"voice"`
	MediaResolution     string `yaml:"media_resolution"`
	CompressionTrigger  int    `yaml:"compression_trigger_tokens"`
	CompressionTarget   int    `yaml:"compression_target_tokens"`
	OutputTranscription bool   `yaml:"output_transcription"`
}

type AudioConfig struct {
	SendSampleRate    int             `yaml:"send_sample_rate"`
	ReceiveSampleRate int             `yaml:"receive_sample_rate"`
	Channels          int             `yaml:"channels"`
	FrameSize         int             `yaml:"frame_size"`
	OutboundCapacity  int             `yaml:"outbound_capacity"`
	EchoGuard         EchoGuardConfig `yaml:"echo_guard"`
	// RecordPath, when set, records everything played to a WAV file.
	RecordPath string `yaml:"record_path"`
}

type EchoGuardConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold float64       `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

type SessionConfig struct {
	FlushPolicy string `yaml:"flush_policy"`
}

type MetricsConfig struct {
	// Addr is the listen address of the Prometheus endpoint. Empty disables
	// it.
	Addr string `yaml:"addr"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	orch := orchestrator.DefaultConfig()
	sess := gemini.DefaultSessionConfig()
	guard := orchestrator.DefaultEchoGuardConfig()

	return &Config{
		LogLevel: LogInfo,
		UserID:   orch.UserID,
		Mode:     string(orch.Mode),
		Gemini: GeminiConfig{
			Model:              sess.Model,
			Voice:              sess.Voice,
			MediaResolution:    sess.MediaResolution,
			CompressionTrigger: sess.CompressionTrigger,
			CompressionTarget:  sess.CompressionTarget,
		},
		Audio: AudioConfig{
			SendSampleRate:    orch.SendSampleRate,
			ReceiveSampleRate: orch.ReceiveSampleRate,
			Channels:          orch.Channels,
			FrameSize:         orch.FrameSize,
			OutboundCapacity:  orch.OutboundCapacity,
			EchoGuard: EchoGuardConfig{
				Threshold: guard.Threshold,
				Window:    guard.Window,
			},
		},
		Session: SessionConfig{FlushPolicy: string(orch.FlushPolicy)},
	}
}

// Orchestrator converts the loaded settings into the orchestrator's
// configuration. Call Validate first; invalid mode or flush policy names are
// passed through and rejected by the orchestrator.
func (c *Config) Orchestrator() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.UserID = c.UserID
	oc.Mode = orchestrator.DisplayMode(c.Mode)
	oc.SendSampleRate = c.Audio.SendSampleRate
	oc.ReceiveSampleRate = c.Audio.ReceiveSampleRate
	oc.Channels = c.Audio.Channels
	oc.FrameSize = c.Audio.FrameSize
	oc.OutboundCapacity = c.Audio.OutboundCapacity
	oc.FlushPolicy = orchestrator.FlushPolicy(c.Session.FlushPolicy)
	oc.EchoGuard = orchestrator.EchoGuardConfig{
		Enabled:   c.Audio.EchoGuard.Enabled,
		Threshold: c.Audio.EchoGuard.Threshold,
		Window:    c.Audio.EchoGuard.Window,
	}
	oc.Session = c.SessionConfig()
	return oc
}

// SessionConfig returns the Gemini Live session settings. The system
// instruction is filled in by the orchestrator at connect time.
func (c *Config) SessionConfig() orchestrator.SessionConfig {
	sc := gemini.DefaultSessionConfig()
	sc.Model = c.Gemini.Model
	sc.Voice = c.Gemini.Voice
	sc.MediaResolution = c.Gemini.MediaResolution
	sc.CompressionTrigger = c.Gemini.CompressionTrigger
	sc.CompressionTarget = c.Gemini.CompressionTarget
	sc.OutputTranscription = c.Gemini.OutputTranscription
	sc.InputSampleRate = c.Audio.SendSampleRate
	return sc
}
