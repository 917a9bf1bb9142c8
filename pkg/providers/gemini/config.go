package gemini

import "github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"

const (
	DefaultVoice           = "Zephyr"
	DefaultMediaResolution = "MEDIA_RESOLUTION_MEDIUM"
)

// DefaultSessionConfig returns the voice companion's session settings:
// audio responses in the Zephyr voice with sliding-window context
// compression. SystemInstruction is left for the orchestrator to fill.
func DefaultSessionConfig() orchestrator.SessionConfig {
	return orchestrator.SessionConfig{
		Model:              defaultModel,
		Voice:              DefaultVoice,
		MediaResolution:    DefaultMediaResolution,
		ResponseModalities: []string{"AUDIO"},
		CompressionTrigger: 25600,
		CompressionTarget:  12800,
		InputSampleRate:    16000,
	}
}
