package orchestrator

import (
	"math"
	"sync"
	"time"
)

// EchoGuardConfig configures the speakerphone echo guard. While the speaker
// has played audio within Window, captured frames quieter than Threshold are
// replaced with silence so the remote side does not hear its own voice and
// interrupt itself.
type EchoGuardConfig struct {
	Enabled   bool
	Threshold float64
	Window    time.Duration
}

func DefaultEchoGuardConfig() EchoGuardConfig {
	return EchoGuardConfig{
		Threshold: 0.15,
		Window:    200 * time.Millisecond,
	}
}

type echoGuard struct {
	threshold float64
	window    time.Duration
	now       func() time.Time

	mu           sync.Mutex
	lastPlayedAt time.Time
}

// newEchoGuard returns nil when the guard is disabled; a nil guard is a no-op.
func newEchoGuard(cfg EchoGuardConfig) *echoGuard {
	if !cfg.Enabled {
		return nil
	}
	def := DefaultEchoGuardConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &echoGuard{
		threshold: cfg.Threshold,
		window:    cfg.Window,
		now:       time.Now,
	}
}

func (g *echoGuard) notePlayback() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.lastPlayedAt = g.now()
	g.mu.Unlock()
}

// filter returns the frame to transmit. Frames keep their length; a guarded
// frame becomes silence instead of being dropped.
func (g *echoGuard) filter(pcm []byte) []byte {
	if g == nil {
		return pcm
	}
	g.mu.Lock()
	playing := !g.lastPlayedAt.IsZero() && g.now().Sub(g.lastPlayedAt) < g.window
	g.mu.Unlock()

	if !playing || RMS(pcm) > g.threshold {
		return pcm
	}
	return make([]byte, len(pcm))
}

// RMS returns the root mean square level of 16-bit little-endian PCM,
// normalised to [0, 1].
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}

	return math.Sqrt(sum / float64(len(pcm)/2))
}
