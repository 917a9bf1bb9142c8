package orchestrator

import (
	"context"
	"fmt"
)

// Option adjusts how RunSession builds its orchestrator.
type Option func(*sessionOptions)

type sessionOptions struct {
	config   Config
	logger   Logger
	onChange func(State)
}

// WithConfig replaces DefaultConfig. The display mode argument of
// RunSession still wins over config.Mode.
func WithConfig(cfg Config) Option {
	return func(o *sessionOptions) { o.config = cfg }
}

// WithLogger sets the logger used by the orchestrator and its tasks.
func WithLogger(l Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithStateObserver registers fn for every lifecycle transition.
func WithStateObserver(fn func(State)) Option {
	return func(o *sessionOptions) { o.onChange = fn }
}

// RunSession runs one voice conversation to completion. It is the blocking
// entry point of the package: it returns once the session is torn down.
//
// Example:
//
//	err := orchestrator.RunSession(ctx, orchestrator.Dependencies{
//		Transport: gemini.New(apiKey),
//		Devices:   devices,
//		Context:   profiles,
//		Input:     os.Stdin,
//		Output:    orchestrator.NewWriterSink(os.Stdout),
//	}, orchestrator.DisplayNone)
func RunSession(ctx context.Context, deps Dependencies, mode DisplayMode, opts ...Option) error {
	o := sessionOptions{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	o.config.Mode = mode

	orch := NewWithLogger(deps, o.config, o.logger)
	if o.onChange != nil {
		orch.OnStateChange(o.onChange)
	}
	return orch.Run(ctx)
}

// ParseDisplayMode validates a display mode name. Only "none" is accepted.
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch m := DisplayMode(s); m {
	case "", DisplayNone:
		return DisplayNone, nil
	case DisplayCamera, DisplayScreen:
		return "", fmt.Errorf("%w: %q is not available in audio-only builds", ErrUnsupportedMode, s)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// ParseFlushPolicy validates a flush policy name.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	if s == "" {
		return FlushOnTurnEnd, nil
	}
	p := FlushPolicy(s)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid flush policy: %s (must be %s or %s)", s, FlushOnTurnEnd, FlushOnInterrupt)
	}
	return p, nil
}
