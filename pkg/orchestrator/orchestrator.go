package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("orchestrator already started")

// Dependencies are the collaborators one session needs. Context, Instructions
// and Recorder are optional.
type Dependencies struct {
	Transport    Transport
	Devices      AudioDevices
	Context      ContextProvider
	Instructions InstructionBuilder
	Input        io.Reader
	Output       TextSink
	Recorder     Recorder
}

// Orchestrator owns one remote session and the cohort of tasks moving audio
// and text through it.
type Orchestrator struct {
	deps   Dependencies
	config Config
	logger Logger

	mu        sync.RWMutex
	started   bool
	state     State
	outcome   Outcome
	observers []func(State)
}

// New creates a new orchestrator with the given collaborators
func New(deps Dependencies, config Config) *Orchestrator {
	return NewWithLogger(deps, config, &NoOpLogger{})
}

// NewWithLogger creates a new orchestrator with a custom logger
// If logger is nil, a no-op logger is used
func NewWithLogger(deps Dependencies, config Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if deps.Recorder == nil {
		deps.Recorder = NoOpRecorder{}
	}
	if config.FlushPolicy == "" {
		config.FlushPolicy = FlushOnTurnEnd
	}
	if config.Mode == "" {
		config.Mode = DisplayNone
	}
	return &Orchestrator{
		deps:   deps,
		config: config,
		logger: logger,
	}
}

// OnStateChange registers a callback invoked synchronously on every state
// transition. Register before Run.
func (o *Orchestrator) OnStateChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Outcome reports how the last Run ended
func (o *Orchestrator) Outcome() Outcome {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.outcome
}

// GetConfig returns the configuration
func (o *Orchestrator) GetConfig() Config {
	return o.config
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.state == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	observers := append([]func(State){}, o.observers...)
	o.mu.Unlock()

	o.logger.Debug("session state changed", "state", s.String())
	for _, fn := range observers {
		fn(s)
	}
}

func (o *Orchestrator) validate() error {
	switch {
	case o.deps.Transport == nil:
		return fmt.Errorf("%w: transport", ErrNilDependency)
	case o.deps.Devices == nil:
		return fmt.Errorf("%w: audio devices", ErrNilDependency)
	case o.deps.Input == nil:
		return fmt.Errorf("%w: text input", ErrNilDependency)
	case o.deps.Output == nil:
		return fmt.Errorf("%w: text output", ErrNilDependency)
	}
	if o.config.Mode != DisplayNone {
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, o.config.Mode)
	}
	if !o.config.FlushPolicy.IsValid() {
		return fmt.Errorf("invalid flush policy %q", o.config.FlushPolicy)
	}
	return nil
}

// Run establishes the session, runs the cohort and blocks until it has
// terminated and every resource is released. It returns nil when the
// operator ends the conversation or ctx is cancelled, a *StartupError when
// the session could not be set up and a *TaskError when a task failed.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	start := time.Now()
	if err := o.validate(); err != nil {
		o.finish(ctx, OutcomeFailed, start)
		return err
	}

	o.setState(StateConnecting)

	sessCfg := o.config.Session
	sessCfg.InputSampleRate = o.config.SendSampleRate
	sessCfg.SystemInstruction = o.instructions(ctx)

	mic, err := o.deps.Devices.OpenInput(o.config.SendSampleRate, o.config.Channels, o.config.FrameSize)
	if err != nil {
		return o.startupFailed(ctx, start, StageMicrophone, err)
	}
	in := &onceInput{InputStream: mic}

	speaker, err := o.deps.Devices.OpenOutput(o.config.ReceiveSampleRate, o.config.Channels)
	if err != nil {
		_ = in.Close()
		return o.startupFailed(ctx, start, StageSpeaker, err)
	}
	out := &onceOutput{OutputStream: speaker}

	session, err := o.deps.Transport.Connect(ctx, sessCfg)
	if err != nil {
		_ = in.Close()
		_ = out.Close()
		return o.startupFailed(ctx, start, StageConnect, err)
	}
	o.logger.Info("session connected", "transport", o.deps.Transport.Name(), "userID", o.config.UserID)

	c := &cohort{
		cfg:      o.config,
		session:  session,
		mic:      in,
		speaker:  out,
		input:    o.deps.Input,
		sink:     o.deps.Output,
		outbound: NewOutboundQueue(o.config.OutboundCapacity),
		inbound:  NewInboundQueue(),
		guard:    newEchoGuard(o.config.EchoGuard),
		logger:   o.logger,
		recorder: o.deps.Recorder,
	}

	err = o.runCohort(ctx, c)

	if cerr := session.Close(); cerr != nil {
		o.logger.Warn("session close failed", "error", cerr)
	}

	var taskErr *TaskError
	switch {
	case err == nil, errors.Is(err, ErrUserExit):
		o.logger.Info("conversation ended by operator")
		o.finish(ctx, OutcomeUserExit, start)
		return nil
	case errors.As(err, &taskErr):
		o.logger.Error("task failed", "task", taskErr.Task, "error", taskErr.Err)
		o.deps.Recorder.TaskFailed(ctx, taskErr.Task)
		o.finish(ctx, OutcomeFailed, start)
		return err
	case isCancellation(err) && ctx.Err() != nil:
		o.logger.Info("conversation cancelled")
		o.finish(ctx, OutcomeCancelled, start)
		return nil
	default:
		o.logger.Error("cohort failed", "error", err)
		o.finish(ctx, OutcomeFailed, start)
		return err
	}
}

// runCohort starts the five tasks and waits for all of them. The first task
// to return cancels its siblings; devices are closed at that moment so that
// reads and writes that do not watch the context also return.
func (o *Orchestrator) runCohort(ctx context.Context, c *cohort) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.capture(gctx) })
	g.Go(func() error { return c.transmit(gctx) })
	g.Go(func() error { return c.receive(gctx) })
	g.Go(func() error { return c.playback(gctx) })
	g.Go(func() error { return c.textInput(gctx) })
	o.setState(StateActive)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-gctx.Done()
		o.setState(StateDraining)
		_ = c.mic.Close()
		_ = c.speaker.Close()
	}()

	err := g.Wait()
	<-drained
	return err
}

func (o *Orchestrator) instructions(ctx context.Context) string {
	var contextText string
	if o.deps.Context != nil {
		contextText = o.deps.Context.FetchContext(ctx, o.config.UserID)
		o.logger.Info("context loaded", "userID", o.config.UserID, "length", len(contextText))
	}
	if o.deps.Instructions != nil {
		return o.deps.Instructions(contextText)
	}
	return contextText
}

func (o *Orchestrator) startupFailed(ctx context.Context, start time.Time, stage string, err error) error {
	if ctx.Err() != nil {
		o.logger.Info("conversation cancelled during startup", "stage", stage)
		o.finish(ctx, OutcomeCancelled, start)
		return nil
	}
	o.logger.Error("session startup failed", "stage", stage, "error", err)
	o.finish(ctx, OutcomeFailed, start)
	return &StartupError{Stage: stage, Err: err}
}

func (o *Orchestrator) finish(ctx context.Context, outcome Outcome, start time.Time) {
	o.mu.Lock()
	o.outcome = outcome
	o.mu.Unlock()
	o.setState(StateTerminated)
	o.deps.Recorder.SessionEnded(context.WithoutCancel(ctx), outcome, time.Since(start))
}
