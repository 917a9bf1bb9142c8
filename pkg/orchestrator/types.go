package orchestrator

import (
	"context"
	"io"
	"sync"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

type MediaType string

const (
	MediaAudio MediaType = "audio/pcm"
	MediaText  MediaType = "text/plain"
)

// Frame is one unit moving through the outbound path. Data must not be
// modified after the frame is queued.
type Frame struct {
	Type MediaType
	Data []byte
}

type EventKind int

const (
	EventAudio EventKind = iota
	EventText
	EventTurnBoundary
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventTurnBoundary:
		return "turn_boundary"
	default:
		return "unknown"
	}
}

// Event is one item of the remote session's receive stream. Exactly one of
// the payload fields is meaningful, selected by Kind.
type Event struct {
	Kind EventKind
	// Audio carries raw PCM for EventAudio.
	Audio []byte
	// Text carries a text fragment for EventText.
	Text string
	// Interrupted is set on an EventTurnBoundary when the remote turn was cut
	// short by the operator instead of completing naturally.
	Interrupted bool
}

func AudioEvent(data []byte) Event { return Event{Kind: EventAudio, Audio: data} }
func TextEvent(text string) Event  { return Event{Kind: EventText, Text: text} }
func TurnBoundary(interrupted bool) Event {
	return Event{Kind: EventTurnBoundary, Interrupted: interrupted}
}

// SessionConfig is handed to the transport at connect time. The orchestrator
// fills SystemInstruction and InputSampleRate; the rest is owned by whoever
// builds it.
type SessionConfig struct {
	Model               string
	Voice               string
	MediaResolution     string
	ResponseModalities  []string
	SystemInstruction   string
	CompressionTrigger  int
	CompressionTarget   int
	OutputTranscription bool
	InputSampleRate     int
}

type Transport interface {
	// Connect performs the handshake. The returned session is live.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
	Name() string
}

type Session interface {
	SendFrame(ctx context.Context, frame Frame) error
	// SendText sends operator text. endOfTurn tells the remote party the
	// operator finished speaking.
	SendText(ctx context.Context, text string, endOfTurn bool) error
	// Receive blocks for the next event of the inbound stream.
	Receive(ctx context.Context) (Event, error)
	Close() error
}

type InputStream interface {
	// ReadFrame blocks until one full frame has been captured.
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

type OutputStream interface {
	// WriteFrame blocks until the device has accepted the buffer.
	WriteFrame(ctx context.Context, pcm []byte) error
	Close() error
}

// Discarder is implemented by output streams that keep audio after
// WriteFrame returns. Discard drops everything accepted but not yet played
// and reports how many bytes were dropped.
type Discarder interface {
	Discard() int
}

type AudioDevices interface {
	OpenInput(sampleRate, channels, frameSize int) (InputStream, error)
	OpenOutput(sampleRate, channels int) (OutputStream, error)
}

// ContextProvider returns the text used to seed the system prompt. It handles
// its own failures and always returns something usable.
type ContextProvider interface {
	FetchContext(ctx context.Context, userID string) string
}

// InstructionBuilder turns the fetched context into the system instruction.
type InstructionBuilder func(contextText string) string

type TextSink interface {
	WriteText(text string)
}

// WriterSink writes remote text fragments to an io.Writer as they arrive.
type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{W: w}
}

func (s *WriterSink) WriteText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.W, text)
}

// Recorder receives pipeline measurements. All methods must be safe for
// concurrent use.
type Recorder interface {
	FrameSent(ctx context.Context, media MediaType)
	AudioReceived(ctx context.Context, bytes int)
	TextReceived(ctx context.Context)
	AudioPlayed(ctx context.Context, bytes int)
	InboundFlushed(ctx context.Context, discarded int, interrupted bool)
	TaskFailed(ctx context.Context, task string)
	SessionEnded(ctx context.Context, outcome Outcome, d time.Duration)
}

type NoOpRecorder struct{}

func (NoOpRecorder) FrameSent(context.Context, MediaType)                 {}
func (NoOpRecorder) AudioReceived(context.Context, int)                   {}
func (NoOpRecorder) TextReceived(context.Context)                         {}
func (NoOpRecorder) AudioPlayed(context.Context, int)                     {}
func (NoOpRecorder) InboundFlushed(context.Context, int, bool)            {}
func (NoOpRecorder) TaskFailed(context.Context, string)                   {}
func (NoOpRecorder) SessionEnded(context.Context, Outcome, time.Duration) {}

// DisplayMode selects which visual stream accompanies audio. Only the
// audio-only mode is implemented.
type DisplayMode string

const (
	DisplayNone   DisplayMode = "none"
	DisplayCamera DisplayMode = "camera"
	DisplayScreen DisplayMode = "screen"
)

// FlushPolicy decides which turn boundaries discard unplayed audio.
type FlushPolicy string

const (
	// FlushOnTurnEnd flushes on every boundary, interrupted or not.
	FlushOnTurnEnd FlushPolicy = "turn_end"
	// FlushOnInterrupt flushes only when the remote turn was interrupted, so
	// the tail of a naturally completed answer still plays.
	FlushOnInterrupt FlushPolicy = "interrupt"
)

func (p FlushPolicy) IsValid() bool {
	return p == FlushOnTurnEnd || p == FlushOnInterrupt
}

func (p FlushPolicy) shouldFlush(ev Event) bool {
	if p == FlushOnInterrupt {
		return ev.Interrupted
	}
	return true
}

type Config struct {
	UserID            string
	Mode              DisplayMode
	SendSampleRate    int
	ReceiveSampleRate int
	Channels          int
	FrameSize         int
	OutboundCapacity  int
	FlushPolicy       FlushPolicy
	// Prompt is written to PromptWriter before every operator line read.
	Prompt       string
	PromptWriter io.Writer
	Session      SessionConfig
	EchoGuard    EchoGuardConfig
}

func DefaultConfig() Config {
	return Config{
		UserID:            "default_user",
		Mode:              DisplayNone,
		SendSampleRate:    16000,
		ReceiveSampleRate: 24000,
		Channels:          1,
		FrameSize:         1024,
		OutboundCapacity:  5,
		FlushPolicy:       FlushOnTurnEnd,
		Prompt:            "message > ",
	}
}

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeUserExit  Outcome = "user_exit"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)
