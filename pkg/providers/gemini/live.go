// Package gemini implements orchestrator.Transport for the Gemini Live API.
//
// A session is one BidiGenerateContent WebSocket. Audio goes up as base64 PCM
// realtime chunks, operator text as client content turns; the server streams
// back audio, text and turn boundaries.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
)

var _ orchestrator.Transport = (*Transport)(nil)
var _ orchestrator.Session = (*session)(nil)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultModel   = "models/gemini-2.0-flash-exp"
	serviceMethod  = "google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	readLimit         = 10 * 1024 * 1024
)

// ServerError is an error frame sent by the Live API.
type ServerError struct {
	Code    int
	Status  string
	Message string
}

func (e *ServerError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: server error %d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: server error %d: %s", e.Code, e.Message)
}

type Option func(*Transport)

// WithBaseURL points the transport at another endpoint, typically a test
// server.
func WithBaseURL(u string) Option {
	return func(t *Transport) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithModel sets the model used when SessionConfig.Model is empty.
func WithModel(model string) Option {
	return func(t *Transport) { t.model = model }
}

func WithLogger(l orchestrator.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

type Transport struct {
	apiKey  string
	baseURL string
	model   string
	logger  orchestrator.Logger
}

func New(apiKey string, opts ...Option) *Transport {
	t := &Transport{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		logger:  &orchestrator.NoOpLogger{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) Name() string {
	return "gemini"
}

// Connect dials the Live endpoint, sends the setup message and waits for
// setupComplete. The returned session is ready for audio and text.
func (t *Transport) Connect(ctx context.Context, cfg orchestrator.SessionConfig) (orchestrator.Session, error) {
	u := fmt.Sprintf("%s/%s?key=%s", t.baseURL, serviceMethod, url.QueryEscape(t.apiKey))

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = 16000
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:      conn,
		logger:    t.logger,
		audioMIME: fmt.Sprintf("%s;rate=%d", orchestrator.MediaAudio, rate),
		ctx:       sessCtx,
		cancel:    cancel,
	}

	if err := s.handshake(ctx, t.setup(cfg)); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, err
	}
	t.logger.Debug("gemini session established", "model", t.modelName(cfg))

	go s.keepalive()
	return s, nil
}

func (t *Transport) modelName(cfg orchestrator.SessionConfig) string {
	model := cfg.Model
	if model == "" {
		model = t.model
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return model
}

func (t *Transport) setup(cfg orchestrator.SessionConfig) setupMessage {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}

	msg := setupMessage{Setup: setupConfig{
		Model: t.modelName(cfg),
		GenerationConfig: generationConfig{
			ResponseModalities: modalities,
			MediaResolution:    cfg.MediaResolution,
		},
	}}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.CompressionTrigger > 0 {
		cc := &compressionConfig{TriggerTokens: cfg.CompressionTrigger}
		if cfg.CompressionTarget > 0 {
			cc.SlidingWindow = &slidingWindow{TargetTokens: cfg.CompressionTarget}
		}
		msg.Setup.ContextWindowCompression = cc
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &audioTranscription{}
	}
	return msg
}

type session struct {
	conn      *websocket.Conn
	logger    orchestrator.Logger
	audioMIME string

	// pending holds events decoded from one server message that Receive has
	// not returned yet. Only the receiving goroutine touches it.
	pending []orchestrator.Event

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *session) handshake(ctx context.Context, setup setupMessage) error {
	if err := s.writeJSON(ctx, setup); err != nil {
		return fmt.Errorf("gemini: send setup: %w", err)
	}
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("gemini: await setup: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error.err()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func (s *session) SendFrame(ctx context.Context, frame orchestrator.Frame) error {
	var in realtimeInput
	switch frame.Type {
	case orchestrator.MediaAudio:
		in.MediaChunks = []inlineData{{
			MIMEType: s.audioMIME,
			Data:     base64.StdEncoding.EncodeToString(frame.Data),
		}}
	case orchestrator.MediaText:
		in.Text = string(frame.Data)
	default:
		return fmt.Errorf("gemini: unsupported media type %q", frame.Type)
	}
	return s.writeJSON(ctx, realtimeInputMessage{RealtimeInput: in})
}

func (s *session) SendText(ctx context.Context, text string, endOfTurn bool) error {
	return s.writeJSON(ctx, clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: endOfTurn,
	}})
}

// Receive returns the next event of the server stream. It must not be called
// concurrently.
func (s *session) Receive(ctx context.Context) (orchestrator.Event, error) {
	for len(s.pending) == 0 {
		if s.ctx.Err() != nil {
			return orchestrator.Event{}, orchestrator.ErrSessionClosed
		}
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return orchestrator.Event{}, ctx.Err()
			}
			if s.ctx.Err() != nil {
				return orchestrator.Event{}, orchestrator.ErrSessionClosed
			}
			return orchestrator.Event{}, fmt.Errorf("gemini: read: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skipping malformed server message", "error", err)
			continue
		}
		if msg.Error != nil {
			return orchestrator.Event{}, msg.Error.err()
		}
		if msg.GoAway != nil {
			s.logger.Warn("server is going away", "timeLeft", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			s.pending = s.decode(msg.ServerContent)
		}
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// decode flattens one serverContent into events in wire order. A message
// that is both interrupted and complete yields a single interrupted boundary.
func (s *session) decode(sc *serverContent) []orchestrator.Event {
	var events []orchestrator.Event
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					s.logger.Warn("skipping undecodable audio part", "error", err)
				} else if len(pcm) > 0 {
					events = append(events, orchestrator.AudioEvent(pcm))
				}
			}
			if p.Text != "" {
				events = append(events, orchestrator.TextEvent(p.Text))
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, orchestrator.TextEvent(sc.OutputTranscription.Text))
	}
	if sc.Interrupted || sc.TurnComplete {
		events = append(events, orchestrator.TurnBoundary(sc.Interrupted))
	}
	return events
}

func (s *session) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pingCtx); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("keepalive ping failed", "error", err)
			}
			cancel()
		}
	}
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	if s.ctx.Err() != nil {
		return orchestrator.ErrSessionClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("gemini: write: %w", err)
	}
	return nil
}

// Close ends the session. It is safe to call more than once.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close(websocket.StatusNormalClosure, "")
		var ce websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
			err = nil
		}
	})
	return err
}

func (e *serverError) err() error {
	return &ServerError{Code: e.Code, Status: e.Status, Message: e.Message}
}
