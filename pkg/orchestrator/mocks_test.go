package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

var errNoMoreEvents = errors.New("no more scripted events")

type MockSession struct {
	mu      sync.Mutex
	script  []Event
	events  chan Event
	recvErr error
	sendErr error
	frames  []Frame
	texts   []string
	eots    []bool
	closes  int

	// inFlight counts concurrent sends; maxInFlight records the peak.
	inFlight    int
	maxInFlight int
	sendDelay   time.Duration
}

func NewMockSession() *MockSession {
	return &MockSession{events: make(chan Event)}
}

func (m *MockSession) enterSend() func() {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.sendDelay
	m.mu.Unlock()
	time.Sleep(delay)
	return func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}
}

func (m *MockSession) SendFrame(ctx context.Context, frame Frame) error {
	defer m.enterSend()()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, frame)
	return nil
}

func (m *MockSession) SendText(ctx context.Context, text string, endOfTurn bool) error {
	defer m.enterSend()()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.texts = append(m.texts, text)
	m.eots = append(m.eots, endOfTurn)
	return nil
}

// Receive replays the script first, then returns recvErr if set, then
// waits on the events channel.
func (m *MockSession) Receive(ctx context.Context) (Event, error) {
	m.mu.Lock()
	if len(m.script) > 0 {
		ev := m.script[0]
		m.script = m.script[1:]
		m.mu.Unlock()
		return ev, nil
	}
	err := m.recvErr
	m.mu.Unlock()
	if err != nil {
		return Event{}, err
	}

	select {
	case ev := <-m.events:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *MockSession) Frames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.frames...)
}

func (m *MockSession) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func (m *MockSession) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockSession) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type MockTransport struct {
	mu         sync.Mutex
	session    *MockSession
	connectErr error
	connects   int
	lastConfig SessionConfig
}

func (t *MockTransport) Connect(ctx context.Context, cfg SessionConfig) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.lastConfig = cfg
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.session, nil
}

func (t *MockTransport) Name() string { return "MockTransport" }

func (t *MockTransport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// MockInput yields queued frames. With ignoreCtx it behaves like a driver
// call that only returns when the handle is closed.
type MockInput struct {
	frames    chan []byte
	readErr   error
	ignoreCtx bool

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	closes    int
	reading   chan struct{}
}

func NewMockInput(buffer int) *MockInput {
	return &MockInput{
		frames:  make(chan []byte, buffer),
		closed:  make(chan struct{}),
		reading: make(chan struct{}, 1),
	}
}

func (m *MockInput) ReadFrame(ctx context.Context) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	select {
	case m.reading <- struct{}{}:
	default:
	}

	done := ctx.Done()
	if m.ignoreCtx {
		done = nil
	}
	select {
	case f := <-m.frames:
		return f, nil
	case <-m.closed:
		return nil, errors.New("input closed")
	case <-done:
		return nil, ctx.Err()
	}
}

func (m *MockInput) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *MockInput) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MockOutput records writes. When gate is set every write blocks until the
// gate is closed; writing receives each buffer as its write starts.
type MockOutput struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	gate     chan struct{}
	writing  chan []byte
	closes   int
}

func NewMockOutput() *MockOutput {
	return &MockOutput{writing: make(chan []byte, 16)}
}

func (m *MockOutput) WriteFrame(ctx context.Context, pcm []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	select {
	case m.writing <- pcm:
	default:
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, pcm)
	return nil
}

func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *MockOutput) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

func (m *MockOutput) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type MockDevices struct {
	mu        sync.Mutex
	input     *MockInput
	output    *MockOutput
	inputErr  error
	outputErr error
	inputArgs [3]int
	opened    []string
}

func (d *MockDevices) OpenInput(sampleRate, channels, frameSize int) (InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputArgs = [3]int{sampleRate, channels, frameSize}
	if d.inputErr != nil {
		return nil, d.inputErr
	}
	d.opened = append(d.opened, "input")
	return d.input, nil
}

func (d *MockDevices) OpenOutput(sampleRate, channels int) (OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outputErr != nil {
		return nil, d.outputErr
	}
	d.opened = append(d.opened, "output")
	return d.output, nil
}

func (d *MockDevices) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

type MockContextProvider struct {
	text   string
	userID string
}

func (p *MockContextProvider) FetchContext(ctx context.Context, userID string) string {
	p.userID = userID
	return p.text
}

type MockSink struct {
	mu sync.Mutex
	sb strings.Builder
}

func (s *MockSink) WriteText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sb.WriteString(text)
}

func (s *MockSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sb.String()
}

type stateLog struct {
	mu     sync.Mutex
	states []State
	active chan struct{}
	once   sync.Once
}

func newStateLog() *stateLog {
	return &stateLog{active: make(chan struct{})}
}

func (l *stateLog) observe(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
	if s == StateActive {
		l.once.Do(func() { close(l.active) })
	}
}

func (l *stateLog) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

// eventually polls cond until it holds or the timeout passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

type testRig struct {
	transport *MockTransport
	session   *MockSession
	devices   *MockDevices
	input     *MockInput
	output    *MockOutput
	sink      *MockSink
	states    *stateLog
}

func newTestRig() *testRig {
	session := NewMockSession()
	input := NewMockInput(64)
	output := NewMockOutput()
	return &testRig{
		transport: &MockTransport{session: session},
		session:   session,
		devices:   &MockDevices{input: input, output: output},
		input:     input,
		output:    output,
		sink:      &MockSink{},
		states:    newStateLog(),
	}
}

func (r *testRig) orchestrator(operator string) *Orchestrator {
	return r.orchestratorWithInput(strings.NewReader(operator))
}

func (r *testRig) orchestratorWithInput(operator io.Reader) *Orchestrator {
	orch := New(Dependencies{
		Transport: r.transport,
		Devices:   r.devices,
		Input:     operator,
		Output:    r.sink,
	}, DefaultConfig())
	orch.OnStateChange(r.states.observe)
	return orch
}
