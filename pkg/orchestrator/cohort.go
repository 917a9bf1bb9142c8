package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// cohort holds everything the five tasks of one session share. It lives for
// exactly one Run.
type cohort struct {
	cfg      Config
	session  Session
	mic      *onceInput
	speaker  *onceOutput
	input    io.Reader
	sink     TextSink
	outbound *OutboundQueue
	inbound  *InboundQueue
	guard    *echoGuard
	logger   Logger
	recorder Recorder

	// sendMu serializes SendFrame and SendText so the session never sees two
	// concurrent sends, whatever the transport guarantees.
	sendMu sync.Mutex
}

func (c *cohort) capture(ctx context.Context) error {
	defer c.mic.Close()

	for {
		pcm, err := c.mic.ReadFrame(ctx)
		if err != nil {
			return c.taskErr(ctx, TaskCapture, err)
		}
		pcm = c.guard.filter(pcm)

		if err := c.outbound.Push(ctx, Frame{Type: MediaAudio, Data: pcm}); err != nil {
			return err
		}
	}
}

func (c *cohort) textInput(ctx context.Context) error {
	lines, stop := readLines(c.input)
	defer stop()

	for {
		c.prompt()

		var res lineResult
		select {
		case res = <-lines:
		case <-ctx.Done():
			return ctx.Err()
		}

		if res.err != nil {
			return c.taskErr(ctx, TaskTextInput, res.err)
		}
		if res.eof {
			c.logger.Info("operator input closed, ending conversation")
			return ErrUserExit
		}

		text := res.line
		if strings.EqualFold(text, "q") {
			return ErrUserExit
		}
		if text == "" {
			text = "."
		}

		c.sendMu.Lock()
		err := c.session.SendText(ctx, text, true)
		c.sendMu.Unlock()
		if err != nil {
			return c.taskErr(ctx, TaskTextInput, fmt.Errorf("send text: %w", err))
		}
		c.recorder.FrameSent(ctx, MediaText)
	}
}

func (c *cohort) transmit(ctx context.Context) error {
	for {
		frame, err := c.outbound.Pop(ctx)
		if err != nil {
			return err
		}

		c.sendMu.Lock()
		err = c.session.SendFrame(ctx, frame)
		c.sendMu.Unlock()
		if err != nil {
			return c.taskErr(ctx, TaskTransmit, err)
		}
		c.recorder.FrameSent(ctx, frame.Type)
	}
}

func (c *cohort) receive(ctx context.Context) error {
	for {
		ev, err := c.session.Receive(ctx)
		if err != nil {
			return c.taskErr(ctx, TaskReceive, err)
		}

		switch ev.Kind {
		case EventAudio:
			c.inbound.Push(ev.Audio)
			c.recorder.AudioReceived(ctx, len(ev.Audio))
		case EventText:
			c.sink.WriteText(ev.Text)
			c.recorder.TextReceived(ctx)
		case EventTurnBoundary:
			c.endTurn(ctx, ev)
		default:
			c.logger.Warn("ignoring unknown session event", "kind", ev.Kind.String())
		}
	}
}

// endTurn performs the interruption flush: audio the remote side streamed
// faster than it could be played must not play after the turn is over.
func (c *cohort) endTurn(ctx context.Context, ev Event) {
	if !c.cfg.FlushPolicy.shouldFlush(ev) {
		c.logger.Debug("turn complete, keeping buffered audio", "buffered", c.inbound.Len())
		return
	}
	n := c.inbound.Flush()
	dropped := c.speaker.discard()
	c.logger.Debug("turn boundary, flushed inbound audio", "discarded", n, "speakerBytes", dropped, "interrupted", ev.Interrupted)
	c.recorder.InboundFlushed(ctx, n, ev.Interrupted)
}

func (c *cohort) playback(ctx context.Context) error {
	defer c.speaker.Close()

	for {
		pcm, err := c.inbound.Pop(ctx)
		if err != nil {
			return err
		}

		if err := c.speaker.WriteFrame(ctx, pcm); err != nil {
			return c.taskErr(ctx, TaskPlayback, err)
		}
		c.guard.notePlayback()
		c.recorder.AudioPlayed(ctx, len(pcm))
	}
}

func (c *cohort) prompt() {
	if c.cfg.PromptWriter == nil || c.cfg.Prompt == "" {
		return
	}
	_, _ = io.WriteString(c.cfg.PromptWriter, c.cfg.Prompt)
}

// taskErr turns an I/O failure into a cohort failure, unless the cohort is
// already shutting down, in which case the failure is a side effect of
// cancellation (closed devices, closed socket) and not reported.
func (c *cohort) taskErr(ctx context.Context, task string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TaskError{Task: task, Err: err}
}

// maxLineBytes bounds one operator line. Pasted text up to this size is
// forwarded whole.
const maxLineBytes = 16 * 1024 * 1024

type lineResult struct {
	line string
	eof  bool
	err  error
}

// readLines scans r on its own goroutine so a blocked terminal read never
// delays cancellation. The goroutine exits at the next line or EOF after stop.
func readLines(r io.Reader) (<-chan lineResult, func()) {
	out := make(chan lineResult)
	done := make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case out <- lineResult{line: scanner.Text()}:
			case <-done:
				return
			}
		}

		res := lineResult{eof: true}
		if err := scanner.Err(); err != nil {
			res = lineResult{err: err}
		}
		select {
		case out <- res:
		case <-done:
		}
	}()

	var once sync.Once
	return out, func() { once.Do(func() { close(done) }) }
}

// onceInput and onceOutput guarantee a device handle is closed exactly once,
// no matter how many exit paths race to release it.
type onceInput struct {
	InputStream
	once sync.Once
	err  error
}

func (o *onceInput) Close() error {
	o.once.Do(func() { o.err = o.InputStream.Close() })
	return o.err
}

type onceOutput struct {
	OutputStream
	once sync.Once
	err  error
}

func (o *onceOutput) Close() error {
	o.once.Do(func() { o.err = o.OutputStream.Close() })
	return o.err
}

// discard drops audio the device has accepted but not played yet, when the
// device supports it.
func (o *onceOutput) discard() int {
	if d, ok := o.OutputStream.(Discarder); ok {
		return d.Discard()
	}
	return 0
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
