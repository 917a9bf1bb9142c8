package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
)

var _ orchestrator.Discarder = (*TeeOutput)(nil)

// TeeOutput plays audio and records it. Recording failures are logged once
// and never interrupt playback.
type TeeOutput struct {
	out    orchestrator.OutputStream
	rec    *WavWriter
	logger orchestrator.Logger

	warnOnce sync.Once
}

func NewTeeOutput(out orchestrator.OutputStream, rec *WavWriter, logger orchestrator.Logger) *TeeOutput {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &TeeOutput{out: out, rec: rec, logger: logger}
}

func (t *TeeOutput) WriteFrame(ctx context.Context, pcm []byte) error {
	if err := t.out.WriteFrame(ctx, pcm); err != nil {
		return err
	}
	if _, err := t.rec.Write(pcm); err != nil {
		t.warnOnce.Do(func() {
			t.logger.Warn("recording failed, continuing playback only", "error", err)
		})
	}
	return nil
}

// Discard drops audio the wrapped speaker has not played yet. The recording
// keeps it: it logs what was sent to the speaker.
func (t *TeeOutput) Discard() int {
	if d, ok := t.out.(orchestrator.Discarder); ok {
		return d.Discard()
	}
	return 0
}

func (t *TeeOutput) Close() error {
	err := errors.Join(t.out.Close(), t.rec.Close())
	t.logger.Info("recording saved", "bytes", t.rec.Written())
	return err
}

// RecordingDevices records everything played through the speaker to a WAV
// file at Path. Input devices are passed through unchanged.
type RecordingDevices struct {
	orchestrator.AudioDevices
	Path   string
	Logger orchestrator.Logger
}

func (r *RecordingDevices) OpenOutput(sampleRate, channels int) (orchestrator.OutputStream, error) {
	out, err := r.AudioDevices.OpenOutput(sampleRate, channels)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(r.Path)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("audio: create recording: %w", err)
	}
	rec, err := NewWavWriter(f, sampleRate, channels)
	if err != nil {
		_ = f.Close()
		_ = out.Close()
		return nil, err
	}
	if r.Logger != nil {
		r.Logger.Info("recording speaker output", "path", r.Path)
	}
	return NewTeeOutput(out, rec, r.Logger), nil
}
