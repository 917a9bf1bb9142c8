package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
)

type mockOutput struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	closes   int
}

func (m *mockOutput) WriteFrame(ctx context.Context, pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, pcm)
	return nil
}

func (m *mockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

type discardingOutput struct {
	mockOutput
	pending int
}

func (d *discardingOutput) Discard() int {
	n := d.pending
	d.pending = 0
	return n
}

type recordingLogger struct {
	orchestrator.NoOpLogger
	mu    sync.Mutex
	infos []string
	args  [][]interface{}
}

func (l *recordingLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
	l.args = append(l.args, args)
}

type mockInput struct{}

func (mockInput) ReadFrame(ctx context.Context) ([]byte, error) { return nil, nil }
func (mockInput) Close() error                                  { return nil }

type mockDevices struct {
	output    *mockOutput
	outputErr error
	rates     []int
}

func (d *mockDevices) OpenInput(sampleRate, channels, frameSize int) (orchestrator.InputStream, error) {
	return mockInput{}, nil
}

func (d *mockDevices) OpenOutput(sampleRate, channels int) (orchestrator.OutputStream, error) {
	d.rates = append(d.rates, sampleRate)
	if d.outputErr != nil {
		return nil, d.outputErr
	}
	return d.output, nil
}

func TestRecordingDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.wav")
	out := &mockOutput{}
	devices := &RecordingDevices{AudioDevices: &mockDevices{output: out}, Path: path}

	speaker, err := devices.OpenOutput(24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := speaker.WriteFrame(context.Background(), []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := speaker.WriteFrame(context.Background(), []byte{3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := speaker.Close(); err != nil {
		t.Fatal(err)
	}

	if len(out.written) != 2 || out.closes != 1 {
		t.Errorf("expected 2 writes and 1 close, got %d/%d", len(out.written), out.closes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := wavFile([]byte{1, 2, 3, 4}, 24000)
	if string(data) != string(want) {
		t.Errorf("recording does not match played audio")
	}

	if _, err := devices.OpenInput(16000, 1, 1024); err != nil {
		t.Errorf("input should pass through, got %v", err)
	}
}

func TestRecordingDevices_OutputError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.wav")
	devices := &RecordingDevices{
		AudioDevices: &mockDevices{outputErr: errors.New("no speaker")},
		Path:         path,
	}

	if _, err := devices.OpenOutput(24000, 1); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no recording should be created when the speaker fails")
	}
}

func TestRecordingDevices_BadPathClosesSpeaker(t *testing.T) {
	out := &mockOutput{}
	devices := &RecordingDevices{
		AudioDevices: &mockDevices{output: out},
		Path:         filepath.Join(t.TempDir(), "missing", "dir", "x.wav"),
	}

	if _, err := devices.OpenOutput(24000, 1); err == nil {
		t.Fatal("expected error")
	}
	if out.closes != 1 {
		t.Errorf("expected speaker closed, got %d", out.closes)
	}
}

func TestTeeOutput_PlaybackErrorWins(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.wav"))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := NewWavWriter(f, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	out := &mockOutput{writeErr: errors.New("underrun")}
	tee := NewTeeOutput(out, rec, nil)
	defer tee.Close()

	if err := tee.WriteFrame(context.Background(), []byte{1, 2}); err == nil {
		t.Fatal("expected playback error")
	}
	if rec.Written() != 0 {
		t.Error("audio that failed to play must not be recorded")
	}
}

func TestTeeOutput_RecordingErrorIsIgnored(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.wav"))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := NewWavWriter(f, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	_ = rec.Close()

	out := &mockOutput{}
	tee := NewTeeOutput(out, rec, nil)
	for i := 0; i < 3; i++ {
		if err := tee.WriteFrame(context.Background(), []byte{1, 2}); err != nil {
			t.Fatalf("recording errors must not stop playback: %v", err)
		}
	}
	if len(out.written) != 3 {
		t.Errorf("expected 3 frames played, got %d", len(out.written))
	}
}

func TestTeeOutput_Discard(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.wav"))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := NewWavWriter(f, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}

	out := &discardingOutput{pending: 480}
	tee := NewTeeOutput(out, rec, nil)
	defer tee.Close()
	if n := tee.Discard(); n != 480 {
		t.Errorf("expected 480 bytes discarded, got %d", n)
	}

	plain := NewTeeOutput(&mockOutput{}, rec, nil)
	if n := plain.Discard(); n != 0 {
		t.Errorf("expected 0 for a speaker without discard, got %d", n)
	}
}

func TestTeeOutput_CloseLogsRecordingSize(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.wav"))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := NewWavWriter(f, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	logger := &recordingLogger{}
	tee := NewTeeOutput(&mockOutput{}, rec, logger)

	_ = tee.WriteFrame(context.Background(), []byte{1, 2, 3, 4})
	if err := tee.Close(); err != nil {
		t.Fatal(err)
	}

	if len(logger.infos) != 1 || logger.infos[0] != "recording saved" {
		t.Fatalf("expected a recording saved log, got %v", logger.infos)
	}
	if args := logger.args[0]; len(args) != 2 || args[0] != "bytes" || args[1] != 4 {
		t.Errorf("expected bytes=4, got %v", args)
	}
}
