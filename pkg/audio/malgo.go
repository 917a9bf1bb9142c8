package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
)

var _ orchestrator.AudioDevices = (*Devices)(nil)
var _ orchestrator.Discarder = (*Speaker)(nil)

const (
	periodMillis = 20
	// captureBacklog bounds how much unread microphone audio is kept.
	captureBacklog = 2000
	// playbackBacklog bounds how much queued speaker audio WriteFrame accepts
	// before it blocks. Kept to a few periods so little audio sits below the
	// inbound queue when a turn is flushed.
	playbackBacklog = 5 * periodMillis
)

// bytesFor returns the size of ms milliseconds of 16-bit PCM.
func bytesFor(ms, sampleRate, channels int) int {
	return sampleRate * channels * 2 * ms / 1000
}

// Devices opens the default capture and playback devices through miniaudio.
type Devices struct {
	ctx    *malgo.AllocatedContext
	logger orchestrator.Logger
}

func NewDevices(logger orchestrator.Logger) (*Devices, error) {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("miniaudio", "message", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	return &Devices{ctx: mctx, logger: logger}, nil
}

// Close releases the audio context. Streams must be closed first.
func (d *Devices) Close() error {
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

func (d *Devices) OpenInput(sampleRate, channels, frameSize int) (orchestrator.InputStream, error) {
	buf := newPCMBuffer(bytesFor(captureBacklog, sampleRate, channels), true)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = periodMillis
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) > 0 {
				buf.write(in)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("audio: start capture device: %w", err)
	}
	d.logger.Info("microphone opened", "sampleRate", sampleRate, "channels", channels, "frameSize", frameSize)

	return &Microphone{
		device:     device,
		buf:        buf,
		frameBytes: frameSize * channels * 2,
	}, nil
}

func (d *Devices) OpenOutput(sampleRate, channels int) (orchestrator.OutputStream, error) {
	buf := newPCMBuffer(bytesFor(playbackBacklog, sampleRate, channels), false)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = periodMillis
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			if len(out) > 0 {
				buf.fill(out)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("audio: start playback device: %w", err)
	}
	d.logger.Info("speaker opened", "sampleRate", sampleRate, "channels", channels)

	return &Speaker{device: device, buf: buf}, nil
}

// Microphone delivers fixed-size frames from a capture device.
type Microphone struct {
	device     *malgo.Device
	buf        *pcmBuffer
	frameBytes int
	once       sync.Once
}

// ReadFrame blocks until one full frame has been captured.
func (m *Microphone) ReadFrame(ctx context.Context) ([]byte, error) {
	return m.buf.readFull(ctx, m.frameBytes)
}

func (m *Microphone) Close() error {
	m.once.Do(func() {
		m.buf.close()
		_ = m.device.Stop()
		m.device.Uninit()
	})
	return nil
}

// Speaker plays PCM written to it. Gaps in the stream play as silence.
type Speaker struct {
	device *malgo.Device
	buf    *pcmBuffer
	once   sync.Once
}

// WriteFrame queues pcm for playback. It blocks while the device is
// backlogged.
func (s *Speaker) WriteFrame(ctx context.Context, pcm []byte) error {
	return s.buf.push(ctx, pcm)
}

// Discard drops queued audio that has not reached the device yet.
func (s *Speaker) Discard() int {
	return s.buf.discard()
}

func (s *Speaker) Close() error {
	s.once.Do(func() {
		s.buf.close()
		_ = s.device.Stop()
		s.device.Uninit()
	})
	return nil
}
