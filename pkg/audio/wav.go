package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const wavHeaderSize = 44

func wavHeader(dataLen, sampleRate, channels int) []byte {
	buf := new(bytes.Buffer)
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                    // chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))                     // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))              // channels
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))            // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))                    // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	return buf.Bytes()
}

// WavWriter streams 16-bit PCM into a WAV file. The header sizes are
// patched on Close.
type WavWriter struct {
	mu         sync.Mutex
	w          io.WriteSeeker
	sampleRate int
	channels   int
	written    int
	closed     bool
}

func NewWavWriter(w io.WriteSeeker, sampleRate, channels int) (*WavWriter, error) {
	if _, err := w.Write(wavHeader(0, sampleRate, channels)); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return &WavWriter{w: w, sampleRate: sampleRate, channels: channels}, nil
}

func (ww *WavWriter) Write(pcm []byte) (int, error) {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return 0, ErrClosed
	}
	n, err := ww.w.Write(pcm)
	ww.written += n
	return n, err
}

// Written reports how many PCM bytes have been recorded.
func (ww *WavWriter) Written() int {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	return ww.written
}

// Close rewrites the header with the final sizes and closes the underlying
// writer if it is an io.Closer.
func (ww *WavWriter) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true

	var errs []error
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, err)
	} else if _, err := ww.w.Write(wavHeader(ww.written, ww.sampleRate, ww.channels)); err != nil {
		errs = append(errs, err)
	}
	if c, ok := ww.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
