package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// wavFile is the expected on-disk encoding of mono pcm.
func wavFile(pcm []byte, sampleRate int) []byte {
	return append(wavHeader(len(pcm), sampleRate, 1), pcm...)
}

func TestWavHeader(t *testing.T) {
	header := wavHeader(4, 44100, 1)

	if !bytes.HasPrefix(header, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}
	if !bytes.Contains(header, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}
	if len(header) != wavHeaderSize {
		t.Errorf("Expected length %d, got %d", wavHeaderSize, len(header))
	}
	if rate := binary.LittleEndian.Uint32(header[24:28]); rate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(header[40:44]); size != 4 {
		t.Errorf("Expected data size 4, got %d", size)
	}
}

func TestWavWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWavWriter(f, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte{1, 2, 3, 4})
	_, _ = w.Write([]byte{5, 6})
	if w.Written() != 6 {
		t.Errorf("Expected 6 bytes written, got %d", w.Written())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if _, err := w.Write([]byte{7}); err == nil {
		t.Error("Expected write after close to fail")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != wavHeaderSize+6 {
		t.Fatalf("Expected %d bytes, got %d", wavHeaderSize+6, len(data))
	}
	if riff := binary.LittleEndian.Uint32(data[4:8]); riff != 36+6 {
		t.Errorf("Expected RIFF size 42, got %d", riff)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != 6 {
		t.Errorf("Expected data size 6, got %d", size)
	}
	if !bytes.Equal(data, wavFile([]byte{1, 2, 3, 4, 5, 6}, 24000)) {
		t.Error("Streamed file should match the buffered encoding")
	}
}
