package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by reads and writes on a closed device.
var ErrClosed = errors.New("audio: device closed")

// pcmBuffer sits between a realtime device callback and a blocking reader or
// writer. The callback side never blocks.
type pcmBuffer struct {
	mu    sync.Mutex
	data  []byte
	limit int

	// overwrite makes write drop the oldest bytes instead of growing past
	// limit. Capture uses it so a stalled reader loses stale audio.
	overwrite bool

	readable chan struct{}
	writable chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newPCMBuffer(limit int, overwrite bool) *pcmBuffer {
	return &pcmBuffer{
		limit:     limit,
		overwrite: overwrite,
		readable:  make(chan struct{}, 1),
		writable:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// write is called from the capture callback.
func (b *pcmBuffer) write(p []byte) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	if b.overwrite && b.limit > 0 && len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
	}
	b.mu.Unlock()
	notify(b.readable)
}

// readFull blocks until n bytes are buffered and returns them.
func (b *pcmBuffer) readFull(ctx context.Context, n int) ([]byte, error) {
	for {
		b.mu.Lock()
		if len(b.data) >= n {
			out := make([]byte, n)
			copy(out, b.data)
			b.data = b.data[n:]
			b.mu.Unlock()
			return out, nil
		}
		b.mu.Unlock()

		select {
		case <-b.readable:
		case <-b.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// push queues p for playback, blocking while limit bytes are already pending.
func (b *pcmBuffer) push(ctx context.Context, p []byte) error {
	for {
		select {
		case <-b.done:
			return ErrClosed
		default:
		}

		b.mu.Lock()
		if b.limit <= 0 || len(b.data) < b.limit {
			b.data = append(b.data, p...)
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		select {
		case <-b.writable:
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fill is called from the playback callback. Whatever is not covered by
// pending audio is silence.
func (b *pcmBuffer) fill(out []byte) int {
	b.mu.Lock()
	n := copy(out, b.data)
	b.data = b.data[n:]
	b.mu.Unlock()

	clear(out[n:])
	if n > 0 {
		notify(b.writable)
	}
	return n
}

// discard drops everything pending and returns how many bytes that was.
func (b *pcmBuffer) discard() int {
	b.mu.Lock()
	n := len(b.data)
	b.data = b.data[:0]
	b.mu.Unlock()

	if n > 0 {
		notify(b.writable)
	}
	return n
}

func (b *pcmBuffer) close() {
	b.once.Do(func() { close(b.done) })
}
