package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestPCMBuffer_ReadFullWaitsForEnoughBytes(t *testing.T) {
	b := newPCMBuffer(0, false)
	got := make(chan []byte, 1)
	go func() {
		p, err := b.readFull(context.Background(), 4)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got <- p
	}()

	b.write([]byte{1, 2})
	select {
	case <-got:
		t.Fatal("readFull returned a partial frame")
	case <-time.After(30 * time.Millisecond):
	}

	b.write([]byte{3, 4, 5})
	select {
	case p := <-got:
		if !bytes.Equal(p, []byte{1, 2, 3, 4}) {
			t.Errorf("unexpected frame %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("readFull never returned")
	}
	if n := b.discard(); n != 1 {
		t.Errorf("expected 1 byte left, got %d", n)
	}
}

func TestPCMBuffer_DiscardDropsPendingAndWakesWriter(t *testing.T) {
	b := newPCMBuffer(2, false)
	if err := b.push(context.Background(), []byte{1, 2}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- b.push(context.Background(), []byte{3, 4}) }()

	select {
	case <-done:
		t.Fatal("push should block while the buffer is full")
	case <-time.After(30 * time.Millisecond):
	}

	if n := b.discard(); n != 2 {
		t.Errorf("expected 2 bytes discarded, got %d", n)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("discard did not wake the blocked writer")
	}

	out := make([]byte, 4)
	b.fill(out)
	if !bytes.Equal(out, []byte{3, 4, 0, 0}) {
		t.Errorf("discarded audio must not play, got %v", out)
	}
	if n := b.discard(); n != 0 {
		t.Errorf("expected nothing left, got %d", n)
	}
}

func TestPCMBuffer_OverwriteKeepsNewest(t *testing.T) {
	b := newPCMBuffer(4, true)
	b.write([]byte{1, 2, 3})
	b.write([]byte{4, 5, 6})

	p, err := b.readFull(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{3, 4, 5, 6}) {
		t.Errorf("expected newest bytes, got %v", p)
	}
}

func TestPCMBuffer_CloseUnblocks(t *testing.T) {
	b := newPCMBuffer(2, false)
	errc := make(chan error, 2)
	go func() {
		_, err := b.readFull(context.Background(), 8)
		errc <- err
	}()
	_ = b.push(context.Background(), []byte{1, 2})
	go func() { errc <- b.push(context.Background(), []byte{3}) }()

	time.Sleep(20 * time.Millisecond)
	b.close()
	b.close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("close did not unblock waiter")
		}
	}
}

func TestPCMBuffer_ContextCancel(t *testing.T) {
	b := newPCMBuffer(0, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.readFull(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPCMBuffer_PushBlocksUntilFilled(t *testing.T) {
	b := newPCMBuffer(4, false)
	if err := b.push(context.Background(), []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- b.push(context.Background(), []byte{5, 6}) }()

	select {
	case <-pushed:
		t.Fatal("push should block while the backlog is full")
	case <-time.After(30 * time.Millisecond):
	}

	out := make([]byte, 3)
	if n := b.fill(out); n != 3 {
		t.Fatalf("expected 3 bytes played, got %d", n)
	}

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("push did not resume after playback drained")
	}
}

func TestPCMBuffer_FillPadsWithSilence(t *testing.T) {
	b := newPCMBuffer(0, false)
	_ = b.push(context.Background(), []byte{9, 9})

	out := []byte{7, 7, 7, 7, 7}
	if n := b.fill(out); n != 2 {
		t.Errorf("expected 2 bytes, got %d", n)
	}
	if !bytes.Equal(out, []byte{9, 9, 0, 0, 0}) {
		t.Errorf("expected silence padding, got %v", out)
	}
}

func TestBytesFor(t *testing.T) {
	if n := bytesFor(1000, 16000, 1); n != 32000 {
		t.Errorf("expected 32000, got %d", n)
	}
	if n := bytesFor(20, 24000, 2); n != 1920 {
		t.Errorf("expected 1920, got %d", n)
	}
}
