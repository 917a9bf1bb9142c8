package orchestrator

import (
	"context"
	"sync"
)

// OutboundQueue is the bounded FIFO between capture and transmit. It is the
// only backpressure point of the pipeline: Push suspends while the queue is
// full and never drops a frame.
type OutboundQueue struct {
	ch chan Frame
}

func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = 5
	}
	return &OutboundQueue{ch: make(chan Frame, capacity)}
}

// Push appends a frame, blocking while the queue is full.
func (q *OutboundQueue) Push(ctx context.Context, f Frame) error {
	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest frame, blocking while the queue is empty.
func (q *OutboundQueue) Pop(ctx context.Context) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (q *OutboundQueue) Len() int { return len(q.ch) }

func (q *OutboundQueue) Cap() int { return cap(q.ch) }

// InboundQueue is the unbounded FIFO between receive and playback.
type InboundQueue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

func NewInboundQueue() *InboundQueue {
	return &InboundQueue{notify: make(chan struct{}, 1)}
}

// Push appends a buffer. It never blocks.
func (q *InboundQueue) Push(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest buffer, blocking while the queue is empty.
func (q *InboundQueue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return b, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Flush discards everything currently buffered and returns how many buffers
// were dropped. It never blocks on consumers.
func (q *InboundQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}

func (q *InboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
