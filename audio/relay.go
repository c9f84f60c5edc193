package audio

import (
	"context"
	"sync"
	"sync/atomic"
)

// Relay hands frames from the capture callback to a network sender.
// Push never blocks: when the buffer is full the oldest frame is dropped.
type Relay struct {
	mu      sync.Mutex
	frames  chan Frame
	closed  bool
	dropped atomic.Uint64
	pushed  atomic.Uint64
}

func NewRelay(capacity int) *Relay {
	if capacity < 1 {
		capacity = 1
	}
	return &Relay{frames: make(chan Frame, capacity)}
}

// Push enqueues a frame and reports whether an older frame was evicted
// to make room. Frames pushed after Close are discarded.
func (r *Relay) Push(f Frame) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.pushed.Add(1)

	for {
		select {
		case r.frames <- f:
			return evicted
		default:
		}

		select {
		case <-r.frames:
			r.dropped.Add(1)
			evicted = true
		default:
		}
	}
}

func (r *Relay) Frames() <-chan Frame {
	return r.frames
}

// Dropped returns how many frames were evicted by overflow.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Pushed returns how many frames were accepted by Push.
func (r *Relay) Pushed() uint64 {
	return r.pushed.Load()
}

// Close stops accepting frames. Frames already buffered can still be read.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.frames)
}

// Run delivers buffered frames to send until the relay is closed or ctx
// is done.
func (r *Relay) Run(ctx context.Context, send func(Frame)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-r.frames:
			if !ok {
				return nil
			}
			send(f)
		}
	}
}
