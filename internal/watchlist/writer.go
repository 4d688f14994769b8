package watchlist

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type storeWrite struct {
	op string
	fn func(ctx context.Context) error
}

// storeWriter applies store writes one at a time in the order they were
// queued. Enqueue never blocks, so callers may hold the controller lock.
type storeWriter struct {
	name    string
	timeout time.Duration

	mu      sync.Mutex
	queue   []storeWrite
	running bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newStoreWriter(name string, timeout time.Duration) *storeWriter {
	return &storeWriter{
		name:    name,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// enqueue queues a write. The drain goroutine starts with the first write.
// Writes queued after close are dropped.
func (w *storeWriter) enqueue(op string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		fmt.Printf("[STORE] %s %s dropped: controller closed\n", w.name, op)
		return
	}
	w.queue = append(w.queue, storeWrite{op: op, fn: fn})
	start := !w.running
	w.running = true
	w.mu.Unlock()

	if start {
		go w.drain()
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *storeWriter) drain() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 {
			if w.closed {
				w.mu.Unlock()
				return
			}
			w.mu.Unlock()
			<-w.wake
			w.mu.Lock()
		}
		next := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.apply(next)
	}
}

func (w *storeWriter) apply(sw storeWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := sw.fn(ctx); err != nil {
		fmt.Printf("[STORE] %s %s failed: %v\n", w.name, sw.op, err)
	}
}

// close stops accepting writes and waits until every queued write has run.
func (w *storeWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	running := w.running
	w.mu.Unlock()

	if !running {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.done
}
