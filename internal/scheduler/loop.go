package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CycleFunc runs one refresh cycle. ctx is cancelled when the cycle is
// preempted by a newer one or the loop stops.
type CycleFunc func(ctx context.Context)

type LoopConfig struct {
	Name         string        // log tag suffix, e.g. a session id
	Interval     time.Duration // e.g. 10*time.Second
	CycleTimeout time.Duration // upper bound for a single cycle
}

// Loop runs a cycle immediately on Start, then every Interval. At most one
// cycle is in flight: a tick that finds a cycle still running is skipped,
// while Kick cancels the running cycle, starts a new one and resets the
// ticker.
type Loop struct {
	cfg LoopConfig
	run CycleFunc

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	kickCh   chan struct{}
	done     chan struct{}
	seq      uint64
	inflight context.CancelFunc
}

func NewLoop(cfg LoopConfig, run CycleFunc) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = cfg.Interval
	}
	return &Loop{cfg: cfg, run: run}
}

func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		fmt.Printf("[REFRESH] %s already running\n", l.cfg.Name)
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.kickCh = make(chan struct{}, 1)
	l.done = make(chan struct{})
	stopCh, kickCh, done := l.stopCh, l.kickCh, l.done
	l.mu.Unlock()

	go l.loop(stopCh, kickCh, done)
}

// Stop halts the ticker and cancels the in-flight cycle. It does not wait
// for the cycle to return; callers discard late results themselves.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	if l.inflight != nil {
		l.inflight()
		l.inflight = nil
	}
	done := l.done
	l.mu.Unlock()

	<-done
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// InFlight reports whether a cycle is currently executing.
func (l *Loop) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight != nil
}

// Kick requests an out-of-band cycle. Multiple kicks before the loop
// picks them up collapse into one. Returns false when the loop is stopped.
func (l *Loop) Kick() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return false
	}
	select {
	case l.kickCh <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) loop(stopCh, kickCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.launch(true)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			l.launch(false)
		case <-kickCh:
			ticker.Reset(l.cfg.Interval)
			l.launch(true)
		}
	}
}

func (l *Loop) launch(preempt bool) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	if l.inflight != nil {
		if !preempt {
			l.mu.Unlock()
			return
		}
		l.inflight()
	}
	l.seq++
	seq := l.seq
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CycleTimeout)
	l.inflight = cancel
	l.mu.Unlock()

	go func() {
		defer cancel()
		l.run(ctx)

		l.mu.Lock()
		if l.seq == seq {
			l.inflight = nil
		}
		l.mu.Unlock()
	}()
}
