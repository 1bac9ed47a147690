// Package eventloop provides the single-goroutine cooperative scheduler every page
// runtime runs on. All trigger listeners, timers and display decisions execute as
// tasks on one Loop, so code between two tasks is never interleaved with another.
package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"popup-runtime/pkg/logger"

	"go.uber.org/zap"
)

// Loop is a FIFO task queue drained by exactly one goroutine at a time.
type Loop struct {
	clock Clock
	log   *logger.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	running bool
}

// New creates a loop on the given clock
func New(clock Clock, log *logger.Logger) *Loop {
	if clock == nil {
		clock = RealClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Loop{
		clock: clock,
		log:   log,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the loop's clock
func (l *Loop) Clock() Clock {
	return l.clock
}

// Now is shorthand for l.Clock().Now()
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post enqueues fn. It is safe to call from any goroutine. Returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// After schedules fn to be posted onto the loop once d has elapsed.
// The returned cancel func is idempotent; after it returns fn will not run.
func (l *Loop) After(d time.Duration, fn func()) (cancel func()) {
	var (
		mu        sync.Mutex
		cancelled bool
	)
	timer := l.clock.AfterFunc(d, func() {
		l.Post(func() {
			mu.Lock()
			c := cancelled
			mu.Unlock()
			if !c {
				fn()
			}
		})
	})
	return func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
		timer.Stop()
	}
}

// RunPending drains the queue on the calling goroutine, including tasks posted by
// the tasks it runs. Returns the number of tasks executed.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 || l.closed {
			l.mu.Unlock()
			return n
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(task)
		n++
	}
}

// Run drains tasks until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("event loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.RunPending()
		if l.isClosed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting tasks and drops anything still queued.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// exec runs a task and contains any panic so it never escapes into the host.
func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("event loop task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}
