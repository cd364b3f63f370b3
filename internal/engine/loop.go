package engine

import (
	"context"
	"errors"
)

// ErrLoopStopped is returned by Call once the loop has been stopped.
var ErrLoopStopped = errors.New("loop stopped")

// Loop drives an Engine from a single goroutine. Other goroutines hand it
// work with Do or Call; the engine's flush notification wakes the loop,
// which flushes once the queued work has drained.
type Loop struct {
	e           *Engine
	queue       *taskQueue
	unsubscribe func()

	// pending is only touched on the loop goroutine: the subscriber runs
	// inside engine calls made by tasks.
	pending bool

	onFlushError func(error)
}

// NewLoop subscribes a loop to e. From here on e must only be used from
// tasks run by the loop.
func NewLoop(e *Engine) *Loop {
	l := &Loop{
		e:     e,
		queue: newTaskQueue(),
	}
	l.unsubscribe = e.Subscribe(func() {
		l.pending = true
		l.queue.Wake()
	})
	// Work staged before the loop existed still needs a flush.
	if e.graph.HasDirty() {
		l.pending = true
	}
	return l
}

// OnFlushError sets a callback for errors returned by flushes the loop
// runs. Without one they are logged.
func (l *Loop) OnFlushError(fn func(error)) {
	l.onFlushError = fn
}

// Do enqueues fn. Returns false if the loop has been stopped.
// Safe to call from any goroutine.
func (l *Loop) Do(fn Task) bool {
	return l.queue.Enqueue(fn)
}

// Call runs fn on the loop goroutine and waits for its result. It must not
// be called from a task.
func (l *Loop) Call(ctx context.Context, fn func(*Engine) error) error {
	done := make(chan error, 1)
	if !l.queue.Enqueue(func(e *Engine) { done <- fn(e) }) {
		return ErrLoopStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	return l.queue.Len()
}

// Run processes tasks until ctx is cancelled or Stop is called. After each
// batch of tasks it flushes if the engine asked for one.
//
// Returns ctx.Err() on cancellation and nil after Stop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.unsubscribe()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ran := false
		for {
			task, ok := l.queue.TryDequeue()
			if !ok {
				break
			}
			ran = true
			task(l.e)
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		// A failed flush can leave dirty nodes behind without a new
		// notification; retry only once more work has arrived.
		if l.pending || (ran && l.e.graph.HasDirty()) {
			l.pending = false
			if err := l.e.Flush(); err != nil {
				l.flushFailed(err)
				l.pending = false
			}
			continue
		}

		if l.queue.Closed() && l.queue.Len() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.queue.Wait():
		}
	}
}

func (l *Loop) flushFailed(err error) {
	if l.onFlushError != nil {
		l.onFlushError(err)
		return
	}
	l.e.logger.Error("loop flush failed", "error", err)
}

// Stop closes the queue. Run drains the tasks already queued, flushes, and
// returns.
func (l *Loop) Stop() {
	l.queue.Close()
}
