// Package eventloop implements a single-goroutine, callback-driven
// event loop.
//
// Every callback posted to a [Loop] runs on the same goroutine, in the
// order in which it was posted. State that is only touched from loop
// callbacks therefore needs no locking. Timers and I/O completions
// are delivered by posting callbacks from other goroutines.
package eventloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/ooni/minikcp/internal/model"
	"github.com/ooni/minikcp/internal/workers"
)

// ErrLoopClosed is returned when posting to a stopped [Loop].
var ErrLoopClosed = errors.New("event loop closed")

var serviceName = "eventloop"

// Loop is an event loop. The zero value is invalid; use [New].
type Loop struct {
	// logger is the logger to use.
	logger model.Logger

	// manager controls the lifecycle of the loop goroutine.
	manager *workers.Manager

	// mu protects pending.
	mu sync.Mutex

	// pending holds the callbacks posted and not run yet.
	pending *queue.Queue

	// wakeup is signalled when pending becomes non empty.
	wakeup chan struct{}

	// exited is closed when the loop goroutine returns.
	exited chan struct{}

	// start is the reference instant for [Loop.Now].
	start time.Time
}

// New creates and starts a new [*Loop].
func New(logger model.Logger) *Loop {
	l := &Loop{
		logger:  logger,
		manager: workers.NewManager(logger),
		pending: queue.New(),
		wakeup:  make(chan struct{}, 1),
		exited:  make(chan struct{}),
		start:   time.Now(),
	}
	l.manager.StartWorker(l.run)
	return l
}

var (
	defaultLoop     *Loop
	defaultLoopOnce sync.Once
)

// Default returns the process-wide loop, creating it on first use. The
// process-wide loop is never stopped.
func Default(logger model.Logger) *Loop {
	defaultLoopOnce.Do(func() {
		defaultLoop = New(logger)
	})
	return defaultLoop
}

// run is the loop goroutine.
func (l *Loop) run() {
	workerName := serviceName + ": run"

	defer func() {
		close(l.exited)
		l.manager.OnWorkerDone(workerName)
	}()

	l.logger.Debugf("%s: started", workerName)

	for {
		select {
		case <-l.wakeup:
			l.drain()
		case <-l.manager.ShouldShutdown():
			return
		}
	}
}

// drain runs the pending callbacks until the queue is empty.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if l.pending.Length() <= 0 {
			l.mu.Unlock()
			return
		}
		fn := l.pending.Remove().(func())
		l.mu.Unlock()
		fn()
	}
}

// Post schedules fn to run on the loop goroutine. It never blocks.
func (l *Loop) Post(fn func()) error {
	if l.manager.IsShuttingDown() {
		return ErrLoopClosed
	}
	l.mu.Lock()
	l.pending.Add(fn)
	l.mu.Unlock()
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop goroutine and waits for it to return. It
// must not be called from a loop callback.
func (l *Loop) Do(fn func()) error {
	done := make(chan struct{})
	err := l.Post(func() {
		fn()
		close(done)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.exited:
		// the loop may have run fn right before exiting
		select {
		case <-done:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// Now returns the time elapsed since the loop was created.
func (l *Loop) Now() time.Duration {
	return time.Since(l.start)
}

// NowMs returns [Loop.Now] in milliseconds, wrapping at 2^32.
func (l *Loop) NowMs() uint32 {
	return uint32(l.Now().Milliseconds() & 0xffffffff)
}

// Stop stops the loop and waits for its goroutine to exit. Callbacks
// still pending are discarded.
func (l *Loop) Stop() {
	l.manager.StartShutdown()
	l.manager.WaitWorkersShutdown()
	l.mu.Lock()
	discarded := l.pending.Length()
	for l.pending.Length() > 0 {
		l.pending.Remove()
	}
	l.mu.Unlock()
	if discarded > 0 {
		l.logger.Warnf("%s: discarded %d pending callbacks", serviceName, discarded)
	}
}

// Timer is a repeating timer whose callback runs on the loop.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// Every runs fn on the loop every d, measured from the end of the
// previous run. It must be called from a loop callback.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tick := func() {
		if tm.stopped.Load() {
			return
		}
		fn()
		if !tm.stopped.Load() {
			tm.t.Reset(d)
		}
	}
	tm.t = time.AfterFunc(d, func() {
		_ = l.Post(tick)
	})
	return tm
}

// Stop prevents the timer callback from running again. It is safe
// to call Stop more than once.
func (tm *Timer) Stop() {
	tm.stopped.Store(true)
	tm.t.Stop()
}
