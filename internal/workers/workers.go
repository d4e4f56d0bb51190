// Package workers contains code to manage the lifecycle of the
// goroutines backing the event loop and the datagram transport.
package workers

import (
	"sync"

	"github.com/ooni/minikcp/internal/model"
)

// Manager coordinates the lifecycles of a group of workers. The zero
// value is invalid; use [NewManager].
type Manager struct {
	// logger logs worker events.
	logger model.Logger

	// shouldShutdown is closed to signal all workers to shut down.
	shouldShutdown chan any

	// shutdownOnce ensures we close shouldShutdown once.
	shutdownOnce sync.Once

	// wg tracks the running workers.
	wg *sync.WaitGroup
}

// NewManager creates a new [*Manager].
func NewManager(logger model.Logger) *Manager {
	return &Manager{
		logger:         logger,
		shouldShutdown: make(chan any),
		shutdownOnce:   sync.Once{},
		wg:             &sync.WaitGroup{},
	}
}

// StartWorker starts a worker in a background goroutine. The worker
// must call [Manager.OnWorkerDone] when it terminates.
func (m *Manager) StartWorker(fx func()) {
	m.wg.Add(1)
	go fx()
}

// OnWorkerDone must be called when a worker goroutine terminates.
func (m *Manager) OnWorkerDone(name string) {
	m.logger.Debugf("%s: worker done", name)
	m.wg.Done()
}

// StartShutdown initiates the shutdown of all workers.
func (m *Manager) StartShutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shouldShutdown)
	})
}

// ShouldShutdown returns the channel closed when workers should shut down.
func (m *Manager) ShouldShutdown() <-chan any {
	return m.shouldShutdown
}

// IsShuttingDown returns whether [Manager.StartShutdown] was called.
func (m *Manager) IsShuttingDown() bool {
	select {
	case <-m.shouldShutdown:
		return true
	default:
		return false
	}
}

// WaitWorkersShutdown blocks until all workers have shut down.
func (m *Manager) WaitWorkersShutdown() {
	m.wg.Wait()
}
