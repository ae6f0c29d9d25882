// Package process ties long-running commands to OS signals and inspects
// the processes recorded in target state
package process

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/poltergeist/packer-driver/pkg/logger"
)

// ShutdownSignals end a long-running command gracefully
var ShutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT}

// Manager handles process lifecycle and signals
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{logger: log}
}

// RegisterShutdownHandler adds a handler run on shutdown. Handlers run in
// reverse registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start begins listening for shutdown signals. The returned context is
// cancelled when a signal arrives, when parent is done or when Stop is
// called; shutdown handlers run once the context is cancelled.
func (m *Manager) Start(parent context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return parent
	}
	m.running = true

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, ShutdownSignals...)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case <-ctx.Done():
		case sig := <-sigChan:
			m.logger.Info("Received signal", logger.WithField("signal", sig.String()))
			cancel()
		}
		m.handleShutdown()
	}()

	return ctx
}

// Stop cancels the managed context and waits for shutdown handlers
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.logger.Debug("Initiating graceful shutdown...")

	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.shutdownHandlers = nil
	m.running = false
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

// IsAlive reports whether pid names a running process. A process owned by
// another user still counts as alive.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
