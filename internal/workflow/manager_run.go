package workflow

import (
	"context"
	"errors"
	"time"

	"snowline/internal/logging"
)

// Start runs preflight checks and begins background cycles. The first cycle
// starts immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	m.mu.Unlock()

	if m.preflight {
		if err := m.runPreflightChecks(ctx, m.logger); err != nil {
			m.setLastError(err)
			return err
		}
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for the running cycle to
// wind down. Units already in flight finish; no new units start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether background cycles are active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		if _, err := m.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("pipeline cycle failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "cycle_failed"),
				logging.String(logging.FieldErrorHint, "check catalog database access"),
			)
		}
		if !m.waitOrShutdown(ctx) {
			return
		}
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context) bool {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
