// Package recovery restores background work after an application restart.
//
// Components that keep durable state (the reply outbox, the job queue)
// register here and are asked to recover once, before their workers start.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can recover their state.
type Recoverable interface {
	// RecoverState is called during application startup to restore component state.
	RecoverState(ctx context.Context) error
}

// RecoverFunc adapts a plain function to Recoverable.
type RecoverFunc func(ctx context.Context) error

// RecoverState calls f.
func (f RecoverFunc) RecoverState(ctx context.Context) error {
	return f(ctx)
}

type component struct {
	name string
	r    Recoverable
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	components []component
}

// NewManager creates a new recovery manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component under name. Components recover in registration order.
func (m *Manager) Register(name string, r Recoverable) {
	if r == nil {
		return
	}
	m.components = append(m.components, component{name: name, r: r})
	slog.Debug("RecoveryManager.Register", "component", name)
}

// Len returns the number of registered components.
func (m *Manager) Len() int {
	return len(m.components)
}

// RecoverAll recovers every component. A failing component does not stop
// the others; the returned error counts the failures.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("RecoveryManager.RecoverAll: starting recovery", "components", len(m.components))

	recovered, failed := 0, 0
	for _, c := range m.components {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recovery interrupted: %w", err)
		}
		if err := c.r.RecoverState(ctx); err != nil {
			slog.Error("RecoveryManager.RecoverAll: component recovery failed", "component", c.name, "error", err)
			failed++
			continue
		}
		recovered++
	}

	slog.Info("RecoveryManager.RecoverAll: recovery completed", "recovered", recovered, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.components))
	}
	return nil
}
