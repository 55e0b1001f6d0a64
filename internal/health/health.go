// Package health exposes liveness and readiness checks for concordd.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker reports whether one dependency is usable.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// checkTimeout bounds a single dependency probe.
const checkTimeout = 5 * time.Second

// Manager runs registered checkers on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a checker. Safe to call while serving.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Status is the readiness report.
type Status struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// Readiness probes every checker. The service is ready only when all pass.
func (m *Manager) Readiness(ctx context.Context) Status {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	st := Status{Ready: true, Checks: make(map[string]string, len(checkers))}
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			st.Ready = false
			st.Checks[c.Name()] = err.Error()
			m.logger.Warn("Readiness check failed",
				zap.String("checker", c.Name()),
				zap.Error(err),
			)
			continue
		}
		st.Checks[c.Name()] = "ok"
	}
	return st
}
