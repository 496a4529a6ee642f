// Package security holds the policy and audit surface. Policy checks
// are opaque to the core: components ask, the manager answers.
package security

import (
	"sync"

	"github.com/corefabric/corefabric/pkg/utils"
)

// Manager tracks the active policy and records audit events.
type Manager struct {
	mu          sync.Mutex
	policy      string
	initialized bool
	logger      *utils.StructuredLogger
}

// NewManager creates a manager with the default policy.
func NewManager(logger *utils.StructuredLogger) *Manager {
	if logger == nil {
		logger = utils.Discard("security")
	}
	return &Manager{policy: "default", logger: logger}
}

// Initialize marks the manager ready. Idempotent-failing: a second
// call returns false.
func (m *Manager) Initialize() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return false
	}
	m.initialized = true
	m.logger.Info("security manager initialized")
	return true
}

// Shutdown marks the manager stopped. Idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}
	m.initialized = false
	m.logger.Info("security manager shut down")
}

// CheckPolicy reports whether the named policy is the active one.
func (m *Manager) CheckPolicy(policy string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return policy == m.policy
}

// SetPolicy replaces the active policy.
func (m *Manager) SetPolicy(policy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
	m.logger.Debug("policy set", map[string]interface{}{"policy": policy})
}

// GetPolicy returns the active policy.
func (m *Manager) GetPolicy() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// AuditEvent records an audit line through the security logger.
func (m *Manager) AuditEvent(event, details string) {
	m.logger.Info("audit", map[string]interface{}{"event": event, "details": details})
}
