// Package tunnel tracks directed data tunnels between kernels and the
// bandwidth observed on each; the orchestrator folds the per-kernel
// totals into its metric snapshots.
package tunnel

import (
	"sync"

	"github.com/corefabric/corefabric/pkg/utils"
)

// Tunnel is one directed link between two kernel ids.
type Tunnel struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Bandwidth float64 `json:"bandwidth"` // MB/s
}

// Manager owns the tunnel table.
type Manager struct {
	mu      sync.Mutex
	tunnels []Tunnel
	logger  *utils.StructuredLogger
}

// NewManager creates an empty tunnel table.
func NewManager(logger *utils.StructuredLogger) *Manager {
	if logger == nil {
		logger = utils.Discard("kernel")
	}
	return &Manager{logger: logger}
}

// CreateTunnel adds a directed tunnel with zero observed bandwidth.
func (m *Manager) CreateTunnel(from, to string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tunnels {
		if t.From == from && t.To == to {
			return false
		}
	}
	m.tunnels = append(m.tunnels, Tunnel{From: from, To: to})
	m.logger.Debug("tunnel created", map[string]interface{}{"from": from, "to": to})
	return true
}

// RemoveTunnel deletes the directed tunnel if present.
func (m *Manager) RemoveTunnel(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tunnels[:0]
	for _, t := range m.tunnels {
		if t.From != from || t.To != to {
			kept = append(kept, t)
		}
	}
	m.tunnels = kept
	m.logger.Debug("tunnel removed", map[string]interface{}{"from": from, "to": to})
}

// SetBandwidth records the observed bandwidth for a tunnel.
func (m *Manager) SetBandwidth(from, to string, bandwidth float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.tunnels {
		if m.tunnels[i].From == from && m.tunnels[i].To == to {
			m.tunnels[i].Bandwidth = bandwidth
			return
		}
	}
}

// Bandwidth sums the bandwidth of every tunnel touching the kernel.
func (m *Manager) Bandwidth(kernelID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, t := range m.tunnels {
		if t.From == kernelID || t.To == kernelID {
			total += t.Bandwidth
		}
	}
	return total
}

// Tunnels returns a snapshot of the tunnel table.
func (m *Manager) Tunnels() []Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Tunnel(nil), m.tunnels...)
}

// Shutdown clears the tunnel table.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tunnels = nil
}
