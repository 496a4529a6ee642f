// Package energy tracks power draw against a configurable limit and
// the active energy policy.
package energy

import (
	"sync"

	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/pkg/utils"
)

// Controller holds the power budget state for the fabric.
type Controller struct {
	mu             sync.Mutex
	powerLimit     float64
	currentPower   float64
	dynamicScaling bool
	policy         string
	logger         *utils.StructuredLogger
}

// NewController builds a controller from configuration.
func NewController(cfg config.EnergyConfig, logger *utils.StructuredLogger) *Controller {
	if logger == nil {
		logger = utils.Discard("kernel")
	}
	policy := cfg.Policy
	if policy == "" {
		policy = "default"
	}
	return &Controller{
		powerLimit:     cfg.PowerLimitWatts,
		dynamicScaling: cfg.DynamicScaling,
		policy:         policy,
		logger:         logger,
	}
}

// SetPowerLimit replaces the power budget in watts.
func (c *Controller) SetPowerLimit(watts float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powerLimit = watts
	c.logger.Debug("power limit set", map[string]interface{}{"watts": watts})
}

// PowerLimit returns the power budget in watts.
func (c *Controller) PowerLimit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerLimit
}

// CurrentPower returns the last observed draw in watts.
func (c *Controller) CurrentPower() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPower
}

// ObservePower records the latest telemetry power reading.
func (c *Controller) ObservePower(watts float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentPower = watts
	if watts > c.powerLimit {
		c.logger.Warn("power draw above limit", map[string]interface{}{
			"watts": watts, "limit": c.powerLimit,
		})
	}
}

// OverBudget reports whether the last reading exceeded the limit.
func (c *Controller) OverBudget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPower > c.powerLimit
}

// EnableDynamicScaling toggles load-driven frequency policy hints.
func (c *Controller) EnableDynamicScaling(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dynamicScaling = enable
}

// SetEnergyPolicy names the active policy.
func (c *Controller) SetEnergyPolicy(policy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
	c.logger.Debug("energy policy set", map[string]interface{}{"policy": policy})
}

// EnergyPolicy returns the active policy name.
func (c *Controller) EnergyPolicy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}
