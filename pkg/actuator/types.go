// Package actuator drives the oven heating resistor and cooling fan.
package actuator

import (
	"fmt"
	"io"
)

// Actuator sets the duty cycle of the heater and the fan in percent.
// Calls are fire-and-forget; implementations report failures themselves.
type Actuator interface {
	SetHeaterDuty(percent int)
	SetFanDuty(percent int)
}

// Channel is a single PWM output.
type Channel interface {
	io.Closer
	// Name returns a human readable name.
	Name() string
	// SetDuty sets the duty cycle in percent (0-100).
	SetDuty(percent int) error
}

// Command is the per-cycle duty of both actuators.
// At most one of the duties is non-zero.
type Command struct {
	HeaterDuty int
	FanDuty    int
}

// Off is the fail-safe command.
var Off = Command{}

// IsOff tells whether both actuators are idle.
func (c Command) IsOff() bool {
	return c.HeaterDuty == 0 && c.FanDuty == 0
}

// String implements fmt.Stringer.
func (c Command) String() string {
	return fmt.Sprintf("heater=%d%% fan=%d%%", c.HeaterDuty, c.FanDuty)
}

// Apply writes the command to a. The idle actuator is written first so
// both are never driven at the same time.
func Apply(a Actuator, c Command) {
	if c.HeaterDuty > 0 {
		a.SetFanDuty(0)
		a.SetHeaterDuty(ClampDuty(c.HeaterDuty))
		return
	}
	a.SetHeaterDuty(0)
	a.SetFanDuty(ClampDuty(c.FanDuty))
}

// ClampDuty limits a duty cycle to [0, 100].
func ClampDuty(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
