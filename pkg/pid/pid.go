// Package pid provides the control strategy of the oven loop.
package pid

import "time"

// Controller turns a measured value into a bounded control signal.
// Positive output means the measured value is below the setpoint.
type Controller interface {
	// Update stores the new setpoint.
	Update(setpoint float64)
	// Compute returns the control signal for the measured value.
	Compute(measured float64) float64
}

// Config defines gains and limits of a PID controller.
type Config struct {
	Kp float64
	Ki float64
	Kd float64
	// Period is the sample period T used to scale Ki and Kd.
	Period time.Duration
	// OutputMin/OutputMax bound the control signal.
	OutputMin float64
	OutputMax float64
	// IntegralMin/IntegralMax bound the accumulated error.
	IntegralMin float64
	IntegralMax float64
}

// Defaults tuned for the oven resistor and fan.
const (
	DefaultKp     float64 = 30
	DefaultKi     float64 = 0.2
	DefaultKd     float64 = 400
	DefaultPeriod         = time.Second
	DefaultLimit  float64 = 100
)

// DefaultConfig returns the oven tuning with outputs in [-100, 100].
func DefaultConfig() Config {
	return Config{
		Kp:          DefaultKp,
		Ki:          DefaultKi,
		Kd:          DefaultKd,
		Period:      DefaultPeriod,
		OutputMin:   -DefaultLimit,
		OutputMax:   DefaultLimit,
		IntegralMin: -DefaultLimit,
		IntegralMax: DefaultLimit,
	}
}

// New creates a PID controller from the config.
func (c Config) New() *PID {
	return &PID{Config: c}
}

// PID is a positional PID controller with a clamped integral term.
type PID struct {
	Config

	setpoint  float64
	integral  float64
	prevError float64
}

// Update implements Controller.
func (p *PID) Update(setpoint float64) {
	p.setpoint = setpoint
}

// Setpoint returns the current setpoint.
func (p *PID) Setpoint() float64 {
	return p.setpoint
}

// Compute implements Controller.
func (p *PID) Compute(measured float64) float64 {
	t := p.Period.Seconds()
	if t <= 0 {
		t = 1
	}
	e := p.setpoint - measured
	p.integral = clamp(p.integral+e, p.IntegralMin, p.IntegralMax)
	derivative := e - p.prevError
	p.prevError = e
	out := p.Kp*e + p.Ki*t*p.integral + (p.Kd/t)*derivative
	return clamp(out, p.OutputMin, p.OutputMax)
}

// Reset clears the accumulated state, keeping the setpoint.
func (p *PID) Reset() {
	p.integral, p.prevError = 0, 0
}

func clamp(v, lo, hi float64) float64 {
	if lo < hi {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
	}
	return v
}
