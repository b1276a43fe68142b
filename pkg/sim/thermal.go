// Package sim simulates the oven so the controller can run without the
// node and the PWM hardware.
package sim

import (
	"sync"
	"time"

	"github.com/robotalks/airfryer/pkg/actuator"
)

// ThermalConfig defines a first order model of the cooking chamber.
type ThermalConfig struct {
	// Ambient is the room temperature in Celsius.
	Ambient float64
	// HeaterRate is the heating speed in C/s at full heater duty.
	HeaterRate float64
	// Loss is the passive leak towards Ambient, per second.
	Loss float64
	// FanRate is the extra leak at full fan duty, per second.
	FanRate float64
	// Step is the integration step.
	Step time.Duration
}

// Default model parameters.
const (
	DefaultAmbient    = 25.0
	DefaultHeaterRate = 2.0
	DefaultLoss       = 0.005
	DefaultFanRate    = 0.05
	DefaultStep       = 100 * time.Millisecond
)

// DefaultThermalConfig returns a model roughly matching a small air fryer.
func DefaultThermalConfig() ThermalConfig {
	return ThermalConfig{
		Ambient:    DefaultAmbient,
		HeaterRate: DefaultHeaterRate,
		Loss:       DefaultLoss,
		FanRate:    DefaultFanRate,
		Step:       DefaultStep,
	}
}

// Oven is the simulated chamber. It implements actuator.Actuator.
// Temperature is estimated lazily from the elapsed time and the duties in
// effect since the last change.
type Oven struct {
	ThermalConfig
	// Now overrides the clock, mostly for tests.
	Now func() time.Time

	lock  sync.Mutex
	state state
}

type state struct {
	temp   float64
	heater int
	fan    int
	at     time.Time
}

// NewOven creates an oven at ambient temperature.
func NewOven(conf ThermalConfig) *Oven {
	return &Oven{ThermalConfig: conf, state: state{temp: conf.Ambient}}
}

// Temperature returns the current chamber temperature.
func (o *Oven) Temperature() float64 {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.state = o.state.estimate(&o.ThermalConfig, o.now())
	return o.state.temp
}

// Duty returns the duties in effect.
func (o *Oven) Duty() actuator.Command {
	o.lock.Lock()
	defer o.lock.Unlock()
	return actuator.Command{HeaterDuty: o.state.heater, FanDuty: o.state.fan}
}

// SetHeaterDuty implements actuator.Actuator.
func (o *Oven) SetHeaterDuty(percent int) {
	o.set(func(s *state) { s.heater = actuator.ClampDuty(percent) })
}

// SetFanDuty implements actuator.Actuator.
func (o *Oven) SetFanDuty(percent int) {
	o.set(func(s *state) { s.fan = actuator.ClampDuty(percent) })
}

// Channels exposes the heater and fan as actuator channels.
func (o *Oven) Channels() (heater, fan actuator.Channel) {
	return &channel{name: "sim-heater", set: o.SetHeaterDuty},
		&channel{name: "sim-fan", set: o.SetFanDuty}
}

func (o *Oven) set(fn func(*state)) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.state = o.state.estimate(&o.ThermalConfig, o.now())
	fn(&o.state)
}

func (o *Oven) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// estimate integrates the model from s.at to now with the duties held.
func (s state) estimate(conf *ThermalConfig, now time.Time) state {
	if s.at.IsZero() || !now.After(s.at) {
		if s.at.IsZero() {
			s.at = now
		}
		return s
	}
	step := conf.Step
	if step <= 0 {
		step = DefaultStep
	}
	heat := conf.HeaterRate * float64(s.heater) / 100
	leak := conf.Loss + conf.FanRate*float64(s.fan)/100
	for elapsed := now.Sub(s.at); elapsed > 0; elapsed -= step {
		dt := step
		if elapsed < dt {
			dt = elapsed
		}
		s.temp += (heat - leak*(s.temp-conf.Ambient)) * dt.Seconds()
	}
	s.at = now
	return s
}

type channel struct {
	name string
	set  func(int)
}

func (c *channel) Name() string {
	return c.name
}

func (c *channel) SetDuty(percent int) error {
	c.set(percent)
	return nil
}

func (c *channel) Close() error {
	c.set(0)
	return nil
}
