package oven

import (
	"fmt"
	"io"
	"net/http"

	"github.com/golang/glog"

	"github.com/robotalks/airfryer/pkg/actuator"
	"github.com/robotalks/airfryer/pkg/env"
	"github.com/robotalks/airfryer/pkg/framework"
	"github.com/robotalks/airfryer/pkg/l0/comm"
	"github.com/robotalks/airfryer/pkg/metrics"
	"github.com/robotalks/airfryer/pkg/samplelog"
	"github.com/robotalks/airfryer/pkg/sim"
	"github.com/robotalks/airfryer/pkg/telemetry/live"
	"github.com/robotalks/airfryer/pkg/telemetry/mqtt"
)

// AppID scopes the machine ID used as the telemetry node ID.
const AppID = "airfryer"

// Env owns the resources of the controller process. It's created once by
// the entry point and handed to the control loop and the shutdown path.
type Env struct {
	Config   *Config
	Port     comm.Port
	Client   *comm.Client
	Actuator *actuator.Pair
	Log      *samplelog.Logger

	Loop     *ControlLoop
	Shutdown *ShutdownCoordinator

	Metrics    *metrics.AppMetrics
	MetricsSrv *metrics.Server
	Live       *live.Hub
	Telemetry  *mqtt.Publisher
}

// NewEnv opens the serial port, the actuators and the sample log.
func (c *Config) NewEnv() (*Env, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Simulate {
		return c.NewSimEnv()
	}
	port, err := comm.OpenSerial(c.Serial)
	if err != nil {
		return nil, err
	}
	e, err := c.NewEnvWith(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return e, nil
}

// NewSimEnv builds the Env over a simulated node whose oven is driven by
// the heater and fan duties.
func (c *Config) NewSimEnv() (*Env, error) {
	node := sim.NewNode(sim.NewOven(sim.DefaultThermalConfig()), c.SimReference)
	node.Key = c.Key
	heater, fan := node.Oven.Channels()
	if c.Interval <= 0 {
		// nothing paces the simulated link
		c.Interval = c.PID.Period
	}
	glog.Infof("simulating oven, reference %.1fC", c.SimReference)
	return c.newEnv(node, heater, fan)
}

// NewEnvWith builds the Env over an opened port.
func (c *Config) NewEnvWith(port comm.Port) (*Env, error) {
	heater, err := openChannel("heater", c.HeaterPWM)
	if err != nil {
		return nil, err
	}
	fan, err := openChannel("fan", c.FanPWM)
	if err != nil {
		heater.Close()
		return nil, err
	}
	return c.newEnv(port, heater, fan)
}

func (c *Config) newEnv(port comm.Port, heater, fan actuator.Channel) (*Env, error) {
	e := &Env{Config: c, Port: port}

	e.Client = comm.NewClient(port)
	e.Client.Key = c.Key
	e.Client.Timeout = c.ResponseTimeout
	e.Client.WriteRetries = c.WriteRetries
	e.Actuator = &actuator.Pair{Heater: heater, Fan: fan}

	var err error
	if e.Log, err = samplelog.Open(c.Log); err != nil {
		e.Actuator.Close()
		return nil, err
	}

	if c.MetricsAddr != "" {
		reg := metrics.NewRegistry()
		e.Metrics = metrics.NewAppMetrics(reg)
		e.Live = live.NewHub()
		e.MetricsSrv = &metrics.Server{
			Addr:     c.MetricsAddr,
			Registry: reg,
			Handlers: map[string]http.Handler{live.Path: e.Live.Handler()},
		}
	}

	if c.MQTTBrokerURL != "" {
		nodeID := c.NodeID
		if nodeID == "" {
			nodeID = env.NodeID(AppID)
		}
		if e.Telemetry, err = mqtt.NewPublisher(c.MQTTBrokerURL, nodeID); err != nil {
			e.Log.Close()
			e.Actuator.Close()
			return nil, fmt.Errorf("create MQTT publisher error: %w", err)
		}
	}

	e.Loop = &ControlLoop{
		Device:            e.Client,
		Controller:        c.PID.New(),
		Actuator:          e.Actuator,
		Log:               e.Log,
		Metrics:           e.Metrics,
		FanLimit:          c.FanLimit,
		MaxProtocolErrors: c.MaxProtocolErrors,
	}
	var pubs Publishers
	if e.Live != nil {
		pubs = append(pubs, e.Live)
	}
	if e.Telemetry != nil {
		pubs = append(pubs, e.Telemetry)
	}
	if len(pubs) > 0 {
		e.Loop.Publisher = pubs
	}
	// the link is likely dead when shutdown runs: one attempt per frame.
	status := *e.Client
	status.WriteRetries = 0
	e.Shutdown = &ShutdownCoordinator{
		Actuator: e.Actuator,
		Status:   &status,
		Log:      e.Log,
		Port:     port,
		Closers:  []io.Closer{e.Actuator},
		Timeout:  c.ShutdownTimeout,
	}
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	e, err := c.NewEnv()
	if err != nil {
		glog.Exitf("airfryer: %v", err)
	}
	return e
}

// NewLoop creates the periodic loop running the control cycle and the
// optional metrics and telemetry runners.
func (e *Env) NewLoop() *framework.Loop {
	loop := framework.NewLoop()
	loop.Interval = e.Config.Interval
	loop.AddController(e.Loop)
	if e.MetricsSrv != nil {
		loop.AddRunnable(e.MetricsSrv, e.Live)
	}
	if e.Telemetry != nil {
		loop.AddRunnable(e.Telemetry)
	}
	return loop
}

func openChannel(name string, conf *actuator.PWMConfig) (actuator.Channel, error) {
	if conf == nil {
		glog.Warningf("%s: no PWM configured, running dry", name)
		return &actuator.DryRun{ChannelName: name}, nil
	}
	ch, err := actuator.OpenPWM(name, *conf)
	if err != nil {
		return nil, fmt.Errorf("open %s PWM: %w", name, err)
	}
	return ch, nil
}
