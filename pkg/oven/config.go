package oven

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/airfryer/pkg/actuator"
	"github.com/robotalks/airfryer/pkg/l0/comm"
	"github.com/robotalks/airfryer/pkg/pid"
	"github.com/robotalks/airfryer/pkg/samplelog"
	"github.com/robotalks/airfryer/pkg/sim"
)

// Defaults of the control loop.
const (
	DefaultFanLimit          = 40
	DefaultMaxProtocolErrors = 5
	DefaultShutdownTimeout   = time.Second
)

// Config holds the options of the controller process.
type Config struct {
	Serial          comm.SerialConfig
	Key             comm.Key
	ResponseTimeout time.Duration
	WriteRetries    int

	PID pid.Config
	// FanLimit caps the fan duty when cooling.
	FanLimit int
	// MaxProtocolErrors consecutive dropped samples force the actuators
	// off. 0 disables.
	MaxProtocolErrors int
	// Interval is the minimum time between cycle starts.
	Interval        time.Duration
	ShutdownTimeout time.Duration

	Log samplelog.Config

	// HeaterPWM/FanPWM select sysfs PWM outputs. nil runs dry.
	HeaterPWM *actuator.PWMConfig
	FanPWM    *actuator.PWMConfig

	// MetricsAddr enables the Prometheus endpoint, e.g. ":9100".
	MetricsAddr string
	// MQTTBrokerURL enables telemetry.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// NodeID names this controller in telemetry, defaults to the machine ID.
	NodeID string

	// Simulate replaces the node and the PWM outputs with a simulated oven.
	Simulate     bool
	SimReference float64
}

var defaultConfig = Config{
	Serial:            comm.DefaultSerialConfig(),
	Key:               comm.DefaultKey,
	ResponseTimeout:   comm.DefaultTimeout,
	WriteRetries:      comm.DefaultWriteRetries,
	PID:               pid.DefaultConfig(),
	FanLimit:          DefaultFanLimit,
	MaxProtocolErrors: DefaultMaxProtocolErrors,
	ShutdownTimeout:   DefaultShutdownTimeout,
	Log:               samplelog.Config{Path: samplelog.DefaultPath, MaxSizeMB: 10, MaxBackups: 5},
	SimReference:      sim.DefaultReference,
}

func init() {
	loadEnv(&defaultConfig, os.Getenv)
}

// loadEnv applies AIRFRYER_* variables. Invalid values are reported and
// ignored.
func loadEnv(conf *Config, getenv func(string) string) {
	str := func(name string, dst *string) {
		if val := getenv(name); val != "" {
			*dst = val
		}
	}
	parse := func(name string, fn func(string) error) {
		if val := getenv(name); val != "" {
			if err := fn(val); err != nil {
				glog.Warningf("ignore %s=%q: %v", name, val, err)
			}
		}
	}
	integer := func(name string, dst *int) {
		parse(name, func(val string) (err error) {
			*dst, err = strconv.Atoi(val)
			return
		})
	}
	duration := func(name string, dst *time.Duration) {
		parse(name, func(val string) (err error) {
			*dst, err = time.ParseDuration(val)
			return
		})
	}
	gain := func(name string, dst *float64) {
		parse(name, func(val string) (err error) {
			*dst, err = strconv.ParseFloat(val, 64)
			return
		})
	}
	pwm := func(name string, dst **actuator.PWMConfig) {
		parse(name, func(val string) error {
			c, err := ParsePWM(val)
			if err == nil {
				*dst = c
			}
			return err
		})
	}

	str("AIRFRYER_DEVICE", &conf.Serial.Device)
	integer("AIRFRYER_BAUD", &conf.Serial.Baud)
	parse("AIRFRYER_KEY", func(val string) (err error) {
		conf.Key, err = comm.ParseKey(val)
		return
	})
	duration("AIRFRYER_TIMEOUT", &conf.ResponseTimeout)
	integer("AIRFRYER_WRITE_RETRIES", &conf.WriteRetries)
	gain("AIRFRYER_KP", &conf.PID.Kp)
	gain("AIRFRYER_KI", &conf.PID.Ki)
	gain("AIRFRYER_KD", &conf.PID.Kd)
	integer("AIRFRYER_FAN_LIMIT", &conf.FanLimit)
	integer("AIRFRYER_MAX_PROTOCOL_ERRORS", &conf.MaxProtocolErrors)
	duration("AIRFRYER_INTERVAL", &conf.Interval)
	str("AIRFRYER_LOG", &conf.Log.Path)
	pwm("AIRFRYER_HEATER_PWM", &conf.HeaterPWM)
	pwm("AIRFRYER_FAN_PWM", &conf.FanPWM)
	str("AIRFRYER_METRICS_ADDR", &conf.MetricsAddr)
	str("AIRFRYER_MQTT_URL", &conf.MQTTBrokerURL)
	str("AIRFRYER_NODE_ID", &conf.NodeID)
	parse("AIRFRYER_SIMULATE", func(val string) (err error) {
		conf.Simulate, err = strconv.ParseBool(val)
		return
	})
	gain("AIRFRYER_SIM_REFERENCE", &conf.SimReference)
}

// ParsePWM parses "chip:channel" or "chip:channel:period".
func ParsePWM(s string) (*actuator.PWMConfig, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("want chip:channel[:period]")
	}
	var c actuator.PWMConfig
	var err error
	if c.Chip, err = strconv.Atoi(parts[0]); err != nil {
		return nil, err
	}
	if c.Channel, err = strconv.Atoi(parts[1]); err != nil {
		return nil, err
	}
	if len(parts) == 3 {
		if c.Period, err = time.ParseDuration(parts[2]); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Serial.Device, "device", defaultConfig.Serial.Device, "Serial device")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate checks the options that would make the loop misbehave.
func (c *Config) Validate() error {
	if c.Serial.Device == "" {
		return fmt.Errorf("serial device must be specified")
	}
	if c.FanLimit < 0 || c.FanLimit > 100 {
		return fmt.Errorf("fan limit %d out of [0, 100]", c.FanLimit)
	}
	if c.MaxProtocolErrors < 0 {
		return fmt.Errorf("max protocol errors must not be negative")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive")
	}
	return nil
}
