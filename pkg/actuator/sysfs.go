package actuator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SysfsRoot is where the kernel exposes PWM chips.
var SysfsRoot = "/sys/class/pwm"

// PWMConfig locates a PWM output, e.g. chip 0 channel 1.
type PWMConfig struct {
	Chip    int
	Channel int
	Period  time.Duration
}

// DefaultPWMPeriod matches the 100-step soft PWM of the first board
// wiring (100 x 100us).
const DefaultPWMPeriod = 10 * time.Millisecond

type sysfsPWM struct {
	dir    string
	name   string
	period time.Duration
}

// OpenPWM exports and enables a sysfs PWM channel with duty 0.
func OpenPWM(name string, conf PWMConfig) (Channel, error) {
	chip := filepath.Join(SysfsRoot, fmt.Sprintf("pwmchip%d", conf.Chip))
	dir := filepath.Join(chip, fmt.Sprintf("pwm%d", conf.Channel))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err = writeAttr(filepath.Join(chip, "export"), strconv.Itoa(conf.Channel)); err != nil {
			return nil, err
		}
	}
	period := conf.Period
	if period <= 0 {
		period = DefaultPWMPeriod
	}
	p := &sysfsPWM{dir: dir, name: name, period: period}
	// duty must not exceed period, so reset it before changing period.
	if err := p.writeDuty(0); err != nil {
		return nil, err
	}
	if err := writeAttr(filepath.Join(dir, "period"), strconv.FormatInt(period.Nanoseconds(), 10)); err != nil {
		return nil, err
	}
	if err := writeAttr(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *sysfsPWM) Name() string {
	return p.name
}

func (p *sysfsPWM) SetDuty(percent int) error {
	return p.writeDuty(ClampDuty(percent))
}

func (p *sysfsPWM) writeDuty(percent int) error {
	ns := p.period.Nanoseconds() * int64(percent) / 100
	return writeAttr(filepath.Join(p.dir, "duty_cycle"), strconv.FormatInt(ns, 10))
}

// Close drives the output low and disables it.
func (p *sysfsPWM) Close() error {
	err := p.writeDuty(0)
	if e := writeAttr(filepath.Join(p.dir, "enable"), "0"); err == nil {
		err = e
	}
	return err
}

func writeAttr(path, val string) error {
	if err := os.WriteFile(path, []byte(val), 0644); err != nil {
		return fmt.Errorf("pwm %s: %w", path, err)
	}
	return nil
}
