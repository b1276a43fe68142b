package actuator

import (
	"github.com/golang/glog"
)

// Pair drives a heater and a fan channel.
type Pair struct {
	Heater Channel
	Fan    Channel
}

// SetHeaterDuty implements Actuator.
func (p *Pair) SetHeaterDuty(percent int) {
	set(p.Heater, percent)
}

// SetFanDuty implements Actuator.
func (p *Pair) SetFanDuty(percent int) {
	set(p.Fan, percent)
}

// Close closes both channels.
func (p *Pair) Close() error {
	err := p.Heater.Close()
	if e := p.Fan.Close(); err == nil {
		err = e
	}
	return err
}

func set(ch Channel, percent int) {
	if err := ch.SetDuty(percent); err != nil {
		glog.Errorf("%s duty %d%%: %v", ch.Name(), percent, err)
		return
	}
	glog.V(2).Infof("%s duty %d%%", ch.Name(), percent)
}

// DryRun is a channel that only logs. It's used when no PWM hardware is
// configured.
type DryRun struct {
	ChannelName string
	Duty        int
}

// Name implements Channel.
func (d *DryRun) Name() string {
	return d.ChannelName
}

// SetDuty implements Channel.
func (d *DryRun) SetDuty(percent int) error {
	if percent != d.Duty {
		glog.Infof("[dry-run] %s duty %d%% -> %d%%", d.ChannelName, d.Duty, percent)
	}
	d.Duty = percent
	return nil
}

// Close implements Channel.
func (d *DryRun) Close() error {
	return d.SetDuty(0)
}
