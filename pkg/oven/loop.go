// Package oven implements the temperature control cycle of the air fryer
// and its fail-safe shutdown.
package oven

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/airfryer/pkg/actuator"
	"github.com/robotalks/airfryer/pkg/framework"
	"github.com/robotalks/airfryer/pkg/l0/comm"
	"github.com/robotalks/airfryer/pkg/metrics"
	"github.com/robotalks/airfryer/pkg/pid"
	"github.com/robotalks/airfryer/pkg/samplelog"
)

// StatusSender reports controller state to the node.
type StatusSender interface {
	SendSystemState(ctx context.Context, on bool) error
	SendFunctioningState(ctx context.Context, working bool) error
}

// Device is the sensor/actuator node as seen by the control loop.
// *comm.Client implements it.
type Device interface {
	StatusSender
	ReadInternalTemperature(ctx context.Context) (float32, error)
	ReadReferenceTemperature(ctx context.Context) (float32, error)
	SendControlSignal(ctx context.Context, signal int32) error
}

// SampleLog persists control samples.
type SampleLog interface {
	Append(samplelog.Sample) error
	Close() error
}

// SamplePublisher forwards control samples, e.g. to telemetry.
type SamplePublisher interface {
	PublishSample(samplelog.Sample)
}

// Publishers fans a sample out to several publishers.
type Publishers []SamplePublisher

// PublishSample implements SamplePublisher.
func (p Publishers) PublishSample(s samplelog.Sample) {
	for _, pub := range p {
		pub.PublishSample(s)
	}
}

// ControlLoop runs one control cycle per Control call.
type ControlLoop struct {
	Device     Device
	Controller pid.Controller
	Actuator   actuator.Actuator
	Log        SampleLog
	// optional
	Publisher SamplePublisher
	Metrics   *metrics.AppMetrics

	FanLimit          int
	MaxProtocolErrors int

	protocolErrors int
	failsafe       bool
}

// Control implements framework.Controller.
func (l *ControlLoop) Control(cc framework.ControlContext) error {
	_, err := l.Cycle(cc.Context(), cc.Time())
	return err
}

// Cycle samples both temperatures, computes the control signal, logs it
// and drives the actuators. A protocol error drops the cycle and returns
// (nil, nil). Any other error is fatal to the loop.
func (l *ControlLoop) Cycle(ctx context.Context, now time.Time) (*samplelog.Sample, error) {
	internal, err := l.Device.ReadInternalTemperature(ctx)
	if err != nil {
		return nil, l.dropCycle(err)
	}
	reference, err := l.Device.ReadReferenceTemperature(ctx)
	if err != nil {
		return nil, l.dropCycle(err)
	}

	l.Controller.Update(float64(reference))
	signal := int(l.Controller.Compute(float64(internal)))

	sample := samplelog.Sample{
		Time:      now,
		Internal:  float64(internal),
		Reference: float64(reference),
		Signal:    signal,
	}
	if err := l.Log.Append(sample); err != nil {
		glog.Errorf("sample log: %v", err)
	}

	cmd := Dispatch(signal, l.FanLimit)

	if err := l.Device.SendControlSignal(ctx, int32(signal)); err != nil {
		return nil, l.dropCycle(err)
	}
	if err := l.Device.SendSystemState(ctx, true); err != nil {
		return nil, l.dropCycle(err)
	}
	if err := l.Device.SendFunctioningState(ctx, true); err != nil {
		return nil, l.dropCycle(err)
	}

	actuator.Apply(l.Actuator, cmd)

	if l.protocolErrors > 0 || l.failsafe {
		glog.Infof("link recovered after %d dropped cycles", l.protocolErrors)
	}
	l.protocolErrors, l.failsafe = 0, false
	glog.V(1).Infof("internal=%.2f reference=%.2f signal=%d %s", internal, reference, signal, cmd)
	l.Metrics.ObserveCycle(sample.Internal, sample.Reference, signal, cmd.HeaterDuty, cmd.FanDuty)
	if l.Publisher != nil {
		l.Publisher.PublishSample(sample)
	}
	return &sample, nil
}

// dropCycle absorbs protocol errors and passes everything else through.
func (l *ControlLoop) dropCycle(err error) error {
	if !comm.IsProtocolError(err) {
		if comm.IsTransportError(err) {
			l.Metrics.ObserveTransportError()
			glog.Errorf("serial link failed: %v", err)
		}
		return err
	}
	l.protocolErrors++
	kind := comm.ProtocolErrorKind(err)
	l.Metrics.ObserveProtocolError(kind)
	glog.Warningf("sample dropped (%s, %d in a row): %v", kind, l.protocolErrors, err)
	if l.MaxProtocolErrors > 0 && l.protocolErrors >= l.MaxProtocolErrors && !l.failsafe {
		glog.Errorf("%d consecutive protocol errors, actuators off", l.protocolErrors)
		actuator.Apply(l.Actuator, actuator.Off)
		l.Metrics.ObserveDuty(0, 0)
		l.Metrics.ObserveFailsafe()
		l.failsafe = true
	}
	return nil
}

// ProtocolErrors returns the number of consecutive dropped cycles.
func (l *ControlLoop) ProtocolErrors() int {
	return l.protocolErrors
}

// Failsafe tells whether the actuators were forced off.
func (l *ControlLoop) Failsafe() bool {
	return l.failsafe
}

// Dispatch maps a control signal to exclusive actuator duties.
// Cooling is capped at fanLimit, heating is not.
func Dispatch(signal, fanLimit int) actuator.Command {
	switch {
	case signal < 0:
		fan := -signal
		if fan > fanLimit {
			fan = fanLimit
		}
		return actuator.Command{FanDuty: fan}
	case signal > 0:
		return actuator.Command{HeaterDuty: signal}
	}
	return actuator.Off
}
