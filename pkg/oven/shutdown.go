package oven

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/airfryer/pkg/actuator"
	"github.com/robotalks/airfryer/pkg/framework"
)

// ShutdownCoordinator drives the oven to a safe state and releases its
// resources. It runs at most once.
type ShutdownCoordinator struct {
	Actuator actuator.Actuator
	Status   StatusSender
	Log      io.Closer
	Port     io.Closer
	// Closers are closed last, e.g. the PWM outputs.
	Closers []io.Closer
	// Timeout bounds the best-effort status frames.
	Timeout time.Duration

	once sync.Once
	err  error
	done atomic.Bool
}

// Shutdown runs the shutdown sequence on the first call and returns its
// result on every call:
// heater off, fan off, system and functioning state off, close the log,
// release the port. Status frame failures are logged and don't stop the
// sequence.
func (s *ShutdownCoordinator) Shutdown() error {
	s.once.Do(func() {
		s.err = s.shutdown()
		s.done.Store(true)
	})
	return s.err
}

// Done tells whether the sequence has completed.
func (s *ShutdownCoordinator) Done() bool {
	return s.done.Load()
}

func (s *ShutdownCoordinator) shutdown() error {
	glog.Info("shutting down")
	s.Actuator.SetHeaterDuty(0)
	s.Actuator.SetFanDuty(0)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Status.SendSystemState(ctx, false); err != nil {
		glog.Warningf("send system state off: %v", err)
	}
	if err := s.Status.SendFunctioningState(ctx, false); err != nil {
		glog.Warningf("send functioning state off: %v", err)
	}

	var errs framework.AggregatedError
	if s.Log != nil {
		if err := s.Log.Close(); err != nil {
			errs.Add(fmt.Errorf("close sample log: %w", err))
		}
	}
	if s.Port != nil {
		if err := s.Port.Close(); err != nil {
			errs.Add(fmt.Errorf("close port: %w", err))
		}
	}
	for _, c := range s.Closers {
		errs.Add(c.Close())
	}
	glog.Info("shutdown complete")
	return errs.Aggregate()
}
