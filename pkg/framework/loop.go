package framework

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
)

// Loop runs controllers in order, one iteration after another.
// Stop is cooperative: the context is checked before every iteration
// and while waiting for the next one, never inside a controller.
type Loop struct {
	// Interval is the minimum time between the start of two iterations.
	// Zero runs iterations back to back.
	Interval time.Duration
	// Now is the clock, defaults to time.Now.
	Now func() time.Time

	controllers []Controller
	runners     []Runnable
}

type loopIteration struct {
	ctx   context.Context
	time  time.Time
	index uint64
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{}
}

// AddController registers controllers to the loop.
func (l *Loop) AddController(ctls ...Controller) *Loop {
	l.controllers = append(l.controllers, ctls...)
	for _, ctl := range ctls {
		if runner, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnable implementions running alongside the loop.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable. It returns ctx.Err() when stopped, or the first
// controller error.
func (l *Loop) Run(ctx context.Context) error {
	now := l.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	runner := NewRunnerWith(ctx)
	runner.Go(l.runners...)
	defer func() {
		cancel()
		if err := runner.Wait(); err != nil {
			glog.Errorf("loop runners: %v", err)
		}
	}()

	var index uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		iter := &loopIteration{ctx: ctx, time: now(), index: index}
		if err := l.runIteration(iter); err != nil {
			return err
		}
		index++
		if l.Interval <= 0 {
			continue
		}
		wait := l.Interval - now().Sub(iter.time)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Loop) runIteration(iter *loopIteration) error {
	for _, ctl := range l.controllers {
		if err := ctl.Control(iter); err != nil {
			if !errors.Is(err, context.Canceled) {
				glog.Errorf("controller error: %v", err)
			}
			return err
		}
	}
	return nil
}

func (t *loopIteration) Context() context.Context {
	return t.ctx
}

func (t *loopIteration) Time() time.Time {
	return t.time
}

func (t *loopIteration) Iteration() uint64 {
	return t.index
}
