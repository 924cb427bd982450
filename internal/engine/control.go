package engine

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	defaultPauseTick = 200 * time.Millisecond
	defaultSleepTick = 500 * time.Millisecond
)

// Controller holds the cooperative stop and pause flags.
//
// Stop is terminal. Pause blocks the worker at its next check until resumed
// or stopped. The idle hook runs on every tick the worker spends waiting, so
// out-of-band requests keep being serviced while paused.
type Controller struct {
	stopped atomic.Bool
	paused  atomic.Bool

	pauseTick time.Duration
	sleepTick time.Duration
	idle      func()
}

// NewController creates a controller with the default tick granularity
func NewController() *Controller {
	return &Controller{
		pauseTick: defaultPauseTick,
		sleepTick: defaultSleepTick,
	}
}

// SetTicks overrides the pause and sleep re-check intervals
func (c *Controller) SetTicks(pause, sleep time.Duration) {
	if pause > 0 {
		c.pauseTick = pause
	}
	if sleep > 0 {
		c.sleepTick = sleep
	}
}

// SetIdleHook registers fn to run at every wait tick.
// It must be called before the worker starts.
func (c *Controller) SetIdleHook(fn func()) {
	c.idle = fn
}

func (c *Controller) Stop()   { c.stopped.Store(true) }
func (c *Controller) Pause()  { c.paused.Store(true) }
func (c *Controller) Resume() { c.paused.Store(false) }

func (c *Controller) IsStopped() bool { return c.stopped.Load() }
func (c *Controller) IsPaused() bool  { return c.paused.Load() }

// Halted reports whether the worker should exit: stop was requested or ctx ended
func (c *Controller) Halted(ctx context.Context) bool {
	return c.stopped.Load() || ctx.Err() != nil
}

// WaitWhilePaused blocks while paused, until resumed, stopped or ctx ends
func (c *Controller) WaitWhilePaused(ctx context.Context) {
	for c.paused.Load() && !c.Halted(ctx) {
		c.runIdle()
		if !wait(ctx, c.pauseTick) {
			return
		}
	}
}

// Sleep waits for d in short ticks, honouring pause and stop on every tick.
// It returns false if the worker should exit.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if c.Halted(ctx) {
			return false
		}
		c.WaitWhilePaused(ctx)
		c.runIdle()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return !c.Halted(ctx)
		}
		step := c.sleepTick
		if remaining < step {
			step = remaining
		}
		if !wait(ctx, step) {
			return false
		}
	}
}

func (c *Controller) runIdle() {
	if c.idle != nil {
		c.idle()
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
