// Package simulation drives the fixed-timestep game loop.
package simulation

import (
	"context"
	"time"
)

// DefaultMaxCatchUp bounds how many steps one wakeup may run after a stall.
const DefaultMaxCatchUp = 5

// StepFunc advances the game by one fixed timestep.
type StepFunc func(step time.Duration)

// Loop runs StepFunc at a fixed rate, catching up on missed steps.
type Loop struct {
	step       time.Duration
	stepFunc   StepFunc
	monitor    *TickMonitor
	maxCatchUp int
	done       chan struct{}
	cancel     context.CancelFunc
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMonitor records the wall time of every step in monitor.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) { l.monitor = monitor }
}

// WithMaxCatchUp bounds the steps run per wakeup; the rest of the backlog
// is dropped.
func WithMaxCatchUp(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxCatchUp = n
		}
	}
}

// NewLoop configures a loop that targets targetHz steps per second.
func NewLoop(targetHz float64, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	l := &Loop{step: interval, stepFunc: step, maxCatchUp: DefaultMaxCatchUp}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run steps the loop on the calling goroutine until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.step)
	defer ticker.Stop()
	last := time.Now()
	accumulator := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			//1.- Accumulate elapsed time and run fixed steps while catching up.
			accumulator += now.Sub(last)
			last = now
			steps := 0
			for accumulator >= l.step && steps < l.maxCatchUp {
				started := time.Now()
				l.stepFunc(l.step)
				l.monitor.Observe(time.Since(started))
				accumulator -= l.step
				steps++
			}
			//2.- A backlog beyond the catch-up bound is dropped.
			if accumulator >= l.step {
				l.monitor.Skip(int(accumulator / l.step))
				accumulator %= l.step
			}
		}
	}
}

// Start runs the loop on its own goroutine.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.Run(ctx)
	}()
}

// Stop cancels a started loop and waits for it to exit.
func (l *Loop) Stop() {
	if l == nil || l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
}

// StepDuration returns the fixed timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
