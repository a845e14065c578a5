package service

import (
	"context"
	"sync"
	"time"

	"PriceSim/internal/domain/models"
)

// DefaultStepDuration is one simulated second.
const DefaultStepDuration = time.Second

// Clock abstracts wall-clock access for the pacer.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// VirtualClock only moves when waited on or advanced. Every After call
// jumps the clock forward by d and fires immediately, so a run paced by
// it finishes without sleeping.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward, simulating processing time.
func (c *VirtualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// Pacer holds each step to start + step*stepDuration. Targets are absolute
// so slow steps never push later ones back.
type Pacer struct {
	clock   Clock
	start   time.Time
	stepDur time.Duration

	mu       sync.Mutex
	shift    time.Duration
	waited   time.Duration
	lateness time.Duration
}

// NewPacer anchors the schedule at start. A non-positive stepDur means one second.
func NewPacer(clock Clock, start time.Time, stepDur time.Duration) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	if stepDur <= 0 {
		stepDur = DefaultStepDuration
	}
	return &Pacer{clock: clock, start: start, stepDur: stepDur}
}

// Target is the wall-clock deadline for step.
func (p *Pacer) Target(step int) time.Time {
	p.mu.Lock()
	shift := p.shift
	p.mu.Unlock()
	return p.start.Add(shift + time.Duration(step)*p.stepDur)
}

// WaitForStep blocks until Target(step). It returns at once when the deadline
// has passed, and with an InterruptedError when ctx ends first.
func (p *Pacer) WaitForStep(ctx context.Context, step int) error {
	if err := ctx.Err(); err != nil {
		return &models.InterruptedError{Step: step, Cause: err}
	}
	d := p.Target(step).Sub(p.clock.Now())
	if d <= 0 {
		p.mu.Lock()
		p.lateness = -d
		p.mu.Unlock()
		return nil
	}
	select {
	case <-ctx.Done():
		return &models.InterruptedError{Step: step, Cause: ctx.Err()}
	case <-p.clock.After(d):
	}
	p.mu.Lock()
	p.waited += d
	p.lateness = 0
	p.mu.Unlock()
	return nil
}

// Shift pushes every remaining target back by d, used after a pause.
func (p *Pacer) Shift(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.shift += d
	p.mu.Unlock()
}

// Waited is the total time spent blocked in WaitForStep.
func (p *Pacer) Waited() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waited
}

// Lateness is how far past its deadline the most recent step started.
func (p *Pacer) Lateness() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lateness
}

func (p *Pacer) StepDuration() time.Duration { return p.stepDur }
