package usecase

import (
	"context"
	"sync"
	"time"

	"PriceSim/internal/domain/service"
)

// Gate is the cooperative pause switch checked at each step boundary.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func NewGate() *Gate {
	return &Gate{}
}

// Pause reports whether the call changed anything.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.resumed = make(chan struct{})
	return true
}

func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resumed)
	return true
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks while paused and returns how long it held the caller,
// measured on clock.
func (g *Gate) Wait(ctx context.Context, clock service.Clock) (time.Duration, error) {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return 0, nil
	}
	ch := g.resumed
	g.mu.Unlock()

	start := clock.Now()
	select {
	case <-ctx.Done():
		return clock.Now().Sub(start), ctx.Err()
	case <-ch:
		return clock.Now().Sub(start), nil
	}
}
