package service

import (
	"math/rand/v2"

	"PriceSim/internal/domain/models"
)

// MaxConvergenceWeight caps the pull toward close so some noise remains
// until the terminal snap.
const MaxConvergenceWeight = 0.9

// NoiseSource yields standard normal deviates.
type NoiseSource interface {
	NormFloat64() float64
}

// NewNoiseSource returns a seeded PCG-backed source. Not safe for concurrent use.
func NewNoiseSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ConvergenceWeight is min(0.9, step/horizon). horizon <= 0 yields the cap.
func ConvergenceWeight(step, horizon int) float64 {
	if horizon <= 0 {
		return MaxConvergenceWeight
	}
	w := float64(step) / float64(horizon)
	if w < 0 {
		return 0
	}
	if w > MaxConvergenceWeight {
		return MaxConvergenceWeight
	}
	return w
}

// PriceGenerator produces the bounded convergent random walk.
type PriceGenerator struct {
	noise NoiseSource
}

func NewPriceGenerator(noise NoiseSource) *PriceGenerator {
	return &PriceGenerator{noise: noise}
}

// Next returns the price for step given the price at step-1.
// The result is always within [snap.Low, snap.High].
func (g *PriceGenerator) Next(current float64, snap models.MarketSnapshot, step, horizon int, volatility float64) float64 {
	w := ConvergenceWeight(step, horizon)
	bias := (snap.Close - current) * w
	// one draw per step keeps the stream aligned across volatility settings
	noise := g.noise.NormFloat64() * volatility * (1 - w)
	return snap.Clamp(current + bias + noise)
}
