package optimizer

import (
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the global step.
type LRScheduler interface {
	// GetLR returns the learning rate for the given global step
	GetLR(step int64, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// StepLRScheduler reduces learning rate by a factor every StepSize steps
type StepLRScheduler struct {
	StepSize int64   // Steps between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int64, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 1000
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(step int64, baseLR float64) float64 {
	times := step / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialDecayScheduler decays the learning rate by Rate every
// DecaySteps steps, continuously or as a staircase.
type ExponentialDecayScheduler struct {
	DecaySteps int64
	Rate       float64
	Staircase  bool
}

// NewExponentialDecayScheduler creates an exponential decay scheduler
func NewExponentialDecayScheduler(decaySteps int64, rate float64, staircase bool) *ExponentialDecayScheduler {
	if decaySteps <= 0 {
		decaySteps = 1000
	}
	if rate <= 0 || rate >= 1 {
		rate = 0.95
	}
	return &ExponentialDecayScheduler{DecaySteps: decaySteps, Rate: rate, Staircase: staircase}
}

func (s *ExponentialDecayScheduler) GetLR(step int64, baseLR float64) float64 {
	p := float64(step) / float64(s.DecaySteps)
	if s.Staircase {
		p = math.Floor(p)
	}
	return baseLR * math.Pow(s.Rate, p)
}

func (s *ExponentialDecayScheduler) GetName() string {
	return "ExponentialDecay"
}

// CosineAnnealingLRScheduler implements cosine annealing over TMax steps
type CosineAnnealingLRScheduler struct {
	TMax   int64   // Steps until the minimum is reached
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int64, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 10000
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(step int64, baseLR float64) float64 {
	if step >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(step)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// NoOpScheduler maintains constant learning rate
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(step int64, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
