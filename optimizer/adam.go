package optimizer

import (
	"math"

	"github.com/hal2001/data-science-bowl-2018/checkpoints"
	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/pkg/errors"
)

// AdamOptimizerState holds Adam hyperparameters and moment buffers.
type AdamOptimizerState struct {
	// Hyperparameters
	Beta1       float32 // Momentum decay (typically 0.9)
	Beta2       float32 // Variance decay (typically 0.999)
	Epsilon     float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay float32 // L2 regularization coefficient

	MomentumBuffers [][]float32 // First moment for each weight tensor
	VarianceBuffers [][]float32 // Second moment for each weight tensor

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	Beta1       float32
	Beta2       float32
	Epsilon     float32
	WeightDecay float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: 0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizerState, error) {
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, errors.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, errors.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, errors.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	return &AdamOptimizerState{
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
	}, nil
}

func (adam *AdamOptimizerState) Name() string { return "Adam" }

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step(params []*layers.Param, lr float32) error {
	var err error
	if adam.MomentumBuffers, err = ensureSlots(adam.MomentumBuffers, params); err != nil {
		return errors.Wrap(err, "adam")
	}
	if adam.VarianceBuffers, err = ensureSlots(adam.VarianceBuffers, params); err != nil {
		return errors.Wrap(err, "adam")
	}
	adam.StepCount++
	t := float64(adam.StepCount)
	bc1 := float32(1 - math.Pow(float64(adam.Beta1), t))
	bc2 := float32(1 - math.Pow(float64(adam.Beta2), t))
	for i, p := range params {
		w, g := p.Value.Data, p.Grad.Data
		m, v := adam.MomentumBuffers[i], adam.VarianceBuffers[i]
		for j := range w {
			d := g[j] + adam.WeightDecay*w[j]
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*d
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*d*d
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			w[j] -= lr * mHat / (float32(math.Sqrt(float64(vHat))) + adam.Epsilon)
		}
	}
	return nil
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: adam.Name(),
		Parameters: map[string]float64{
			"beta1":        float64(adam.Beta1),
			"beta2":        float64(adam.Beta2),
			"epsilon":      float64(adam.Epsilon),
			"weight_decay": float64(adam.WeightDecay),
			"step_count":   float64(adam.StepCount),
		},
	}
	state.StateData = append(state.StateData, extractSlotState(adam.MomentumBuffers, "momentum", "m")...)
	state.StateData = append(state.StateData, extractSlotState(adam.VarianceBuffers, "variance", "v")...)
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType(adam.Name(), state); err != nil {
		return err
	}
	m, err := restoreSlotState(state.StateData, "m")
	if err != nil {
		return errors.Wrap(err, "adam")
	}
	v, err := restoreSlotState(state.StateData, "v")
	if err != nil {
		return errors.Wrap(err, "adam")
	}
	if len(m) != len(v) {
		return errors.Errorf("adam: %d momentum buffers but %d variance buffers", len(m), len(v))
	}
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", 0)
	adam.MomentumBuffers, adam.VarianceBuffers = m, v
	return nil
}
