package optimizer

import (
	"github.com/hal2001/data-science-bowl-2018/checkpoints"
	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/pkg/errors"
)

// SGDOptimizerState is stochastic gradient descent with optional momentum,
// Nesterov momentum and L2 weight decay.
type SGDOptimizerState struct {
	// Hyperparameters
	Momentum    float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay float32 // L2 regularization coefficient
	Nesterov    bool    // Whether to use Nesterov momentum

	// Momentum buffers (only if momentum > 0)
	MomentumBuffers [][]float32

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	Momentum    float32
	WeightDecay float32
	Nesterov    bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		Momentum:    0.9,
		WeightDecay: 0.0,
		Nesterov:    false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) (*SGDOptimizerState, error) {
	if config.Momentum < 0 {
		return nil, errors.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, errors.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, errors.New("nesterov momentum requires momentum > 0")
	}
	return &SGDOptimizerState{
		Momentum:    config.Momentum,
		WeightDecay: config.WeightDecay,
		Nesterov:    config.Nesterov,
	}, nil
}

func (sgd *SGDOptimizerState) Name() string { return "SGD" }

// Step performs a single SGD update
func (sgd *SGDOptimizerState) Step(params []*layers.Param, lr float32) error {
	if sgd.Momentum > 0 {
		var err error
		if sgd.MomentumBuffers, err = ensureSlots(sgd.MomentumBuffers, params); err != nil {
			return errors.Wrap(err, "sgd")
		}
	}
	for i, p := range params {
		w, g := p.Value.Data, p.Grad.Data
		for j := range w {
			d := g[j] + sgd.WeightDecay*w[j]
			if sgd.Momentum > 0 {
				v := sgd.MomentumBuffers[i]
				v[j] = sgd.Momentum*v[j] + d
				if sgd.Nesterov {
					d += sgd.Momentum * v[j]
				} else {
					d = v[j]
				}
			}
			w[j] -= lr * d
		}
	}
	sgd.StepCount++
	return nil
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	return &checkpoints.OptimizerState{
		Type: sgd.Name(),
		Parameters: map[string]float64{
			"momentum":     float64(sgd.Momentum),
			"weight_decay": float64(sgd.WeightDecay),
			"nesterov":     boolParam(sgd.Nesterov),
			"step_count":   float64(sgd.StepCount),
		},
		StateData: extractSlotState(sgd.MomentumBuffers, "momentum", "momentum"),
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType(sgd.Name(), state); err != nil {
		return err
	}
	buffers, err := restoreSlotState(state.StateData, "momentum")
	if err != nil {
		return errors.Wrap(err, "sgd")
	}
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", 0)
	sgd.MomentumBuffers = buffers
	return nil
}
