package optimizer

import (
	"fmt"

	"github.com/hal2001/data-science-bowl-2018/checkpoints"
	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/pkg/errors"
)

// Optimizer defines the common interface for all optimizers
// The state save/restore pair lets sessions carry optimizer slots in
// checkpoints alongside the weights.
type Optimizer interface {
	// Step applies one update to params using their accumulated gradients.
	// The number and shapes of params must not change between calls.
	Step(params []*layers.Param, lr float32) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// Name returns the optimizer type, e.g. "SGD" or "Adam".
	Name() string
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state == nil {
		return errors.New("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return errors.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// ensureSlots lazily allocates one zeroed slot buffer per parameter and
// verifies that the parameter layout did not change.
func ensureSlots(slots [][]float32, params []*layers.Param) ([][]float32, error) {
	if slots == nil {
		slots = make([][]float32, len(params))
		for i, p := range params {
			slots[i] = make([]float32, p.Value.Size())
		}
		return slots, nil
	}
	if len(slots) != len(params) {
		return nil, errors.Errorf("parameter count changed: %d slots, %d params", len(slots), len(params))
	}
	for i, p := range params {
		if len(slots[i]) != p.Value.Size() {
			return nil, errors.Errorf("parameter %s changed size: %d vs %d", p.Name, len(slots[i]), p.Value.Size())
		}
	}
	return slots, nil
}
