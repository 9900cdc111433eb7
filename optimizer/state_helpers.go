package optimizer

import (
	"fmt"

	"github.com/hal2001/data-science-bowl-2018/checkpoints"
	"github.com/pkg/errors"
)

// extractSlotState snapshots slot buffers as named optimizer tensors
// ("<prefix>_<index>").
func extractSlotState(slots [][]float32, prefix, stateType string) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, len(slots))
	for i, s := range slots {
		data := make([]float32, len(s))
		copy(data, s)
		out = append(out, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("%s_%d", prefix, i),
			Shape:     []int{len(data)},
			Data:      data,
			StateType: stateType,
		})
	}
	return out
}

// restoreSlotState rebuilds slot buffers of the given state type.
func restoreSlotState(tensors []checkpoints.OptimizerTensor, stateType string) ([][]float32, error) {
	var slots [][]float32
	for _, t := range tensors {
		if t.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 {
			return nil, errors.Errorf("invalid %s tensor name %q", stateType, t.Name)
		}
		for len(slots) <= idx {
			slots = append(slots, nil)
		}
		slots[idx] = append([]float32(nil), t.Data...)
	}
	for i, s := range slots {
		if s == nil {
			return nil, errors.Errorf("missing %s buffer %d", stateType, i)
		}
	}
	return slots, nil
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]float64, key string, defaultValue float32) float32 {
	if val, ok := params[key]; ok {
		return float32(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter stored as 0/1
func extractBoolParam(params map[string]float64, key string, defaultValue bool) bool {
	if val, ok := params[key]; ok {
		return val != 0
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]float64, key string, defaultValue uint64) uint64 {
	if val, ok := params[key]; ok && val >= 0 {
		return uint64(val)
	}
	return defaultValue
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
