package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/pkg/errors"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "Proto"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// Ext returns the file extension used for the format.
func (cf CheckpointFormat) Ext() string {
	if cf == FormatJSON {
		return ".json"
	}
	return ".ckpt"
}

const (
	frameworkName    = "dsb2018"
	frameworkVersion = "1.0.0"
)

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	// Model architecture and weights
	ModelSpec *layers.ModelSpec `json:"model_spec"`
	Weights   []WeightTensor    `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures the training progress at the time of the snapshot
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	Metric       float64 `json:"metric"` // value the checkpoint was kept for
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string             `json:"type"` // "SGD", "Adam"
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Source produces a snapshot of the current model state.
type Source interface {
	Checkpoint() (*Checkpoint, error)
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the format the saver writes.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	fillMetadata(&checkpoint.Metadata)

	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatProto:
		data, err = marshalProto(checkpoint)
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	default:
		return errors.Errorf("unsupported checkpoint format: %s", cs.format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to encode checkpoint %s", path)
	}
	return writeFileAtomic(path, data)
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint file")
	}
	switch cs.format {
	case FormatProto:
		c, err := unmarshalProto(data)
		return c, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	case FormatJSON:
		var c Checkpoint
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
		}
		return &c, nil
	default:
		return nil, errors.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

// Load reads a checkpoint, picking the format from the file extension.
func Load(path string) (*Checkpoint, error) {
	format := FormatProto
	if filepath.Ext(path) == FormatJSON.Ext() {
		format = FormatJSON
	}
	return NewCheckpointSaver(format).LoadCheckpoint(path)
}

func fillMetadata(md *CheckpointMetadata) {
	if md.Framework == "" {
		md.Framework = frameworkName
		md.Version = frameworkVersion
	}
	if md.RunID == "" {
		md.RunID = uuid.NewString()
	}
	if md.CreatedAt.IsZero() {
		md.CreatedAt = time.Now().UTC()
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write checkpoint file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to move checkpoint file into place")
	}
	return nil
}

// ExtractWeights copies parameter values into named weight tensors.
func ExtractWeights(params []*layers.Param) []WeightTensor {
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data := make([]float32, p.Value.Size())
		copy(data, p.Value.Data)
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Value.Shape...),
			Data:  data,
			Layer: p.Layer,
			Type:  p.Type,
		})
	}
	return weights
}

// LoadWeights copies weight data back into params, matching by name and
// checking shapes. Every param must be present.
func LoadWeights(weights []WeightTensor, params []*layers.Param) error {
	if len(weights) != len(params) {
		return errors.Errorf("weight count mismatch: %d weights, %d params", len(weights), len(params))
	}
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return errors.Errorf("missing weight %s", p.Name)
		}
		if len(w.Shape) != len(p.Value.Shape) {
			return errors.Errorf("shape mismatch for weight %s: param %v vs weight %v", p.Name, p.Value.Shape, w.Shape)
		}
		for j, dim := range p.Value.Shape {
			if dim != w.Shape[j] {
				return errors.Errorf("dimension mismatch for weight %s at index %d: param %d vs weight %d", p.Name, j, dim, w.Shape[j])
			}
		}
		if len(w.Data) != p.Value.Size() {
			return errors.Errorf("weight %s has %d values, expected %d", p.Name, len(w.Data), p.Value.Size())
		}
	}
	for _, p := range params {
		copy(p.Value.Data, byName[p.Name].Data)
	}
	return nil
}
