package layers

import (
	"fmt"
	"strings"

	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Conv2D LayerType = iota
	ReLU
	MaxPool2D
	Upsample2D
	Concat
)

func (lt LayerType) String() string {
	switch lt {
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case MaxPool2D:
		return "MaxPool2D"
	case Upsample2D:
		return "Upsample2D"
	case Concat:
		return "Concat"
	default:
		return "Unknown"
	}
}

// LayerSpec describes a layer for summaries and checkpoint metadata.
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count"`
}

// ModelSpec is the compiled description of a network.
type ModelSpec struct {
	Name            string      `json:"name"`
	Layers          []LayerSpec `json:"layers"`
	InputShape      []int       `json:"input_shape"`
	OutputShape     []int       `json:"output_shape"`
	TotalParameters int64       `json:"total_parameters"`
}

// NewModelSpec assembles a model spec and totals its parameters.
func NewModelSpec(name string, inputShape, outputShape []int, specs ...LayerSpec) *ModelSpec {
	ms := &ModelSpec{
		Name:        name,
		Layers:      specs,
		InputShape:  inputShape,
		OutputShape: outputShape,
	}
	for _, s := range specs {
		ms.TotalParameters += s.ParameterCount
	}
	return ms
}

// Summary returns a human-readable, PyTorch-style architecture listing.
func (ms *ModelSpec) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(\n", ms.Name)
	for _, l := range ms.Layers {
		fmt.Fprintf(&b, "  %s\n", formatLayer(l))
	}
	b.WriteString(")\n")
	fmt.Fprintf(&b, "Input shape: %v\n", ms.InputShape)
	fmt.Fprintf(&b, "Output shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&b, "Total parameters: %s\n", formatParameterCount(ms.TotalParameters))
	return b.String()
}

func formatLayer(l LayerSpec) string {
	switch l.Type {
	case Conv2D:
		return fmt.Sprintf("(%s): Conv2d(%d, %d, kernel_size=(%d, %d), padding=(%d, %d))",
			l.Name, l.Parameters["input_channels"], l.Parameters["output_channels"],
			l.Parameters["kernel_size"], l.Parameters["kernel_size"],
			l.Parameters["padding"], l.Parameters["padding"])
	case MaxPool2D, Upsample2D:
		return fmt.Sprintf("(%s): %s(scale=%d)", l.Name, l.Type, l.Parameters["scale"])
	default:
		return fmt.Sprintf("(%s): %s()", l.Name, l.Type)
	}
}

func formatParameterCount(count int64) string {
	if count < 1000 {
		return fmt.Sprintf("%d", count)
	}
	s := fmt.Sprintf("%d", count)
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return strings.Join(parts, ",")
}

// Param is a trainable tensor together with its accumulated gradient.
type Param struct {
	Name  string // "<layer>.weight" or "<layer>.bias"
	Layer string
	Type  string // "weight" or "bias"
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

func newParam(layer, typ string, shape ...int) *Param {
	return &Param{
		Name:  layer + "." + typ,
		Layer: layer,
		Type:  typ,
		Value: tensor.New(shape...),
		Grad:  tensor.New(shape...),
	}
}

// ZeroGrad clears accumulated gradients.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// Layer is an executable single-input layer. Forward caches whatever the
// following Backward call needs, so calls must alternate per batch.
type Layer interface {
	Spec() LayerSpec
	Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*Param
}

func checkRank4(op string, x *tensor.Tensor) error {
	if len(x.Shape) != 4 {
		return errors.Errorf("%s: expected NCHW input, got shape %v", op, x.Shape)
	}
	return nil
}
