package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Tensor is a dense, row-major float32 tensor held in host memory.
// Image batches use NCHW layout.
type Tensor struct {
	Shape   []int
	Strides []int
	Data    []float32
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	s := append([]int(nil), shape...)
	return &Tensor{
		Shape:   s,
		Strides: calculateStrides(s),
		Data:    make([]float32, calculateNumElements(s)),
	}
}

// FromSlice wraps data in a tensor without copying it.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if n := calculateNumElements(shape); n != len(data) {
		return nil, errors.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	s := append([]int(nil), shape...)
	return &Tensor{Shape: s, Strides: calculateStrides(s), Data: data}, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, len(t.Data))
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if o.Shape[i] != d {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Zero sets every element to 0.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// Index returns a view of the i-th sub-tensor along the first dimension.
// The view shares storage with t.
func (t *Tensor) Index(i int) *Tensor {
	if len(t.Shape) == 0 || i < 0 || i >= t.Shape[0] {
		panic(fmt.Sprintf("tensor: index %d out of range for shape %v", i, t.Shape))
	}
	inner := t.Shape[1:]
	n := calculateNumElements(inner)
	if len(inner) == 0 {
		n = 1
	}
	s := append([]int(nil), inner...)
	return &Tensor{Shape: s, Strides: calculateStrides(s), Data: t.Data[i*n : (i+1)*n]}
}

// Reshape returns a view with a new shape over the same storage.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return FromSlice(t.Data, shape...)
}

// At4 returns the element at (n, c, h, w) of a 4-D tensor.
func (t *Tensor) At4(n, c, h, w int) float32 {
	return t.Data[n*t.Strides[0]+c*t.Strides[1]+h*t.Strides[2]+w]
}

// Set4 sets the element at (n, c, h, w) of a 4-D tensor.
func (t *Tensor) Set4(n, c, h, w int, v float32) {
	t.Data[n*t.Strides[0]+c*t.Strides[1]+h*t.Strides[2]+w] = v
}

// Stack joins tensors of identical shape along a new leading dimension.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("cannot stack zero tensors")
	}
	shape := append([]int{len(ts)}, ts[0].Shape...)
	out := New(shape...)
	n := ts[0].Size()
	for i, x := range ts {
		if !x.SameShape(ts[0]) {
			return nil, errors.Errorf("shape mismatch at %d: %v vs %v", i, x.Shape, ts[0].Shape)
		}
		copy(out.Data[i*n:], x.Data)
	}
	return out, nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return errors.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
