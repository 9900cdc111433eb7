package network

import (
	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// sequentialModel runs layers one after another.
type sequentialModel struct {
	spec   *layers.ModelSpec
	layers []layers.Layer
}

func newSequential(name string, inputShape []int, ls ...layers.Layer) *sequentialModel {
	specs := make([]layers.LayerSpec, len(ls))
	for i, l := range ls {
		specs[i] = l.Spec()
	}
	out := append([]int(nil), inputShape...)
	out[1] = 1
	return &sequentialModel{
		spec:   layers.NewModelSpec(name, inputShape, out, specs...),
		layers: ls,
	}
}

func (m *sequentialModel) Spec() *layers.ModelSpec { return m.spec }

func (m *sequentialModel) Params() []*layers.Param {
	var ps []*layers.Param
	for _, l := range m.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (m *sequentialModel) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	var err error
	for _, l := range m.layers {
		if x, err = l.Forward(x, training); err != nil {
			return nil, errors.Wrap(err, m.spec.Name)
		}
	}
	return x, nil
}

func (m *sequentialModel) Backward(g *tensor.Tensor) error {
	var err error
	for i := len(m.layers) - 1; i >= 0; i-- {
		if g, err = m.layers[i].Backward(g); err != nil {
			return errors.Wrap(err, m.spec.Name)
		}
	}
	return nil
}
