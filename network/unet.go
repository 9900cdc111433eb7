package network

import (
	"math/rand"

	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/hal2001/data-science-bowl-2018/optimizer"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

func init() {
	Register("simple_unet", NewUnet)
}

// Unet is a one-level encoder/decoder with a skip connection, trained with
// Adam.
type Unet struct {
	base
}

// NewUnet creates an unbuilt simple_unet network.
func NewUnet(batchSize int) Network {
	return &Unet{base{name: "simple_unet", batchSize: batchSize, seed: 1}}
}

func (n *Unet) Build() error {
	n.model = newUnetModel([]int{n.batchSize, InputChannels, InputHeight, InputWidth}, rand.New(rand.NewSource(n.seed)))
	return nil
}

func (n *Unet) Optimizer(learningRate float64) (optimizer.Optimizer, optimizer.LRScheduler, error) {
	opt, err := optimizer.NewAdamOptimizer(optimizer.DefaultAdamConfig())
	if err != nil {
		return nil, nil, err
	}
	return opt, optimizer.NewStepLRScheduler(2000, 0.5), nil
}

const (
	unetBase       = 16
	unetBottleneck = 32
)

type unetModel struct {
	spec *layers.ModelSpec

	enc   *layers.Conv2DLayer
	relu1 *layers.ReLULayer
	pool  *layers.MaxPool2DLayer
	mid   *layers.Conv2DLayer
	relu2 *layers.ReLULayer
	up    *layers.Upsample2DLayer
	dec   *layers.Conv2DLayer
	relu3 *layers.ReLULayer
	out   *layers.Conv2DLayer
}

func newUnetModel(inputShape []int, rng *rand.Rand) *unetModel {
	m := &unetModel{
		enc:   layers.NewConv2D("enc1", inputShape[1], unetBase, 3, rng),
		relu1: layers.NewReLU("relu1"),
		pool:  layers.NewMaxPool2D("pool1"),
		mid:   layers.NewConv2D("bottleneck", unetBase, unetBottleneck, 3, rng),
		relu2: layers.NewReLU("relu2"),
		up:    layers.NewUpsample2D("up1"),
		dec:   layers.NewConv2D("dec1", unetBase+unetBottleneck, unetBase, 3, rng),
		relu3: layers.NewReLU("relu3"),
		out:   layers.NewConv2D("logits", unetBase, 1, 1, rng),
	}
	out := append([]int(nil), inputShape...)
	out[1] = 1
	m.spec = layers.NewModelSpec("NetworkUnet", inputShape, out,
		m.enc.Spec(), m.relu1.Spec(), m.pool.Spec(), m.mid.Spec(), m.relu2.Spec(),
		m.up.Spec(), layers.ConcatSpec("skip1"), m.dec.Spec(), m.relu3.Spec(), m.out.Spec())
	return m
}

func (m *unetModel) Spec() *layers.ModelSpec { return m.spec }

func (m *unetModel) Params() []*layers.Param {
	var ps []*layers.Param
	for _, l := range []layers.Layer{m.enc, m.mid, m.dec, m.out} {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (m *unetModel) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if len(x.Shape) == 4 && (x.Shape[2]%2 != 0 || x.Shape[3]%2 != 0) {
		return nil, errors.Errorf("unet: input %dx%d must have even sides", x.Shape[2], x.Shape[3])
	}
	skip, err := chain(x, training, m.enc, m.relu1)
	if err != nil {
		return nil, err
	}
	deep, err := chain(skip, training, m.pool, m.mid, m.relu2, m.up)
	if err != nil {
		return nil, err
	}
	cat, err := layers.ConcatChannels(skip, deep)
	if err != nil {
		return nil, errors.Wrap(err, "unet")
	}
	return chain(cat, training, m.dec, m.relu3, m.out)
}

func (m *unetModel) Backward(g *tensor.Tensor) error {
	g, err := chainBackward(g, m.dec, m.relu3, m.out)
	if err != nil {
		return err
	}
	gSkip, gDeep, err := layers.SplitChannels(g, unetBase)
	if err != nil {
		return errors.Wrap(err, "unet")
	}
	gDeep, err = chainBackward(gDeep, m.pool, m.mid, m.relu2, m.up)
	if err != nil {
		return err
	}
	for i, v := range gDeep.Data {
		gSkip.Data[i] += v
	}
	_, err = chainBackward(gSkip, m.enc, m.relu1)
	return err
}

// chain runs ls forward in order.
func chain(x *tensor.Tensor, training bool, ls ...layers.Layer) (*tensor.Tensor, error) {
	var err error
	for _, l := range ls {
		if x, err = l.Forward(x, training); err != nil {
			return nil, errors.Wrap(err, "unet")
		}
	}
	return x, nil
}

// chainBackward backpropagates through ls, given in forward order.
func chainBackward(g *tensor.Tensor, ls ...layers.Layer) (*tensor.Tensor, error) {
	var err error
	for i := len(ls) - 1; i >= 0; i-- {
		if g, err = ls[i].Backward(g); err != nil {
			return nil, errors.Wrap(err, "unet")
		}
	}
	return g, nil
}
