package network

import (
	"math/rand"

	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/hal2001/data-science-bowl-2018/optimizer"
)

func init() {
	Register("basic", NewBasic)
}

// Basic is a shallow fully convolutional network trained with momentum SGD.
type Basic struct {
	base
}

// NewBasic creates an unbuilt basic network.
func NewBasic(batchSize int) Network {
	return &Basic{base{name: "basic", batchSize: batchSize, seed: 1}}
}

func (n *Basic) Build() error {
	rng := rand.New(rand.NewSource(n.seed))
	n.model = newSequential("NetworkBasic", []int{n.batchSize, InputChannels, InputHeight, InputWidth},
		layers.NewConv2D("conv1", InputChannels, 16, 3, rng),
		layers.NewReLU("relu1"),
		layers.NewConv2D("conv2", 16, 16, 3, rng),
		layers.NewReLU("relu2"),
		layers.NewConv2D("logits", 16, 1, 1, rng),
	)
	return nil
}

func (n *Basic) Optimizer(learningRate float64) (optimizer.Optimizer, optimizer.LRScheduler, error) {
	opt, err := optimizer.NewSGDOptimizer(optimizer.DefaultSGDConfig())
	if err != nil {
		return nil, nil, err
	}
	return opt, optimizer.NewExponentialDecayScheduler(1000, 0.9, true), nil
}
