// Package network holds the segmentation network variants and the shared
// inference and visualization helpers.
package network

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/hal2001/data-science-bowl-2018/optimizer"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// ErrUnknownModel is returned by New for names that are not registered.
var ErrUnknownModel = errors.New("unknown model")

// Working resolution of every variant.
const (
	InputHeight   = 128
	InputWidth    = 128
	InputChannels = 3
)

// Model is the executable graph of a network. Forward returns logits with
// shape [N,1,H,W]; Backward accumulates parameter gradients for the last
// Forward call.
type Model interface {
	Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) error
	Params() []*layers.Param
	Spec() *layers.ModelSpec
}

// Predictor maps a batch of images to foreground probabilities [N,1,H,W].
type Predictor interface {
	Predict(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error)
}

// Network is one registered architecture together with its training recipe.
type Network interface {
	Name() string
	BatchSize() int
	// InputSize is the working resolution images are resized to.
	InputSize() (height, width, channels int)
	// Build constructs the model. It must be called before Model.
	Build() error
	Model() Model
	// Optimizer returns the optimizer and learning-rate schedule for a
	// base learning rate.
	Optimizer(learningRate float64) (optimizer.Optimizer, optimizer.LRScheduler, error)
	// Inference segments every image of the batch into instance masks at
	// the working resolution.
	Inference(ctx context.Context, p Predictor, images *tensor.Tensor) ([][]*image.Gray, error)
}

// Factory creates an unbuilt network for a batch size.
type Factory func(batchSize int) Network

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a network variant available by name. It panics if the name
// is registered twice or the factory is nil.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("network: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("network: Register called twice for " + name)
	}
	registry[name] = f
}

// New returns the registered variant called name.
func New(name string, batchSize int) (Network, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownModel, "model name(%s) is not valid", name)
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive: %d", batchSize)
	}
	return f(batchSize), nil
}

// Names lists the registered variants in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// base carries what every variant shares.
type base struct {
	name      string
	batchSize int
	seed      int64
	model     Model
}

func (b *base) Name() string   { return b.name }
func (b *base) BatchSize() int { return b.batchSize }

func (b *base) InputSize() (int, int, int) {
	return InputHeight, InputWidth, InputChannels
}

func (b *base) Model() Model { return b.model }

func (b *base) Inference(ctx context.Context, p Predictor, images *tensor.Tensor) ([][]*image.Gray, error) {
	return Infer(ctx, p, images, DefaultInferenceConfig())
}
