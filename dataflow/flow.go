// Package dataflow turns dataset samples into batches for training,
// validation and test. Flows are lazy and restartable: each call to Data
// starts a fresh pass with its own background producer.
package dataflow

import (
	"context"
	"image"
	"iter"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/hal2001/data-science-bowl-2018/dataset"
	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// Size is the declared original resolution of an image.
type Size struct {
	Height int
	Width  int
}

// Batch is one unit of work for the session.
type Batch struct {
	Images    *tensor.Tensor  // [N,C,H,W] at the working resolution, values in [0,1]
	Masks     *tensor.Tensor  // [N,1,H,W] foreground union; nil for test batches
	IDs       []string        // sample ids
	Sizes     []Size          // original height and width per image
	Instances [][]*image.Gray // ground-truth instances at original resolution; valid-full only
}

// Len returns the number of images in the batch.
func (b *Batch) Len() int { return len(b.IDs) }

// FlowConfig configures NewFlows.
type FlowConfig struct {
	BatchSize  int
	Height     int // working resolution
	Width      int
	Channels   int
	ValidRatio float64
	Seed       int64
	CacheSize  int // decoded samples kept in memory
	Workers    int // parallel decodes per batch
	Prefetch   int // batches buffered ahead of the consumer
	Augment    Augment
}

// DefaultFlowConfig returns defaults for a batch size and working
// resolution.
func DefaultFlowConfig(batchSize, height, width, channels int) FlowConfig {
	return FlowConfig{
		BatchSize:  batchSize,
		Height:     height,
		Width:      width,
		Channels:   channels,
		ValidRatio: 0.1,
		Seed:       2018,
		CacheSize:  1000,
		Workers:    4,
		Prefetch:   2,
		Augment:    DefaultAugment(),
	}
}

func (c FlowConfig) validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive: %d", c.BatchSize)
	}
	if c.Height <= 0 || c.Width <= 0 {
		return errors.Errorf("working size must be positive: %dx%d", c.Width, c.Height)
	}
	if c.Channels < 1 || c.Channels > 3 {
		return errors.Errorf("channels must be 1..3: %d", c.Channels)
	}
	return nil
}

// Flows are the four passes a training run reads.
type Flows struct {
	Train     *Flow
	Valid     *Flow
	ValidFull *Flow
	Test      *Flow
	Cache     *CacheManager
}

// NewFlows splits data and builds the train, valid, valid-full and test
// flows over a shared sample cache.
func NewFlows(data *dataset.CellImageData, cfg FlowConfig) (*Flows, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	train, valid, err := data.Split(cfg.ValidRatio, cfg.Seed)
	if err != nil {
		return nil, err
	}
	cache := NewCacheManager(cfg.CacheSize)
	logger := logging.New("dataflow")
	mk := func(name string, samples []dataset.Sample, mode flowMode, batchSize int) *Flow {
		f := &Flow{
			name:      name,
			samples:   samples,
			mode:      mode,
			batchSize: batchSize,
			height:    cfg.Height,
			width:     cfg.Width,
			channels:  cfg.Channels,
			seed:      cfg.Seed,
			workers:   max(1, cfg.Workers),
			prefetch:  max(0, cfg.Prefetch),
			cache:     cache,
			logger:    logger,
		}
		if mode == modeTrain {
			f.augment = cfg.Augment
		}
		return f
	}
	fl := &Flows{
		Train:     mk("train", train, modeTrain, cfg.BatchSize),
		Valid:     mk("valid", valid, modeValid, cfg.BatchSize),
		ValidFull: mk("valid_full", valid, modeValidFull, 1),
		Test:      mk("test", data.Test, modeTest, 1),
		Cache:     cache,
	}
	logger.Info("flows ready", "train", len(train), "valid", len(valid), "test", len(data.Test))
	return fl, nil
}

type flowMode int

const (
	modeTrain flowMode = iota
	modeValid
	modeValidFull
	modeTest
)

// Flow is a restartable sequence of batches over a fixed sample list.
type Flow struct {
	name      string
	samples   []dataset.Sample
	mode      flowMode
	batchSize int
	height    int
	width     int
	channels  int
	augment   Augment
	seed      int64
	workers   int
	prefetch  int
	cache     *CacheManager
	logger    logging.Logger

	passes atomic.Int64 // completed or started passes, seeds the shuffle
	active atomic.Int32 // running producers
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Samples returns the number of samples per pass.
func (f *Flow) Samples() int { return len(f.samples) }

// Len returns the number of batches per pass.
func (f *Flow) Len() int { return (len(f.samples) + f.batchSize - 1) / f.batchSize }

type result struct {
	batch *Batch
	err   error
}

// Data starts a new pass. Batches are produced in the background up to
// the prefetch depth ahead of the consumer. Breaking out of the loop or
// cancelling ctx stops the producer; an error ends the pass.
func (f *Flow) Data(ctx context.Context) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		pass := f.passes.Add(1)
		order := make([]int, len(f.samples))
		for i := range order {
			order[i] = i
		}
		rng := rand.New(rand.NewSource(f.seed + pass))
		if f.mode == modeTrain {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		pctx, cancel := context.WithCancel(ctx)
		ch := make(chan result, f.prefetch)
		var wg sync.WaitGroup
		var completed bool
		wg.Add(1)
		f.active.Add(1)
		go func() {
			defer wg.Done()
			defer f.active.Add(-1)
			defer close(ch)
			for start := 0; start < len(order); start += f.batchSize {
				if pctx.Err() != nil {
					return
				}
				end := min(start+f.batchSize, len(order))
				b, err := f.batch(pctx, order[start:end], rng)
				select {
				case ch <- result{b, err}:
				case <-pctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
			completed = true
		}()
		defer func() {
			cancel()
			wg.Wait()
		}()

		for r := range ch {
			if !yield(r.batch, r.err) || r.err != nil {
				return
			}
		}
		if !completed {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
			}
			return
		}
		f.logger.Debug("pass finished", "flow", f.name, "pass", pass, "samples", len(order))
	}
}

// batch decodes and assembles the samples at idx. Samples are decoded in
// parallel; augmentation draws happen up front so a pass is reproducible.
func (f *Flow) batch(ctx context.Context, idx []int, rng *rand.Rand) (*Batch, error) {
	n := len(idx)
	b := &Batch{
		Images: tensor.New(n, f.channels, f.height, f.width),
		IDs:    make([]string, n),
		Sizes:  make([]Size, n),
	}
	if f.mode != modeTest {
		b.Masks = tensor.New(n, 1, f.height, f.width)
	}
	if f.mode == modeValidFull {
		b.Instances = make([][]*image.Gray, n)
	}
	draws := make([]*rand.Rand, n)
	for i := range draws {
		draws[i] = rand.New(rand.NewSource(rng.Int63()))
	}

	errs := make([]error, n)
	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup
	for i, k := range idx {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, s dataset.Sample) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return
			}
			errs[i] = f.fill(b, i, s, draws[i])
		}(i, f.samples[k])
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "%s flow", f.name)
		}
	}
	return b, nil
}

func (f *Flow) fill(b *Batch, i int, s dataset.Sample, rng *rand.Rand) error {
	e, err := f.cache.load(s)
	if err != nil {
		return err
	}
	d := e.sample
	b.IDs[i] = d.ID
	b.Sizes[i] = Size{Height: d.Height, Width: d.Width}

	src := d.Image.Bounds()
	t := transform{crop: src}
	if f.mode == modeTrain {
		t = f.augment.draw(rng, src)
	}
	img := b.Images.Index(i).Data
	imageToCHW(d.Image, t.crop, f.width, f.height, f.channels, img)
	flip(img, f.width, f.height, t.flipH, t.flipV)

	if b.Masks != nil {
		if e.union == nil {
			return errors.Errorf("sample %s has no masks", d.ID)
		}
		// masks are anchored at the origin while the image may not be
		mr := t.crop.Sub(src.Min)
		m := b.Masks.Index(i).Data
		maskToPlane(e.union, mr, f.width, f.height, m)
		flip(m, f.width, f.height, t.flipH, t.flipV)
	}
	if b.Instances != nil {
		b.Instances[i] = d.Masks
	}
	return nil
}
