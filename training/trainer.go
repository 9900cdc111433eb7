// Package training drives a segmentation run: the epoch loop over the
// training and validation flows, checkpoint selection by validation loss,
// and the post-training passes that score the best model on the full
// validation set and build the submission from the test set.
package training

import (
	"context"
	"fmt"
	"image"
	"io"
	"iter"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hal2001/data-science-bowl-2018/checkpoints"
	"github.com/hal2001/data-science-bowl-2018/dataflow"
	"github.com/hal2001/data-science-bowl-2018/dataset"
	"github.com/hal2001/data-science-bowl-2018/display"
	"github.com/hal2001/data-science-bowl-2018/engine"
	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/hal2001/data-science-bowl-2018/masks"
	"github.com/hal2001/data-science-bowl-2018/metric"
	"github.com/hal2001/data-science-bowl-2018/network"
	"github.com/hal2001/data-science-bowl-2018/submission"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// ErrInvalidImageSize is returned when a test image declares a
// non-positive height or width.
var ErrInvalidImageSize = errors.New("invalid image size")

// NumToKeep is the number of checkpoints retained per run.
const NumToKeep = 100

// Batches is a restartable source of batches. Every call to Data starts a
// new pass.
type Batches interface {
	Len() int
	Data(ctx context.Context) iter.Seq2[*dataflow.Batch, error]
}

// Flows are the four passes of a run.
type Flows struct {
	Train     Batches
	Valid     Batches
	ValidFull Batches
	Test      Batches
	Cache     *dataflow.CacheManager // optional, reported at the end
}

// Session executes requests against the model one at a time.
type Session interface {
	network.Predictor
	checkpoints.Source
	TrainStep(ctx context.Context, images, targets *tensor.Tensor) (engine.StepResult, error)
	Loss(ctx context.Context, images, targets *tensor.Tensor) (float64, error)
	SetEpoch(epoch int)
	Restore(ckpt *checkpoints.Checkpoint) error
	Close() error
}

// Keeper decides whether a validation result is worth a checkpoint.
type Keeper interface {
	Handle(value float64, src checkpoints.Source) (bool, error)
}

// Submission accumulates test predictions.
type Submission interface {
	SaveImage(id string, img image.Image) error
	AddResult(id string, instances []*image.Gray)
	Save() (*submission.Manifest, error)
}

// Result summarizes a finished run.
type Result struct {
	Name       string
	BestLoss   float64
	Checkpoint string // path of the restored checkpoint
	Score      float64
	Counts     *metric.Counts
	Manifest   *submission.Manifest
	History    *History
}

// Trainer runs training jobs. The function fields create its collaborators
// and may be replaced before Run.
type Trainer struct {
	Paths      Paths
	Progress   io.Writer // epoch progress bar; nil disables it
	Thresholds []float64 // IoU thresholds of the validation metric

	// OpenDisplay is called only when a show count is positive, after the
	// model name has been resolved. Run closes what it returns.
	OpenDisplay    func() (display.Display, error)
	NewNetwork     func(name string, batchSize int) (network.Network, error)
	OpenFlows      func(net network.Network, cfg Config) (*Flows, error)
	OpenSession    func(ctx context.Context, net network.Network, opts engine.Options) (Session, error)
	NewKeeper      func(dir string) (Keeper, error)
	BestCheckpoint func(dir string) (string, error)
	LoadCheckpoint func(path string) (*checkpoints.Checkpoint, error)
	NewSubmission  func(basePath, name string) (Submission, error)
	Now            func() time.Time

	logger logging.Logger
}

// NewTrainer returns a trainer wired to the on-disk dataset, the CPU engine
// and the checkpoint and submission writers under paths.
func NewTrainer(paths Paths) *Trainer {
	return &Trainer{
		Paths:      paths,
		Thresholds: metric.DefaultThresholds(),
		OpenDisplay: func() (display.Display, error) {
			return display.Nop{}, nil
		},
		NewNetwork: network.New,
		OpenFlows: func(net network.Network, cfg Config) (*Flows, error) {
			return openFlows(paths.DataDir, net, cfg)
		},
		OpenSession: func(ctx context.Context, net network.Network, opts engine.Options) (Session, error) {
			s, err := engine.Open(ctx, net, opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		NewKeeper: func(dir string) (Keeper, error) {
			k, err := checkpoints.NewBestSaver(dir, NumToKeep, false)
			if err != nil {
				return nil, err
			}
			return k, nil
		},
		BestCheckpoint: func(dir string) (string, error) {
			return checkpoints.GetBestCheckpoint(dir, false)
		},
		LoadCheckpoint: checkpoints.Load,
		NewSubmission: func(basePath, name string) (Submission, error) {
			s, err := submission.New(basePath, name)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Now:    time.Now,
		logger: logging.New("train"),
	}
}

func openFlows(dataDir string, net network.Network, cfg Config) (*Flows, error) {
	data, err := dataset.Open(dataDir)
	if err != nil {
		return nil, err
	}
	h, w, c := net.InputSize()
	fl, err := dataflow.NewFlows(data, dataflow.DefaultFlowConfig(cfg.BatchSize, h, w, c))
	if err != nil {
		return nil, err
	}
	return &Flows{Train: fl.Train, Valid: fl.Valid, ValidFull: fl.ValidFull, Test: fl.Test, Cache: fl.Cache}, nil
}

// Run trains cfg.Model, restores the checkpoint with the lowest validation
// loss, scores it on the full validation set and writes the submission.
// Any collaborator error ends the run.
func (t *Trainer) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	net, err := t.NewNetwork(cfg.Model, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	t.logger.Info("constructing network model: " + cfg.Model)
	if err := net.Build(); err != nil {
		return nil, errors.Wrapf(err, "build %s", cfg.Model)
	}
	if m := net.Model(); m != nil {
		t.logger.Debug("model summary\n" + m.Spec().Summary())
	}

	var disp display.Display = display.Nop{}
	if cfg.Shows() && t.OpenDisplay != nil {
		disp, err = t.OpenDisplay()
		if err != nil {
			return nil, errors.Wrap(err, "open display")
		}
		defer disp.Close()
	}

	flows, err := t.OpenFlows(net, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open data flows")
	}

	name := cfg.RunName(t.Now())
	runDir := filepath.Join(t.Paths.BasePath, name)
	modelDir := filepath.Join(runDir, "model")
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create run dir %s", runDir)
	}
	keeper, err := t.NewKeeper(modelDir)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint keeper")
	}
	t.logger.Info("constructed", "name", name)

	sess, err := t.OpenSession(ctx, net, engine.Options{
		LearningRate: cfg.LearningRate,
		Description:  name,
		RunID:        uuid.NewString(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open session")
	}
	defer sess.Close()

	res := &Result{Name: name, History: NewHistory()}
	t.logger.Info("training started")
	bestLoss, err := t.train(ctx, cfg, sess, flows, keeper, res.History)
	if err != nil {
		return nil, err
	}
	res.BestLoss = bestLoss

	path, err := t.BestCheckpoint(modelDir)
	if err != nil {
		return nil, errors.Wrap(err, "best checkpoint")
	}
	t.logger.Info("training is done. Start to evaluate the best model. " + path)
	ckpt, err := t.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := sess.Restore(ckpt); err != nil {
		return nil, errors.Wrapf(err, "restore %s", path)
	}
	res.Checkpoint = path

	if err := t.showTrain(ctx, cfg.ShowTrain, net, sess, flows.Train, disp); err != nil {
		return nil, err
	}

	t.logger.Info("Start to test on validation set.... (may take a while)")
	counts, err := t.evaluate(ctx, cfg.ShowValid, net, sess, flows.ValidFull, disp)
	if err != nil {
		return nil, err
	}
	res.Counts = counts
	res.Score = counts.Score()
	t.logger.Info(fmt.Sprintf("validation metric: %.5f", res.Score))
	t.logger.Debug(counts.String())

	sub, err := t.NewSubmission(t.Paths.BasePath, name)
	if err != nil {
		return nil, errors.Wrap(err, "submission")
	}
	if err := t.test(ctx, cfg.ShowTest, net, sess, flows.Test, disp, sub); err != nil {
		return nil, err
	}
	if res.Manifest, err = sub.Save(); err != nil {
		return nil, errors.Wrap(err, "save submission")
	}

	if err := res.History.Save(filepath.Join(runDir, "loss.svg")); err != nil {
		return nil, err
	}
	if flows.Cache != nil {
		t.logger.Debug(flows.Cache.Stats().String())
	}
	t.logger.Info(fmt.Sprintf("done. best_loss_val=%.4f name=%s", res.BestLoss, name))
	return res, nil
}

// train runs the epoch loop and returns the lowest validation loss seen.
func (t *Trainer) train(ctx context.Context, cfg Config, sess Session, flows *Flows, keeper Keeper, hist *History) (float64, error) {
	bestLoss := math.Inf(1)
	for e := 0; e < cfg.Epoch; e++ {
		sess.SetEpoch(e)
		last, err := t.trainEpoch(ctx, sess, flows.Train, e)
		if err != nil {
			return 0, err
		}
		t.logger.Info(fmt.Sprintf("training %d epoch %d step, lr=%.6f loss=%.4f", e, last.Step, last.LearningRate, last.Loss))
		hist.AddTrain(e, last.Loss)

		if (e+1)%cfg.ValidInterval != 0 {
			continue
		}
		avg, err := validationLoss(ctx, sess, flows.Valid)
		if err != nil {
			return 0, errors.Wrapf(err, "validation epoch %d", e)
		}
		t.logger.Info(fmt.Sprintf("validation loss=%.4f", avg))
		hist.AddValid(e, avg)
		if _, err := keeper.Handle(avg, sess); err != nil {
			return 0, errors.Wrapf(err, "checkpoint epoch %d", e)
		}
		if avg < bestLoss {
			bestLoss = avg
		}
	}
	return bestLoss, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, sess Session, flow Batches, epoch int) (engine.StepResult, error) {
	var last engine.StepResult
	bar := NewProgressBar(t.Progress, fmt.Sprintf("epoch %d", epoch), flow.Len())
	n := 0
	for b, err := range flow.Data(ctx) {
		if err != nil {
			return last, errors.Wrapf(err, "train flow epoch %d", epoch)
		}
		if last, err = sess.TrainStep(ctx, b.Images, b.Masks); err != nil {
			return last, errors.Wrapf(err, "train step epoch %d batch %d", epoch, n)
		}
		n++
		bar.Update(n, map[string]float64{"loss": last.Loss, "lr": last.LearningRate})
	}
	bar.Finish()
	return last, nil
}

// validationLoss is the mean of the per-batch losses of one pass.
func validationLoss(ctx context.Context, sess Session, flow Batches) (float64, error) {
	var sum float64
	var n int
	for b, err := range flow.Data(ctx) {
		if err != nil {
			return 0, err
		}
		loss, err := sess.Loss(ctx, b.Images, b.Masks)
		if err != nil {
			return 0, errors.Wrapf(err, "validation batch %d", n)
		}
		sum += loss
		n++
	}
	if n == 0 {
		return 0, errors.New("validation flow produced no batches")
	}
	return sum / float64(n), nil
}

// showTrain displays predictions for the first image of up to limit
// training batches.
func (t *Trainer) showTrain(ctx context.Context, limit int, net network.Network, sess Session, flow Batches, disp display.Display) error {
	if limit <= 0 {
		return nil
	}
	idx := 0
	for b, err := range flow.Data(ctx) {
		if err != nil {
			return errors.Wrap(err, "train flow")
		}
		if idx >= limit {
			break
		}
		idx++
		img, err := first(b.Images)
		if err != nil {
			return err
		}
		instances, err := net.Inference(ctx, sess, img)
		if err != nil {
			return errors.Wrapf(err, "inference on %s", b.IDs[0])
		}
		var gt []*image.Gray
		if b.Masks != nil {
			_, _, h, w := dims(b.Masks)
			gt = masks.Label(b.Masks.Index(0).Data, w, h, 0.5, 1)
		}
		vis, err := network.Visualize(img.Index(0), gt, instances[0])
		if err != nil {
			return err
		}
		if err := disp.Show(ctx, "train", vis); err != nil {
			return errors.Wrap(err, "display")
		}
	}
	return nil
}

// evaluate counts true and false positives and false negatives over every
// image of the full validation flow.
func (t *Trainer) evaluate(ctx context.Context, limit int, net network.Network, sess Session, flow Batches, disp display.Display) (*metric.Counts, error) {
	counts := metric.NewCounts(t.Thresholds)
	shown := 0
	for b, err := range flow.Data(ctx) {
		if err != nil {
			return nil, errors.Wrap(err, "valid_full flow")
		}
		instances, err := net.Inference(ctx, sess, b.Images)
		if err != nil {
			return nil, errors.Wrapf(err, "inference on %v", b.IDs)
		}
		for i, id := range b.IDs {
			preds := network.ResizeInstances(instances[i], b.Sizes[i].Height, b.Sizes[i].Width)
			tp, fp, fn := metric.MultipleMetric(t.Thresholds, preds, b.Instances[i])
			if err := counts.Add(tp, fp, fn); err != nil {
				return nil, errors.Wrapf(err, "metric for %s", id)
			}
			if shown < limit {
				shown++
				vis, err := network.Visualize(b.Images.Index(i), b.Instances[i], instances[i])
				if err != nil {
					return nil, err
				}
				if err := disp.Show(ctx, "valid", vis); err != nil {
					return nil, errors.Wrap(err, "display")
				}
			}
		}
	}
	return counts, nil
}

// test predicts every test image and records it in the submission.
func (t *Trainer) test(ctx context.Context, limit int, net network.Network, sess Session, flow Batches, disp display.Display, sub Submission) error {
	idx, shown := 0, 0
	for b, err := range flow.Data(ctx) {
		if err != nil {
			return errors.Wrap(err, "test flow")
		}
		for i, id := range b.IDs {
			if s := b.Sizes[i]; s.Height <= 0 || s.Width <= 0 {
				return errors.Wrapf(ErrInvalidImageSize, "%d %s: %dx%d", idx, id, s.Height, s.Width)
			}
		}
		instances, err := net.Inference(ctx, sess, b.Images)
		if err != nil {
			return errors.Wrapf(err, "inference on %v", b.IDs)
		}
		for i, id := range b.IDs {
			vis, err := network.Visualize(b.Images.Index(i), nil, instances[i])
			if err != nil {
				return err
			}
			if shown < limit {
				shown++
				if err := disp.Show(ctx, "test", vis); err != nil {
					return errors.Wrap(err, "display")
				}
			}
			resized := network.ResizeInstances(instances[i], b.Sizes[i].Height, b.Sizes[i].Width)
			if err := sub.SaveImage(id, vis); err != nil {
				return err
			}
			sub.AddResult(id, resized)
		}
		idx++
	}
	t.logger.Info("test set done", "batches", idx)
	return nil
}

// first returns the first image of a batch as a batch of one.
func first(images *tensor.Tensor) (*tensor.Tensor, error) {
	n, c, h, w := dims(images)
	if n == 0 {
		return nil, errors.Errorf("empty batch %v", images.Shape)
	}
	return images.Index(0).Reshape(1, c, h, w)
}

func dims(t *tensor.Tensor) (n, c, h, w int) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
}
