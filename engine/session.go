// Package engine runs a built network on the CPU: training steps, loss
// evaluation, prediction and checkpoint snapshots.
package engine

import (
	"context"
	"sync"

	"github.com/hal2001/data-science-bowl-2018/checkpoints"
	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/hal2001/data-science-bowl-2018/network"
	"github.com/hal2001/data-science-bowl-2018/optimizer"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// ErrClosed is returned by every call on a closed session.
var ErrClosed = errors.New("session closed")

// Options configures a session.
type Options struct {
	LearningRate float64 // base rate fed to the network's schedule
	Description  string  // copied into checkpoint metadata
	RunID        string  // copied into checkpoint metadata
}

// StepResult reports one optimization step.
type StepResult struct {
	Step         int     // global step after the update
	LearningRate float64 // rate used for the update
	Loss         float64 // loss before the update
}

// Session binds a built network to its optimizer and schedule. Requests are
// synchronous and serialized.
type Session struct {
	mu     sync.Mutex
	closed bool

	net    network.Network
	model  network.Model
	params []*layers.Param
	opt    optimizer.Optimizer
	sched  optimizer.LRScheduler
	opts   Options

	step   int
	epoch  int
	lastLR float64

	logger logging.Logger
}

// Open creates a session for net, which must already be built.
func Open(ctx context.Context, net network.Network, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model := net.Model()
	if model == nil {
		return nil, errors.Errorf("network %s is not built", net.Name())
	}
	if opts.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive: %g", opts.LearningRate)
	}
	opt, sched, err := net.Optimizer(opts.LearningRate)
	if err != nil {
		return nil, errors.Wrapf(err, "optimizer for %s", net.Name())
	}
	s := &Session{
		net:    net,
		model:  model,
		params: model.Params(),
		opt:    opt,
		sched:  sched,
		opts:   opts,
		lastLR: sched.GetLR(0, opts.LearningRate),
		logger: logging.New("engine"),
	}
	s.logger.Debug("session opened", "model", net.Name(), "optimizer", opt.Name(),
		"scheduler", sched.GetName(), "parameters", model.Spec().TotalParameters)
	return s, nil
}

func (s *Session) enter(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// TrainStep runs forward and backward on one batch and applies an update
// at the scheduled learning rate.
func (s *Session) TrainStep(ctx context.Context, images, targets *tensor.Tensor) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx); err != nil {
		return StepResult{}, err
	}

	layers.ZeroGrad(s.params)
	logits, err := s.model.Forward(images, true)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "forward")
	}
	loss, grad, err := layers.SigmoidBCE(logits, targets)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "loss")
	}
	if err := s.model.Backward(grad); err != nil {
		return StepResult{}, errors.Wrap(err, "backward")
	}
	lr := s.sched.GetLR(int64(s.step), s.opts.LearningRate)
	if err := s.opt.Step(s.params, float32(lr)); err != nil {
		return StepResult{}, errors.Wrap(err, "optimizer step")
	}
	s.step++
	s.lastLR = lr
	return StepResult{Step: s.step, LearningRate: lr, Loss: loss}, nil
}

// Loss evaluates the loss of one batch without updating weights.
func (s *Session) Loss(ctx context.Context, images, targets *tensor.Tensor) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx); err != nil {
		return 0, err
	}
	logits, err := s.model.Forward(images, false)
	if err != nil {
		return 0, errors.Wrap(err, "forward")
	}
	loss, _, err := layers.SigmoidBCE(logits, targets)
	return loss, errors.Wrap(err, "loss")
}

// Predict returns foreground probabilities [N,1,H,W].
func (s *Session) Predict(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	logits, err := s.model.Forward(images, false)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	return layers.Sigmoid(logits), nil
}

// SetEpoch records the current epoch for subsequent snapshots.
func (s *Session) SetEpoch(epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = epoch
}

// Step returns the global step count.
func (s *Session) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Checkpoint snapshots weights, optimizer state and progress.
func (s *Session) Checkpoint() (*checkpoints.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	optState, err := s.opt.GetState()
	if err != nil {
		return nil, errors.Wrap(err, "optimizer state")
	}
	return &checkpoints.Checkpoint{
		ModelSpec: s.model.Spec(),
		Weights:   checkpoints.ExtractWeights(s.params),
		TrainingState: checkpoints.TrainingState{
			Epoch:        s.epoch,
			Step:         s.step,
			LearningRate: float32(s.lastLR),
			TotalSteps:   s.step,
		},
		OptimizerState: optState,
		Metadata: checkpoints.CheckpointMetadata{
			RunID:       s.opts.RunID,
			Description: s.opts.Description,
			Tags:        []string{s.net.Name()},
		},
	}, nil
}

// Restore loads a snapshot taken from a session of the same network.
// Weights are matched by name and shape.
func (s *Session) Restore(ckpt *checkpoints.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if ckpt.ModelSpec != nil && ckpt.ModelSpec.Name != s.model.Spec().Name {
		return errors.Errorf("checkpoint is for %s, session runs %s", ckpt.ModelSpec.Name, s.model.Spec().Name)
	}
	if err := checkpoints.LoadWeights(ckpt.Weights, s.params); err != nil {
		return errors.Wrap(err, "restore weights")
	}
	if ckpt.OptimizerState != nil {
		if err := s.opt.LoadState(ckpt.OptimizerState); err != nil {
			return errors.Wrap(err, "restore optimizer")
		}
	}
	s.step = ckpt.TrainingState.Step
	s.epoch = ckpt.TrainingState.Epoch
	s.logger.Info("restored checkpoint", "step", s.step, "metric", ckpt.TrainingState.Metric)
	return nil
}

// Close releases the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.params = nil
	s.logger.Debug("session closed", "steps", s.step)
	return nil
}
