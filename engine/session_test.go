package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/hal2001/data-science-bowl-2018/network"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtNetwork(t *testing.T, name string) network.Network {
	t.Helper()
	n, err := network.New(name, 2)
	require.NoError(t, err)
	require.NoError(t, n.Build())
	return n
}

func smallBatch(seed int64) (*tensor.Tensor, *tensor.Tensor) {
	rng := rand.New(rand.NewSource(seed))
	images := tensor.New(2, 3, 8, 8)
	for i := range images.Data {
		images.Data[i] = rng.Float32()
	}
	targets := tensor.New(2, 1, 8, 8)
	for i := range targets.Data {
		targets.Data[i] = 1
	}
	return images, targets
}

func TestOpenRequiresBuiltNetwork(t *testing.T) {
	n, err := network.New("basic", 1)
	require.NoError(t, err)
	_, err = Open(context.Background(), n, Options{LearningRate: 0.01})
	assert.Error(t, err)

	_, err = Open(context.Background(), builtNetwork(t, "basic"), Options{})
	assert.Error(t, err)
}

func TestTrainStepReducesLoss(t *testing.T) {
	for _, name := range network.Names() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := Open(ctx, builtNetwork(t, name), Options{LearningRate: 0.01})
			require.NoError(t, err)
			defer s.Close()

			images, targets := smallBatch(1)
			before, err := s.Loss(ctx, images, targets)
			require.NoError(t, err)

			var res StepResult
			for i := 0; i < 30; i++ {
				res, err = s.TrainStep(ctx, images, targets)
				require.NoError(t, err)
			}
			assert.Equal(t, 30, res.Step)
			assert.Equal(t, 30, s.Step())
			assert.Greater(t, res.LearningRate, 0.0)

			after, err := s.Loss(ctx, images, targets)
			require.NoError(t, err)
			assert.Less(t, after, before)
		})
	}
}

func TestCheckpointRestore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, builtNetwork(t, "simple_unet"), Options{LearningRate: 0.01, RunID: "run"})
	require.NoError(t, err)
	defer s.Close()

	images, targets := smallBatch(2)
	_, err = s.TrainStep(ctx, images, targets)
	require.NoError(t, err)
	s.SetEpoch(4)

	snap, err := s.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TrainingState.Step)
	assert.Equal(t, 4, snap.TrainingState.Epoch)
	assert.Equal(t, "run", snap.Metadata.RunID)
	require.NotNil(t, snap.OptimizerState)
	assert.Equal(t, "Adam", snap.OptimizerState.Type)

	want, err := s.Predict(ctx, images)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.TrainStep(ctx, images, targets)
		require.NoError(t, err)
	}
	moved, err := s.Predict(ctx, images)
	require.NoError(t, err)
	assert.NotEqual(t, want.Data, moved.Data)

	require.NoError(t, s.Restore(snap))
	assert.Equal(t, 1, s.Step())
	got, err := s.Predict(ctx, images)
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
}

func TestRestoreRejectsOtherNetwork(t *testing.T) {
	ctx := context.Background()
	basic, err := Open(ctx, builtNetwork(t, "basic"), Options{LearningRate: 0.01})
	require.NoError(t, err)
	defer basic.Close()
	unet, err := Open(ctx, builtNetwork(t, "simple_unet"), Options{LearningRate: 0.01})
	require.NoError(t, err)
	defer unet.Close()

	snap, err := basic.Checkpoint()
	require.NoError(t, err)
	assert.Error(t, unet.Restore(snap))

	snap.ModelSpec = nil
	assert.Error(t, unet.Restore(snap))
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, builtNetwork(t, "basic"), Options{LearningRate: 0.01})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	images, targets := smallBatch(3)
	_, err = s.TrainStep(ctx, images, targets)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = s.Loss(ctx, images, targets)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = s.Predict(ctx, images)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = s.Checkpoint()
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestCanceledContext(t *testing.T) {
	s, err := Open(context.Background(), builtNetwork(t, "basic"), Options{LearningRate: 0.01})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	images, _ := smallBatch(4)
	_, err = s.Predict(ctx, images)
	assert.ErrorIs(t, err, context.Canceled)
}
