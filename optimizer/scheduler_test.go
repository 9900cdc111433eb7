package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepLRScheduler(t *testing.T) {
	scheduler := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1

	tests := []struct {
		step       int64
		expectedLR float64
	}{
		{0, 0.1},
		{1, 0.1},
		{2, 0.01},
		{3, 0.01},
		{4, 0.001},
		{6, 0.0001},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expectedLR, scheduler.GetLR(tt.step, baseLR), 1e-10, "step %d", tt.step)
	}
}

func TestExponentialDecayScheduler(t *testing.T) {
	smooth := NewExponentialDecayScheduler(10, 0.5, false)
	assert.InDelta(t, 0.01, smooth.GetLR(0, 0.01), 1e-12)
	assert.InDelta(t, 0.005, smooth.GetLR(10, 0.01), 1e-12)
	assert.InDelta(t, 0.01*0.7071067811865476, smooth.GetLR(5, 0.01), 1e-12)

	stairs := NewExponentialDecayScheduler(10, 0.5, true)
	assert.InDelta(t, 0.01, stairs.GetLR(9, 0.01), 1e-12)
	assert.InDelta(t, 0.0025, stairs.GetLR(25, 0.01), 1e-12)
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(5, 0.0001)
	baseLR := 0.01

	assert.InDelta(t, 0.01, scheduler.GetLR(0, baseLR), 1e-6)
	assert.InDelta(t, 0.0001, scheduler.GetLR(5, baseLR), 1e-6)
	assert.InDelta(t, 0.006580, scheduler.GetLR(2, baseLR), 1e-6)
	assert.Equal(t, 0.0001, scheduler.GetLR(10, baseLR))
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewStepLRScheduler(0, 5)
	assert.Equal(t, int64(1000), s.StepSize)
	assert.Equal(t, 0.1, s.Gamma)

	var noop NoOpScheduler
	assert.Equal(t, 0.3, noop.GetLR(12345, 0.3))
	assert.Equal(t, "ConstantLR", noop.GetName())
}
