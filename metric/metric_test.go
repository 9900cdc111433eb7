package metric

import (
	"image"
	"testing"

	"github.com/hal2001/data-science-bowl-2018/dataset/datasettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, side int) *image.Gray {
	return datasettest.Square(20, 20, x0, y0, side)
}

func TestThresholds(t *testing.T) {
	assert.Equal(t, []float64{0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95}, DefaultThresholds())
	assert.Equal(t, []float64{0.5}, Thresholds(0.5, 1.0, 0.5))
	assert.Nil(t, Thresholds(1, 0.5, 0.1))
	assert.Nil(t, Thresholds(0, 1, 0))
}

func TestIoU(t *testing.T) {
	a := square(0, 0, 4)
	assert.Equal(t, 1.0, IoU(a, a))
	// 4x4 vs shifted by 2 columns: overlap 8, union 24
	assert.InDelta(t, 8.0/24.0, IoU(a, square(2, 0, 4)), 1e-12)
	assert.Equal(t, 0.0, IoU(a, square(10, 10, 4)))
	assert.Equal(t, 0.0, IoU(image.NewGray(image.Rect(0, 0, 5, 5)), image.NewGray(image.Rect(0, 0, 5, 5))))

	// masks of different sizes compare on shared coordinates
	small := datasettest.Square(4, 4, 0, 0, 4)
	assert.Equal(t, 1.0, IoU(small, a))
}

func TestMultipleMetric(t *testing.T) {
	gts := []*image.Gray{square(0, 0, 4), square(10, 10, 4), square(0, 10, 4)}
	preds := []*image.Gray{
		square(0, 0, 4),   // exact match
		square(11, 10, 4), // IoU 12/20 = 0.6
		square(15, 0, 3),  // nothing
	}
	tp, fp, fn := MultipleMetric([]float64{0.5, 0.6, 0.9}, preds, gts)
	assert.Equal(t, []int{2, 1, 1}, tp)
	assert.Equal(t, []int{1, 2, 2}, fp)
	assert.Equal(t, []int{1, 2, 2}, fn)

	tp, fp, fn = MultipleMetric([]float64{0.5}, nil, gts)
	assert.Equal(t, []int{0}, tp)
	assert.Equal(t, []int{0}, fp)
	assert.Equal(t, []int{3}, fn)
}

func TestMatchIsOneToOne(t *testing.T) {
	gt := []*image.Gray{square(0, 0, 4)}
	preds := []*image.Gray{square(0, 0, 4), square(0, 0, 4)}
	tp, fp, fn := MultipleMetric([]float64{0.5}, preds, gt)
	assert.Equal(t, []int{1}, tp)
	assert.Equal(t, []int{1}, fp)
	assert.Equal(t, []int{0}, fn)
}

func TestCounts(t *testing.T) {
	c := NewCounts([]float64{0.5, 0.75})
	require.NoError(t, c.Add([]int{2, 1}, []int{1, 2}, []int{0, 1}))
	require.NoError(t, c.Add([]int{1, 0}, []int{0, 1}, []int{1, 2}))
	assert.Equal(t, []int{3, 1}, c.TP)
	assert.Equal(t, []int{1, 3}, c.FP)
	assert.Equal(t, []int{1, 3}, c.FN)

	per := c.PerThreshold()
	assert.InDelta(t, 3.0/5.0, per[0], 1e-12)
	assert.InDelta(t, 1.0/7.0, per[1], 1e-12)
	assert.InDelta(t, (3.0/5.0+1.0/7.0)/2, c.Score(), 1e-12)
	assert.Equal(t, "0.50:3/1/1 0.75:1/3/3", c.String())

	assert.Error(t, c.Add([]int{1}, []int{1}, []int{1}))
}

func TestScoreWithEmptyDenominator(t *testing.T) {
	c := NewCounts([]float64{0.5, 0.9})
	require.NoError(t, c.Add([]int{1, 0}, []int{0, 0}, []int{0, 0}))
	assert.Equal(t, []float64{1, 0}, c.PerThreshold())
	assert.Equal(t, 0.5, c.Score())
	assert.Equal(t, 0.0, NewCounts(nil).Score())
}
